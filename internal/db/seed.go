package db

import (
	"context"
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/websites.yaml
var websitesYAML embed.FS

type seedManifest struct {
	Websites []seedWebsite `yaml:"websites"`
}

type seedWebsite struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// SeedWebsiteSettings loads the embedded manifest and inserts any rows not
// already present (matched by url), so operators who have added or disabled
// sites at runtime via the admin API are never overwritten on restart.
func SeedWebsiteSettings(ctx context.Context, store *Store) error {
	data, err := websitesYAML.ReadFile("config/websites.yaml")
	if err != nil {
		return fmt.Errorf("read embedded website manifest: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var manifest seedManifest
	if err := yaml.Unmarshal([]byte(expanded), &manifest); err != nil {
		return fmt.Errorf("parse website manifest: %w", err)
	}

	for _, w := range manifest.Websites {
		exists, err := store.WebsiteSettingURLExists(ctx, w.URL)
		if err != nil {
			return fmt.Errorf("check website %s: %w", w.URL, err)
		}
		if exists {
			continue
		}
		if _, err := store.CreateWebsiteSetting(ctx, WebsiteSettings{Name: w.Name, URL: w.URL, Enabled: w.Enabled}); err != nil {
			return fmt.Errorf("seed website %s: %w", w.URL, err)
		}
	}
	return nil
}
