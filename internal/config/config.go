// Package config centralizes the environment-variable settings the pipeline
// and admin API read at startup: a single typed Config loaded once in main
// rather than scattered os.Getenv calls.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the process-level tunables.
type Config struct {
	DatabaseURL string

	BedrockEndpoint       string
	BedrockRegion         string
	BedrockModelID        string
	BedrockEmbeddingModel string
	BearerToken           string

	MaxDetailTextChars int
	MaxPDFTextChars    int
	MaxRFPHops         int
	NavPageMaxText     int
	FinalDateEnforce   bool

	ScheduleTimezone *time.Location
	TodayOverride    *time.Time

	AdminSecret string
	Port        string
}

// Load reads Config from the process environment, applying defaults
// wherever a variable is unset or unparsable.
func Load() Config {
	c := Config{
		DatabaseURL: firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PGVECTOR_CONNECTION")),

		BedrockEndpoint:       os.Getenv("BEDROCK_ENDPOINT"),
		BedrockRegion:         os.Getenv("BEDROCK_REGION"),
		BedrockModelID:        os.Getenv("BEDROCK_MODEL_ID"),
		BedrockEmbeddingModel: os.Getenv("BEDROCK_EMBEDDING_MODEL_ID"),
		BearerToken:           os.Getenv("AWS_BEARER_TOKEN_BEDROCK"),

		MaxDetailTextChars: envInt("MAX_DETAIL_TEXT_CHARS", 400_000),
		MaxPDFTextChars:    envInt("MAX_PDF_TEXT_CHARS", 400_000),
		MaxRFPHops:         envInt("MAX_RFP_HOPS", 5),
		NavPageMaxText:     envInt("NAV_PAGE_MAX_TEXT", 12_000),
		FinalDateEnforce:   envBool("FINAL_DATE_ENFORCE", true),

		AdminSecret: os.Getenv("ADMIN_SECRET"),
		Port:        firstNonEmpty(os.Getenv("PORT"), "8081"),
	}

	c.ScheduleTimezone = loadTimezone()
	c.TodayOverride = loadTodayOverride()

	return c
}

// Today returns TodayOverride when set (a test hook), or the real current
// time in the configured schedule timezone otherwise.
func (c Config) Today() time.Time {
	if c.TodayOverride != nil {
		return *c.TodayOverride
	}
	if c.ScheduleTimezone != nil {
		return time.Now().In(c.ScheduleTimezone)
	}
	return time.Now().UTC()
}

func loadTimezone() *time.Location {
	name := firstNonEmpty(os.Getenv("SCHEDULE_TIMEZONE"), os.Getenv("TZ"))
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func loadTodayOverride() *time.Time {
	raw := os.Getenv("TODAY_OVERRIDE")
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
