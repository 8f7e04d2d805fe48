package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictHTMLPolicy = bluemonday.StrictPolicy()

// SanitizeText prepares extracted text for storage: strip any byte in
// [0x00-0x08, 0x0B, 0x0C, 0x0E-0x1F] (tab, newline, and carriage return are
// kept) and drop any HTML markup that survived extraction.
func SanitizeText(s string) string {
	// The HTML tokenizer folds CR and CRLF into LF, so carriage returns are
	// parked on a private-use rune across the markup pass.
	s = strings.ReplaceAll(s, "\r", "")
	s = strictHTMLPolicy.Sanitize(s)
	s = strings.ReplaceAll(s, "", "\r")

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == 0x09 || r == 0x0A || r == 0x0D {
			sb.WriteRune(r)
			continue
		}
		if r <= 0x08 || r == 0x0B || r == 0x0C || (r >= 0x0E && r <= 0x1F) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// HashFinalURL is the processed-row hash: SHA-256 of the final URL.
func HashFinalURL(finalURL string) string {
	return sha256Hex(finalURL)
}

// HashListingExclusion is the pre-navigation exclusion hash:
// SHA-256(title || listing_url).
func HashListingExclusion(title, listingURL string) string {
	return sha256Hex(title + listingURL)
}

// HashFinalExclusion is the post-navigation exclusion hash:
// SHA-256(title || final_url).
func HashFinalExclusion(title, finalURL string) string {
	return sha256Hex(title + finalURL)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// genericTitleBoilerplate lists titles too generic to store on their own.
var genericTitleBoilerplate = map[string]bool{
	"rfp":                     true,
	"rfi":                     true,
	"rfa":                     true,
	"request for proposals":   true,
	"request for proposal":    true,
	"request for information": true,
	"request for application": true,
	"opportunity":             true,
	"solicitation":            true,
	"opportunities":           true,
	"notice":                  true,
	"announcement":            true,
	"download":                true,
	"details":                 true,
	"more info":               true,
	"learn more":              true,
}

// summaryPreamblePrefixes mirrors the stock openings the summary prompt
// tends to produce when it has nothing better to lead with.
var summaryPreamblePrefixes = []string{
	"this opportunity",
	"this rfp",
	"this solicitation",
	"summary:",
	"the following",
}

// IsGenericTitle reports whether a title is unusable: empty, too short once
// quotes/"(pdf)" are stripped, boilerplate, or a summary-preamble opening.
func IsGenericTitle(title string) bool {
	t := strings.TrimSpace(title)
	if t == "" {
		return true
	}
	stripped := strings.Trim(t, `"'`)
	stripped = strings.TrimSpace(stripped)
	lower := strings.ToLower(stripped)
	lower = strings.TrimSuffix(lower, "(pdf)")
	lower = strings.TrimSpace(lower)

	if len(lower) < 6 {
		return true
	}
	if genericTitleBoilerplate[lower] {
		return true
	}
	for _, prefix := range summaryPreamblePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// PickTitle selects the stored title by priority: final page > listing
// anchor > summary-derived > listing, rejecting generic candidates
// in favor of the next one down the list, and falling back to the last
// candidate (even if generic) only when every option is generic.
func PickTitle(finalTitle, listingTitle, summaryDerivedTitle string) string {
	candidates := []string{finalTitle, listingTitle, summaryDerivedTitle}
	for _, c := range candidates {
		if c != "" && !IsGenericTitle(c) {
			return c
		}
	}
	if listingTitle != "" {
		return listingTitle
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return listingTitle
}
