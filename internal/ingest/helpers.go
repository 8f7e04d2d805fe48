package ingest

import (
	"io"
	"strings"
)

// readAllString reads r to completion and returns it as a string.
func readAllString(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText normalizes whitespace (alias for normalizeSpace).
func cleanText(s string) string {
	return normalizeSpace(s)
}

// truncate caps s at n runes, appending nothing (callers add their own ellipsis if needed).
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
