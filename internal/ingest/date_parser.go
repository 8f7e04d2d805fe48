package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// parseDeadlineText parses the free-form deadline strings that show up on
// procurement pages and in grid JSON: ISO dates, US slash dates, and month
// names, with common label prefixes stripped first. A date with no year is
// never matched; the final-page prompt resolves those against today, and we
// do not guess.
func parseDeadlineText(text string) (time.Time, error) {
	text = cleanDateString(text)
	text = strings.ReplaceAll(text, "a.m.", "AM")
	text = strings.ReplaceAll(text, "p.m.", "PM")
	text = strings.ReplaceAll(text, " am", " AM")
	text = strings.ReplaceAll(text, " pm", " PM")

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return toEndOfDay(t), nil
	}

	formats := []string{
		"January 2, 2006",
		"January 2, 2006 3 PM",
		"January 2, 2006 3:04 PM",
		"Jan 2, 2006",
		"Jan 2 2006",
		"2 January 2006",
		"02 January 2006",
		"2 Jan 2006",
		"01/02/2006",
		"1/2/2006",
		"01/02/2006 3:04 PM",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, text); err == nil {
			if strings.Contains(format, ":") {
				return t, nil
			}
			return toEndOfDay(t), nil
		}
	}

	if t := parseDateWithRegex(text); !t.IsZero() {
		return toEndOfDay(t), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

var (
	isoDateRegex   = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	usDateRegex    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	monthDateRegex = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+(\d{1,2}),?\s+(20\d{2})\b`)
)

// parseDateWithRegex extracts a date embedded in surrounding text. Only
// dates carrying an explicit year match; a bare month/day is left to the
// model, which resolves it against today's year without rolling forward.
func parseDateWithRegex(text string) time.Time {
	if matches := isoDateRegex.FindStringSubmatch(text); len(matches) == 4 {
		if t, err := time.Parse("2006-01-02", matches[0]); err == nil {
			return t
		}
	}

	if matches := usDateRegex.FindStringSubmatch(text); len(matches) == 4 {
		dateStr := fmt.Sprintf("%s/%s/%s", matches[1], matches[2], matches[3])
		if t, err := time.Parse("1/2/2006", dateStr); err == nil {
			return t
		}
	}

	if matches := monthDateRegex.FindStringSubmatch(text); len(matches) == 4 {
		dateStr := fmt.Sprintf("%s %s %s", matches[1], matches[2], matches[3])
		for _, format := range []string{"January 2 2006", "Jan 2 2006"} {
			if t, err := time.Parse(format, dateStr); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}

// cleanDateString removes common label prefixes from date strings.
func cleanDateString(s string) string {
	prefixes := []string{
		"Closing date:", "Deadline:", "Due date:", "Due:",
		"Applications due:", "Proposals due:", "Responses due:",
		"Expires:", "Ends:", "Close date:",
	}
	sLower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(sLower, strings.ToLower(p)); idx != -1 {
			s = s[idx+len(p):]
			sLower = sLower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
