package ai

import (
	"fmt"
	"strings"
)

// KnownItem is a title+url pair the listing prompt uses to tell the model
// what has already been processed or excluded, so it does not re-propose it.
type KnownItem struct {
	Title string
	URL   string
}

// PromptLink is the minimal view of a Link the prompt builders need; kept
// decoupled from internal/ingest.Link to avoid an import cycle.
type PromptLink struct {
	Index       int
	Text        string
	Href        string
	Heading     string
	Context     string
	IsLearnMore bool
	IsApply     bool
	IsPDF       bool
}

func formatLinks(links []PromptLink) string {
	var sb strings.Builder
	for _, l := range links {
		flags := []string{}
		if l.IsLearnMore {
			flags = append(flags, "learn_more")
		}
		if l.IsApply {
			flags = append(flags, "apply")
		}
		if l.IsPDF {
			flags = append(flags, "pdf")
		}
		fmt.Fprintf(&sb, "[%d] %q -> %s", l.Index, l.Text, l.Href)
		if l.Heading != "" {
			fmt.Fprintf(&sb, " | heading: %q", l.Heading)
		}
		if len(flags) > 0 {
			fmt.Fprintf(&sb, " | flags: %s", strings.Join(flags, ","))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildListingPrompt renders the listing-page analysis prompt: the page
// text, the indexed link list, and the already-known items to skip.
func BuildListingPrompt(pageText string, links []PromptLink, known []KnownItem, listingURL, today string) (system, prompt string) {
	system = "You are reviewing a listing page from a public-sector procurement or grant site. " +
		"Pick links from the numbered list provided — never invent a URL and never propose the listing URL itself. " +
		"Prefer links flagged learn_more, whose heading matches the opportunity title, or that point at a relevant PDF. " +
		"Reject job postings and anything unrelated to healthcare IT. " +
		"Do not include an item whose only visible date is a posted/published date rather than a deadline. " +
		"Only include items whose deadline is in the future or unknown. " +
		"Respond with strict JSON only: {\"items\": [{\"title\": str, \"url\": str, \"detail_link_index\": int, \"detail_source_url\": str, \"content_snippet\": str}]}."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Today's date: %s\n", today)
	fmt.Fprintf(&sb, "Listing URL: %s\n\n", listingURL)
	sb.WriteString("Links:\n")
	sb.WriteString(formatLinks(links))
	sb.WriteString("\n")
	if len(known) > 0 {
		sb.WriteString("Known items to skip (already processed or excluded):\n")
		for i, k := range known {
			if i >= 100 {
				break
			}
			fmt.Fprintf(&sb, "- %q (%s)\n", k.Title, k.URL)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Page text:\n")
	sb.WriteString(truncate(pageText, 12000))
	prompt = sb.String()
	return
}

// BuildNavigationPrompt renders the per-hop navigation prompt. maxTextChars
// caps the page text included in the prompt; <=0 applies the default.
func BuildNavigationPrompt(pageText string, links []PromptLink, hop int, today string, maxTextChars int) (system, prompt string) {
	if maxTextChars <= 0 {
		maxTextChars = 12000
	}
	system = "You are navigating from a candidate link toward the single page or PDF that fully describes one procurement opportunity. " +
		"If this page already is that final detail page or PDF, report status \"final\" with the resolved title and URL (use this page's own URL if there is nothing better). " +
		"If another link on this page leads closer to the detail, report status \"continue\" with next_link_index. " +
		"If the opportunity is clearly expired, report status \"expired\". " +
		"If you cannot make progress, report status \"give_up\". " +
		"Respond with strict JSON only: {\"status\": \"final|continue|give_up|expired\", \"reason\": str, \"final\": {\"title\": str, \"url\": str} or null, \"next_link_index\": int or null}."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Today's date: %s\n", today)
	fmt.Fprintf(&sb, "Hop: %d\n\n", hop)
	sb.WriteString("Links on this page:\n")
	sb.WriteString(formatLinks(links))
	sb.WriteString("\nPage text:\n")
	sb.WriteString(truncate(pageText, maxTextChars))
	prompt = sb.String()
	return
}

// BuildFinalPagePrompt renders the deadline-classification prompt for a
// resolved final page.
func BuildFinalPagePrompt(pageText, finalURL, today string) (system, prompt string) {
	system = "You are checking whether a procurement opportunity's submission deadline has passed. " +
		"If you find an explicit deadline, return it as deadline_iso in YYYY-MM-DD form. " +
		"A month/day with no year means the current year — never roll it forward to next year. " +
		"If the deadline (once resolved) is on or before today, status is \"expired\"; if clearly still open, \"active\"; " +
		"if no deadline can be found, status is \"unknown\" and deadline_iso is null. " +
		"Respond with strict JSON only: {\"status\": \"active|expired|unknown\", \"reason\": str, \"matched_text\": str, \"deadline_iso\": \"YYYY-MM-DD\" or null}."

	prompt = fmt.Sprintf("Today's date: %s\nURL: %s\n\nPage text:\n%s", today, finalURL, truncate(pageText, 20000))
	return
}

// BuildScopePrompt renders the healthcare-IT scope classification prompt.
func BuildScopePrompt(title, finalURL, pageText, today string) (system, prompt string) {
	system = "You classify whether a procurement opportunity is in scope for a healthcare-IT vendor: " +
		"electronic health records, health information exchange, clinical data systems, public-health informatics, " +
		"telehealth platforms, or similar health-sector IT/software work. " +
		"Construction, staffing, non-IT professional services, and unrelated-sector RFPs are out of scope. " +
		"Respond with strict JSON only: {\"in_scope\": bool, \"reason\": str}."

	prompt = fmt.Sprintf("Today's date: %s\nTitle: %s\nURL: %s\n\nContent:\n%s", today, title, finalURL, truncate(pageText, 12000))
	return
}

// BuildSummaryPrompt renders the structured-summary prompt.
func BuildSummaryPrompt(finalText string) (system, prompt string) {
	system = "Summarize this procurement opportunity for a vendor's business-development team. " +
		"Respond in plain text with exactly these headed sections, each a short paragraph or bullet list: " +
		"Summary, Scope of Work, Selection Criteria, Application Requirements, Timeline, Funding. " +
		"If a section cannot be determined from the text, write \"Not specified\" under that heading."

	prompt = truncate(finalText, 60000)
	return
}
