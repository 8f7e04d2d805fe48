package ingest

import (
	"context"
	"io"
	"net/url"
	"time"
)

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// AugmentedFetcher is implemented by fetchers that can also set custom
// headers and submit forms, needed for the Kendo grid augmentation's
// X-Requested-With GET and anti-forgery-token POST fallback. Not every
// Fetcher needs to support this, so callers type-assert for it.
type AugmentedFetcher interface {
	Fetcher
	FetchWithHeaders(ctx context.Context, rawURL string, headers map[string]string) (*FetchedDocument, error)
	PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*FetchedDocument, error)
}

// Fetched is a resolved page: body text, the final URL after redirects, and
// raw PDF bytes when the content was a PDF rather than HTML.
type Fetched struct {
	Text     string
	FinalURL string
	PDFBytes []byte
	IsPDF    bool
}

// Link is a single candidate anchor found on a rendered page, indexed so the
// LLM can reference it by position instead of repeating URLs in its output.
type Link struct {
	Index            int
	Text             string
	Href             string
	Heading          string
	Context          string
	IsLearnMore      bool
	IsApply          bool
	IsPDF            bool
	IsGenericListing bool
	Depth            int
}

// ListingItem is one candidate opportunity the Listing Analyzer's LLM call
// proposed from a listing page.
type ListingItem struct {
	Title           string `json:"title"`
	URL             string `json:"url"`
	DetailLinkIndex int    `json:"detail_link_index"`
	DetailSourceURL string `json:"detail_source_url,omitempty"`
	ContentSnippet  string `json:"content_snippet,omitempty"`
}

// NavDecision is the sum type the navigation prompt's JSON decodes into.
// Kind is one of "final", "continue", "give_up", "expired".
type NavDecision struct {
	Kind             string
	Reason           string
	FinalTitle       string
	FinalURL         string
	NextLinkIndex    int
	HasNextLinkIndex bool
}

// FinalCheck is the sum type the final-page prompt's JSON decodes into.
// Status is one of "active", "expired", "unknown".
type FinalCheck struct {
	Status      string
	Reason      string
	MatchedText string
	DeadlineISO string
}

// ScopeCheck is the decoded output of the scope-classification prompt.
type ScopeCheck struct {
	InScope bool
	Reason  string
}

// NavResult is what the Navigator returns on success: the resolved final
// page/PDF and its text. Title is the best-known display title (the model's
// final-page title, falling back to the listing anchor); ListingTitle keeps
// the listing anchor itself so title selection can still prefer it when the
// model's final title turns out to be generic.
type NavResult struct {
	FinalURL     string
	Title        string
	ListingTitle string
	Text         string
	PDFBytes     []byte
	IsPDF        bool
}
