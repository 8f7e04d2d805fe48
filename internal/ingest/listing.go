package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/david/rfp-scout/internal/ai"
)

// nonRFPBoilerplate drives the heuristic pre-filter: anchor text that
// unambiguously marks a link as something other than an opportunity, so the
// LLM call is spent on plausible candidates only.
var nonRFPBoilerplate = regexp.MustCompile(`(?i)^(now hiring|career(s)?|job opening|join our team|` +
	`press release|news(letter)?|subscribe|unsubscribe|privacy policy|terms of (use|service)|` +
	`cookie policy|contact us|about us|site map|sitemap|accessibility|home)$`)

// CandidateItem is a ListingItem paired with the link it resolved against,
// ready to hand to the Navigator.
type CandidateItem struct {
	ListingItem
	Link Link
}

// ListingAnalyzer fetches a site's listing page, augments it, pre-filters
// obvious non-candidates, asks the model to propose items, and validates
// each proposal against the link list and the exclusion store.
type ListingAnalyzer struct {
	Gateway      *ai.Gateway
	LinkAnalyzer *LinkAnalyzer
	Store        ExclusionChecker
	MaxTokens    int
}

// ExclusionChecker is the subset of the Store the Listing Analyzer needs,
// kept narrow so callers can supply a test double without pulling in the db
// package.
type ExclusionChecker interface {
	ExclusionExists(ctx context.Context, hash string) (bool, error)
}

// KnownItemsProvider supplies the "already processed or excluded" rows the
// listing prompt uses to avoid re-proposing known opportunities.
type KnownItemsProvider func(ctx context.Context, site string, limit int) ([]ai.KnownItem, error)

func NewListingAnalyzer(gw *ai.Gateway, la *LinkAnalyzer, store ExclusionChecker) *ListingAnalyzer {
	return &ListingAnalyzer{Gateway: gw, LinkAnalyzer: la, Store: store, MaxTokens: 4096}
}

// Analyze fetches listingURL, asks the model for candidate items, and
// returns the subset whose proposal survives structural and exclusion
// validation. today is YYYY-MM-DD (the scheduler's clock, honoring
// TODAY_OVERRIDE).
func (l *ListingAnalyzer) Analyze(ctx context.Context, site, listingURL string, known []ai.KnownItem, today string) ([]CandidateItem, error) {
	doc, err := l.LinkAnalyzer.Fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", listingURL, err)
	}
	defer doc.Body.Close()

	body, err := readAllString(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("read listing %s: %w", listingURL, err)
	}

	links, err := l.LinkAnalyzer.Analyze(ctx, doc.URL, body)
	if err != nil {
		return nil, fmt.Errorf("analyze links on %s: %w", listingURL, err)
	}

	plausible := filterPlausible(links)
	if len(plausible) == 0 {
		return nil, nil
	}

	pageText := HTMLToText(body)
	system, prompt := ai.BuildListingPrompt(pageText, toPromptLinks(plausible), known, listingURL, today)

	raw, err := l.Gateway.Call(ctx, prompt, system, nil, l.maxTokensOrDefault())
	if err != nil {
		return nil, fmt.Errorf("listing LLM call for %s: %w", listingURL, err)
	}

	parsed, err := ai.ParseJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("parse listing response for %s: %w", listingURL, err)
	}

	listingCanonical := CanonicalizeURL(listingURL)
	linksByIndex := indexLinks(plausible)

	var out []CandidateItem
	for _, raw := range asItemsSlice(parsed) {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := ListingItem{
			Title:           strings.TrimSpace(asString(obj, "title")),
			URL:             strings.TrimSpace(asString(obj, "url")),
			DetailSourceURL: strings.TrimSpace(asString(obj, "detail_source_url")),
			ContentSnippet:  asString(obj, "content_snippet"),
		}
		idx, hasIdx := asInt(obj, "detail_link_index")
		item.DetailLinkIndex = idx

		if item.Title == "" || item.URL == "" || !hasIdx {
			continue
		}

		link, ok := linksByIndex[idx]
		if !ok {
			continue
		}

		if CanonicalizeURL(link.Href) == listingCanonical {
			continue
		}

		excludeHash := HashListingExclusion(item.Title, listingURL)
		if l.Store != nil {
			excluded, err := l.Store.ExclusionExists(ctx, excludeHash)
			if err != nil {
				return nil, fmt.Errorf("check exclusion for %q: %w", item.Title, err)
			}
			if excluded {
				continue
			}
		}

		out = append(out, CandidateItem{ListingItem: item, Link: link})
	}

	return out, nil
}

func (l *ListingAnalyzer) maxTokensOrDefault() int {
	if l.MaxTokens > 0 {
		return l.MaxTokens
	}
	return 4096
}

// filterPlausible drops links whose visible text unambiguously marks them as
// non-RFP boilerplate, so the listing prompt's link list only spends tokens
// on candidates that could plausibly be an opportunity.
func filterPlausible(links []Link) []Link {
	var out []Link
	for _, l := range links {
		text := strings.TrimSpace(l.Text)
		if text != "" && nonRFPBoilerplate.MatchString(text) {
			continue
		}
		if l.IsGenericListing {
			continue
		}
		out = append(out, l)
	}
	return out
}

func indexLinks(links []Link) map[int]Link {
	m := make(map[int]Link, len(links))
	for _, l := range links {
		m[l.Index] = l
	}
	return m
}

func toPromptLinks(links []Link) []ai.PromptLink {
	out := make([]ai.PromptLink, 0, len(links))
	for _, l := range links {
		out = append(out, ai.PromptLink{
			Index:       l.Index,
			Text:        l.Text,
			Href:        l.Href,
			Heading:     l.Heading,
			Context:     l.Context,
			IsLearnMore: l.IsLearnMore,
			IsApply:     l.IsApply,
			IsPDF:       l.IsPDF,
		})
	}
	return out
}
