package ingest

import (
	"context"
	"fmt"

	"github.com/david/rfp-scout/internal/ai"
)

const (
	defaultMaxHops     = 5
	defaultMaxPageText = 12000
)

// Navigator is the hop state machine: starting from a listing's selected
// link, follow LLM-guided hops until a final detail page or PDF is reached,
// the opportunity is found expired, or the hop budget or loop guard ends
// the search.
type Navigator struct {
	Gateway      *ai.Gateway
	Extractor    *Extractor
	LinkAnalyzer *LinkAnalyzer
	MaxHops      int
	MaxTokens    int
	MaxPageText  int
}

func NewNavigator(gw *ai.Gateway, ex *Extractor, la *LinkAnalyzer) *Navigator {
	return &Navigator{Gateway: gw, Extractor: ex, LinkAnalyzer: la, MaxHops: defaultMaxHops, MaxTokens: 2048, MaxPageText: defaultMaxPageText}
}

// Navigate runs the hop loop starting at selectedURL. titleSeed is the
// listing anchor's text, used as the result title when the final page never
// offers a better one (most importantly: a bare PDF). Returns (nil, nil) on
// any terminal non-result state (loop, give_up, expired, exhausted budget),
// distinguishing "no result" from a hard error.
func (n *Navigator) Navigate(ctx context.Context, selectedURL, titleSeed, today string) (*NavResult, error) {
	maxHops := n.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	visited := make(map[string]struct{})
	current := selectedURL
	referer := ""

	for hop := 1; hop <= maxHops; hop++ {
		canon := CanonicalizeURL(current)
		if _, seen := visited[canon]; seen {
			return nil, nil
		}
		visited[canon] = struct{}{}

		fetched, err := n.Extractor.ExtractFrom(ctx, current, referer)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", current, err)
		}

		if fetched.IsPDF {
			return &NavResult{
				FinalURL:     fetched.FinalURL,
				Title:        titleSeedOrPDF(titleSeed),
				ListingTitle: titleSeed,
				Text:         fetched.Text,
				PDFBytes:     fetched.PDFBytes,
				IsPDF:        true,
			}, nil
		}

		links, err := n.LinkAnalyzer.Analyze(ctx, fetched.FinalURL, fetched.Text)
		if err != nil {
			links = nil
		}

		system, prompt := ai.BuildNavigationPrompt(fetched.Text, toPromptLinks(links), hop, today, n.MaxPageText)
		raw, err := n.Gateway.Call(ctx, prompt, system, nil, n.maxTokensOrDefault())
		if err != nil {
			return nil, fmt.Errorf("navigation LLM call on hop %d for %s: %w", hop, current, err)
		}

		decision, err := decodeNavDecision(raw)
		if err != nil {
			return nil, nil
		}

		switch decision.Kind {
		case "final":
			return n.resolveFinal(ctx, decision, current, fetched, titleSeed)
		case "continue":
			next, ok := resolveNextLink(links, decision)
			if !ok {
				return nil, nil
			}
			referer = fetched.FinalURL
			current = next
			continue
		case "expired", "give_up":
			return nil, nil
		default:
			return nil, nil
		}
	}

	return nil, nil
}

func (n *Navigator) resolveFinal(ctx context.Context, decision NavDecision, currentURL string, currentFetched *Fetched, titleSeed string) (*NavResult, error) {
	finalURL := decision.FinalURL
	if finalURL == "" {
		finalURL = currentURL
	}

	title := decision.FinalTitle
	if title == "" {
		title = titleSeed
	}

	if CanonicalizeURL(finalURL) == CanonicalizeURL(currentURL) {
		return &NavResult{FinalURL: currentFetched.FinalURL, Title: title, ListingTitle: titleSeed, Text: currentFetched.Text, PDFBytes: currentFetched.PDFBytes, IsPDF: currentFetched.IsPDF}, nil
	}

	fetched, err := n.Extractor.ExtractFrom(ctx, finalURL, currentFetched.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("extract final %s: %w", finalURL, err)
	}
	if title == "" {
		title = titleSeedOrPDF(titleSeed)
	}
	return &NavResult{FinalURL: fetched.FinalURL, Title: title, ListingTitle: titleSeed, Text: fetched.Text, PDFBytes: fetched.PDFBytes, IsPDF: fetched.IsPDF}, nil
}

func resolveNextLink(links []Link, decision NavDecision) (string, bool) {
	if !decision.HasNextLinkIndex {
		return "", false
	}
	for _, l := range links {
		if l.Index == decision.NextLinkIndex {
			return l.Href, true
		}
	}
	return "", false
}

func titleSeedOrPDF(seed string) string {
	if seed == "" {
		return "(PDF)"
	}
	return seed
}

func (n *Navigator) maxTokensOrDefault() int {
	if n.MaxTokens > 0 {
		return n.MaxTokens
	}
	return 2048
}

// decodeNavDecision parses the navigation prompt's JSON contract into a
// NavDecision, tolerating a missing or null "final"/"next_link_index".
func decodeNavDecision(raw string) (NavDecision, error) {
	obj, err := ai.ParseJSONObject(raw)
	if err != nil {
		return NavDecision{}, err
	}

	d := NavDecision{
		Kind:   asString(obj, "status"),
		Reason: asString(obj, "reason"),
	}
	if final := asObject(obj, "final"); final != nil {
		d.FinalTitle = asString(final, "title")
		d.FinalURL = asString(final, "url")
	}
	if idx, ok := asInt(obj, "next_link_index"); ok {
		d.NextLinkIndex = idx
		d.HasNextLinkIndex = true
	}
	return d, nil
}
