package ingest

import (
	"context"
	"testing"

	"github.com/david/rfp-scout/internal/ai"
	"github.com/david/rfp-scout/internal/db"
)

const listingURL = "https://health.example.gov/rfps"

const listingHTML = `<html><body>
<main>
  <h2>Open Solicitations</h2>
  <ul>
    <li><a href="/rfps/ehr-modernization">EHR Modernization RFP</a></li>
    <li><a href="/rfps/data-warehouse">Clinical Data Warehouse RFP</a></li>
  </ul>
  <a href="/privacy">Privacy Policy</a>
</main>
</body></html>`

func TestListingAnalyze_ValidatesModelProposals(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.AddHTML(listingURL, listingHTML)

	gw := newScriptedGateway(t, func(system, prompt string) string {
		if systemKind(system) != "listing" {
			t.Fatalf("unexpected %s call", systemKind(system))
		}
		return `{"items": [
			{"title": "EHR Modernization RFP", "url": "https://health.example.gov/rfps/ehr-modernization", "detail_link_index": 0},
			{"title": "Ghost item", "url": "https://health.example.gov/rfps/ghost", "detail_link_index": 42},
			{"title": "", "url": "https://health.example.gov/rfps/untitled", "detail_link_index": 1},
			{"title": "No index item", "url": "https://health.example.gov/rfps/no-index"}
		]}`
	})

	la := NewListingAnalyzer(gw, NewLinkAnalyzer(fetcher), newMockStore())
	candidates, err := la.Analyze(context.Background(), "Example Health", listingURL, nil, "2026-07-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected only the structurally valid proposal to survive, got %d", len(candidates))
	}
	c := candidates[0]
	if c.Title != "EHR Modernization RFP" {
		t.Fatalf("unexpected candidate %q", c.Title)
	}
	if c.Link.Href != "https://health.example.gov/rfps/ehr-modernization" {
		t.Fatalf("candidate must carry the resolved link, got %s", c.Link.Href)
	}
}

func TestListingAnalyze_SkipsExcludedHash(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.AddHTML(listingURL, listingHTML)

	store := newMockStore()
	store.Exclusions = append(store.Exclusions, db.RfpExclusion{
		Hash:   HashListingExclusion("EHR Modernization RFP", listingURL),
		Reason: "out_of_scope",
	})

	gw := newScriptedGateway(t, func(system, prompt string) string {
		return `{"items": [{"title": "EHR Modernization RFP", "url": "https://health.example.gov/rfps/ehr-modernization", "detail_link_index": 0}]}`
	})

	la := NewListingAnalyzer(gw, NewLinkAnalyzer(fetcher), store)
	candidates, err := la.Analyze(context.Background(), "Example Health", listingURL, nil, "2026-07-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("an excluded listing hash must never produce a candidate, got %d", len(candidates))
	}
}

func TestListingAnalyze_KnownItemsReachThePrompt(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.AddHTML(listingURL, listingHTML)

	sawKnown := false
	gw := newScriptedGateway(t, func(system, prompt string) string {
		if contains(prompt, "Previously Processed RFP") {
			sawKnown = true
		}
		return `{"items": []}`
	})

	la := NewListingAnalyzer(gw, NewLinkAnalyzer(fetcher), newMockStore())
	_, err := la.Analyze(context.Background(), "Example Health", listingURL,
		[]ai.KnownItem{{Title: "Previously Processed RFP", URL: "https://health.example.gov/rfps/old"}}, "2026-07-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawKnown {
		t.Fatal("known items must be rendered into the listing prompt")
	}
}

func TestFilterPlausible(t *testing.T) {
	links := []Link{
		{Index: 0, Text: "EHR Modernization RFP"},
		{Index: 1, Text: "Privacy Policy"},
		{Index: 2, Text: "Careers"},
		{Index: 3, Text: "View All", IsGenericListing: true},
		{Index: 4, Text: ""},
	}
	got := filterPlausible(links)
	if len(got) != 2 {
		t.Fatalf("expected 2 plausible links, got %d", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 4 {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}
