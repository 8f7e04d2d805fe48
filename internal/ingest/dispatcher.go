package ingest

import (
	"context"
	"time"

	"github.com/david/rfp-scout/internal/ai"
	"github.com/david/rfp-scout/internal/db"
)

// DispatcherStore is the persistence surface the Dispatcher drives directly;
// the Listing Analyzer and Validator each get their own narrower interface.
type DispatcherStore interface {
	ExclusionChecker
	ValidatorStore
	ListEnabledWebsites(ctx context.Context) ([]db.WebsiteSettings, error)
	ListProcessedRfps(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	ListExclusions(ctx context.Context, limit int) ([]db.RfpExclusion, error)
}

// RunSummary aggregates one Dispatcher pass for the caller (scheduler tick
// or admin-triggered run) to persist into scrape_runs.
type RunSummary struct {
	SitesAttempted int
	SitesFailed    int
	ItemsNew       int
	ItemsExcluded  int
	NewRfps        []db.ProcessedRfp
}

// Dispatcher is the per-run orchestrator: it walks the enabled website list
// in order and drives the Listing Analyzer, Navigator, and Validator for
// each site.
type Dispatcher struct {
	Store     DispatcherStore
	Listing   *ListingAnalyzer
	Navigator *Navigator
	Validator *Validator
	Now       func() time.Time
	Sink      *LogSink
}

func NewDispatcher(store DispatcherStore, gw *ai.Gateway, fetcher Fetcher) *Dispatcher {
	la := NewLinkAnalyzer(fetcher)
	return &Dispatcher{
		Store:     store,
		Listing:   NewListingAnalyzer(gw, la, store),
		Navigator: NewNavigator(gw, NewExtractor(fetcher), la),
		Validator: NewValidator(gw, store),
		Now:       time.Now,
		Sink:      NewLogSink(),
	}
}

// Run processes every enabled website in id order. A per-site failure (fetch
// or LLM error at the listing stage) is logged and counted, never aborting
// the remaining sites.
func (d *Dispatcher) Run(ctx context.Context) (RunSummary, error) {
	d.Sink = NewLogSink()
	d.Validator.summaryCache = make(map[string]string)

	sites, err := d.Store.ListEnabledWebsites(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	var summary RunSummary
	today := d.now()
	todayStr := today.Format("2006-01-02")

	for _, site := range sites {
		summary.SitesAttempted++

		known, err := d.knownItems(ctx, site.Name)
		if err != nil {
			d.Sink.Printf("[Dispatcher] %s: building known-items list: %v", site.Name, err)
		}

		candidates, err := d.Listing.Analyze(ctx, site.Name, site.URL, known, todayStr)
		if err != nil {
			d.Sink.Printf("[Dispatcher] %s: listing analysis failed: %v", site.Name, err)
			summary.SitesFailed++
			continue
		}

		for _, c := range candidates {
			d.processCandidate(ctx, site, c, today, &summary)
		}
	}

	return summary, nil
}

func (d *Dispatcher) processCandidate(ctx context.Context, site db.WebsiteSettings, c CandidateItem, today time.Time, summary *RunSummary) {
	titleSeed := c.Link.Text
	if titleSeed == "" {
		titleSeed = c.Title
	}

	nav, err := d.Navigator.Navigate(ctx, c.Link.Href, titleSeed, today.Format("2006-01-02"))
	if err != nil {
		d.Sink.Printf("[Dispatcher] %s: navigation error for %q: %v", site.Name, c.Title, err)
		return
	}
	if nav == nil {
		return
	}
	if nav.Title == "" {
		nav.Title = c.Title
	}
	if nav.ListingTitle == "" {
		nav.ListingTitle = c.Title
	}

	outcome, err := d.Validator.Validate(ctx, site.Name, site.URL, nav, today)
	if err != nil {
		d.Sink.Printf("[Dispatcher] %s: validation error for %q: %v", site.Name, nav.Title, err)
		return
	}

	switch {
	case outcome.Inserted:
		summary.ItemsNew++
		if outcome.Record != nil {
			summary.NewRfps = append(summary.NewRfps, *outcome.Record)
		}
	case outcome.Excluded:
		summary.ItemsExcluded++
	}
}

// knownItems builds the already-known list for the listing prompt: recent
// processed rows plus recent exclusions marked out_of_scope or expired,
// capped to 100 entries total by the prompt builder.
func (d *Dispatcher) knownItems(ctx context.Context, site string) ([]ai.KnownItem, error) {
	var known []ai.KnownItem

	processed, err := d.Store.ListProcessedRfps(ctx, db.ListParams{Site: site, Limit: 100})
	if err != nil {
		return known, err
	}
	for _, r := range processed.Rfps {
		known = append(known, ai.KnownItem{Title: r.Title, URL: r.URL})
	}

	exclusions, err := d.Store.ListExclusions(ctx, 200)
	if err != nil {
		return known, err
	}
	for _, e := range exclusions {
		if e.Site != site {
			continue
		}
		if e.Reason != "out_of_scope" && e.Reason != "expired" {
			continue
		}
		url := e.DetailURL
		if url == "" {
			url = e.ListingURL
		}
		known = append(known, ai.KnownItem{Title: e.Title, URL: url})
	}

	return known, nil
}

// LogLines returns the messages collected during the most recent Run call.
func (d *Dispatcher) LogLines() []string {
	return d.Sink.Entries()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
