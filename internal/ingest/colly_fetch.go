package ingest

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// PoliteFetcher wraps a SafeFetcher with a Colly collector used only for its
// per-domain rate limiting: the Dispatcher visits several listing pages
// across a run and a slow or bursty site must never starve the others.
type PoliteFetcher struct {
	inner      Fetcher
	collectors map[string]*colly.Collector
	mu         sync.Mutex
	delay      time.Duration
	random     time.Duration
}

// NewPoliteFetcher builds a PoliteFetcher delegating actual fetches to inner
// and gating them with a per-host Colly limiter.
func NewPoliteFetcher(inner Fetcher) *PoliteFetcher {
	return &PoliteFetcher{
		inner:      inner,
		collectors: make(map[string]*colly.Collector),
		delay:      1 * time.Second,
		random:     500 * time.Millisecond,
	}
}

func (p *PoliteFetcher) collectorFor(host string) *colly.Collector {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.collectors[host]; ok {
		return c
	}

	c := colly.NewCollector(colly.AllowedDomains(host))
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       p.delay,
		RandomDelay: p.random,
	})
	p.collectors[host] = c
	return c
}

// Fetch blocks until the per-domain limiter admits this host, then delegates
// to the wrapped Fetcher.
func (p *PoliteFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	c := p.collectorFor(parsed.Host)

	var doc *FetchedDocument
	var fetchErr error
	done := make(chan struct{})

	c.OnRequest(func(r *colly.Request) {
		doc, fetchErr = p.inner.Fetch(ctx, r.URL.String())
		close(done)
		r.Abort()
	})
	c.OnError(func(r *colly.Response, err error) {
		log.Printf("[PoliteFetcher] limiter error for %s: %v", rawURL, err)
	})

	// Visit always returns an error here because OnRequest aborts Colly's own
	// transport once the limiter admits the request — the real fetch already
	// happened inside the callback via p.inner, so that error is expected.
	_ = c.Visit(rawURL)

	<-done
	if fetchErr != nil {
		return nil, fetchErr
	}
	if doc == nil {
		return nil, fmt.Errorf("rate-limit gate for %s: no response", rawURL)
	}
	return doc, nil
}

// FetchWithReferer delegates to the wrapped fetcher's referer-aware fetch
// when it has one; navigation hops are already serialized by the LLM call
// between them, so they skip the per-domain gate.
func (p *PoliteFetcher) FetchWithReferer(ctx context.Context, rawURL, referer string) (*FetchedDocument, error) {
	type refererFetcher interface {
		FetchWithReferer(ctx context.Context, rawURL, referer string) (*FetchedDocument, error)
	}
	if rf, ok := p.inner.(refererFetcher); ok {
		return rf.FetchWithReferer(ctx, rawURL, referer)
	}
	return p.inner.Fetch(ctx, rawURL)
}

// FetchWithHeaders and PostForm bypass the per-domain limiter and delegate
// straight to the wrapped fetcher when it supports them: the Kendo grid
// augmentation is a single follow-up call against a page already admitted
// by the limiter, not a new page fetch that needs its own politeness gate.
func (p *PoliteFetcher) FetchWithHeaders(ctx context.Context, rawURL string, headers map[string]string) (*FetchedDocument, error) {
	if af, ok := p.inner.(AugmentedFetcher); ok {
		return af.FetchWithHeaders(ctx, rawURL, headers)
	}
	return p.inner.Fetch(ctx, rawURL)
}

func (p *PoliteFetcher) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*FetchedDocument, error) {
	if af, ok := p.inner.(AugmentedFetcher); ok {
		return af.PostForm(ctx, rawURL, headers, form)
	}
	return nil, fmt.Errorf("wrapped fetcher does not support PostForm")
}
