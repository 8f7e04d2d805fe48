// Package scheduler drives the pipeline on its configured cadence. It lives
// outside internal/db and internal/ingest because it depends on both — the
// claim-under-lock state lives in the persistence layer, but invoking the
// claimed run means calling into the Dispatcher — and folding it into
// either package would create an import cycle.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/david/rfp-scout/internal/db"
	"github.com/david/rfp-scout/internal/ingest"
)

const tickInterval = 60 * time.Second

// Runner is the Dispatcher surface the Scheduler drives; narrowed so tests
// can supply a stub.
type Runner interface {
	Run(ctx context.Context) (ingest.RunSummary, error)
}

// logLinesProvider is implemented by *ingest.Dispatcher. It's checked with a
// type assertion rather than folded into Runner so a minimal test stub isn't
// forced to implement it.
type logLinesProvider interface {
	LogLines() []string
}

// RunStore is the persistence surface the Scheduler needs beyond claiming a
// tick: recording the run it claimed.
type RunStore interface {
	ClaimDueRun(ctx context.Context, now time.Time) (bool, error)
	CreateScrapeRun(ctx context.Context, id, trigger string, startedAt time.Time) error
	FinishScrapeRun(ctx context.Context, id string, finishedAt time.Time, sitesAttempted, sitesFailed, itemsNew, itemsExcluded int, runErr string) error
}

// Scheduler is the background loop: every tick, claim the singleton config
// row under a transaction-scoped lock, and if due, run the pipeline outside
// the lock.
type Scheduler struct {
	Store    RunStore
	Runner   Runner
	Now      func() time.Time
	Interval time.Duration
}

func New(store RunStore, runner Runner, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{Store: store, Runner: runner, Now: now, Interval: tickInterval}
}

// Run blocks, ticking on s.Interval, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = tickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.Now()
	claimed, err := s.Store.ClaimDueRun(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] claim failed: %v", err)
		return
	}
	if !claimed {
		return
	}

	s.ExecuteRun(ctx, "scheduled", now)
}

// ExecuteRun runs the pipeline once and records a scrape_runs row, shared by
// the tick loop and the admin API's imperative POST /scrape. The returned
// log lines are whatever the Runner collected for this run only (empty if
// the Runner doesn't expose a log buffer).
func (s *Scheduler) ExecuteRun(ctx context.Context, trigger string, startedAt time.Time) (ingest.RunSummary, []string) {
	id := uuid.NewString()
	if err := s.Store.CreateScrapeRun(ctx, id, trigger, startedAt); err != nil {
		log.Printf("[Scheduler] record run start failed: %v", err)
	}

	summary, runErr := s.Runner.Run(ctx)

	var logLines []string
	if provider, ok := s.Runner.(logLinesProvider); ok {
		logLines = provider.LogLines()
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		log.Printf("[Scheduler] run %s failed: %v", id, runErr)
	}

	if err := s.Store.FinishScrapeRun(ctx, id, s.Now(), summary.SitesAttempted, summary.SitesFailed, summary.ItemsNew, summary.ItemsExcluded, errMsg); err != nil {
		log.Printf("[Scheduler] record run finish failed: %v", err)
	}

	return summary, logLines
}

var _ RunStore = (*db.Store)(nil)
