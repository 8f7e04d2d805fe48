package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/david/rfp-scout/internal/ingest"
)

type fakeRunStore struct {
	mu          sync.Mutex
	claimsLeft  int
	claimCalls  int
	started     []string
	finished    []string
	finishedNew []int
	finishedErr []string
}

func (f *fakeRunStore) ClaimDueRun(ctx context.Context, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.claimsLeft > 0 {
		f.claimsLeft--
		return true, nil
	}
	return false, nil
}

func (f *fakeRunStore) CreateScrapeRun(ctx context.Context, id, trigger string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, trigger)
	return nil
}

func (f *fakeRunStore) FinishScrapeRun(ctx context.Context, id string, finishedAt time.Time, sitesAttempted, sitesFailed, itemsNew, itemsExcluded int, runErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, id)
	f.finishedNew = append(f.finishedNew, itemsNew)
	f.finishedErr = append(f.finishedErr, runErr)
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    int
	summary ingest.RunSummary
	err     error
}

func (f *fakeRunner) Run(ctx context.Context) (ingest.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.summary, f.err
}

func fixedNow() time.Time {
	return time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
}

func TestTick_RunsPipelineOnlyWhenClaimed(t *testing.T) {
	store := &fakeRunStore{claimsLeft: 1}
	runner := &fakeRunner{summary: ingest.RunSummary{SitesAttempted: 2, ItemsNew: 1}}
	s := New(store, runner, fixedNow)

	s.tick(context.Background())
	s.tick(context.Background())
	s.tick(context.Background())

	if runner.runs != 1 {
		t.Fatalf("only the claimed tick may run the pipeline, got %d runs", runner.runs)
	}
	if store.claimCalls != 3 {
		t.Fatalf("every tick must attempt a claim, got %d", store.claimCalls)
	}
}

func TestConcurrentTicks_SingleWriter(t *testing.T) {
	store := &fakeRunStore{claimsLeft: 1}
	runner := &fakeRunner{}
	s := New(store, runner, fixedNow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tick(context.Background())
		}()
	}
	wg.Wait()

	if runner.runs != 1 {
		t.Fatalf("with one due run, exactly one of the concurrent ticks may execute it; got %d", runner.runs)
	}
}

func TestExecuteRun_RecordsRunRow(t *testing.T) {
	store := &fakeRunStore{}
	runner := &fakeRunner{summary: ingest.RunSummary{SitesAttempted: 3, SitesFailed: 1, ItemsNew: 2, ItemsExcluded: 4}}
	s := New(store, runner, fixedNow)

	summary, _ := s.ExecuteRun(context.Background(), "manual", fixedNow())
	if summary.ItemsNew != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(store.started) != 1 || store.started[0] != "manual" {
		t.Fatalf("expected one manual run start, got %v", store.started)
	}
	if len(store.finished) != 1 || store.finishedNew[0] != 2 {
		t.Fatalf("expected the finish row to carry the counters, got %v %v", store.finished, store.finishedNew)
	}
	if store.finishedErr[0] != "" {
		t.Fatalf("expected no error recorded, got %q", store.finishedErr[0])
	}
}

func TestExecuteRun_RecordsRunnerError(t *testing.T) {
	store := &fakeRunStore{}
	runner := &fakeRunner{err: context.DeadlineExceeded}
	s := New(store, runner, fixedNow)

	s.ExecuteRun(context.Background(), "scheduled", fixedNow())
	if len(store.finishedErr) != 1 || store.finishedErr[0] == "" {
		t.Fatalf("expected the runner error recorded on the run row, got %v", store.finishedErr)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &fakeRunStore{}
	runner := &fakeRunner{}
	s := New(store, runner, fixedNow)
	s.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop on cancellation")
	}
}
