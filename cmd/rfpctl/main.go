// rfpctl is the operator CLI: inspect and clear the pipeline's persisted
// state, reset the schedule, or trigger a run directly (optionally emailing
// the digest) without going through the admin API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/rfp-scout/internal/ai"
	"github.com/david/rfp-scout/internal/config"
	"github.com/david/rfp-scout/internal/db"
	"github.com/david/rfp-scout/internal/ingest"
	"github.com/david/rfp-scout/internal/notify"
	"github.com/david/rfp-scout/internal/scheduler"
)

func main() {
	email := flag.Bool("email", false, "Run the pipeline once and send the digest to the main recipients")
	debugEmail := flag.Bool("debug-email", false, "Run the pipeline once and send the digest plus log buffer to the debug recipients")
	list := flag.Bool("list", false, "List processed RFPs")
	clearRfps := flag.Bool("clear", false, "Delete all processed RFPs")
	listExclusions := flag.Bool("list-exclusions", false, "List exclusions")
	clearExclusions := flag.Bool("clear-exclusions", false, "Delete all exclusions")
	clearSchedule := flag.Bool("clear-schedule", false, "Disable the schedule and clear next_run_at")
	flag.Parse()

	if !*email && !*debugEmail && !*list && !*clearRfps && !*listExclusions && !*clearExclusions && !*clearSchedule {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	ctx := context.Background()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	store := db.NewStore(pool)

	if *list {
		listRfps(ctx, store)
	}
	if *listExclusions {
		listExclusionRows(ctx, store)
	}
	if *clearRfps {
		n, err := store.ClearProcessedRfps(ctx)
		if err != nil {
			log.Fatalf("Clearing processed RFPs failed: %v", err)
		}
		log.Printf("Deleted %d processed RFPs", n)
	}
	if *clearExclusions {
		n, err := store.ClearExclusions(ctx)
		if err != nil {
			log.Fatalf("Clearing exclusions failed: %v", err)
		}
		log.Printf("Deleted %d exclusions", n)
	}
	if *clearSchedule {
		if err := store.ResetScrapeConfig(ctx); err != nil {
			log.Fatalf("Clearing schedule failed: %v", err)
		}
		log.Print("Schedule disabled and next_run_at cleared")
	}
	if *email || *debugEmail {
		runOnce(ctx, cfg, store, *email, *debugEmail)
	}
}

func listRfps(ctx context.Context, store *db.Store) {
	result, err := store.ListProcessedRfps(ctx, db.ListParams{Limit: 100})
	if err != nil {
		log.Fatalf("Listing processed RFPs failed: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Hash", "Title", "Site", "Processed At", "PDF", "URL"})
	for _, r := range result.Rfps {
		pdf := ""
		if r.HasPDF {
			pdf = "yes"
		}
		t.AppendRow(table.Row{shortHash(r.Hash), clip(r.Title, 60), r.Site, r.ProcessedAt.Format("2006-01-02 15:04"), pdf, clip(r.URL, 70)})
	}
	t.Render()
	log.Printf("%d of %d processed RFPs", len(result.Rfps), result.Total)
}

func listExclusionRows(ctx context.Context, store *db.Store) {
	exclusions, err := store.ListExclusions(ctx, 200)
	if err != nil {
		log.Fatalf("Listing exclusions failed: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Hash", "Reason", "Title", "Site", "Decided At"})
	for _, e := range exclusions {
		t.AppendRow(table.Row{shortHash(e.Hash), e.Reason, clip(e.Title, 60), e.Site, e.DecidedAt.Format("2006-01-02 15:04")})
	}
	t.Render()
	log.Printf("%d exclusions", len(exclusions))
}

// runOnce executes one pipeline run the same way the scheduler does, then
// sends the digest to the recipient lists the flags asked for.
func runOnce(ctx context.Context, cfg config.Config, store *db.Store, sendMain, sendDebug bool) {
	gateway := ai.NewGatewayFromEnv()
	fetcher := ingest.NewPoliteFetcher(ingest.NewSafeFetcher())

	dispatcher := ingest.NewDispatcher(store, gateway, fetcher)
	dispatcher.Navigator.MaxHops = cfg.MaxRFPHops
	dispatcher.Navigator.MaxPageText = cfg.NavPageMaxText
	dispatcher.Navigator.Extractor.MaxDetailTextChars = cfg.MaxDetailTextChars
	dispatcher.Navigator.Extractor.MaxPDFTextChars = cfg.MaxPDFTextChars
	dispatcher.Validator.EnforceFinalDate = cfg.FinalDateEnforce
	dispatcher.Now = cfg.Today

	sched := scheduler.New(store, dispatcher, cfg.Today)
	startedAt := time.Now().UTC()
	summary, logLines := sched.ExecuteRun(ctx, "manual", startedAt)

	digest := notify.Digest{Trigger: "manual", StartedAt: startedAt, Summary: summary, LogLines: logLines}
	log.Print(notify.RenderSubject(digest))

	settings, err := store.GetEmailSettings(ctx)
	if err != nil {
		log.Fatalf("Loading email settings failed: %v", err)
	}

	notifier := notify.NewLogNotifier()
	if sendMain {
		if err := notifier.Send(settings.MainRecipients, digest, false); err != nil {
			log.Fatalf("Sending main digest failed: %v", err)
		}
	}
	if sendDebug {
		if err := notifier.Send(settings.DebugRecipients, digest, true); err != nil {
			log.Fatalf("Sending debug digest failed: %v", err)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
