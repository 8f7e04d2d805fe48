package main

import (
	"context"
	"log"

	"github.com/david/rfp-scout/internal/ai"
	"github.com/david/rfp-scout/internal/api"
	"github.com/david/rfp-scout/internal/config"
	"github.com/david/rfp-scout/internal/db"
	"github.com/david/rfp-scout/internal/ingest"
	"github.com/david/rfp-scout/internal/scheduler"
)

func main() {
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
	if err := db.SeedWebsiteSettings(ctx, store); err != nil {
		log.Printf("seeding website settings: %v", err)
	}

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

	srv := api.NewServer(pool, store, sched, cfg.ScheduleTimezone)

	go sched.Run(ctx)

	log.Printf("Server starting on port %s...", cfg.Port)
	if err := srv.Start(cfg.Port); err != nil {
		log.Fatal(err)
	}
}
