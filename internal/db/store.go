package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ProcessedRfp is the canonical record of an accepted opportunity.
type ProcessedRfp struct {
	Hash          string    `json:"hash"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Site          string    `json:"site"`
	ProcessedAt   time.Time `json:"processed_at"`
	DetailContent string    `json:"detail_content"`
	AISummary     string    `json:"ai_summary"`
	PDFContent    []byte    `json:"-"`
	HasPDF        bool      `json:"has_pdf"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// RfpExclusion prevents reprocessing of a known-rejected opportunity.
type RfpExclusion struct {
	Hash       string    `json:"hash"`
	Reason     string    `json:"reason"`
	Title      string    `json:"title"`
	Site       string    `json:"site"`
	ListingURL string    `json:"listing_url"`
	DetailURL  string    `json:"detail_url,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// ScrapeConfig is the scheduler's singleton state row.
type ScrapeConfig struct {
	Enabled       bool       `json:"enabled"`
	IntervalHours float64    `json:"interval_hours"`
	NextRunAt     *time.Time `json:"next_run_at"`
	LastRunAt     *time.Time `json:"last_run_at"`
}

// EmailSettings is the singleton recipient-list row.
type EmailSettings struct {
	MainRecipients  []string `json:"main_recipients"`
	DebugRecipients []string `json:"debug_recipients"`
}

// WebsiteSettings is one crawl-target row.
type WebsiteSettings struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// ScrapeRun is one dispatcher invocation, for operator visibility.
type ScrapeRun struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	SitesAttempted int        `json:"sites_attempted"`
	SitesFailed    int        `json:"sites_failed"`
	ItemsNew       int        `json:"items_new"`
	ItemsExcluded  int        `json:"items_excluded"`
	Trigger        string     `json:"trigger"`
	Error          string     `json:"error,omitempty"`
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListParams controls GET /rfps filtering and pagination.
type ListParams struct {
	Site   string
	Query  string
	Limit  int
	Offset int
}

type ListResult struct {
	Rfps   []ProcessedRfp `json:"rfps"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

const rfpSelectCols = `hash, title, url, site, processed_at, detail_content, ai_summary, (pdf_content IS NOT NULL), embedding`

func scanProcessedRfp(scan func(dest ...interface{}) error) (ProcessedRfp, error) {
	var r ProcessedRfp
	var vec *pgvector.Vector
	err := scan(&r.Hash, &r.Title, &r.URL, &r.Site, &r.ProcessedAt, &r.DetailContent, &r.AISummary, &r.HasPDF, &vec)
	if err != nil {
		return r, err
	}
	if vec != nil {
		r.Embedding = vec.Slice()
	}
	return r, nil
}

// ListProcessedRfps implements GET /rfps: dynamic filters, newest first.
func (s *Store) ListProcessedRfps(ctx context.Context, params ListParams) (*ListResult, error) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Site != "" {
		where += fmt.Sprintf(" AND site = $%d", argIdx)
		args = append(args, params.Site)
		argIdx++
	}
	if params.Query != "" {
		where += fmt.Sprintf(" AND title ILIKE '%%' || $%d || '%%'", argIdx)
		args = append(args, params.Query)
		argIdx++
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM processed_rfps " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	selectSQL := fmt.Sprintf("SELECT %s FROM processed_rfps %s ORDER BY processed_at DESC LIMIT $%d OFFSET $%d",
		rfpSelectCols, where, argIdx, argIdx+1)
	args = append(args, limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []ProcessedRfp
	for rows.Next() {
		r, err := scanProcessedRfp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	if out == nil {
		out = []ProcessedRfp{}
	}

	return &ListResult{Rfps: out, Total: total, Limit: limit, Offset: params.Offset}, nil
}

func (s *Store) GetProcessedRfp(ctx context.Context, hash string) (*ProcessedRfp, error) {
	sql := fmt.Sprintf("SELECT %s FROM processed_rfps WHERE hash = $1", rfpSelectCols)
	row := s.pool.QueryRow(ctx, sql, hash)
	r, err := scanProcessedRfp(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}
	return &r, nil
}

func (s *Store) GetProcessedRfpPDF(ctx context.Context, hash string) ([]byte, error) {
	var pdf []byte
	err := s.pool.QueryRow(ctx, "SELECT pdf_content FROM processed_rfps WHERE hash = $1", hash).Scan(&pdf)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}
	if pdf == nil {
		return nil, fmt.Errorf("no pdf content for %s", hash)
	}
	return pdf, nil
}

func (s *Store) DeleteProcessedRfp(ctx context.Context, hash string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM processed_rfps WHERE hash = $1", hash)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ProcessedRfpExists implements the "exists first" discipline before insert.
func (s *Store) ProcessedRfpExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM processed_rfps WHERE hash = $1)", hash).Scan(&exists)
	return exists, err
}

// ProcessedRfpURLExists checks the url-uniqueness invariant independent of hash.
func (s *Store) ProcessedRfpURLExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM processed_rfps WHERE url = $1)", url).Scan(&exists)
	return exists, err
}

// InsertProcessedRfp inserts a new accepted opportunity; idempotent on hash
// and url via ON CONFLICT DO NOTHING so concurrent runs never duplicate.
func (s *Store) InsertProcessedRfp(ctx context.Context, r ProcessedRfp) error {
	var vec *pgvector.Vector
	if len(r.Embedding) > 0 {
		v := pgvector.NewVector(r.Embedding)
		vec = &v
	}
	var pdf interface{}
	if len(r.PDFContent) > 0 {
		pdf = r.PDFContent
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_rfps (hash, title, url, site, detail_content, ai_summary, pdf_content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, r.Hash, r.Title, r.URL, r.Site, r.DetailContent, r.AISummary, pdf, vec)
	if err != nil {
		return fmt.Errorf("insert processed_rfps: %w", err)
	}
	return nil
}

// ExclusionExists is the pre-insert suppression check for known-rejected
// items.
func (s *Store) ExclusionExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM rfp_exclusions WHERE hash = $1)", hash).Scan(&exists)
	return exists, err
}

func (s *Store) InsertExclusion(ctx context.Context, e RfpExclusion) error {
	var detailURL interface{}
	if e.DetailURL != "" {
		detailURL = e.DetailURL
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rfp_exclusions (hash, reason, title, site, listing_url, detail_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash) DO NOTHING
	`, e.Hash, e.Reason, e.Title, e.Site, e.ListingURL, detailURL)
	if err != nil {
		return fmt.Errorf("insert rfp_exclusions: %w", err)
	}
	return nil
}

// ListExclusions is used by the CLI's --list-exclusions.
func (s *Store) ListExclusions(ctx context.Context, limit int) ([]RfpExclusion, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT hash, reason, title, site, listing_url, COALESCE(detail_url, ''), decided_at
		FROM rfp_exclusions ORDER BY decided_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []RfpExclusion
	for rows.Next() {
		var e RfpExclusion
		if err := rows.Scan(&e.Hash, &e.Reason, &e.Title, &e.Site, &e.ListingURL, &e.DetailURL, &e.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, e)
	}
	if out == nil {
		out = []RfpExclusion{}
	}
	return out, rows.Err()
}

func (s *Store) ClearExclusions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM rfp_exclusions")
	if err != nil {
		return 0, fmt.Errorf("clear exclusions failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ClearProcessedRfps(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM processed_rfps")
	if err != nil {
		return 0, fmt.Errorf("clear processed_rfps failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetScrapeConfig reads the singleton scheduler-state row without locking.
func (s *Store) GetScrapeConfig(ctx context.Context) (*ScrapeConfig, error) {
	var c ScrapeConfig
	err := s.pool.QueryRow(ctx, "SELECT enabled, interval_hours, next_run_at, last_run_at FROM scrape_config WHERE id = 1").
		Scan(&c.Enabled, &c.IntervalHours, &c.NextRunAt, &c.LastRunAt)
	if err != nil {
		return nil, fmt.Errorf("scrape_config read: %w", err)
	}
	return &c, nil
}

// UpdateScrapeConfig implements PUT /schedule: interval/enabled change, and
// next_run_at anchored to an (hour, minute) in the given location, rolled
// forward a day if that instant has already passed today.
func (s *Store) UpdateScrapeConfig(ctx context.Context, enabled bool, intervalHours float64, hour, minute int, loc *time.Location, hasTime bool, now time.Time) (*ScrapeConfig, error) {
	var nextRun *time.Time
	if hasTime {
		utc := nextRunAnchor(hour, minute, loc, now)
		nextRun = &utc
	}

	var c ScrapeConfig
	var row pgx.Row
	if nextRun != nil {
		row = s.pool.QueryRow(ctx, `
			UPDATE scrape_config SET enabled = $1, interval_hours = $2, next_run_at = $3
			WHERE id = 1
			RETURNING enabled, interval_hours, next_run_at, last_run_at
		`, enabled, intervalHours, *nextRun)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE scrape_config SET enabled = $1, interval_hours = $2
			WHERE id = 1
			RETURNING enabled, interval_hours, next_run_at, last_run_at
		`, enabled, intervalHours)
	}
	if err := row.Scan(&c.Enabled, &c.IntervalHours, &c.NextRunAt, &c.LastRunAt); err != nil {
		return nil, fmt.Errorf("scrape_config update: %w", err)
	}
	return &c, nil
}

// ResetScrapeConfig implements DELETE /schedule: disable and clear next_run_at.
func (s *Store) ResetScrapeConfig(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "UPDATE scrape_config SET enabled = FALSE, next_run_at = NULL WHERE id = 1")
	if err != nil {
		return fmt.Errorf("scrape_config reset: %w", err)
	}
	return nil
}

// ClaimDueRun is the scheduler's single-writer claim: lock the singleton
// row, and if due, advance next_run_at strictly past now and stamp
// last_run_at, all inside one transaction. Concurrent replicas serialize on
// the row lock, so exactly one claims a due run.
func (s *Store) ClaimDueRun(ctx context.Context, now time.Time) (claimed bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var enabled bool
	var intervalHours float64
	var nextRunAt *time.Time
	row := tx.QueryRow(ctx, "SELECT enabled, interval_hours, next_run_at FROM scrape_config WHERE id = 1 FOR UPDATE")
	if err = row.Scan(&enabled, &intervalHours, &nextRunAt); err != nil {
		return false, fmt.Errorf("lock scrape_config: %w", err)
	}

	if !enabled || nextRunAt == nil || nextRunAt.After(now) {
		if err = tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit non-claim: %w", err)
		}
		return false, nil
	}

	next := *nextRunAt
	interval := time.Duration(intervalHours * float64(time.Hour))
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	for !next.After(now) {
		next = next.Add(interval)
	}

	if _, err = tx.Exec(ctx, "UPDATE scrape_config SET next_run_at = $1, last_run_at = $2 WHERE id = 1", next, now); err != nil {
		return false, fmt.Errorf("advance scrape_config: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return true, nil
}

func (s *Store) GetEmailSettings(ctx context.Context) (*EmailSettings, error) {
	var e EmailSettings
	err := s.pool.QueryRow(ctx, "SELECT main_recipients, debug_recipients FROM email_settings WHERE id = 1").
		Scan(&e.MainRecipients, &e.DebugRecipients)
	if err != nil {
		return nil, fmt.Errorf("email_settings read: %w", err)
	}
	return &e, nil
}

func (s *Store) UpdateEmailSettings(ctx context.Context, e EmailSettings) (*EmailSettings, error) {
	e.MainRecipients = sanitizeStringSlice(e.MainRecipients)
	e.DebugRecipients = sanitizeStringSlice(e.DebugRecipients)
	var out EmailSettings
	err := s.pool.QueryRow(ctx, `
		UPDATE email_settings SET main_recipients = $1, debug_recipients = $2
		WHERE id = 1
		RETURNING main_recipients, debug_recipients
	`, e.MainRecipients, e.DebugRecipients).Scan(&out.MainRecipients, &out.DebugRecipients)
	if err != nil {
		return nil, fmt.Errorf("email_settings update: %w", err)
	}
	return &out, nil
}

func (s *Store) ListWebsiteSettings(ctx context.Context) ([]WebsiteSettings, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, url, enabled FROM website_settings ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []WebsiteSettings
	for rows.Next() {
		var w WebsiteSettings
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Enabled); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, w)
	}
	if out == nil {
		out = []WebsiteSettings{}
	}
	return out, rows.Err()
}

// ListEnabledWebsites is what the Dispatcher actually iterates, in id
// order.
func (s *Store) ListEnabledWebsites(ctx context.Context) ([]WebsiteSettings, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, url, enabled FROM website_settings WHERE enabled = TRUE ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []WebsiteSettings
	for rows.Next() {
		var w WebsiteSettings
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Enabled); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) WebsiteSettingURLExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM website_settings WHERE url = $1)", url).Scan(&exists)
	return exists, err
}

func (s *Store) CreateWebsiteSetting(ctx context.Context, w WebsiteSettings) (*WebsiteSettings, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO website_settings (name, url, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, url, enabled
	`, w.Name, w.URL, w.Enabled).Scan(&w.ID, &w.Name, &w.URL, &w.Enabled)
	if err != nil {
		return nil, fmt.Errorf("insert website_settings: %w", err)
	}
	return &w, nil
}

func (s *Store) UpdateWebsiteSetting(ctx context.Context, id int64, w WebsiteSettings) (*WebsiteSettings, error) {
	var out WebsiteSettings
	err := s.pool.QueryRow(ctx, `
		UPDATE website_settings SET name = $1, url = $2, enabled = $3
		WHERE id = $4
		RETURNING id, name, url, enabled
	`, w.Name, w.URL, w.Enabled, id).Scan(&out.ID, &out.Name, &out.URL, &out.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("update website_settings: %w", err)
	}
	return &out, nil
}

func (s *Store) DeleteWebsiteSetting(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM website_settings WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete website_settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *Store) CreateScrapeRun(ctx context.Context, id, trigger string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_runs (id, started_at, trigger) VALUES ($1, $2, $3)
	`, id, startedAt, trigger)
	if err != nil {
		return fmt.Errorf("insert scrape_runs: %w", err)
	}
	return nil
}

func (s *Store) FinishScrapeRun(ctx context.Context, id string, finishedAt time.Time, sitesAttempted, sitesFailed, itemsNew, itemsExcluded int, runErr string) error {
	var errArg interface{}
	if runErr != "" {
		errArg = runErr
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_runs
		SET finished_at = $1, sites_attempted = $2, sites_failed = $3, items_new = $4, items_excluded = $5, error = $6
		WHERE id = $7
	`, finishedAt, sitesAttempted, sitesFailed, itemsNew, itemsExcluded, errArg, id)
	if err != nil {
		return fmt.Errorf("update scrape_runs: %w", err)
	}
	return nil
}

// ListScrapeRuns backs GET /runs.
func (s *Store) ListScrapeRuns(ctx context.Context, limit int) ([]ScrapeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, sites_attempted, sites_failed, items_new, items_excluded, trigger, COALESCE(error, '')
		FROM scrape_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []ScrapeRun
	for rows.Next() {
		var r ScrapeRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.SitesAttempted, &r.SitesFailed, &r.ItemsNew, &r.ItemsExcluded, &r.Trigger, &r.Error); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, r)
	}
	if out == nil {
		out = []ScrapeRun{}
	}
	return out, rows.Err()
}

// nextRunAnchor resolves an (hour, minute) in loc to the next future UTC
// instant, rolling forward a day if that instant has already passed today.
func nextRunAnchor(hour, minute int, loc *time.Location, now time.Time) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC()
}

func sanitizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return values
	}
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}
