package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/david/rfp-scout/internal/ai"
	"github.com/david/rfp-scout/internal/db"
)

// ValidatorStore is the subset of persistence the Validator needs: the
// existence checks and inserts it makes on a fully navigated candidate.
type ValidatorStore interface {
	ProcessedRfpExists(ctx context.Context, hash string) (bool, error)
	ProcessedRfpURLExists(ctx context.Context, url string) (bool, error)
	InsertProcessedRfp(ctx context.Context, r db.ProcessedRfp) error
	InsertExclusion(ctx context.Context, e db.RfpExclusion) error
}

// Validator runs deadline and scope classification on a navigated final
// page, then (on acceptance) summary generation, embedding, and the final
// insert.
type Validator struct {
	Gateway          *ai.Gateway
	Store            ValidatorStore
	EnforceFinalDate bool

	summaryCache map[string]string
}

func NewValidator(gw *ai.Gateway, store ValidatorStore) *Validator {
	return &Validator{Gateway: gw, Store: store, EnforceFinalDate: true, summaryCache: make(map[string]string)}
}

// Outcome reports what the Validator decided, for the Dispatcher's run
// counters.
type Outcome struct {
	Inserted bool
	Excluded bool
	Reason   string
	Record   *db.ProcessedRfp
}

// Validate runs the deadline and scope checks on a Navigator result and, if
// both pass, persists the opportunity. site is the owning WebsiteSettings
// name; listingURL is the originating listing page, recorded only in the
// exclusion row's listing_url column on rejection: once a candidate has
// reached this stage the exclusion hash keys on title and final_url, not
// listing_url.
func (v *Validator) Validate(ctx context.Context, site, listingURL string, nav *NavResult, today time.Time) (Outcome, error) {
	todayStr := today.Format("2006-01-02")

	deadlineSystem, deadlinePrompt := ai.BuildFinalPagePrompt(nav.Text, nav.FinalURL, todayStr)
	raw, err := v.Gateway.Call(ctx, deadlinePrompt, deadlineSystem, nil, 1024)
	if err != nil {
		return Outcome{}, fmt.Errorf("final-page LLM call for %s: %w", nav.FinalURL, err)
	}
	final, err := decodeFinalCheck(raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("parse final-page response for %s: %w", nav.FinalURL, err)
	}

	status := final.Status
	if v.EnforceFinalDate {
		if deadline, ok := resolveDeadline(final); ok && !dateAfter(deadline, today) {
			status = "expired"
		}
	}

	if status == "expired" || status == "unknown" {
		hash := HashFinalExclusion(nav.Title, nav.FinalURL)
		if err := v.Store.InsertExclusion(ctx, db.RfpExclusion{
			Hash: hash, Reason: status, Title: nav.Title, Site: site,
			ListingURL: listingURL, DetailURL: nav.FinalURL, DecidedAt: today,
		}); err != nil {
			return Outcome{}, fmt.Errorf("insert exclusion (%s) for %s: %w", status, nav.FinalURL, err)
		}
		return Outcome{Excluded: true, Reason: status}, nil
	}

	scopeSystem, scopePrompt := ai.BuildScopePrompt(nav.Title, nav.FinalURL, nav.Text, todayStr)
	rawScope, err := v.Gateway.Call(ctx, scopePrompt, scopeSystem, nil, 512)
	if err != nil {
		return Outcome{}, fmt.Errorf("scope LLM call for %s: %w", nav.FinalURL, err)
	}
	scope, err := decodeScopeCheck(rawScope)
	if err != nil {
		return Outcome{}, fmt.Errorf("parse scope response for %s: %w", nav.FinalURL, err)
	}

	if !scope.InScope {
		hash := HashFinalExclusion(nav.Title, nav.FinalURL)
		if err := v.Store.InsertExclusion(ctx, db.RfpExclusion{
			Hash: hash, Reason: "out_of_scope", Title: nav.Title, Site: site,
			ListingURL: listingURL, DetailURL: nav.FinalURL, DecidedAt: today,
		}); err != nil {
			return Outcome{}, fmt.Errorf("insert out_of_scope exclusion for %s: %w", nav.FinalURL, err)
		}
		return Outcome{Excluded: true, Reason: "out_of_scope"}, nil
	}

	exists, err := v.Store.ProcessedRfpURLExists(ctx, nav.FinalURL)
	if err != nil {
		return Outcome{}, fmt.Errorf("check existing url %s: %w", nav.FinalURL, err)
	}
	if !exists {
		exists, err = v.Store.ProcessedRfpExists(ctx, HashFinalURL(nav.FinalURL))
		if err != nil {
			return Outcome{}, fmt.Errorf("check existing hash for %s: %w", nav.FinalURL, err)
		}
	}
	if exists {
		return Outcome{}, nil
	}

	sanitized := SanitizeText(nav.Text)
	summary := v.summaryFor(ctx, sanitized)
	title := PickTitle(nav.Title, nav.ListingTitle, summaryHeadingTitle(summary))
	if title == "" {
		title = nav.Title
	}

	hash := HashFinalURL(nav.FinalURL)
	embedding, embedErr := v.Gateway.Embed(ctx, sanitized)
	if embedErr != nil {
		log.Printf("[Validator] embedding for %s failed, storing without one: %v", nav.FinalURL, embedErr)
		embedding = nil
	}

	record := db.ProcessedRfp{
		Hash: hash, Title: title, URL: nav.FinalURL, Site: site,
		ProcessedAt: today, DetailContent: sanitized, AISummary: SanitizeText(summary),
		PDFContent: nav.PDFBytes, HasPDF: nav.IsPDF, Embedding: embedding,
	}
	if err := v.Store.InsertProcessedRfp(ctx, record); err != nil {
		return Outcome{}, fmt.Errorf("insert processed_rfps for %s: %w", nav.FinalURL, err)
	}

	return Outcome{Inserted: true, Record: &record}, nil
}

// summaryFor returns the cached summary for this run if the same detail
// content was already summarized, otherwise calls the model and caches the
// result. The cache lives for one run only; the same content can
// legitimately reappear across runs under a different title.
func (v *Validator) summaryFor(ctx context.Context, sanitizedText string) string {
	key := sha256Hex(sanitizedText)
	if v.summaryCache == nil {
		v.summaryCache = make(map[string]string)
	}
	if cached, ok := v.summaryCache[key]; ok {
		return cached
	}

	system, prompt := ai.BuildSummaryPrompt(sanitizedText)
	summary, err := v.Gateway.Call(ctx, prompt, system, nil, 2048)
	if err != nil {
		summary = ""
	}
	v.summaryCache[key] = summary
	return summary
}

// summaryHeadingTitle pulls a title-shaped line out of the summary's leading
// "Summary" section, the lowest-priority title candidate.
func summaryHeadingTitle(summary string) string {
	lines := strings.Split(summary, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "Summary") || strings.HasPrefix(strings.ToLower(line), "summary:") {
			continue
		}
		return line
	}
	return ""
}

// resolveDeadline picks the enforceable deadline out of a FinalCheck: the
// model's deadline_iso when present, otherwise a date parsed out of
// matched_text. Dates with no explicit year never resolve here.
func resolveDeadline(f FinalCheck) (time.Time, bool) {
	if f.DeadlineISO != "" {
		if t, err := time.Parse("2006-01-02", f.DeadlineISO); err == nil {
			return t, true
		}
	}
	if f.MatchedText != "" {
		if t, err := parseDeadlineText(f.MatchedText); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateAfter reports whether a's calendar date is strictly after b's; the
// deadline rule compares dates, not instants.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

func decodeFinalCheck(raw string) (FinalCheck, error) {
	obj, err := ai.ParseJSONObject(raw)
	if err != nil {
		return FinalCheck{}, err
	}
	return FinalCheck{
		Status:      asString(obj, "status"),
		Reason:      asString(obj, "reason"),
		MatchedText: asString(obj, "matched_text"),
		DeadlineISO: asString(obj, "deadline_iso"),
	}, nil
}

func decodeScopeCheck(raw string) (ScopeCheck, error) {
	obj, err := ai.ParseJSONObject(raw)
	if err != nil {
		return ScopeCheck{}, err
	}
	return ScopeCheck{InScope: asBool(obj, "in_scope"), Reason: asString(obj, "reason")}, nil
}
