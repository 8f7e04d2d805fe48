// Package notify renders and dispatches the run digest/debug emails. The
// actual SMTP transport is an external concern; LogNotifier stands in until
// the operator supplies a real one.
package notify

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/david/rfp-scout/internal/ingest"
)

// Digest is the human-readable summary of one Dispatcher run, used to build
// both the main recipient email and (with LogLines attached) the debug one.
type Digest struct {
	Trigger   string
	StartedAt time.Time
	Summary   ingest.RunSummary
	LogLines  []string
}

// Notifier sends a run digest to a recipient list. Debug is true when the
// caller also wants the attached log buffer (send_debug on POST /scrape).
type Notifier interface {
	Send(recipients []string, digest Digest, debug bool) error
}

// LogNotifier renders the digest to the standard logger instead of actually
// emailing it, the repo's default until a real transport is wired in.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) Send(recipients []string, digest Digest, debug bool) error {
	if len(recipients) == 0 {
		return nil
	}
	log.Printf("[Notifier] would send digest to %s: %s", strings.Join(recipients, ","), RenderSubject(digest))
	if debug {
		log.Printf("[Notifier] debug log (%d lines) omitted from transport-less notifier", len(digest.LogLines))
	}
	return nil
}

// RenderSubject is the one-line summary used as an email subject and as the
// line the CLI logs after an --email or --debug-email run.
func RenderSubject(d Digest) string {
	return fmt.Sprintf("RFP scout run (%s): %d new, %d excluded, %d/%d sites",
		d.Trigger, d.Summary.ItemsNew, d.Summary.ItemsExcluded, d.Summary.SitesAttempted-d.Summary.SitesFailed, d.Summary.SitesAttempted)
}

// RenderBody is the digest's plain-text body; debug mode appends the full
// per-run log buffer.
func RenderBody(d Digest, debug bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run started: %s\n", d.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Trigger: %s\n", d.Trigger)
	fmt.Fprintf(&sb, "Sites attempted: %d (failed: %d)\n", d.Summary.SitesAttempted, d.Summary.SitesFailed)
	fmt.Fprintf(&sb, "New opportunities: %d\n", d.Summary.ItemsNew)
	fmt.Fprintf(&sb, "Excluded: %d\n", d.Summary.ItemsExcluded)
	if debug && len(d.LogLines) > 0 {
		sb.WriteString("\n--- log ---\n")
		sb.WriteString(strings.Join(d.LogLines, "\n"))
	}
	return sb.String()
}
