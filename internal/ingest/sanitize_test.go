package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestSanitizeText_StripsControlBytes(t *testing.T) {
	in := "a\x00b\x01c\x08d\x0Be\x0Cf\x0Eg\x1Fh"
	got := SanitizeText(in)
	if got != "abcdefgh" {
		t.Fatalf("expected control bytes stripped, got %q", got)
	}
}

func TestSanitizeText_KeepsTabNewlineCR(t *testing.T) {
	in := "line one\nline\ttwo\r\n"
	got := SanitizeText(in)
	if got != in {
		t.Fatalf("tab/newline/cr must survive, got %q", got)
	}
}

func TestSanitizeText_DropsResidualMarkup(t *testing.T) {
	got := SanitizeText(`before <script>alert(1)</script> after`)
	if strings.Contains(got, "<script>") || strings.Contains(got, "alert(1)") {
		t.Fatalf("markup leaked through: %q", got)
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Fatalf("ordinary text lost: %q", got)
	}
}

func TestHashes_MatchSHA256Construction(t *testing.T) {
	finalURL := "https://example.org/rfp/7"
	sum := sha256.Sum256([]byte(finalURL))
	if HashFinalURL(finalURL) != hex.EncodeToString(sum[:]) {
		t.Fatal("processed hash must be sha256(final_url)")
	}

	title, listing := "EHR RFP", "https://example.org/rfps"
	sum = sha256.Sum256([]byte(title + listing))
	if HashListingExclusion(title, listing) != hex.EncodeToString(sum[:]) {
		t.Fatal("listing exclusion hash must be sha256(title||listing_url)")
	}

	sum = sha256.Sum256([]byte(title + finalURL))
	if HashFinalExclusion(title, finalURL) != hex.EncodeToString(sum[:]) {
		t.Fatal("final exclusion hash must be sha256(title||final_url)")
	}
}

func TestIsGenericTitle(t *testing.T) {
	generic := []string{
		"",
		"RFP",
		"rfp (pdf)",
		`"RFI"`,
		"Request for Proposals",
		"Solicitation",
		"abc",
		"This opportunity seeks a vendor",
		"Summary: statewide exchange",
	}
	for _, title := range generic {
		if !IsGenericTitle(title) {
			t.Fatalf("expected %q to be generic", title)
		}
	}

	specific := []string{
		"EHR Modernization RFP",
		"Statewide Immunization Registry Replacement",
		"Request for Proposals: Telehealth Platform",
	}
	for _, title := range specific {
		if IsGenericTitle(title) {
			t.Fatalf("expected %q to be non-generic", title)
		}
	}
}

func TestPickTitle_PriorityAndGenericSkipping(t *testing.T) {
	if got := PickTitle("Final Page Title RFP", "Listing Title RFP", "Summary Title RFP"); got != "Final Page Title RFP" {
		t.Fatalf("final title must win, got %q", got)
	}
	if got := PickTitle("RFP", "Listing Title RFP", ""); got != "Listing Title RFP" {
		t.Fatalf("generic final must fall through to listing, got %q", got)
	}
	if got := PickTitle("RFP", "rfi", "Summary-Derived Title"); got != "Summary-Derived Title" {
		t.Fatalf("expected the summary-derived candidate, got %q", got)
	}
	if got := PickTitle("RFP", "", ""); got != "RFP" {
		t.Fatalf("all-generic input must still return something, got %q", got)
	}
}
