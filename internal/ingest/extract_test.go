package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestLooksLikePDF(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		headers     map[string][]string
		payload     []byte
		want        bool
	}{
		{"content type", "https://x/doc", "application/pdf", nil, []byte("x"), true},
		{"content type with charset", "https://x/doc", "Application/PDF; charset=binary", nil, []byte("x"), true},
		{"url suffix", "https://x/files/rfp.PDF", "application/octet-stream", nil, []byte("x"), true},
		{"url suffix with query", "https://x/files/rfp.pdf?v=2", "text/plain", nil, []byte("x"), true},
		{"content disposition", "https://x/download", "application/octet-stream", map[string][]string{"Content-Disposition": {`attachment; filename="rfp.pdf"`}}, []byte("x"), true},
		{"magic bytes", "https://x/doc", "application/octet-stream", nil, []byte("%PDF-1.7 rest"), true},
		{"plain html", "https://x/page", "text/html", nil, []byte("<html>"), false},
	}
	for _, tc := range tests {
		if got := looksLikePDF(tc.url, tc.contentType, tc.headers, tc.payload); got != tc.want {
			t.Fatalf("%s: expected %v", tc.name, tc.want)
		}
	}
}

func TestExtractPDFText_MalformedInputIsAnError(t *testing.T) {
	// The decoder panics on garbage; the extractor must turn that into an
	// ordinary error instead of killing the run.
	_, err := extractPDFText([]byte("%PDF-1.4 this is not actually a pdf"), 1000)
	if err == nil {
		t.Fatal("expected an error for malformed pdf bytes")
	}
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks := ChunkText("short", 1000, 200)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("expected the text back unchanged, got %v", chunks)
	}
}

func TestChunkText_PrefersParagraphBoundaries(t *testing.T) {
	text := strings.Repeat("a", 400) + "\n\n" + strings.Repeat("b", 400) + "\n\n" + strings.Repeat("c", 400)
	chunks := ChunkText(text, 500, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n\n") {
		t.Fatalf("expected the first chunk to break on a paragraph boundary, got tail %q", chunks[0][len(chunks[0])-5:])
	}
}

func TestChunkText_CoversAllText(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := ChunkText(text, 1000, 200)
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	// With overlap the concatenation can exceed the input but must never
	// lose the tail.
	if !strings.HasSuffix(chunks[len(chunks)-1], strings.TrimRight(text, " ")[len(text)-10:]) &&
		!strings.HasSuffix(chunks[len(chunks)-1], "word ") {
		t.Fatal("final chunk must contain the end of the input")
	}
	if total < len(text) {
		t.Fatalf("chunks cover %d of %d bytes", total, len(text))
	}
}

func TestHTMLToText_StripsScriptAndStyle(t *testing.T) {
	html := `<html><head><style>.x{color:red}</style></head><body>
<script>var secret = "nope";</script>
<p>Visible  paragraph.</p>
</body></html>`
	text := HTMLToText(html)
	if strings.Contains(text, "secret") || strings.Contains(text, "color:red") {
		t.Fatalf("script/style content leaked into text: %q", text)
	}
	if !strings.Contains(text, "Visible paragraph.") {
		t.Fatalf("visible text missing or not whitespace-normalized: %q", text)
	}
}

func TestExtract_DetailTextCapApplied(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.AddHTML("https://example.org/long", "<html><body><p>"+strings.Repeat("x", 500)+"</p></body></html>")

	ex := NewExtractor(fetcher)
	ex.MaxDetailTextChars = 100
	fetched, err := ex.Extract(context.Background(), "https://example.org/long")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetched.Text) != 100 {
		t.Fatalf("expected text capped at 100 chars, got %d", len(fetched.Text))
	}
}

func TestExtract_HTMLWithoutPDFReturnsVisibleText(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.AddHTML("https://example.org/rfp", `<html><body><h1>EHR RFP</h1><p>Details within.</p></body></html>`)

	ex := NewExtractor(fetcher)
	fetched, err := ex.Extract(context.Background(), "https://example.org/rfp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched.IsPDF {
		t.Fatal("html page misdetected as pdf")
	}
	if !strings.Contains(fetched.Text, "Details within.") {
		t.Fatalf("expected visible text, got %q", fetched.Text)
	}
	if fetched.FinalURL != "https://example.org/rfp" {
		t.Fatalf("unexpected final url %s", fetched.FinalURL)
	}
}

func TestExtract_LinkedPDFCandidateFetchedWithAcceptHeader(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.AddHTML("https://example.org/rfp", `<html><body>
<a href="/files/rfp.pdf">Download the RFP</a>
</body></html>`)
	// The candidate is served but is not actually a PDF, so extraction must
	// fall back to the page's own text rather than failing.
	fetcher.Data["https://example.org/files/rfp.pdf"] = mockPage{Body: []byte("<html>not a pdf</html>"), ContentType: "text/html"}

	ex := NewExtractor(fetcher)
	fetched, err := ex.Extract(context.Background(), "https://example.org/rfp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched.IsPDF {
		t.Fatal("a non-pdf candidate must not be accepted")
	}
	if !strings.Contains(fetched.Text, "Download the RFP") {
		t.Fatalf("expected fallback to page text, got %q", fetched.Text)
	}

	headers := fetcher.Headers["https://example.org/files/rfp.pdf"]
	if headers["Accept"] != "application/pdf" {
		t.Fatal("pdf candidate probe must send Accept: application/pdf")
	}
	if headers["Referer"] != "https://example.org/rfp" {
		t.Fatalf("pdf candidate probe must carry the page as referer, got %q", headers["Referer"])
	}
}

func TestFindLinkedPDF_AnchorBeforeIframe(t *testing.T) {
	ex := NewExtractor(NewMockFetcher())
	html := `<html><body>
<iframe src="/embed/doc.pdf"></iframe>
<a href="/files/first.pdf">RFP document</a>
</body></html>`
	got := ex.findLinkedPDF("https://example.org/rfp", html)
	if got != "https://example.org/files/first.pdf" {
		t.Fatalf("expected the anchor candidate to win, got %s", got)
	}

	htmlIframeOnly := `<html><body><iframe src="/embed/doc.pdf"></iframe></body></html>`
	got = ex.findLinkedPDF("https://example.org/rfp", htmlIframeOnly)
	if got != "https://example.org/embed/doc.pdf" {
		t.Fatalf("expected the iframe candidate, got %s", got)
	}
}
