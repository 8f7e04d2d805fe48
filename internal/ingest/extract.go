package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"rsc.io/pdf"
)

// DefaultMaxDetailTextChars caps extracted text of any kind, overridable via
// the MAX_DETAIL_TEXT_CHARS environment variable. DefaultMaxPDFTextChars is
// the PDF-specific cap applied at parse time (MAX_PDF_TEXT_CHARS).
const (
	DefaultMaxDetailTextChars = 400_000
	DefaultMaxPDFTextChars    = 400_000
)

var pdfHrefRegex = regexp.MustCompile(`(?i)\.pdf(\?|$)`)

// Extractor turns a fetched page into plain text, resolving PDFs, linked
// PDFs, embedded PDFs, and iframes along the way.
type Extractor struct {
	Fetcher            Fetcher
	MaxDetailTextChars int
	MaxPDFTextChars    int
}

func NewExtractor(f Fetcher) *Extractor {
	return &Extractor{Fetcher: f, MaxDetailTextChars: DefaultMaxDetailTextChars, MaxPDFTextChars: DefaultMaxPDFTextChars}
}

// refererFetcher is implemented by fetchers that can send an explicit
// Referer, used during navigation where the referring page is the previous
// hop rather than the target's own origin.
type refererFetcher interface {
	FetchWithReferer(ctx context.Context, rawURL, referer string) (*FetchedDocument, error)
}

// Extract resolves a URL into its text, final URL, and PDF bytes when the
// content turned out to be a PDF.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Fetched, error) {
	return e.ExtractFrom(ctx, rawURL, "")
}

// ExtractFrom is Extract with an explicit referring page, used on navigation
// hops past the first.
func (e *Extractor) ExtractFrom(ctx context.Context, rawURL, referer string) (*Fetched, error) {
	doc, err := e.fetch(ctx, rawURL, referer)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer doc.Body.Close()

	payload, err := io.ReadAll(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	if looksLikePDF(doc.URL, doc.ContentType, doc.Headers, payload) {
		text, perr := extractPDFText(payload, e.pdfCapOrDefault())
		if perr != nil {
			return nil, fmt.Errorf("parse pdf %s: %w", doc.URL, perr)
		}
		return &Fetched{Text: capText(text, e.capOrDefault()), FinalURL: doc.URL, PDFBytes: payload, IsPDF: true}, nil
	}

	htmlBody := string(payload)
	if pdfURL := e.findLinkedPDF(doc.URL, htmlBody); pdfURL != "" {
		if fetched, perr := e.tryFetchPDF(ctx, pdfURL, doc.URL); perr == nil {
			return fetched, nil
		} else {
			log.Printf("[Extractor] linked PDF candidate %s did not resolve to a PDF: %v", pdfURL, perr)
		}
	}

	return &Fetched{Text: capText(HTMLToText(htmlBody), e.capOrDefault()), FinalURL: doc.URL}, nil
}

func (e *Extractor) fetch(ctx context.Context, rawURL, referer string) (*FetchedDocument, error) {
	if referer != "" {
		if rf, ok := e.Fetcher.(refererFetcher); ok {
			return rf.FetchWithReferer(ctx, rawURL, referer)
		}
	}
	return e.Fetcher.Fetch(ctx, rawURL)
}

func (e *Extractor) capOrDefault() int {
	if e.MaxDetailTextChars > 0 {
		return e.MaxDetailTextChars
	}
	return DefaultMaxDetailTextChars
}

func (e *Extractor) pdfCapOrDefault() int {
	if e.MaxPDFTextChars > 0 {
		return e.MaxPDFTextChars
	}
	return DefaultMaxPDFTextChars
}

func capText(s string, maxChars int) string {
	if maxChars > 0 && len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

// findLinkedPDF probes, in order, the first anchor and then the first
// iframe/embed whose src matches a PDF pattern.
func (e *Extractor) findLinkedPDF(baseURL, htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return ""
	}
	base, _ := url.Parse(baseURL)

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if pdfHrefRegex.MatchString(href) {
			found = resolveURL(base, href)
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	doc.Find("iframe[src], embed[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		if pdfHrefRegex.MatchString(src) {
			found = resolveURL(base, src)
			return false
		}
		return true
	})
	return found
}

func (e *Extractor) tryFetchPDF(ctx context.Context, pdfURL, referer string) (*Fetched, error) {
	var doc *FetchedDocument
	var err error
	if af, ok := e.Fetcher.(AugmentedFetcher); ok {
		headers := map[string]string{"Accept": "application/pdf"}
		if referer != "" {
			headers["Referer"] = referer
		}
		doc, err = af.FetchWithHeaders(ctx, pdfURL, headers)
	} else {
		doc, err = e.fetch(ctx, pdfURL, referer)
	}
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()
	payload, err := io.ReadAll(doc.Body)
	if err != nil {
		return nil, err
	}
	if !looksLikePDF(doc.URL, doc.ContentType, doc.Headers, payload) {
		return nil, fmt.Errorf("not a PDF (content-type %q)", doc.ContentType)
	}
	text, err := extractPDFText(payload, e.pdfCapOrDefault())
	if err != nil {
		return nil, err
	}
	return &Fetched{Text: capText(text, e.capOrDefault()), FinalURL: doc.URL, PDFBytes: payload, IsPDF: true}, nil
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// looksLikePDF is the four-way PDF detection: content type,
// URL suffix, Content-Disposition, and magic bytes.
func looksLikePDF(finalURL, contentType string, headers map[string][]string, payload []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(strings.SplitN(finalURL, "?", 2)[0]), ".pdf") {
		return true
	}
	for _, v := range headers["Content-Disposition"] {
		if strings.Contains(strings.ToLower(v), ".pdf") {
			return true
		}
	}
	return bytes.HasPrefix(payload, []byte("%PDF-"))
}

// extractPDFText parses PDF bytes with rsc.io/pdf, recovering from the
// decoder's panics on malformed input, then chunks and truncates the result.
func extractPDFText(payload []byte, maxChars int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf decoder panic: %v", r)
		}
	}()

	reader, rerr := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if rerr != nil {
		return "", fmt.Errorf("open pdf: %w", rerr)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		sb.WriteString(pageText(page))
		sb.WriteString("\n\n")
	}

	chunks := ChunkText(sb.String(), 1000, 200)
	joined := strings.Join(chunks, "")
	if maxChars > 0 && len(joined) > maxChars {
		joined = joined[:maxChars]
	}
	return joined, nil
}

// pageText flattens a PDF page's positioned text runs into reading order
// (top to bottom, left to right within a line).
func pageText(page pdf.Page) string {
	content := page.Content()
	runs := make([]pdf.Text, len(content.Text))
	copy(runs, content.Text)

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Y != runs[j].Y {
			return runs[i].Y > runs[j].Y
		}
		return runs[i].X < runs[j].X
	})

	var sb strings.Builder
	lastY := float64(0)
	first := true
	for _, t := range runs {
		if !first && lastY-t.Y > 2 {
			sb.WriteString("\n")
		}
		sb.WriteString(t.S)
		lastY = t.Y
		first = false
	}
	return sb.String()
}

// ChunkText splits text into chunks of approximately size characters with
// the given overlap, preferring to break on paragraph, line, then word
// boundaries. Consecutive chunks share up to overlap characters, so joining
// them in order (as extractPDFText does) repeats each shared span once.
func ChunkText(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	boundaries := []string{"\n\n", "\n", " ", ""}
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		breakAt := -1
		for _, b := range boundaries {
			if b == "" {
				breakAt = end
				break
			}
			if idx := strings.LastIndex(text[start:end], b); idx > 0 {
				breakAt = start + idx + len(b)
				break
			}
		}
		if breakAt <= start {
			breakAt = end
		}

		chunks = append(chunks, text[start:breakAt])
		next := breakAt - overlap
		if next <= start {
			next = breakAt
		}
		start = next
	}
	return chunks
}

// HTMLToText extracts visible text from an HTML document using goquery,
// dropping script/style content.
func HTMLToText(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return cleanText(htmlBody)
	}
	doc.Find("script, style, noscript").Remove()
	return cleanText(doc.Text())
}
