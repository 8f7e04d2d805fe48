package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultMaxLinks = 200
	maxIframeFollow = 2
)

var (
	learnMoreRegex      = regexp.MustCompile(`(?i)learn more|read more|view (details|rfp|opportunity)|more info`)
	applyRegex          = regexp.MustCompile(`(?i)\bapply\b|submit proposal|respond to this`)
	genericListingRegex = regexp.MustCompile(`(?i)^(view all|see all|browse|all opportunities|all rfps)$`)
	kendoTransportRegex = regexp.MustCompile(`(?is)transport\s*:\s*\{[^}]*read\s*:\s*\{[^}]*url\s*:\s*["']([^"']+)["']`)
	kendoShorthandRegex = regexp.MustCompile(`(?is)read\s*:\s*["']([^"']+)["']`)
	antiForgeryRegex    = regexp.MustCompile(`(?is)(?:input\[name=__RequestVerificationToken\]|name=["']__RequestVerificationToken["'])[^>]*value=["']([^"']+)["']`)
)

// CanonicalizeURL reduces a URL to scheme+host+lowercased-path, dropping
// query and fragment.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.ToLower(strings.TrimSuffix(u.Path, "/"))
	u.RawQuery = ""
	u.Fragment = ""
	return u.Scheme + "://" + u.Host + u.Path
}

// LinkAnalyzer builds an indexed, deduped link list from a rendered page.
type LinkAnalyzer struct {
	Fetcher  Fetcher
	MaxLinks int
}

func NewLinkAnalyzer(f Fetcher) *LinkAnalyzer {
	return &LinkAnalyzer{Fetcher: f, MaxLinks: defaultMaxLinks}
}

// Analyze runs anchor extraction, pruning, and flagging, then the
// Kendo-grid and iframe augmentations.
func (a *LinkAnalyzer) Analyze(ctx context.Context, baseURL, htmlBody string) ([]Link, error) {
	limit := a.MaxLinks
	if limit <= 0 {
		limit = defaultMaxLinks
	}

	links, err := extractLinks(baseURL, htmlBody, limit)
	if err != nil {
		return nil, err
	}

	if kendoLinks := a.kendoLinks(ctx, baseURL, htmlBody); len(kendoLinks) > 0 {
		prepend := kendoLinks
		if len(prepend) > limit/2 {
			prepend = prepend[:limit/2]
		}
		links = append(prepend, links...)
	}

	if iframeLinks := a.iframeLinks(ctx, baseURL, htmlBody, limit); len(iframeLinks) > 0 {
		links = append(links, iframeLinks...)
	}

	return reindexDedup(links, limit), nil
}

func extractLinks(baseURL, htmlBody string, limit int) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	listingCanonical := CanonicalizeURL(baseURL)

	var links []Link
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if len(links) >= limit {
			return
		}
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if inExcludedAncestor(sel) {
			return
		}

		abs := resolveURL(base, href)
		parsedAbs, err := url.Parse(abs)
		if err != nil {
			return
		}
		isPDF := pdfHrefRegex.MatchString(href)
		if CanonicalizeURL(abs) == listingCanonical {
			return
		}
		if parsedAbs.Host != base.Host && !isPDF {
			return
		}
		if seen[abs] {
			return
		}
		seen[abs] = true

		text := truncate(cleanText(sel.Text()), 200)
		links = append(links, Link{
			Text:             text,
			Href:             abs,
			Heading:          truncate(nearestHeading(sel), 300),
			Context:          truncate(nearestContext(sel), 500),
			IsLearnMore:      learnMoreRegex.MatchString(text),
			IsApply:          applyRegex.MatchString(text),
			IsPDF:            isPDF,
			IsGenericListing: genericListingRegex.MatchString(text),
			Depth:            pathDepth(parsedAbs.Path),
		})
	})

	return links, nil
}

// inExcludedAncestor walks up to 6 ancestor levels looking for header/nav/footer.
func inExcludedAncestor(sel *goquery.Selection) bool {
	node := sel
	for i := 0; i < 6; i++ {
		node = node.Parent()
		if node.Length() == 0 {
			return false
		}
		tag := goquery.NodeName(node)
		if tag == "header" || tag == "nav" || tag == "footer" {
			return true
		}
	}
	return false
}

func nearestHeading(sel *goquery.Selection) string {
	node := sel
	for i := 0; i < 10; i++ {
		prev := node.PrevAll().FilterFunction(func(_ int, s *goquery.Selection) bool {
			switch goquery.NodeName(s) {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				return true
			}
			return false
		}).First()
		if prev.Length() > 0 {
			return cleanText(prev.Text())
		}
		node = node.Parent()
		if node.Length() == 0 {
			break
		}
	}
	return ""
}

var contextAncestorTags = map[string]bool{
	"li": true, "article": true, "section": true, "div": true,
	"tr": true, "td": true, "table": true, "tbody": true,
}

func nearestContext(sel *goquery.Selection) string {
	node := sel
	for i := 0; i < 8; i++ {
		node = node.Parent()
		if node.Length() == 0 {
			return ""
		}
		if contextAncestorTags[goquery.NodeName(node)] {
			return cleanText(node.Text())
		}
	}
	return ""
}

func pathDepth(path string) int {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return 0
	}
	return len(parts)
}

func reindexDedup(links []Link, limit int) []Link {
	seen := map[string]bool{}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if seen[l.Href] {
			continue
		}
		seen[l.Href] = true
		l.Index = len(out)
		out = append(out, l)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// kendoLinks scans inline scripts for a Kendo grid data source, fetches it,
// and converts rows into synthetic links.
func (a *LinkAnalyzer) kendoLinks(ctx context.Context, baseURL, htmlBody string) []Link {
	endpoint := ""
	if m := kendoTransportRegex.FindStringSubmatch(htmlBody); len(m) == 2 {
		endpoint = m[1]
	} else if m := kendoShorthandRegex.FindStringSubmatch(htmlBody); len(m) == 2 {
		endpoint = m[1]
	}
	if endpoint == "" {
		return nil
	}

	base, _ := url.Parse(baseURL)
	abs := resolveURL(base, endpoint)

	rows, err := a.fetchKendoRows(ctx, abs, htmlBody)
	if err != nil {
		return nil
	}

	var out []Link
	for _, row := range rows {
		title := firstString(row, "Title", "Name")
		href := firstString(row, "FileUrl", "Url")
		if title == "" || href == "" {
			continue
		}
		deadline := firstString(row, "DateExpiration", "ExpirationDate", "CloseDate", "Deadline")
		if deadline != "" {
			if t, err := parseDeadlineText(deadline); err == nil {
				deadline = "Deadline: " + t.Format("2006-01-02")
			}
		}
		out = append(out, Link{
			Text:    truncate(title, 200),
			Href:    resolveURL(base, href),
			Context: deadline,
			IsPDF:   pdfHrefRegex.MatchString(href),
		})
	}
	return out
}

// fetchKendoRows is the Kendo data probe: GET with
// X-Requested-With and paging params, falling back to a POST carrying the
// page's anti-forgery token when the GET is rejected with a 4xx.
func (a *LinkAnalyzer) fetchKendoRows(ctx context.Context, endpoint, htmlBody string) ([]map[string]any, error) {
	af, ok := a.Fetcher.(AugmentedFetcher)
	if !ok {
		return nil, fmt.Errorf("fetcher does not support the Kendo grid augmentation")
	}

	getURL := endpoint
	if sep := "?"; !strings.Contains(endpoint, "?") {
		getURL = endpoint + sep + "take=100&skip=0&page=1&pageSize=100"
	}

	doc, err := af.FetchWithHeaders(ctx, getURL, map[string]string{"X-Requested-With": "XMLHttpRequest"})
	if err == nil {
		defer doc.Body.Close()
		if doc.StatusCode < 400 {
			var payload map[string]any
			if jsonErr := json.NewDecoder(doc.Body).Decode(&payload); jsonErr == nil {
				if rows := kendoRowsFromPayload(payload); rows != nil {
					return rows, nil
				}
			}
			return nil, fmt.Errorf("kendo endpoint %s GET did not yield rows", endpoint)
		}
	}

	token := extractAntiForgeryToken(htmlBody)
	if token == "" {
		return nil, fmt.Errorf("kendo endpoint %s rejected GET and no anti-forgery token was found", endpoint)
	}

	form := url.Values{
		"__RequestVerificationToken": {token},
		"take":                       {"100"},
		"skip":                       {"0"},
		"page":                       {"1"},
		"pageSize":                   {"100"},
	}
	postDoc, err := af.PostForm(ctx, endpoint, map[string]string{"X-Requested-With": "XMLHttpRequest"}, form)
	if err != nil {
		return nil, fmt.Errorf("kendo endpoint %s POST fallback: %w", endpoint, err)
	}
	defer postDoc.Body.Close()
	if postDoc.StatusCode >= 400 {
		return nil, fmt.Errorf("kendo endpoint %s POST fallback status %d", endpoint, postDoc.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(postDoc.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode kendo POST fallback response: %w", err)
	}
	rows := kendoRowsFromPayload(payload)
	if rows == nil {
		return nil, fmt.Errorf("kendo endpoint %s POST fallback did not yield rows", endpoint)
	}
	return rows, nil
}

func extractAntiForgeryToken(htmlBody string) string {
	if m := antiForgeryRegex.FindStringSubmatch(htmlBody); len(m) == 2 {
		return m[1]
	}
	return ""
}

func kendoRowsFromPayload(payload map[string]any) []map[string]any {
	for _, key := range []string{"Data", "data", "Results", "results"} {
		if raw, ok := payload[key]; ok {
			if rows := toRowSlice(raw); rows != nil {
				return rows
			}
		}
	}
	if dataVal, ok := payload["Data"].(map[string]any); ok {
		if raw, ok := dataVal["items"]; ok {
			if rows := toRowSlice(raw); rows != nil {
				return rows
			}
		}
	}
	return nil
}

func toRowSlice(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var rows []map[string]any
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

func firstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// iframeLinks follows up to maxIframeFollow iframe srcs and merges their links.
func (a *LinkAnalyzer) iframeLinks(ctx context.Context, baseURL, htmlBody string, limit int) []Link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(baseURL)

	var out []Link
	followed := 0
	doc.Find("iframe[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if followed >= maxIframeFollow {
			return false
		}
		src, _ := sel.Attr("src")
		if src == "" {
			return true
		}
		abs := resolveURL(base, src)
		fetched, err := a.Fetcher.Fetch(ctx, abs)
		if err != nil {
			return true
		}
		defer fetched.Body.Close()
		body, err := readAllString(fetched.Body)
		if err != nil {
			return true
		}
		followed++
		inner, err := extractLinks(abs, body, limit)
		if err == nil {
			out = append(out, inner...)
		}
		return true
	})
	return out
}
