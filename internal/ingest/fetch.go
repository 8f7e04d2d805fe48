package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// blockedPrefixes are address ranges the Fetcher refuses to dial, both on the
// initial request and on every redirect hop, to keep a malicious or
// misconfigured listing page from turning the crawler into an SSRF pivot.
var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes []netip.Prefix

func init() {
	for _, s := range blockedPrefixStrings {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			panic(err)
		}
		blockedPrefixes = append(blockedPrefixes, p)
	}
}

func isBlockedIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// SafeFetcher is a connection-reusing HTTP client with a browser-like user
// agent, Referer discipline, and SSRF-safe dialing. It implements Fetcher.
type SafeFetcher struct {
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRedirects   int
	client         *http.Client
}

// NewSafeFetcher builds a SafeFetcher with the default timeouts (connect
// 10s, read 20s) and a desktop Chrome-like user agent.
func NewSafeFetcher() *SafeFetcher {
	f := &SafeFetcher{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    20 * time.Second,
		MaxRedirects:   10,
	}

	dialer := &net.Dialer{Timeout: f.ConnectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if isBlockedIP(ip) {
					return nil, fmt.Errorf("refusing to dial blocked address %s", ip)
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		},
	}

	f.client = &http.Client{
		Transport: transport,
		Timeout:   f.ConnectTimeout + f.ReadTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", f.MaxRedirects)
			}
			ips, err := net.LookupIP(req.URL.Hostname())
			if err != nil {
				return fmt.Errorf("resolve redirect target: %w", err)
			}
			for _, ip := range ips {
				if isBlockedIP(ip) {
					return fmt.Errorf("refusing to follow redirect to blocked address %s", ip)
				}
			}
			if len(via) > 0 {
				req.Header.Set("Referer", via[len(via)-1].URL.String())
			}
			return nil
		},
	}
	return f
}

// Fetch performs a GET with the standard header discipline and returns the
// resolved body. Callers are responsible for closing the returned body.
func (f *SafeFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	return f.do(ctx, http.MethodGet, rawURL, nil, "")
}

// FetchWithReferer is like Fetch but sets an explicit Referer, used during
// navigation hops where the referring page is not the request's own origin.
func (f *SafeFetcher) FetchWithReferer(ctx context.Context, rawURL, referer string) (*FetchedDocument, error) {
	return f.do(ctx, http.MethodGet, rawURL, nil, referer)
}

// FetchWithHeaders performs a GET with the caller's headers layered on top
// of the usual UA/Accept/Referer discipline. Used by the Kendo grid
// augmentation's X-Requested-With probe.
func (f *SafeFetcher) FetchWithHeaders(ctx context.Context, rawURL string, headers map[string]string) (*FetchedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	f.applyBaseHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return &FetchedDocument{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   time.Now(),
		Headers:     map[string][]string(resp.Header),
	}, nil
}

// PostForm submits a www-form-urlencoded POST, used for the Kendo grid
// augmentation's anti-forgery-token fallback when the plain GET is rejected.
func (f *SafeFetcher) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*FetchedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	f.applyBaseHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", rawURL, err)
	}
	return &FetchedDocument{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   time.Now(),
		Headers:     map[string][]string(resp.Header),
	}, nil
}

func (f *SafeFetcher) applyBaseHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", req.URL.Scheme+"://"+req.URL.Host+"/")
}

func (f *SafeFetcher) do(ctx context.Context, method, rawURL string, body io.Reader, referer string) (*FetchedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	} else {
		req.Header.Set("Referer", req.URL.Scheme+"://"+req.URL.Host+"/")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	return &FetchedDocument{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   time.Now(),
		Headers:     map[string][]string(resp.Header),
	}, nil
}

