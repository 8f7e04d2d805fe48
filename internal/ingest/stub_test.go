package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/david/rfp-scout/internal/ai"
	"github.com/david/rfp-scout/internal/db"
)

type mockPage struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// MockFetcher serves pages from an in-memory map. It also records the
// headers and referers of the requests it saw so tests can assert on the
// fetcher discipline.
type MockFetcher struct {
	mu       sync.Mutex
	Data     map[string]mockPage
	Fetches  []string
	Referers map[string]string
	Headers  map[string]map[string]string
	PostFunc func(rawURL string, form url.Values) (mockPage, error)
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Data:     make(map[string]mockPage),
		Referers: make(map[string]string),
		Headers:  make(map[string]map[string]string),
	}
}

func (m *MockFetcher) AddHTML(url, body string) {
	m.Data[url] = mockPage{Body: []byte(body), ContentType: "text/html", StatusCode: 200}
}

func (m *MockFetcher) serve(rawURL string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Fetches = append(m.Fetches, rawURL)
	page, ok := m.Data[rawURL]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mock 404: %s", rawURL)
	}
	status := page.StatusCode
	if status == 0 {
		status = 200
	}
	return &FetchedDocument{
		URL:         rawURL,
		StatusCode:  status,
		ContentType: page.ContentType,
		Body:        io.NopCloser(bytes.NewReader(page.Body)),
		FetchedAt:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Headers:     map[string][]string{},
	}, nil
}

func (m *MockFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	return m.serve(rawURL)
}

func (m *MockFetcher) FetchWithReferer(ctx context.Context, rawURL, referer string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Referers[rawURL] = referer
	m.mu.Unlock()
	return m.serve(rawURL)
}

func (m *MockFetcher) FetchWithHeaders(ctx context.Context, rawURL string, headers map[string]string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Headers[rawURL] = headers
	m.mu.Unlock()
	return m.serve(rawURL)
}

func (m *MockFetcher) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*FetchedDocument, error) {
	if m.PostFunc == nil {
		return nil, fmt.Errorf("mock does not accept POST: %s", rawURL)
	}
	page, err := m.PostFunc(rawURL, form)
	if err != nil {
		return nil, err
	}
	status := page.StatusCode
	if status == 0 {
		status = 200
	}
	return &FetchedDocument{
		URL:         rawURL,
		StatusCode:  status,
		ContentType: page.ContentType,
		Body:        io.NopCloser(bytes.NewReader(page.Body)),
		FetchedAt:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Headers:     map[string][]string{},
	}, nil
}

// newScriptedGateway stands up a fake Bedrock endpoint whose completion text
// is chosen by respond based on the system prompt and user prompt of each
// call. Embedding calls (routed by model id) always succeed with a fixed
// vector.
func newScriptedGateway(t *testing.T, respond func(system, prompt string) string) *ai.Gateway {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/model/test-model/invoke", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			System   string `json:"system"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		prompt := ""
		if len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}
		resp := map[string]any{
			"content": []map[string]any{{"type": "text", "text": respond(req.System, prompt)}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/model/test-embed/invoke", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.25, 0.5, 0.75}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &ai.Gateway{
		Endpoint:       server.URL,
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		BearerToken:    "test-token",
		MaxRetries:     1,
		HTTPClient:     server.Client(),
	}
}

// systemKind maps a system prompt to the pipeline stage it belongs to, so
// scripted responders can branch without duplicating marker strings.
func systemKind(system string) string {
	switch {
	case contains(system, "reviewing a listing page"):
		return "listing"
	case contains(system, "navigating from a candidate"):
		return "navigation"
	case contains(system, "submission deadline"):
		return "final"
	case contains(system, "healthcare-IT vendor"):
		return "scope"
	case contains(system, "Summarize this procurement"):
		return "summary"
	}
	return "unknown"
}

func contains(s, sub string) bool {
	return bytes.Contains([]byte(s), []byte(sub))
}

// mockStore is an in-memory DispatcherStore.
type mockStore struct {
	mu         sync.Mutex
	Websites   []db.WebsiteSettings
	Processed  []db.ProcessedRfp
	Exclusions []db.RfpExclusion
}

func newMockStore() *mockStore {
	return &mockStore{}
}

func (s *mockStore) ExclusionExists(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Exclusions {
		if e.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (s *mockStore) ProcessedRfpExists(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Processed {
		if r.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (s *mockStore) ProcessedRfpURLExists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Processed {
		if r.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (s *mockStore) InsertProcessedRfp(ctx context.Context, r db.ProcessedRfp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Processed {
		if existing.Hash == r.Hash {
			return nil
		}
	}
	s.Processed = append(s.Processed, r)
	return nil
}

func (s *mockStore) InsertExclusion(ctx context.Context, e db.RfpExclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Exclusions {
		if existing.Hash == e.Hash {
			return nil
		}
	}
	s.Exclusions = append(s.Exclusions, e)
	return nil
}

func (s *mockStore) ListEnabledWebsites(ctx context.Context) ([]db.WebsiteSettings, error) {
	var out []db.WebsiteSettings
	for _, w := range s.Websites {
		if w.Enabled {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *mockStore) ListProcessedRfps(ctx context.Context, params db.ListParams) (*db.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.ProcessedRfp
	for _, r := range s.Processed {
		if params.Site != "" && r.Site != params.Site {
			continue
		}
		out = append(out, r)
	}
	return &db.ListResult{Rfps: out, Total: len(out)}, nil
}

func (s *mockStore) ListExclusions(ctx context.Context, limit int) ([]db.RfpExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.RfpExclusion, len(s.Exclusions))
	copy(out, s.Exclusions)
	return out, nil
}
