package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/chunker"
	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/config"
	"github.com/hyperjump/vecdex/internal/embedding"
	"github.com/hyperjump/vecdex/internal/ingest"
	"github.com/hyperjump/vecdex/internal/models"
	"github.com/hyperjump/vecdex/internal/parser"
	"github.com/hyperjump/vecdex/internal/search"
	"github.com/hyperjump/vecdex/internal/source"
)

type stubSource struct {
	refs map[string][]models.DocumentRef
	docs map[string][]byte
}

func (s *stubSource) ListDocuments(_ context.Context, clientID string) ([]models.DocumentRef, error) {
	return s.refs[clientID], nil
}

func (s *stubSource) Fetch(_ context.Context, ref models.DocumentRef) ([]byte, error) {
	data, ok := s.docs[ref.URL]
	if !ok {
		return nil, fmt.Errorf("no document at %s", ref.URL)
	}
	return data, nil
}

func newTestServer(t *testing.T, src *stubSource) (*Server, *client.Registry) {
	t.Helper()
	reg, err := client.NewRegistry(t.TempDir(), client.Options{
		Model:        "mock",
		Dimension:    8,
		ChunkSize:    200,
		ChunkOverlap: 40,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(8)
	coord := ingest.NewCoordinator(reg, parser.NewRegistry(1<<20), chunker.NewChunker(200, 40),
		embedder, ingest.Options{}, zap.NewNop())
	searcher := search.NewService(reg, embedder, zap.NewNop())
	var docSrc source.DocumentSource
	if src != nil {
		docSrc = src
	}
	srv := NewServer(reg, coord, searcher, docSrc, &config.ServerConfig{Port: 8080}, zap.NewNop())
	return srv, reg
}

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func refreshClient(t *testing.T, srv *Server, clientID string) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clients/"+clientID+"/refresh", nil)
	r = withURLParams(r, map[string]string{"clientID": clientID})
	w := httptest.NewRecorder()
	srv.handleRefresh(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleRefreshAndSearch(t *testing.T) {
	src := &stubSource{
		refs: map[string][]models.DocumentRef{
			"acme": {
				{URL: "mem://a.txt", Title: "Alpha", Filename: "a.txt"},
				{URL: "mem://b.txt", Title: "Beta", Filename: "b.txt"},
			},
		},
		docs: map[string][]byte{
			"mem://a.txt": []byte("postgres connection pooling guide"),
			"mem://b.txt": []byte("kubernetes deployment checklist"),
		},
	}
	srv, _ := newTestServer(t, src)
	refreshClient(t, srv, "acme")

	body, _ := json.Marshal(map[string]any{"query": "postgres pooling", "k": 5})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clients/acme/search", bytes.NewReader(body))
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w := httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("search status %d: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	if resp.Results[0].Rank != 1 {
		t.Errorf("Rank=%d", resp.Results[0].Rank)
	}
}

func TestHandleSearch_UnknownClient(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	body, _ := json.Marshal(map[string]any{"query": "anything"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clients/ghost/search", bytes.NewReader(body))
	r = withURLParams(r, map[string]string{"clientID": "ghost"})
	w := httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
}

func TestHandleSearch_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clients/acme/search", bytes.NewReader([]byte("{not json")))
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w := httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestHandleRefresh_NoSource(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clients/acme/refresh", nil)
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w := httptest.NewRecorder()
	srv.handleRefresh(w, r)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status %d, want 501", w.Code)
	}
}

func TestHandleCompact_Busy(t *testing.T) {
	src := &stubSource{
		refs: map[string][]models.DocumentRef{"acme": {{URL: "mem://a.txt", Filename: "a.txt"}}},
		docs: map[string][]byte{"mem://a.txt": []byte("some text")},
	}
	srv, reg := newTestServer(t, src)
	refreshClient(t, srv, "acme")

	store, err := reg.Get("acme")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.BeginWrite(); err != nil {
		t.Fatal(err)
	}
	defer store.EndWrite()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/clients/acme/compact", nil)
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w := httptest.NewRecorder()
	srv.handleCompact(w, r)
	if w.Code != http.StatusConflict {
		t.Errorf("status %d, want 409", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	src := &stubSource{
		refs: map[string][]models.DocumentRef{"acme": {{URL: "mem://a.txt", Filename: "a.txt"}}},
		docs: map[string][]byte{"mem://a.txt": []byte("stats fodder text")},
	}
	srv, _ := newTestServer(t, src)
	refreshClient(t, srv, "acme")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/clients/acme/stats", nil)
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w := httptest.NewRecorder()
	srv.handleStats(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var stats struct {
		Documents int    `json:"documents"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 1 || stats.Status != "ready" {
		t.Errorf("stats=%+v", stats)
	}
}

func TestHandleRemoveDocument(t *testing.T) {
	src := &stubSource{
		refs: map[string][]models.DocumentRef{"acme": {{ID: "doc-1", URL: "mem://a.txt", Filename: "a.txt"}}},
		docs: map[string][]byte{"mem://a.txt": []byte("to be removed")},
	}
	srv, _ := newTestServer(t, src)
	refreshClient(t, srv, "acme")

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/clients/acme/documents/doc-1", nil)
	r = withURLParams(r, map[string]string{"clientID": "acme", "docID": "doc-1"})
	w := httptest.NewRecorder()
	srv.handleRemoveDocument(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		ChunksRemoved int `json:"chunks_removed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ChunksRemoved == 0 {
		t.Error("no chunks removed")
	}
}

func TestHandlePurgeAndList(t *testing.T) {
	src := &stubSource{
		refs: map[string][]models.DocumentRef{"acme": {{URL: "mem://a.txt", Filename: "a.txt"}}},
		docs: map[string][]byte{"mem://a.txt": []byte("purge me")},
	}
	srv, _ := newTestServer(t, src)
	refreshClient(t, srv, "acme")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	w := httptest.NewRecorder()
	srv.handleListClients(w, r)
	var listed struct {
		Clients []string `json:"clients"`
	}
	if err := json.NewDecoder(w.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Clients) != 1 || listed.Clients[0] != "acme" {
		t.Errorf("clients=%v", listed.Clients)
	}

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/clients/acme/", nil)
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w = httptest.NewRecorder()
	srv.handlePurge(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("purge status %d: %s", w.Code, w.Body.String())
	}

	// Purged client is gone.
	r = httptest.NewRequest(http.MethodGet, "/api/v1/clients/acme/stats", nil)
	r = withURLParams(r, map[string]string{"clientID": "acme"})
	w = httptest.NewRecorder()
	srv.handleStats(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("stats after purge: status %d, want 404", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status %d", w.Code)
	}
}
