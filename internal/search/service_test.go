package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/embedding"
	"github.com/hyperjump/vecdex/internal/models"
)

const testDims = 16

func testService(t *testing.T) (*Service, *client.Registry, *embedding.MockEmbedder) {
	t.Helper()
	emb := embedding.NewMockEmbedder(testDims)
	reg, err := client.NewRegistry(t.TempDir(), client.Options{
		Model:     emb.Model(),
		Dimension: testDims,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(reg, emb, nil), reg, emb
}

// indexChunks embeds texts with the mock embedder and installs them as one
// document with the given per-chunk metadata overrides.
func indexChunks(t *testing.T, reg *client.Registry, emb *embedding.MockEmbedder, clientID, docID string, texts []string, meta func(i int, rec *models.MetadataRecord)) {
	t.Helper()
	store, err := reg.GetOrCreate(clientID)
	if err != nil {
		t.Fatal(err)
	}
	vectors, err := emb.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	chunks := make([]models.Chunk, len(texts))
	records := make([]*models.MetadataRecord, len(texts))
	for i, text := range texts {
		id := fmt.Sprintf("%s-chunk-%d", docID, i)
		chunks[i] = models.Chunk{ID: id, DocumentID: docID, Index: i, Text: text}
		records[i] = &models.MetadataRecord{
			ChunkID:    id,
			DocumentID: docID,
			ChunkIndex: i,
			Text:       text,
		}
		if meta != nil {
			meta(i, records[i])
		}
	}
	doc := &models.DocumentState{DocumentID: docID, Fingerprint: docID}
	if _, err := store.ApplyDocument(context.Background(), doc, chunks, vectors, records); err != nil {
		t.Fatal(err)
	}
}

func TestSearch_RanksExactMatchFirst(t *testing.T) {
	svc, reg, emb := testService(t)
	texts := []string{
		"quarterly financial report for the board",
		"employee onboarding checklist",
		"kitchen cleaning rota",
	}
	indexChunks(t, reg, emb, "acme", "doc-1", texts, nil)

	resp, err := svc.Search(context.Background(), "acme", &models.SearchQuery{
		Query: "quarterly financial report for the board",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total == 0 {
		t.Fatal("no results")
	}
	top := resp.Results[0]
	if top.Text != texts[0] {
		t.Errorf("top result %q", top.Text)
	}
	if top.Rank != 1 {
		t.Errorf("Rank=%d", top.Rank)
	}
	if top.Score == 0 || top.VectorScore == 0 {
		t.Errorf("scores not populated: %f / %f", top.Score, top.VectorScore)
	}
}

func TestSearch_UnknownClient(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.Search(context.Background(), "nobody", &models.SearchQuery{Query: "anything"})
	if !errors.Is(err, client.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	svc, reg, emb := testService(t)
	indexChunks(t, reg, emb, "acme", "doc-1", []string{"something"}, nil)
	if _, err := svc.Search(context.Background(), "acme", &models.SearchQuery{}); err == nil {
		t.Fatal("empty query accepted")
	}
}

func TestSearch_KClamped(t *testing.T) {
	svc, reg, emb := testService(t)
	texts := make([]string, 5)
	for i := range texts {
		texts[i] = fmt.Sprintf("document number %d about various topics", i)
	}
	indexChunks(t, reg, emb, "acme", "doc-1", texts, nil)

	resp, err := svc.Search(context.Background(), "acme", &models.SearchQuery{Query: "topics", K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) > 3 {
		t.Errorf("got %d results for k=3", len(resp.Results))
	}
	// k beyond the live count returns what exists.
	resp, err = svc.Search(context.Background(), "acme", &models.SearchQuery{Query: "topics", K: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 5 {
		t.Errorf("got %d results for k=50", len(resp.Results))
	}
}

func TestSearch_Filters(t *testing.T) {
	svc, reg, emb := testService(t)
	texts := []string{"annual report", "meeting notes", "budget spreadsheet"}
	indexChunks(t, reg, emb, "acme", "doc-1", texts, func(i int, rec *models.MetadataRecord) {
		switch i {
		case 0:
			rec.FileType, rec.Category, rec.Date = ".pdf", "finance", "2025-01-15"
		case 1:
			rec.FileType, rec.Category, rec.Date = ".docx", "minutes", "2025-06-01"
		case 2:
			rec.FileType, rec.Category, rec.Date = ".xlsx", "finance", "2026-03-10"
		}
	})

	resp, err := svc.Search(context.Background(), "acme", &models.SearchQuery{
		Query:   "report",
		Filters: &models.SearchFilters{FileTypes: []string{".pdf", ".xlsx"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range resp.Results {
		if ft := r.Metadata.FileType; ft != ".pdf" && ft != ".xlsx" {
			t.Errorf("file type filter leaked %s", ft)
		}
	}

	resp, err = svc.Search(context.Background(), "acme", &models.SearchQuery{
		Query:   "report",
		Filters: &models.SearchFilters{Categories: []string{"finance"}, DateTo: "2025-12-31"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Metadata.Date != "2025-01-15" {
		t.Errorf("combined filter results: %d", len(resp.Results))
	}
}

func TestSearch_MinScore(t *testing.T) {
	svc, reg, emb := testService(t)
	indexChunks(t, reg, emb, "acme", "doc-1", []string{"alpha", "beta"}, nil)

	resp, err := svc.Search(context.Background(), "acme", &models.SearchQuery{
		Query:    "alpha",
		MinScore: 2.0, // above any possible blended score
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("min_score not applied: %d results", len(resp.Results))
	}
}

func TestSearch_DanglingHitReportsInconsistency(t *testing.T) {
	svc, reg, emb := testService(t)
	store, _ := reg.GetOrCreate("acme")

	// Deliberately desynchronize: the metadata record is keyed under a
	// different chunk id than the indexed vector.
	vectors, _ := emb.EmbedBatch(context.Background(), []string{"orphan text"})
	chunks := []models.Chunk{{ID: "indexed-id", DocumentID: "doc-1", Text: "orphan text"}}
	records := []*models.MetadataRecord{{ChunkID: "different-id", DocumentID: "doc-1", Text: "orphan text"}}
	doc := &models.DocumentState{DocumentID: "doc-1", Fingerprint: "fp"}
	if _, err := store.ApplyDocument(context.Background(), doc, chunks, vectors, records); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Search(context.Background(), "acme", &models.SearchQuery{Query: "orphan text"})
	if !errors.Is(err, client.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestSearch_ModelDrift(t *testing.T) {
	emb := embedding.NewMockEmbedder(testDims)
	reg, err := client.NewRegistry(t.TempDir(), client.Options{
		Model:     "some-other-model",
		Dimension: testDims,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.GetOrCreate("acme"); err != nil {
		t.Fatal(err)
	}
	svc := NewService(reg, emb, nil)
	if _, err := svc.Search(context.Background(), "acme", &models.SearchQuery{Query: "anything"}); err == nil {
		t.Fatal("model drift not detected")
	}
}

// A writer alternating between two versions of a document must never make a
// racing reader see the store as inconsistent: the index scan and the
// metadata join have to come from the same committed state.
func TestSearch_ConcurrentWriterNeverLooksInconsistent(t *testing.T) {
	svc, reg, emb := testService(t)
	store, err := reg.GetOrCreate("acme")
	if err != nil {
		t.Fatal(err)
	}

	apply := func(version string) error {
		texts := []string{"alpha release notes " + version, "beta release notes " + version}
		vectors, err := emb.EmbedBatch(context.Background(), texts)
		if err != nil {
			return err
		}
		chunks := make([]models.Chunk, len(texts))
		records := make([]*models.MetadataRecord, len(texts))
		for i, text := range texts {
			id := fmt.Sprintf("c-%s-%d", version, i)
			chunks[i] = models.Chunk{ID: id, DocumentID: "doc-1", Index: i, Text: text}
			records[i] = &models.MetadataRecord{ChunkID: id, DocumentID: "doc-1", ChunkIndex: i, Text: text}
		}
		doc := &models.DocumentState{DocumentID: "doc-1", Fingerprint: version}
		if err := store.BeginWrite(); err != nil {
			return err
		}
		defer store.EndWrite()
		_, err = store.ApplyDocument(context.Background(), doc, chunks, vectors, records)
		return err
	}
	if err := apply("v0"); err != nil {
		t.Fatal(err)
	}

	writerErr := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 2000; i++ {
			if err := apply(fmt.Sprintf("v%d", i%2)); err != nil {
				writerErr <- err
				return
			}
		}
	}()

	for searching := true; searching; {
		select {
		case <-done:
			searching = false
		default:
		}
		if _, err := svc.Search(context.Background(), "acme", &models.SearchQuery{Query: "release notes"}); err != nil {
			t.Fatalf("search against healthy store: %v", err)
		}
	}
	select {
	case err := <-writerErr:
		t.Fatal(err)
	default:
	}
}
