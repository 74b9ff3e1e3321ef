package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hyperjump/vecdex/internal/chunker"
	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/embedding"
	"github.com/hyperjump/vecdex/internal/models"
	"github.com/hyperjump/vecdex/internal/parser"
	"github.com/hyperjump/vecdex/internal/source"
)

// fakeSource serves documents from memory.
type fakeSource struct {
	docs       map[string]string // url -> content
	refs       []models.DocumentRef
	fetchCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: make(map[string]string)}
}

func (f *fakeSource) put(url, title, content string) {
	if _, exists := f.docs[url]; !exists {
		f.refs = append(f.refs, models.DocumentRef{
			URL:          url,
			Title:        title,
			Filename:     url,
			DeclaredType: ".txt",
		})
	}
	f.docs[url] = content
}

func (f *fakeSource) remove(url string) {
	delete(f.docs, url)
	refs := f.refs[:0]
	for _, r := range f.refs {
		if r.URL != url {
			refs = append(refs, r)
		}
	}
	f.refs = refs
}

func (f *fakeSource) ListDocuments(ctx context.Context, clientID string) ([]models.DocumentRef, error) {
	return append([]models.DocumentRef(nil), f.refs...), nil
}

func (f *fakeSource) Fetch(ctx context.Context, ref models.DocumentRef) ([]byte, error) {
	f.fetchCalls++
	content, ok := f.docs[ref.URL]
	if !ok {
		return nil, fmt.Errorf("no such document %s", ref.URL)
	}
	return []byte(content), nil
}

func testCoordinator(t *testing.T, opts Options) (*Coordinator, *client.Registry) {
	t.Helper()
	emb := embedding.NewMockEmbedder(8)
	reg, err := client.NewRegistry(t.TempDir(), client.Options{
		Model:        emb.Model(),
		Dimension:    8,
		ChunkSize:    200,
		ChunkOverlap: 40,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	coord := NewCoordinator(reg, parser.NewRegistry(0), chunker.NewChunker(200, 40), emb, opts, nil)
	return coord, reg
}

func TestRefresh_IngestsAndSkipsUnchanged(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	src.put("a.txt", "Alpha", "Alpha document body with enough words to chunk.")
	src.put("b.txt", "Beta", "Beta document body, different content entirely.")

	report, err := coord.Refresh(context.Background(), "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 2 || report.SkippedUnchanged != 0 {
		t.Fatalf("Processed=%d Skipped=%d", report.Processed, report.SkippedUnchanged)
	}
	if report.ChunksIndexed == 0 {
		t.Fatal("no chunks indexed")
	}
	if report.BatchID == "" {
		t.Error("missing batch id")
	}

	// Second run: nothing changed, everything skipped, index untouched.
	store, _ := reg.Get("acme")
	before := store.Stats().LiveVectors
	report, err = coord.Refresh(context.Background(), "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if report.SkippedUnchanged != 2 || report.Processed != 0 {
		t.Fatalf("second run: Processed=%d Skipped=%d", report.Processed, report.SkippedUnchanged)
	}
	if store.Stats().LiveVectors != before {
		t.Error("unchanged re-ingest modified the index")
	}
	if err := store.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRefresh_UpdateReplacesChunks(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	src.put("a.txt", "Alpha", "Original content of the document.")

	if _, err := coord.Refresh(context.Background(), "acme", src); err != nil {
		t.Fatal(err)
	}
	store, _ := reg.Get("acme")
	docID := source.RefID(src.refs[0])
	oldChunks := store.DocumentChunkIDs(docID)

	src.put("a.txt", "Alpha", "Completely rewritten content, nothing shared with before.")
	report, err := coord.Refresh(context.Background(), "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 {
		t.Fatalf("Processed=%d", report.Processed)
	}
	if report.ChunksRemoved != len(oldChunks) {
		t.Errorf("ChunksRemoved=%d, want %d", report.ChunksRemoved, len(oldChunks))
	}
	for _, id := range oldChunks {
		if _, err := store.Metadata(id); err == nil {
			t.Errorf("stale chunk %s still present", id)
		}
	}
	if err := store.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRefresh_FailureIsolation(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	src.put("good.txt", "Good", "A perfectly fine document.")
	src.refs = append(src.refs, models.DocumentRef{
		URL:          "weird.xyz",
		Filename:     "weird.xyz",
		DeclaredType: ".xyz",
	})
	src.docs["weird.xyz"] = "unparseable"

	report, err := coord.Refresh(context.Background(), "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 {
		t.Errorf("Processed=%d", report.Processed)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Failures=%d", len(report.Failures))
	}
	if report.Failures[0].Filename != "weird.xyz" {
		t.Errorf("failure names %s", report.Failures[0].Filename)
	}
	store, _ := reg.Get("acme")
	if err := store.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRefresh_FailedUpdateKeepsPreviousVersion(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	src.put("a.txt", "Alpha", "First version of the document.")
	if _, err := coord.Refresh(context.Background(), "acme", src); err != nil {
		t.Fatal(err)
	}
	store, _ := reg.Get("acme")
	docID := source.RefID(src.refs[0])
	oldChunks := store.DocumentChunkIDs(docID)

	// Make the fetch fail on the next run.
	delete(src.docs, "a.txt")
	report, err := coord.Refresh(context.Background(), "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Failures=%d", len(report.Failures))
	}
	// Previous indexed version still served.
	for _, id := range oldChunks {
		if _, err := store.Metadata(id); err != nil {
			t.Errorf("chunk %s lost after failed update", id)
		}
	}
}

func TestRefresh_RemoveMissing(t *testing.T) {
	coord, reg := testCoordinator(t, Options{RemoveMissing: true})
	src := newFakeSource()
	src.put("a.txt", "Alpha", "Document a stays.")
	src.put("b.txt", "Beta", "Document b will disappear.")
	if _, err := coord.Refresh(context.Background(), "acme", src); err != nil {
		t.Fatal(err)
	}

	src.remove("b.txt")
	report, err := coord.Refresh(context.Background(), "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if report.ChunksRemoved == 0 {
		t.Error("missing document's chunks not removed")
	}
	store, _ := reg.Get("acme")
	if got := len(store.Documents()); got != 1 {
		t.Errorf("Documents=%d", got)
	}
	if err := store.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestRefresh_Cancellation(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	for i := 0; i < 5; i++ {
		src.put(fmt.Sprintf("doc-%d.txt", i), "Doc", fmt.Sprintf("Content of document number %d.", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := coord.Refresh(ctx, "acme", src)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Cancelled {
		t.Fatal("report not marked cancelled")
	}
	if report.Processed != 0 {
		t.Errorf("Processed=%d with pre-cancelled context", report.Processed)
	}
	store, _ := reg.Get("acme")
	if err := store.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestIngestBatch_BusyRejection(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	src.put("a.txt", "Alpha", "Some content.")

	store, err := reg.GetOrCreate("acme")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.BeginWrite(); err != nil {
		t.Fatal(err)
	}
	defer store.EndWrite()

	if _, err := coord.Refresh(context.Background(), "acme", src); !errors.Is(err, client.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestRemoveDocument_PersistsChange(t *testing.T) {
	coord, reg := testCoordinator(t, Options{})
	src := newFakeSource()
	src.put("a.txt", "Alpha", "Content that will be removed later.")
	if _, err := coord.Refresh(context.Background(), "acme", src); err != nil {
		t.Fatal(err)
	}
	docID := source.RefID(src.refs[0])

	removed, err := coord.RemoveDocument(context.Background(), "acme", docID)
	if err != nil {
		t.Fatal(err)
	}
	if removed == 0 {
		t.Fatal("nothing removed")
	}

	// A fresh load from disk reflects the removal.
	loaded, err := client.Open("acme", filepath.Join(reg.Root(), "acme"), client.ConfigSnapshot{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Documents()) != 0 {
		t.Errorf("Documents=%d after remove", len(loaded.Documents()))
	}
}

func TestFingerprint_TracksContent(t *testing.T) {
	a := Fingerprint("hello")
	b := Fingerprint("hello")
	c := Fingerprint("hello!")
	if a != b {
		t.Error("same content produced different fingerprints")
	}
	if a == c {
		t.Error("different content produced the same fingerprint")
	}
}
