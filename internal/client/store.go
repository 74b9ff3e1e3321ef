// Package client owns per-client index state: the vector index, the metadata
// store, and the document fingerprint table, kept in lockstep and persisted
// as one atomically-published file set.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/metastore"
	"github.com/hyperjump/vecdex/internal/models"
	"github.com/hyperjump/vecdex/internal/vector"
)

var (
	// ErrIndexNotFound means the client has never been ingested. Distinct from
	// an empty index, which exists but holds no vectors.
	ErrIndexNotFound = errors.New("index not found")

	// ErrInconsistent means the index, mapping table, and metadata store
	// disagree. Surfaced to the caller as a hard error recommending a rebuild,
	// never silently patched over.
	ErrInconsistent = errors.New("index inconsistent")

	// ErrBusy means a write was attempted while another write for the same
	// client is in progress.
	ErrBusy = errors.New("client busy: another write in progress")
)

// ConfigSnapshot records the embedding and chunking configuration the index
// was last written with. Checked on open and before search to detect
// embedder/config drift.
type ConfigSnapshot struct {
	Model        string    `json:"model"`
	Dimension    int       `json:"dimension"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	LiveVectors  int       `json:"live_vectors"`
	Tombstoned   int       `json:"tombstoned"`
	Documents    int       `json:"documents"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// state is the full in-memory image of one client. Reconciliation mutates a
// copy and swaps it in whole, so readers observe either the pre-write or the
// fully-post-write state, never an intermediate one.
type state struct {
	index *vector.FlatIndex
	meta  *metastore.Store
	docs  map[string]*models.DocumentState
}

func (st *state) clone() *state {
	docs := make(map[string]*models.DocumentState, len(st.docs))
	for k, v := range st.docs {
		docs[k] = v
	}
	return &state{
		index: st.index.Clone(),
		meta:  st.meta.Clone(),
		docs:  docs,
	}
}

// Store is one client's (index, metadata) pair. At most one writer mutates it
// at a time; concurrent write attempts are rejected with ErrBusy. Reads run
// concurrently against the last committed state.
type Store struct {
	clientID string
	dir      string
	snapshot ConfigSnapshot

	writeMu sync.Mutex // exclusive writer; TryLock so conflicts surface as ErrBusy

	mu         sync.RWMutex // guards cur and generation swap
	cur        *state
	generation uint64

	logger *zap.Logger
}

func newStore(clientID, dir string, snap ConfigSnapshot, logger *zap.Logger) (*Store, error) {
	idx, err := vector.NewFlatIndex(snap.Dimension)
	if err != nil {
		return nil, err
	}
	return &Store{
		clientID: clientID,
		dir:      dir,
		snapshot: snap,
		cur: &state{
			index: idx,
			meta:  metastore.New(),
			docs:  make(map[string]*models.DocumentState),
		},
		logger: logger,
	}, nil
}

// ClientID returns the owning client id.
func (s *Store) ClientID() string { return s.clientID }

// Snapshot returns the current config snapshot.
func (s *Store) Snapshot() ConfigSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// BeginWrite acquires the client's exclusive writer slot, or returns ErrBusy
// when another write is in progress. Callers must pair it with EndWrite.
// Embedding and parsing happen before or outside this slot where possible;
// only reconciliation and persistence need it.
func (s *Store) BeginWrite() error {
	if !s.writeMu.TryLock() {
		return fmt.Errorf("client %s: %w", s.clientID, ErrBusy)
	}
	return nil
}

// EndWrite releases the writer slot.
func (s *Store) EndWrite() {
	s.writeMu.Unlock()
}

// Fingerprint returns the stored fingerprint for a document, if any.
func (s *Store) Fingerprint(docID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cur.docs[docID]
	if !ok {
		return "", false
	}
	return st.Fingerprint, true
}

// DocumentChunkIDs returns the chunk ids currently owned by a document.
func (s *Store) DocumentChunkIDs(docID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cur.docs[docID]
	if !ok {
		return nil
	}
	out := make([]string, len(st.ChunkIDs))
	copy(out, st.ChunkIDs)
	return out
}

// Documents returns the ids of all ingested documents.
func (s *Store) Documents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cur.docs))
	for id := range s.cur.docs {
		ids = append(ids, id)
	}
	return ids
}

// ApplyDocument atomically replaces a document's chunk set: the previous
// chunk ids (if any) are tombstoned in the index and deleted from the
// metadata store, the new vectors and records are added, and the document
// fingerprint is updated, all published to readers as one swap.
// Requires the writer slot. Returns the number of chunks removed.
func (s *Store) ApplyDocument(ctx context.Context, doc *models.DocumentState, chunks []models.Chunk, vectors [][]float32, records []*models.MetadataRecord) (int, error) {
	if len(chunks) != len(vectors) || len(chunks) != len(records) {
		return 0, fmt.Errorf("chunks, vectors, and records length mismatch: %d/%d/%d",
			len(chunks), len(vectors), len(records))
	}

	s.mu.RLock()
	next := s.cur.clone()
	s.mu.RUnlock()

	removed := 0
	if prev, ok := next.docs[doc.DocumentID]; ok {
		removed = next.index.Remove(ctx, prev.ChunkIDs)
		if deleted := next.meta.Delete(prev.ChunkIDs); deleted != removed {
			return 0, fmt.Errorf("%w: removed %d index entries but %d metadata records for document %s",
				ErrInconsistent, removed, deleted, doc.DocumentID)
		}
	}

	chunkIDs := make([]string, len(chunks))
	for i := range chunks {
		chunkIDs[i] = chunks[i].ID
	}
	if err := next.index.Add(ctx, chunkIDs, vectors); err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := next.meta.Put(rec); err != nil {
			return 0, err
		}
	}
	doc.ChunkIDs = chunkIDs
	doc.IngestedAt = time.Now()
	next.docs[doc.DocumentID] = doc

	s.swap(next)
	return removed, nil
}

// RemoveDocument tombstones all and only the document's chunks and drops its
// fingerprint. Requires the writer slot. Returns the number of chunks removed,
// or ErrIndexNotFound-free zero when the document is unknown.
func (s *Store) RemoveDocument(ctx context.Context, docID string) (int, error) {
	s.mu.RLock()
	next := s.cur.clone()
	s.mu.RUnlock()

	prev, ok := next.docs[docID]
	if !ok {
		return 0, nil
	}
	removed := next.index.Remove(ctx, prev.ChunkIDs)
	deleted := next.meta.Delete(prev.ChunkIDs)
	if removed != deleted {
		return 0, fmt.Errorf("%w: removed %d index entries but %d metadata records for document %s",
			ErrInconsistent, removed, deleted, docID)
	}
	delete(next.docs, docID)

	s.swap(next)
	return removed, nil
}

// Compact rebuilds the index from live entries when the tombstone ratio
// exceeds threshold (or unconditionally when force is set). Requires the
// writer slot. Returns the number of slots reclaimed.
func (s *Store) Compact(threshold float64, force bool) int {
	s.mu.RLock()
	next := s.cur.clone()
	s.mu.RUnlock()

	if !force && next.index.TombstoneRatio() < threshold {
		return 0
	}
	reclaimed := next.index.Compact()
	if reclaimed == 0 {
		return 0
	}
	s.swap(next)
	if s.logger != nil {
		s.logger.Info("index compacted",
			zap.String("client_id", s.clientID),
			zap.Int("reclaimed", reclaimed),
		)
	}
	return reclaimed
}

// swap publishes next as the current state and refreshes the config snapshot
// counters. Readers block only for the duration of the pointer swap.
func (s *Store) swap(next *state) {
	s.mu.Lock()
	s.cur = next
	s.snapshot.LiveVectors = next.index.Live()
	s.snapshot.Tombstoned = next.index.Dead()
	s.snapshot.Documents = len(next.docs)
	s.snapshot.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// Hit is one index match joined with its metadata record. Record is nil only
// when the chunk id has no record, which means index and metadata have
// drifted apart.
type Hit struct {
	vector.Result
	Record *models.MetadataRecord
}

// Search queries the index and joins every hit with its metadata record from
// the same committed state. Index scan and join never mix generations: a
// writer swapping in a new state between the two reads would otherwise make a
// healthy store look corrupted.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	st := s.cur
	s.mu.RUnlock()
	results, err := st.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		rec, merr := st.meta.Get(r.ChunkID)
		if merr != nil {
			rec = nil
		}
		hits[i] = Hit{Result: r, Record: rec}
	}
	return hits, nil
}

// Metadata returns the metadata record for a chunk id.
func (s *Store) Metadata(chunkID string) (*models.MetadataRecord, error) {
	s.mu.RLock()
	meta := s.cur.meta
	s.mu.RUnlock()
	return meta.Get(chunkID)
}

// MetadataStore returns the current metadata store for read-only scans.
func (s *Store) MetadataStore() *metastore.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.meta
}

// Verify cross-checks the index against the metadata store: equal live
// counts and a one-to-one chunk id correspondence. Returns ErrInconsistent
// on any drift.
func (s *Store) Verify() error {
	s.mu.RLock()
	st := s.cur
	s.mu.RUnlock()

	live := st.index.Live()
	if live != st.meta.Len() {
		return fmt.Errorf("%w: %d live index entries but %d metadata records",
			ErrInconsistent, live, st.meta.Len())
	}
	for _, id := range st.index.ChunkIDs() {
		if _, err := st.meta.Get(id); err != nil {
			return fmt.Errorf("%w: index entry %s has no metadata record", ErrInconsistent, id)
		}
	}
	return nil
}

// Stats summarizes the client's index state, including the per-source,
// file-type, and category distributions of the live chunks.
func (s *Store) Stats() *models.IndexStats {
	s.mu.RLock()
	st := s.cur
	snap := s.snapshot
	s.mu.RUnlock()

	stats := &models.IndexStats{
		ClientID:     s.clientID,
		Status:       "ready",
		LiveVectors:  st.index.Live(),
		Tombstoned:   st.index.Dead(),
		Dimension:    snap.Dimension,
		Model:        snap.Model,
		Documents:    len(st.docs),
		ChunkSize:    snap.ChunkSize,
		ChunkOverlap: snap.ChunkOverlap,
		LastUpdated:  snap.UpdatedAt,
	}
	if stats.LiveVectors == 0 {
		stats.Status = "empty"
	}
	recs := st.meta.List(nil)
	if len(recs) == 0 {
		return stats
	}
	stats.Sources = make(map[string]int)
	stats.FileTypes = make(map[string]int)
	stats.Categories = make(map[string]int)
	totalChars := 0
	for _, rec := range recs {
		src := rec.Filename
		if src == "" {
			src = rec.SourceURL
		}
		stats.Sources[src]++
		ft := rec.FileType
		if ft == "" {
			ft = "unknown"
		}
		stats.FileTypes[ft]++
		cat := rec.Category
		if cat == "" {
			cat = "uncategorized"
		}
		stats.Categories[cat]++
		totalChars += rec.ChunkSize
	}
	stats.AvgChunkSize = float64(totalChars) / float64(len(recs))
	return stats
}
