// Package metastore holds the per-chunk metadata records for one client,
// one-to-one with the client's vector index entries.
package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hyperjump/vecdex/internal/models"
)

// ErrNotFound is returned when a chunk id has no metadata record.
var ErrNotFound = errors.New("metadata record not found")

// Store is an in-memory metadata table keyed by chunk id. Persistence happens
// inside the owning client store's commit so the table is never published out
// of step with the index mapping.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.MetadataRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]*models.MetadataRecord)}
}

// Put stores (or replaces) the record for rec.ChunkID.
func (s *Store) Put(rec *models.MetadataRecord) error {
	if rec.ChunkID == "" {
		return fmt.Errorf("record has empty chunk id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ChunkID] = rec
	return nil
}

// Get returns the record for chunkID, or ErrNotFound.
func (s *Store) Get(chunkID string) (*models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[chunkID]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return rec, nil
}

// Delete removes the records for the given chunk ids, ignoring unknown ids.
// Returns the number of records removed.
func (s *Store) Delete(chunkIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range chunkIDs {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns records matching the filter (all records when filter is nil),
// sorted by document id then chunk index for deterministic iteration.
func (s *Store) List(filter func(*models.MetadataRecord) bool) []*models.MetadataRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MetadataRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter == nil || filter(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}

// ChunkIDsByDocument returns the chunk ids owned by a document, in chunk order.
func (s *Store) ChunkIDsByDocument(docID string) []string {
	recs := s.List(func(r *models.MetadataRecord) bool { return r.DocumentID == docID })
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ChunkID
	}
	return ids
}

// Clone returns an independent copy of the store. Records are shared (they are
// treated as immutable once stored), so cloning is cheap.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make(map[string]*models.MetadataRecord, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	return &Store{records: records}
}

// Encode writes all records as JSON, sorted for stable output.
func (s *Store) Encode(w io.Writer) error {
	recs := s.List(nil)
	enc := json.NewEncoder(w)
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return nil
}

// Decode replaces the store contents with records read from r.
func (s *Store) Decode(r io.Reader) error {
	var recs []*models.MetadataRecord
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	records := make(map[string]*models.MetadataRecord, len(recs))
	for _, rec := range recs {
		if rec.ChunkID == "" {
			return fmt.Errorf("metadata record with empty chunk id")
		}
		records[rec.ChunkID] = rec
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}
