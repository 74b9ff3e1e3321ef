// Package vector provides a flat inner-product index with an internal-id mapping
// table, tombstone-based removal, and compaction.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/vecdex/pkg/utils"
)

// ErrDimensionMismatch is returned when a vector's dimension disagrees with the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Result is a single search hit.
type Result struct {
	ChunkID string
	Score   float64 // inner product; equals cosine similarity for unit vectors
}

// slot is one stored vector with its mapping entry. Internal ids are assigned
// sequentially and never reused within a client's lifetime; removal tombstones
// the slot until the next compaction.
type slot struct {
	internalID int64
	chunkID    string
	vec        []float32
	dead       bool
}

// FlatIndex is an append-friendly flat index over unit-scale vectors queried by
// inner product. Vectors are L2-normalized on insertion, so scores are cosine
// similarities. The index owns the internal-id to chunk-id mapping because the
// flat layout has no native delete by external key.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	slots   []slot
	byChunk map[string]int // chunk id -> slot offset (live entries only)
	nextID  int64
	dead    int
}

// NewFlatIndex creates an empty index with the given dimension.
func NewFlatIndex(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &FlatIndex{
		dim:     dim,
		byChunk: make(map[string]int),
	}, nil
}

// Dimension returns the configured vector dimension.
func (f *FlatIndex) Dimension() int { return f.dim }

// Live returns the number of live (non-tombstoned) entries.
func (f *FlatIndex) Live() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.slots) - f.dead
}

// Dead returns the number of tombstoned entries awaiting compaction.
func (f *FlatIndex) Dead() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dead
}

// Contains reports whether chunkID has a live entry.
func (f *FlatIndex) Contains(chunkID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.byChunk[chunkID]
	return ok
}

// ChunkIDs returns the chunk ids of all live entries, in internal-id order.
func (f *FlatIndex) ChunkIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.slots)-f.dead)
	for i := range f.slots {
		if !f.slots[i].dead {
			ids = append(ids, f.slots[i].chunkID)
		}
	}
	return ids
}

// Add appends vectors under the given chunk ids, assigning the next sequential
// internal ids. Vectors are copied and L2-normalized. Fails without side effects
// on dimension mismatch, length mismatch, or a duplicate live chunk id.
func (f *FlatIndex) Add(ctx context.Context, chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), f.dim)
		}
		if _, dup := f.byChunk[chunkIDs[i]]; dup {
			return fmt.Errorf("chunk %s already indexed", chunkIDs[i])
		}
	}
	for i, id := range chunkIDs {
		vec := make([]float32, f.dim)
		copy(vec, vectors[i])
		utils.NormalizeL2(vec)
		f.byChunk[id] = len(f.slots)
		f.slots = append(f.slots, slot{
			internalID: f.nextID,
			chunkID:    id,
			vec:        vec,
		})
		f.nextID++
	}
	return nil
}

// Search returns up to k live entries ordered by descending inner-product score,
// ties broken by ascending internal id. k is clamped to the live entry count.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), f.dim)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	live := len(f.slots) - f.dead
	if k <= 0 || live == 0 {
		return nil, nil
	}
	if k > live {
		k = live
	}
	type scored struct {
		internalID int64
		chunkID    string
		score      float64
	}
	scores := make([]scored, 0, live)
	for i := range f.slots {
		s := &f.slots[i]
		if s.dead {
			continue
		}
		scores = append(scores, scored{
			internalID: s.internalID,
			chunkID:    s.chunkID,
			score:      utils.Dot(query, s.vec),
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].internalID < scores[j].internalID
	})
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{ChunkID: scores[i].chunkID, Score: scores[i].score}
	}
	return results, nil
}

// Remove tombstones the entries for the given chunk ids. Unknown ids are
// ignored so removal is idempotent. Returns the number of entries tombstoned.
// The vectors stay in place until Compact reclaims them.
func (f *FlatIndex) Remove(ctx context.Context, chunkIDs []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for _, id := range chunkIDs {
		off, ok := f.byChunk[id]
		if !ok {
			continue
		}
		f.slots[off].dead = true
		delete(f.byChunk, id)
		f.dead++
		removed++
	}
	return removed
}

// TombstoneRatio returns the fraction of stored entries that are tombstoned.
func (f *FlatIndex) TombstoneRatio() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.slots) == 0 {
		return 0
	}
	return float64(f.dead) / float64(len(f.slots))
}

// Clone returns an independent copy of the index. Stored vectors are shared
// (they are never mutated after insertion), so cloning is cheap; mutating the
// clone leaves the original untouched. Used for copy-on-write reconciliation.
func (f *FlatIndex) Clone() *FlatIndex {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c := &FlatIndex{
		dim:     f.dim,
		slots:   make([]slot, len(f.slots)),
		byChunk: make(map[string]int, len(f.byChunk)),
		nextID:  f.nextID,
		dead:    f.dead,
	}
	copy(c.slots, f.slots)
	for k, v := range f.byChunk {
		c.byChunk[k] = v
	}
	return c
}

// Compact rebuilds the index from its live entries, dropping tombstoned
// vectors and assigning fresh sequential internal ids. Chunk ids never change.
// Returns the number of slots reclaimed.
func (f *FlatIndex) Compact() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead == 0 {
		return 0
	}
	reclaimed := f.dead
	compacted := make([]slot, 0, len(f.slots)-f.dead)
	byChunk := make(map[string]int, len(f.slots)-f.dead)
	for i := range f.slots {
		if f.slots[i].dead {
			continue
		}
		byChunk[f.slots[i].chunkID] = len(compacted)
		compacted = append(compacted, slot{
			internalID: f.nextID,
			chunkID:    f.slots[i].chunkID,
			vec:        f.slots[i].vec,
		})
		f.nextID++
	}
	f.slots = compacted
	f.byChunk = byChunk
	f.dead = 0
	return reclaimed
}
