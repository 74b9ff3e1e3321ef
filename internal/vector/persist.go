package vector

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hyperjump/vecdex/pkg/utils"
)

// MappingEntry is one row of the internal-id to chunk-id mapping table,
// including the tombstone flag. Entries are stored in slot order, one per
// vector in the data file.
type MappingEntry struct {
	InternalID int64  `json:"internal_id"`
	ChunkID    string `json:"chunk_id"`
	Dead       bool   `json:"dead,omitempty"`
}

// MappingTable is the persisted form of the id mapping.
type MappingTable struct {
	NextID  int64          `json:"next_id"`
	Entries []MappingEntry `json:"entries"`
}

// EncodeVectors writes the vector data file: dimension (uint32), count
// (uint32), then count vectors of dimension float32 values, little-endian.
// Tombstoned slots are written too; the mapping table marks them dead.
func (f *FlatIndex) EncodeVectors(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := binary.Write(w, binary.LittleEndian, uint32(f.dim)); err != nil {
		return fmt.Errorf("write dimension: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.slots))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i := range f.slots {
		if _, err := w.Write(utils.Float32sToBytes(f.slots[i].vec)); err != nil {
			return fmt.Errorf("write vector %d: %w", i, err)
		}
	}
	return nil
}

// Mapping returns a copy of the id mapping table in slot order.
func (f *FlatIndex) Mapping() *MappingTable {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t := &MappingTable{
		NextID:  f.nextID,
		Entries: make([]MappingEntry, len(f.slots)),
	}
	for i := range f.slots {
		t.Entries[i] = MappingEntry{
			InternalID: f.slots[i].internalID,
			ChunkID:    f.slots[i].chunkID,
			Dead:       f.slots[i].dead,
		}
	}
	return t
}

// Decode reconstructs an index from a vector data stream and its mapping
// table. The two must describe the same entry set: a count or dimension
// disagreement means the persisted file set is inconsistent and is reported
// as an error, never patched over.
func Decode(dim int, r io.Reader, mapping *MappingTable) (*FlatIndex, error) {
	var fileDim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &fileDim); err != nil {
		return nil, fmt.Errorf("read dimension: %w", err)
	}
	if int(fileDim) != dim {
		return nil, fmt.Errorf("%w: file has %d, expected %d", ErrDimensionMismatch, fileDim, dim)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if int(n) != len(mapping.Entries) {
		return nil, fmt.Errorf("vector file has %d entries, mapping table has %d", n, len(mapping.Entries))
	}
	f, err := NewFlatIndex(dim)
	if err != nil {
		return nil, err
	}
	f.slots = make([]slot, 0, n)
	buf := make([]byte, dim*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		e := mapping.Entries[i]
		if e.ChunkID == "" {
			return nil, fmt.Errorf("mapping entry %d has empty chunk id", i)
		}
		if !e.Dead {
			if _, dup := f.byChunk[e.ChunkID]; dup {
				return nil, fmt.Errorf("mapping table maps chunk %s twice", e.ChunkID)
			}
			f.byChunk[e.ChunkID] = int(i)
		} else {
			f.dead++
		}
		f.slots = append(f.slots, slot{
			internalID: e.InternalID,
			chunkID:    e.ChunkID,
			vec:        utils.BytesToFloat32s(buf),
			dead:       e.Dead,
		})
	}
	f.nextID = mapping.NextID
	return f, nil
}
