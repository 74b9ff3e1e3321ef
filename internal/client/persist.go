package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/metastore"
	"github.com/hyperjump/vecdex/internal/models"
	"github.com/hyperjump/vecdex/internal/vector"
)

const manifestName = "MANIFEST"

// manifest names the file set of one committed generation. Renaming the
// manifest into place is the single commit point: every data file it names is
// fully written and fsynced before the rename, so a crash at any earlier
// moment leaves the previous generation (or no index at all) visible.
type manifest struct {
	Generation uint64    `json:"generation"`
	Vectors    string    `json:"vectors"`
	Mapping    string    `json:"mapping"`
	Metadata   string    `json:"metadata"`
	Documents  string    `json:"documents"`
	Config     string    `json:"config"`
	WrittenAt  time.Time `json:"written_at"`
}

func genName(prefix string, gen uint64, ext string) string {
	return fmt.Sprintf("%s-%06d.%s", prefix, gen, ext)
}

// Persist writes the current state as a new generation and commits it by
// renaming the manifest. Requires the writer slot. Old generations are pruned
// after the commit; a pruning failure is logged, not returned, since the new
// generation is already durable.
func (s *Store) Persist() error {
	s.mu.RLock()
	st := s.cur
	snap := s.snapshot
	gen := s.generation + 1
	s.mu.RUnlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create client dir: %w", err)
	}

	m := manifest{
		Generation: gen,
		Vectors:    genName("vectors", gen, "bin"),
		Mapping:    genName("mapping", gen, "json"),
		Metadata:   genName("metadata", gen, "json"),
		Documents:  genName("documents", gen, "json"),
		Config:     genName("config", gen, "json"),
		WrittenAt:  time.Now(),
	}

	if err := writeFileAtomic(filepath.Join(s.dir, m.Vectors), st.index.EncodeVectors); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, m.Mapping), st.index.Mapping()); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, m.Metadata), st.meta.Encode); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	docs := make([]*models.DocumentState, 0, len(st.docs))
	for _, d := range st.docs {
		docs = append(docs, d)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, m.Documents), docs); err != nil {
		return fmt.Errorf("write documents: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, m.Config), snap); err != nil {
		return fmt.Errorf("write config snapshot: %w", err)
	}

	// Commit point: the manifest rename publishes the generation.
	if err := writeJSONAtomic(filepath.Join(s.dir, manifestName), m); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}

	s.mu.Lock()
	s.generation = gen
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("index persisted",
			zap.String("client_id", s.clientID),
			zap.Uint64("generation", gen),
			zap.Int("live_vectors", st.index.Live()),
		)
	}
	s.pruneGenerations(gen)
	return nil
}

// pruneGenerations removes data files from generations older than keep.
func (s *Store) pruneGenerations(keep uint64) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == manifestName || e.IsDir() {
			continue
		}
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".bin")
		i := strings.LastIndexByte(base, '-')
		if i < 0 {
			continue
		}
		gen, perr := strconv.ParseUint(base[i+1:], 10, 64)
		if perr != nil {
			continue
		}
		if gen < keep {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && s.logger != nil {
				s.logger.Warn("prune old generation file",
					zap.String("file", name), zap.Error(err))
			}
		}
	}
}

// Open loads a client store from its directory. A missing manifest means the
// client has never been persisted and yields ErrIndexNotFound. Any cross-file
// disagreement in the committed set yields ErrInconsistent: the load fails
// whole rather than serving a partially-valid index.
func Open(clientID, dir string, expect ConfigSnapshot, logger *zap.Logger) (*Store, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("client %s: %w", clientID, ErrIndexNotFound)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrInconsistent, err)
	}

	var snap ConfigSnapshot
	if err := readJSON(filepath.Join(dir, m.Config), &snap); err != nil {
		return nil, fmt.Errorf("%w: config snapshot: %v", ErrInconsistent, err)
	}
	if expect.Model != "" && snap.Model != expect.Model {
		return nil, fmt.Errorf("index for client %s was built with model %q but %q is configured; re-ingest to rebuild",
			clientID, snap.Model, expect.Model)
	}
	if expect.Dimension != 0 && snap.Dimension != expect.Dimension {
		return nil, fmt.Errorf("index for client %s has dimension %d but %d is configured; re-ingest to rebuild",
			clientID, snap.Dimension, expect.Dimension)
	}

	var mapping vector.MappingTable
	if err := readJSON(filepath.Join(dir, m.Mapping), &mapping); err != nil {
		return nil, fmt.Errorf("%w: mapping table: %v", ErrInconsistent, err)
	}
	vf, err := os.Open(filepath.Join(dir, m.Vectors))
	if err != nil {
		return nil, fmt.Errorf("%w: vector file: %v", ErrInconsistent, err)
	}
	idx, derr := vector.Decode(snap.Dimension, vf, &mapping)
	vf.Close()
	if derr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistent, derr)
	}

	meta := metastore.New()
	mf, err := os.Open(filepath.Join(dir, m.Metadata))
	if err != nil {
		return nil, fmt.Errorf("%w: metadata file: %v", ErrInconsistent, err)
	}
	derr = meta.Decode(mf)
	mf.Close()
	if derr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistent, derr)
	}

	var docList []*models.DocumentState
	if err := readJSON(filepath.Join(dir, m.Documents), &docList); err != nil {
		return nil, fmt.Errorf("%w: document table: %v", ErrInconsistent, err)
	}
	docs := make(map[string]*models.DocumentState, len(docList))
	for _, d := range docList {
		docs[d.DocumentID] = d
	}

	s := &Store{
		clientID:   clientID,
		dir:        dir,
		snapshot:   snap,
		cur:        &state{index: idx, meta: meta, docs: docs},
		generation: m.Generation,
		logger:     logger,
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("index loaded",
			zap.String("client_id", clientID),
			zap.Uint64("generation", m.Generation),
			zap.Int("live_vectors", idx.Live()),
			zap.Int("documents", len(docs)),
		)
	}
	return s, nil
}

// writeFileAtomic streams content to a temp file in the same directory, syncs
// it, and renames it into place.
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSONAtomic(path string, v any) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
