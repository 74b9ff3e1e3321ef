package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Options carries the index configuration every client store is created with.
type Options struct {
	Model        string
	Dimension    int
	ChunkSize    int
	ChunkOverlap int
}

// Registry maps client ids to their stores, loading each from disk on first
// access. Client state never mixes: each client has its own directory,
// index, and writer slot.
type Registry struct {
	root   string
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(root string, opts Options, logger *zap.Logger) (*Registry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Registry{
		root:   abs,
		opts:   opts,
		logger: logger,
		stores: make(map[string]*Store),
	}, nil
}

// Root returns the absolute storage root.
func (r *Registry) Root() string { return r.root }

func (r *Registry) validate(clientID string) error {
	if !clientIDPattern.MatchString(clientID) {
		return fmt.Errorf("invalid client id %q", clientID)
	}
	return nil
}

func (r *Registry) dir(clientID string) string {
	return filepath.Join(r.root, clientID)
}

func (r *Registry) snapshot() ConfigSnapshot {
	return ConfigSnapshot{
		Model:        r.opts.Model,
		Dimension:    r.opts.Dimension,
		ChunkSize:    r.opts.ChunkSize,
		ChunkOverlap: r.opts.ChunkOverlap,
		UpdatedAt:    time.Now(),
	}
}

// Get returns the client's store, loading it from disk if needed. Returns
// ErrIndexNotFound when the client has never been ingested.
func (r *Registry) Get(clientID string) (*Store, error) {
	if err := r.validate(clientID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[clientID]; ok {
		return s, nil
	}
	s, err := Open(clientID, r.dir(clientID), r.snapshot(), r.logger)
	if err != nil {
		return nil, err
	}
	r.stores[clientID] = s
	return s, nil
}

// GetOrCreate returns the client's store, creating an empty one when the
// client has no persisted index yet.
func (r *Registry) GetOrCreate(clientID string) (*Store, error) {
	s, err := r.Get(clientID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrIndexNotFound) {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[clientID]; ok {
		return s, nil
	}
	s, err = newStore(clientID, r.dir(clientID), r.snapshot(), r.logger)
	if err != nil {
		return nil, err
	}
	r.stores[clientID] = s
	return s, nil
}

// Clients lists the client ids with a directory under the root, whether
// loaded or not.
func (r *Registry) Clients() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list storage root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && clientIDPattern.MatchString(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Purge removes a client's index entirely: in-memory state and the on-disk
// directory. The directory is renamed aside first so a crash mid-delete
// cannot leave a half-removed index that still looks committed. Rejected
// with ErrBusy while a write is in progress.
func (r *Registry) Purge(clientID string) error {
	if err := r.validate(clientID); err != nil {
		return err
	}
	r.mu.Lock()
	s, loaded := r.stores[clientID]
	if loaded {
		if err := s.BeginWrite(); err != nil {
			r.mu.Unlock()
			return err
		}
		delete(r.stores, clientID)
	}
	r.mu.Unlock()
	if loaded {
		defer s.EndWrite()
	}

	dir := r.dir(clientID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if loaded {
				return nil
			}
			return fmt.Errorf("client %s: %w", clientID, ErrIndexNotFound)
		}
		return fmt.Errorf("stat client dir: %w", err)
	}
	trash := dir + fmt.Sprintf(".purged-%d", time.Now().UnixNano())
	if err := os.Rename(dir, trash); err != nil {
		return fmt.Errorf("purge client %s: %w", clientID, err)
	}
	if err := os.RemoveAll(trash); err != nil && r.logger != nil {
		r.logger.Warn("remove purged client dir",
			zap.String("client_id", clientID), zap.Error(err))
	}
	if r.logger != nil {
		r.logger.Info("client purged", zap.String("client_id", clientID))
	}
	return nil
}
