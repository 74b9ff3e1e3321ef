package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/vecdex/internal/models"
)

// DirSource serves documents from a local directory tree. Each regular file
// with an allowed extension is one document; the ref URL is the absolute path.
type DirSource struct {
	root       string
	extensions []string // allowed extensions with leading dot; empty = all
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string, extensions []string) (*DirSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	return &DirSource{root: abs, extensions: extensions}, nil
}

// Root returns the absolute root directory.
func (s *DirSource) Root() string { return s.root }

// Allowed reports whether a path's extension is in the allowed list.
func (s *DirSource) Allowed(path string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range s.extensions {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// Ref builds the DocumentRef for a file path under the root.
func (s *DirSource) Ref(path string) models.DocumentRef {
	return models.DocumentRef{
		URL:          path,
		GUID:         path,
		Title:        filepath.Base(path),
		Filename:     filepath.Base(path),
		DeclaredType: strings.ToLower(filepath.Ext(path)),
	}
}

// ListDocuments walks the root and returns one ref per allowed regular file.
// clientID is ignored; a directory source serves a single client.
func (s *DirSource) ListDocuments(ctx context.Context, clientID string) ([]models.DocumentRef, error) {
	var refs []models.DocumentRef
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !s.Allowed(path) {
			return nil
		}
		// Resolve symlinks so only regular files are listed
		info, statErr := os.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			return nil
		}
		refs = append(refs, s.Ref(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return refs, nil
}

// Fetch reads the file's bytes.
func (s *DirSource) Fetch(ctx context.Context, ref models.DocumentRef) ([]byte, error) {
	raw, err := os.ReadFile(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.URL, err)
	}
	return raw, nil
}
