// Package source provides document sources: upstream systems that list a
// client's documents and serve their raw bytes.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/hyperjump/vecdex/internal/models"
)

// DocumentSource lists a client's documents and fetches their contents.
type DocumentSource interface {
	ListDocuments(ctx context.Context, clientID string) ([]models.DocumentRef, error)
	Fetch(ctx context.Context, ref models.DocumentRef) ([]byte, error)
}

const docIDPrefix = "doc:"

// RefID returns the stable document id for a ref: the explicit ID when set,
// otherwise a digest of the source GUID (preferred) or URL. Same source entry
// always yields the same id, so re-ingestion updates rather than duplicates.
func RefID(ref models.DocumentRef) string {
	if ref.ID != "" {
		return ref.ID
	}
	key := ref.GUID
	if key == "" {
		key = ref.URL
	}
	sum := sha256.Sum256([]byte(key))
	return docIDPrefix + hex.EncodeToString(sum[:])
}

// DeclaredType returns the ref's file type, falling back to the extension of
// its filename or URL path. Always lowercase with a leading dot, or empty.
func DeclaredType(ref models.DocumentRef) string {
	if ref.DeclaredType != "" {
		return strings.ToLower(ref.DeclaredType)
	}
	name := ref.Filename
	if name == "" {
		name = ref.URL
		// Strip query and fragment so the extension of a URL path is found.
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
	}
	return strings.ToLower(path.Ext(name))
}
