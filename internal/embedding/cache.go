package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vecdex/pkg/utils"
)

// CachedEmbedder wraps an Embedder with a persistent SQLite cache keyed by
// model and text digest. The cache lives outside any client's commit boundary;
// it only ever stores what the model already returned, so a stale or missing
// cache is always safe.
type CachedEmbedder struct {
	inner Embedder
	db    *sql.DB
}

// NewCachedEmbedder opens (or creates) the cache database at dbPath and wraps inner.
func NewCachedEmbedder(inner Embedder, dbPath string) (*CachedEmbedder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		model TEXT NOT NULL,
		text_hash TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (model, text_hash)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return &CachedEmbedder{inner: inner, db: db}, nil
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) lookup(ctx context.Context, hash string) ([]float32, bool) {
	var dims int
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT dimensions, vector FROM embeddings WHERE model = ? AND text_hash = ?`,
		c.inner.Model(), hash).Scan(&dims, &blob)
	if err != nil || dims != c.inner.Dimensions() || len(blob) != dims*4 {
		return nil, false
	}
	return utils.BytesToFloat32s(blob), true
}

func (c *CachedEmbedder) store(ctx context.Context, hash string, vec []float32) {
	// Cache write failures are not fatal; the embedding is already in hand.
	_, _ = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (model, text_hash, dimensions, vector) VALUES (?, ?, ?, ?)`,
		c.inner.Model(), hash, len(vec), utils.Float32sToBytes(vec))
}

// Embed returns the cached embedding when present, otherwise delegates and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := textHash(text)
	if vec, ok := c.lookup(ctx, hash); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, hash, vec)
	return vec, nil
}

// EmbedBatch serves cached texts locally and delegates only the misses,
// preserving input order in the output.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	hashes := make([]string, len(texts))
	for i, text := range texts {
		hashes[i] = textHash(text)
		if vec, ok := c.lookup(ctx, hashes[i]); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			out[i] = vecs[j]
			c.store(ctx, hashes[i], vecs[j])
		}
	}
	return out, nil
}

// Dimensions returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Model returns the inner embedder's model identifier.
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Close closes the cache database and the inner embedder.
func (c *CachedEmbedder) Close() error {
	dbErr := c.db.Close()
	innerErr := c.inner.Close()
	if dbErr != nil {
		return dbErr
	}
	return innerErr
}
