// Package search embeds queries, runs them against a client's index, joins
// hits with their metadata, and reranks with a keyword-relevance component.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/embedding"
	"github.com/hyperjump/vecdex/internal/models"
)

// overfetchFactor controls how many extra candidates the index is asked for,
// so filters and min-score can discard hits without starving the final top-k.
const overfetchFactor = 2

// Service answers search queries against client stores.
type Service struct {
	registry *client.Registry
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewService wires a search path over the registry and embedder.
func NewService(reg *client.Registry, emb embedding.Embedder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: reg, embedder: emb, logger: logger}
}

// Search runs a query against one client's index. Returns ErrIndexNotFound
// for unknown clients and ErrInconsistent when a hit's metadata record is
// missing, since serving a result without its text would hide corruption.
func (s *Service) Search(ctx context.Context, clientID string, query *models.SearchQuery) (*models.SearchResponse, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	store, err := s.registry.Get(clientID)
	if err != nil {
		return nil, err
	}
	snap := store.Snapshot()
	if model := s.embedder.Model(); model != snap.Model {
		return nil, fmt.Errorf("index for client %s was built with model %q but %q is configured; re-ingest to rebuild",
			clientID, snap.Model, model)
	}
	if dim := s.embedder.Dimensions(); dim != 0 && dim != snap.Dimension {
		return nil, fmt.Errorf("embedder produces %d-dimensional vectors but index has %d", dim, snap.Dimension)
	}

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetchK := query.K * overfetchFactor
	hits, err := store.Search(ctx, vec, fetchK)
	if err != nil {
		return nil, err
	}

	results := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		rec := hit.Record
		if rec == nil {
			return nil, fmt.Errorf("%w: search hit %s has no metadata record",
				client.ErrInconsistent, hit.ChunkID)
		}
		if !matchesFilters(rec, query.Filters) {
			continue
		}
		results = append(results, &models.SearchResult{
			ChunkID:     hit.ChunkID,
			VectorScore: hit.Score,
			Text:        rec.Text,
			DocumentID:  rec.DocumentID,
			ChunkIndex:  rec.ChunkIndex,
			SourceURL:   rec.SourceURL,
			Filename:    rec.Filename,
			Metadata:    rec,
		})
	}

	rerank(query.Query, results)
	if query.MinScore > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= query.MinScore {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) > query.K {
		results = results[:query.K]
	}
	for i, r := range results {
		r.Rank = i + 1
	}

	elapsed := time.Since(start)
	s.logger.Debug("search completed",
		zap.String("client_id", clientID),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed),
	)
	return &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: elapsed.Milliseconds(),
		Query:     query.Query,
		ClientID:  clientID,
	}, nil
}

// matchesFilters applies the metadata filters to one record. Date strings
// compare lexicographically, which is correct for ISO dates.
func matchesFilters(rec *models.MetadataRecord, f *models.SearchFilters) bool {
	if f.Empty() {
		return true
	}
	if len(f.FileTypes) > 0 && !containsFold(f.FileTypes, rec.FileType) {
		return false
	}
	if len(f.Categories) > 0 && !containsFold(f.Categories, rec.Category) {
		return false
	}
	if f.DateFrom != "" && (rec.Date == "" || rec.Date < f.DateFrom) {
		return false
	}
	if f.DateTo != "" && (rec.Date == "" || rec.Date > f.DateTo) {
		return false
	}
	return true
}
