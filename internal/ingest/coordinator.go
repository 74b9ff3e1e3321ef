// Package ingest reconciles a client's index with its document source:
// unchanged documents are skipped, changed ones replaced, and removed ones
// tombstoned, with per-document failures isolated from the rest of the batch.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/chunker"
	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/embedding"
	"github.com/hyperjump/vecdex/internal/models"
	"github.com/hyperjump/vecdex/internal/parser"
	"github.com/hyperjump/vecdex/internal/source"
	"github.com/hyperjump/vecdex/pkg/utils"
)

// Durability selects how often a batch persists during reconciliation.
type Durability string

const (
	// DurabilityBatch persists once, after the whole batch is reconciled.
	DurabilityBatch Durability = "batch"
	// DurabilityDocument persists after every document, trading ingest
	// throughput for a smaller redo window after a crash.
	DurabilityDocument Durability = "document"
)

// Options configures a Coordinator.
type Options struct {
	EmbedBatchSize   int        // chunks per embedding request; 0 = 64
	Durability       Durability // defaults to DurabilityBatch
	CompactThreshold float64    // tombstone ratio triggering compaction; 0 = 0.30
	RemoveMissing    bool       // tombstone documents absent from the listing
}

// DefaultCompactThreshold is the tombstone ratio above which reconciliation
// compacts the index before persisting.
const DefaultCompactThreshold = 0.30

const defaultEmbedBatchSize = 64

// Coordinator drives ingestion batches for client stores.
type Coordinator struct {
	registry *client.Registry
	parsers  *parser.Registry
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	opts     Options
	logger   *zap.Logger
}

// NewCoordinator wires an ingestion pipeline over the given components.
func NewCoordinator(reg *client.Registry, parsers *parser.Registry, ch *chunker.Chunker, emb embedding.Embedder, opts Options, logger *zap.Logger) *Coordinator {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = defaultEmbedBatchSize
	}
	if opts.Durability == "" {
		opts.Durability = DurabilityBatch
	}
	if opts.CompactThreshold <= 0 {
		opts.CompactThreshold = DefaultCompactThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry: reg,
		parsers:  parsers,
		chunker:  ch,
		embedder: emb,
		opts:     opts,
		logger:   logger,
	}
}

// Fingerprint is the content digest used for change detection: a hex digest
// of the extracted (pre-normalization) text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Refresh lists the client's documents from src and reconciles the index
// against them. Returns ErrBusy when another write for the client is already
// running. Cancellation takes effect between documents: work already committed
// stays, the rest is reported as not processed.
func (c *Coordinator) Refresh(ctx context.Context, clientID string, src source.DocumentSource) (*models.IngestReport, error) {
	refs, err := src.ListDocuments(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return c.IngestBatch(ctx, clientID, src, refs)
}

// IngestBatch reconciles the given refs into the client's index. One document
// failing to parse or embed never aborts the batch; its previous indexed
// version (if any) stays live and the failure lands in the report.
func (c *Coordinator) IngestBatch(ctx context.Context, clientID string, src source.DocumentSource, refs []models.DocumentRef) (*models.IngestReport, error) {
	store, err := c.registry.GetOrCreate(clientID)
	if err != nil {
		return nil, err
	}
	if err := store.BeginWrite(); err != nil {
		return nil, err
	}
	defer store.EndWrite()

	report := &models.IngestReport{
		BatchID:   uuid.NewString(),
		ClientID:  clientID,
		Total:     len(refs),
		StartedAt: time.Now(),
	}
	log := c.logger.With(
		zap.String("client_id", clientID),
		zap.String("batch_id", report.BatchID),
	)
	log.Info("ingest batch started", zap.Int("documents", len(refs)))

	dirty := false
	listed := make(map[string]bool, len(refs))
	for _, ref := range refs {
		docID := source.RefID(ref)
		listed[docID] = true

		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			break
		}

		changed, perr := c.processDocument(ctx, store, src, ref, docID, report)
		if perr != nil {
			if errors.Is(perr, context.Canceled) || errors.Is(perr, context.DeadlineExceeded) {
				report.Cancelled = true
				break
			}
			report.Failures = append(report.Failures, models.DocumentFailure{
				DocumentID: docID,
				Filename:   ref.Filename,
				Reason:     perr.Error(),
			})
			log.Warn("document failed",
				zap.String("document_id", docID),
				zap.String("filename", ref.Filename),
				zap.Error(perr),
			)
			continue
		}
		if changed {
			dirty = true
			if c.opts.Durability == DurabilityDocument {
				if err := store.Persist(); err != nil {
					return report, fmt.Errorf("persist after document %s: %w", docID, err)
				}
				dirty = false
			}
		}
	}

	if c.opts.RemoveMissing && !report.Cancelled {
		for _, docID := range store.Documents() {
			if listed[docID] {
				continue
			}
			removed, rerr := store.RemoveDocument(ctx, docID)
			if rerr != nil {
				return report, rerr
			}
			report.ChunksRemoved += removed
			dirty = true
			log.Info("document removed from listing",
				zap.String("document_id", docID),
				zap.Int("chunks_removed", removed),
			)
		}
	}

	if reclaimed := store.Compact(c.opts.CompactThreshold, false); reclaimed > 0 {
		dirty = true
	}
	if dirty {
		if err := store.Persist(); err != nil {
			return report, fmt.Errorf("persist batch: %w", err)
		}
	}

	report.FinishedAt = time.Now()
	log.Info("ingest batch finished",
		zap.Int("processed", report.Processed),
		zap.Int("skipped_unchanged", report.SkippedUnchanged),
		zap.Int("chunks_indexed", report.ChunksIndexed),
		zap.Int("chunks_removed", report.ChunksRemoved),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// processDocument fetches, parses, chunks, and embeds one document, then
// applies it to the store as a single replace. Embedding happens before the
// apply, so a mid-embed failure leaves the previous version untouched.
// Returns whether the index changed.
func (c *Coordinator) processDocument(ctx context.Context, store *client.Store, src source.DocumentSource, ref models.DocumentRef, docID string, report *models.IngestReport) (bool, error) {
	raw, err := src.Fetch(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("fetch: %w", err)
	}
	text, err := c.parsers.Parse(raw, source.DeclaredType(ref))
	if err != nil {
		return false, err
	}

	fp := Fingerprint(text)
	if prev, ok := store.Fingerprint(docID); ok && prev == fp {
		report.SkippedUnchanged++
		return false, nil
	}

	chunks := c.chunker.Chunk(docID, text)
	if len(chunks) == 0 {
		// Document became empty: drop its previous chunks, remember the
		// fingerprint so the next batch skips it.
		removed, rerr := store.RemoveDocument(ctx, docID)
		if rerr != nil {
			return false, rerr
		}
		report.ChunksRemoved += removed
		doc := &models.DocumentState{
			DocumentID:  docID,
			Fingerprint: fp,
			Filename:    ref.Filename,
			SourceURL:   ref.URL,
		}
		if _, aerr := store.ApplyDocument(ctx, doc, nil, nil, nil); aerr != nil {
			return false, aerr
		}
		report.Processed++
		return true, nil
	}

	vectors, err := c.embedChunks(ctx, chunks)
	if err != nil {
		return false, err
	}

	records := make([]*models.MetadataRecord, len(chunks))
	now := time.Now().UTC().Format(time.RFC3339)
	for i, ch := range chunks {
		records[i] = &models.MetadataRecord{
			ChunkID:     ch.ID,
			DocumentID:  docID,
			Text:        ch.Text,
			ChunkIndex:  ch.Index,
			ChunkSize:   len(ch.Text),
			StartChar:   ch.StartChar,
			EndChar:     ch.EndChar,
			HasTables:   chunker.HasTable(ch.Text),
			HasLists:    chunker.HasList(ch.Text),
			Title:       ref.Title,
			Description: utils.Truncate(ref.Description, 500),
			Category:    ref.Category,
			Date:        ref.Date,
			Parent:      ref.Parent,
			SourceURL:   ref.URL,
			Filename:    ref.Filename,
			FileType:    source.DeclaredType(ref),
			FileSize:    int64(len(raw)),
			ProcessedAt: now,
		}
	}

	doc := &models.DocumentState{
		DocumentID:  docID,
		Fingerprint: fp,
		Filename:    ref.Filename,
		SourceURL:   ref.URL,
	}
	removed, err := store.ApplyDocument(ctx, doc, chunks, vectors, records)
	if err != nil {
		return false, err
	}
	report.Processed++
	report.ChunksIndexed += len(chunks)
	report.ChunksRemoved += removed
	chars := 0
	for _, ch := range chunks {
		chars += len(ch.Text)
	}
	report.ProcessedFiles = append(report.ProcessedFiles, models.ProcessedFile{
		DocumentID: docID,
		Filename:   ref.Filename,
		Chunks:     len(chunks),
		Characters: chars,
	})
	return true, nil
}

// embedChunks embeds chunk texts in batches, preserving chunk order.
func (c *Coordinator) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += c.opts.EmbedBatchSize {
		end := start + c.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		batch, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// RemoveDocument tombstones a single document's chunks and persists the
// change. Returns the number of chunks removed.
func (c *Coordinator) RemoveDocument(ctx context.Context, clientID, docID string) (int, error) {
	store, err := c.registry.Get(clientID)
	if err != nil {
		return 0, err
	}
	if err := store.BeginWrite(); err != nil {
		return 0, err
	}
	defer store.EndWrite()

	removed, err := store.RemoveDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	store.Compact(c.opts.CompactThreshold, false)
	if err := store.Persist(); err != nil {
		return removed, fmt.Errorf("persist after remove: %w", err)
	}
	c.logger.Info("document removed",
		zap.String("client_id", clientID),
		zap.String("document_id", docID),
		zap.Int("chunks_removed", removed),
	)
	return removed, nil
}

// Compact forces or threshold-checks compaction for a client and persists
// when anything was reclaimed.
func (c *Coordinator) Compact(clientID string, force bool) (int, error) {
	store, err := c.registry.Get(clientID)
	if err != nil {
		return 0, err
	}
	if err := store.BeginWrite(); err != nil {
		return 0, err
	}
	defer store.EndWrite()

	reclaimed := store.Compact(c.opts.CompactThreshold, force)
	if reclaimed == 0 {
		return 0, nil
	}
	if err := store.Persist(); err != nil {
		return reclaimed, fmt.Errorf("persist after compact: %w", err)
	}
	return reclaimed, nil
}
