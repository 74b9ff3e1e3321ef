package models

import "time"

// DocumentFailure records a single document that could not be processed during a batch.
type DocumentFailure struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
	Reason     string `json:"reason"`
}

// ProcessedFile summarizes one successfully reconciled document.
type ProcessedFile struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
	Chunks     int    `json:"chunks"`
	Characters int    `json:"characters"`
}

// IngestReport is the per-batch ingestion statistics.
// A single document's failure never aborts the batch; it lands in Failures.
type IngestReport struct {
	BatchID          string            `json:"batch_id"`
	ClientID         string            `json:"client_id"`
	Total            int               `json:"total_documents"`
	Processed        int               `json:"processed"`
	SkippedUnchanged int               `json:"skipped_unchanged"`
	ChunksIndexed    int               `json:"chunks_indexed"`
	ChunksRemoved    int               `json:"chunks_removed"`
	Failures         []DocumentFailure `json:"failures,omitempty"`
	ProcessedFiles   []ProcessedFile   `json:"processed_files,omitempty"`
	Cancelled        bool              `json:"cancelled,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
}

// IndexStats describes the state of one client's index.
type IndexStats struct {
	ClientID      string         `json:"client_id"`
	Status        string         `json:"status"` // "ready" or "empty"
	LiveVectors   int            `json:"live_vectors"`
	Tombstoned    int            `json:"tombstoned"`
	Dimension     int            `json:"dimension"`
	Model         string         `json:"model"`
	Documents     int            `json:"documents"`
	Sources       map[string]int `json:"sources_distribution,omitempty"`
	FileTypes     map[string]int `json:"file_types_distribution,omitempty"`
	Categories    map[string]int `json:"categories_distribution,omitempty"`
	AvgChunkSize  float64        `json:"average_chunk_size,omitempty"`
	LastUpdated   time.Time      `json:"last_updated,omitempty"`
	ChunkSize     int            `json:"chunk_size,omitempty"`
	ChunkOverlap  int            `json:"chunk_overlap,omitempty"`
}
