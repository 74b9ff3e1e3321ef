// Package models defines core data structures for documents, chunks, queries, and reports.
package models

import "time"

// DocumentRef identifies a document available from a document source.
// Descriptive fields come from the source listing and are carried into chunk metadata.
type DocumentRef struct {
	ID           string `json:"id,omitempty"` // stable document id; derived from GUID/URL when empty
	URL          string `json:"url"`
	GUID         string `json:"guid,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	Date         string `json:"date,omitempty"`
	Parent       string `json:"parent,omitempty"`
	Filename     string `json:"filename,omitempty"`
	DeclaredType string `json:"file_type,omitempty"` // extension with leading dot, e.g. ".pdf"
}

// DocumentState is what a client store remembers about an ingested document:
// its content fingerprint and the chunk ids it currently owns.
type DocumentState struct {
	DocumentID  string    `json:"document_id"`
	Fingerprint string    `json:"fingerprint"`
	ChunkIDs    []string  `json:"chunk_ids"`
	Filename    string    `json:"filename,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
}
