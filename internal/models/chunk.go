package models

// Chunk is a bounded slice of a document's text, the unit of embedding and retrieval.
// The ID is a deterministic digest of (document id, chunk index, normalized text),
// so re-chunking unchanged content yields byte-identical ids.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

// MetadataRecord is the per-chunk descriptive payload stored one-to-one with
// the chunk's vector index entry.
type MetadataRecord struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkSize  int    `json:"chunk_size"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	HasTables  bool   `json:"has_tables,omitempty"`
	HasLists   bool   `json:"has_lists,omitempty"`

	// Document-level fields copied from the source listing.
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Date        string `json:"date,omitempty"`
	Parent      string `json:"parent,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	ProcessedAt string `json:"processed_at,omitempty"`
}
