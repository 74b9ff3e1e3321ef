package models

// SearchResult is a single ranked hit joined with its metadata record.
type SearchResult struct {
	ChunkID      string          `json:"chunk_id"`
	Score        float64         `json:"score"`          // blended score used for ranking
	VectorScore  float64         `json:"vector_score"`   // raw inner-product similarity
	KeywordScore float64         `json:"keyword_score"`  // term-overlap relevance component
	Text         string          `json:"text"`
	DocumentID   string          `json:"document_id"`
	ChunkIndex   int             `json:"chunk_index"`
	SourceURL    string          `json:"source_url,omitempty"`
	Filename     string          `json:"filename,omitempty"`
	Metadata     *MetadataRecord `json:"metadata,omitempty"`
	Rank         int             `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	ClientID  string          `json:"client_id"`
}
