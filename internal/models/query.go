package models

import "fmt"

// SearchFilters restricts search results by chunk metadata.
type SearchFilters struct {
	FileTypes  []string `json:"file_types,omitempty"`  // extensions with leading dot
	Categories []string `json:"categories,omitempty"`
	DateFrom   string   `json:"date_from,omitempty"` // inclusive, ISO date string
	DateTo     string   `json:"date_to,omitempty"`   // inclusive
}

// Empty reports whether no filter is set.
func (f *SearchFilters) Empty() bool {
	return f == nil || (len(f.FileTypes) == 0 && len(f.Categories) == 0 && f.DateFrom == "" && f.DateTo == "")
}

// SearchQuery represents a search request against one client's index.
type SearchQuery struct {
	Query    string         `json:"query"`
	K        int            `json:"k,omitempty"`
	MinScore float64        `json:"min_score,omitempty"`
	Filters  *SearchFilters `json:"filters,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the query text is empty; otherwise clamps K.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = 10
	}
	if q.K > 100 {
		q.K = 100
	}
	return nil
}
