package search

import (
	"sort"
	"strings"

	"github.com/hyperjump/vecdex/internal/models"
)

// Blend weights for the final ranking score. Vector similarity dominates;
// the keyword component breaks near-ties in favor of chunks that literally
// contain the query terms.
const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

// Field boosts for keyword matches outside the chunk body.
const (
	titleBoost    = 0.3
	filenameBoost = 0.2
)

// rerank computes each result's keyword-relevance component, blends it with
// the vector score, and sorts by the blended score (descending, stable so
// equal scores keep index order).
func rerank(query string, results []*models.SearchResult) {
	terms := queryTerms(query)
	for _, r := range results {
		r.KeywordScore = keywordRelevance(terms, r)
		r.Score = semanticWeight*r.VectorScore + keywordWeight*r.KeywordScore
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// keywordRelevance scores a result by the fraction of query terms found in
// its text, boosted for matches in the title and filename. Clamped to [0, 1].
func keywordRelevance(terms []string, r *models.SearchResult) float64 {
	if len(terms) == 0 {
		return 0
	}
	text := strings.ToLower(r.Text)
	var title, filename string
	if r.Metadata != nil {
		title = strings.ToLower(r.Metadata.Title)
	}
	filename = strings.ToLower(r.Filename)

	matched := 0
	boost := 0.0
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched++
		}
		if title != "" && strings.Contains(title, term) {
			boost += titleBoost / float64(len(terms))
		}
		if filename != "" && strings.Contains(filename, term) {
			boost += filenameBoost / float64(len(terms))
		}
	}
	score := float64(matched)/float64(len(terms)) + boost
	if score > 1 {
		score = 1
	}
	return score
}

// queryTerms lowercases and splits the query, dropping single-character
// fragments that would match almost anything.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}

// containsFold reports whether list contains s, case-insensitively.
func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
