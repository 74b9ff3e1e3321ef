// Package chunker splits document text into overlapping fragments with deterministic identity.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/vecdex/internal/models"
)

// DefaultChunkSize and DefaultChunkOverlap are byte budgets used when the
// configured values are zero or invalid.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var listMarker = regexp.MustCompile(`(?m)^\s*[\-\*\d]+[\.\)]?\s`)

// Chunker splits normalized text into overlapping byte-budget chunks,
// preferring paragraph and sentence boundaries over hard cuts. Cuts always
// land on rune boundaries, so chunk text stays valid UTF-8.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in bytes).
// Invalid values fall back to the defaults (1000/200).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 5
		}
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Chunk splits text into ordered chunks. Identical input always produces
// identical output, including chunk ids. Empty or whitespace-only text
// returns nil. A tail fragment shorter than the overlap is kept as-is.
func (c *Chunker) Chunk(docID, text string) []models.Chunk {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	var chunks []models.Chunk
	pos := 0
	index := 0
	for pos < len(normalized) {
		end := pos + c.chunkSize
		if end >= len(normalized) {
			end = len(normalized)
		} else {
			end = splitPoint(normalized, pos, end)
		}
		segment := strings.TrimSpace(normalized[pos:end])
		if segment != "" {
			chunks = append(chunks, models.Chunk{
				ID:         ChunkID(docID, index, segment),
				DocumentID: docID,
				Index:      index,
				Text:       segment,
				StartChar:  pos,
				EndChar:    end,
			})
			index++
		}
		if end >= len(normalized) {
			break
		}
		next := end - c.chunkOverlap
		if next <= pos {
			next = pos + 1
		}
		// The overlap is a byte count, so the restart can land inside a
		// multi-byte rune; move forward to the next rune start.
		for next < len(normalized) && !utf8.RuneStart(normalized[next]) {
			next++
		}
		pos = next
	}
	return chunks
}

// splitPoint returns a cut position after pos that lands on a natural
// boundary when one exists in the second half of the window: paragraph break,
// then line break, then sentence end, then word boundary. Falls back to a
// hard cut at limit, backed off so a multi-byte rune is never split.
func splitPoint(text string, pos, limit int) int {
	window := text[pos:limit]
	min := len(window) / 2
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if i := strings.LastIndex(window, sep); i > min {
			return pos + i + len(sep)
		}
	}
	cut := limit
	for cut > pos && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == pos {
		// Window narrower than the rune at pos; cut after it instead.
		_, n := utf8.DecodeRuneInString(text[pos:])
		return pos + n
	}
	return cut
}

// ChunkID returns the deterministic chunk id: a hex digest over the document
// id, the chunk ordinal, and the normalized chunk text. Any edit to the text
// changes the id for that ordinal; unchanged content keeps its id across
// re-ingestion.
func ChunkID(docID string, index int, normalizedText string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s", docID, index, normalizedText)
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize canonicalizes text before chunking and hashing: CRLF to LF, runs
// of spaces and tabs collapsed, three or more newlines collapsed to a
// paragraph break, surrounding whitespace trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var b strings.Builder
	b.Grow(len(text))
	spaces := 0
	newlines := 0
	for _, r := range text {
		switch r {
		case ' ', '\t':
			spaces++
		case '\n':
			spaces = 0
			newlines++
		default:
			if newlines > 0 {
				if newlines > 2 {
					newlines = 2
				}
				for i := 0; i < newlines; i++ {
					b.WriteByte('\n')
				}
				newlines = 0
			} else if spaces > 0 {
				b.WriteByte(' ')
			}
			spaces = 0
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// HasTable reports whether the chunk text looks like it contains tabular content.
func HasTable(text string) bool {
	return strings.Contains(text, "|") || strings.Contains(strings.ToLower(text), "table")
}

// HasList reports whether the chunk text contains list markers.
func HasList(text string) bool {
	return listMarker.MatchString(text)
}
