// Package parser extracts plain text from raw document bytes. Format support
// is pluggable: implementations register under the declared file types they
// handle, and image/OCR or other exotic formats are just more registrations.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnsupportedFormat is returned when no parser is registered for the declared type.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ErrFileTooLarge is returned when the raw content exceeds the configured limit.
var ErrFileTooLarge = errors.New("file too large")

// Func parses raw document bytes into plain text.
type Func func(raw []byte) (string, error)

// Registry maps declared file types (extension with leading dot, lowercase)
// to parser implementations.
type Registry struct {
	mu          sync.RWMutex
	parsers     map[string]Func
	maxFileSize int64 // bytes; 0 = unlimited
}

// NewRegistry returns a registry with the built-in parsers registered:
// plain text (.txt, .md, .rst, .html), PDF, DOCX, and XLSX.
func NewRegistry(maxFileSize int64) *Registry {
	r := &Registry{
		parsers:     make(map[string]Func),
		maxFileSize: maxFileSize,
	}
	for _, ext := range []string{".txt", ".md", ".rst", ""} {
		r.Register(ext, parsePlain)
	}
	r.Register(".html", parseHTML)
	r.Register(".htm", parseHTML)
	r.Register(".pdf", parsePDF)
	r.Register(".docx", parseDOCX)
	r.Register(".xlsx", parseExcel)
	return r
}

// Register adds (or replaces) the parser for a declared type.
func (r *Registry) Register(declaredType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[normalizeType(declaredType)] = fn
}

// Supports reports whether a parser is registered for the declared type.
func (r *Registry) Supports(declaredType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[normalizeType(declaredType)]
	return ok
}

// Parse extracts plain text from raw bytes using the parser registered for
// declaredType. Returns ErrUnsupportedFormat for unregistered types and
// ErrFileTooLarge when raw exceeds the size limit.
func (r *Registry) Parse(raw []byte, declaredType string) (string, error) {
	if r.maxFileSize > 0 && int64(len(raw)) > r.maxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFileTooLarge, len(raw), r.maxFileSize)
	}
	r.mu.RLock()
	fn, ok := r.parsers[normalizeType(declaredType)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, declaredType)
	}
	return fn(raw)
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t != "" && !strings.HasPrefix(t, ".") {
		t = "." + t
	}
	return t
}
