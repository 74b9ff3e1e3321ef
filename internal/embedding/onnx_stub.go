//go:build !onnx || !cgo
// +build !onnx !cgo

package embedding

import (
	"context"
	"fmt"
)

// ONNXEmbedder is a stub that returns an error when ONNX support is not
// compiled in. Build with -tags=onnx and CGO enabled for the real implementation.
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error because ONNX support is not available.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, fmt.Errorf("ONNX embedder not available: build with -tags=onnx and install onnxruntime")
}

// Embed is not implemented without ONNX.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("ONNX embedder not available")
}

// EmbedBatch is not implemented without ONNX.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("ONNX embedder not available")
}

// Dimensions returns 0 without ONNX.
func (e *ONNXEmbedder) Dimensions() int { return 0 }

// Model returns an empty model identifier without ONNX.
func (e *ONNXEmbedder) Model() string { return "" }

// Close is a no-op without ONNX.
func (e *ONNXEmbedder) Close() error { return nil }
