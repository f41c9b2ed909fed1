// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embedding maps text to fixed-dimension vectors for retrieval.
package embedding

import (
	"context"
	"fmt"
)

// MaxBatchSize is the largest number of texts a single provider call may
// carry. Callers with more texts must split.
const MaxBatchSize = 64

// Embedder is the contract the ingestion and retrieval pipelines depend on.
// Implementations must be deterministic for a given (model, text) pair and
// return one vector per input text, all with the same dimension.
type Embedder interface {
	// EmbedBatch embeds up to MaxBatchSize texts in one provider call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the fixed vector dimension D.
	Dimension() int
}

// SplitBatches cuts texts into provider-sized batches, preserving order.
func SplitBatches(texts []string) [][]string {
	if len(texts) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(texts)+MaxBatchSize-1)/MaxBatchSize)
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}

// ValidateBatchResult checks the provider honored the one-vector-per-text
// contract with a consistent dimension.
func ValidateBatchResult(texts []string, vectors [][]float32, wantDim int) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != wantDim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), wantDim)
		}
	}
	return nil
}
