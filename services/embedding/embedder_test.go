// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBatches(t *testing.T) {
	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	batches := SplitBatches(texts)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], MaxBatchSize)
	assert.Len(t, batches[1], MaxBatchSize)
	assert.Len(t, batches[2], 150-2*MaxBatchSize)
	assert.Equal(t, "chunk 0", batches[0][0])
	assert.Equal(t, "chunk 64", batches[1][0])
	assert.Equal(t, "chunk 149", batches[2][len(batches[2])-1])
}

func TestSplitBatches_Empty(t *testing.T) {
	assert.Nil(t, SplitBatches(nil))
}

func TestValidateBatchResult(t *testing.T) {
	texts := []string{"a", "b"}
	good := [][]float32{{1, 2, 3}, {4, 5, 6}}
	assert.NoError(t, ValidateBatchResult(texts, good, 3))

	short := [][]float32{{1, 2, 3}}
	assert.Error(t, ValidateBatchResult(texts, short, 3))

	wrongDim := [][]float32{{1, 2, 3}, {4, 5}}
	assert.Error(t, ValidateBatchResult(texts, wrongDim, 3))
}

func TestHTTPEmbedder_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batch_embed", r.URL.Path)
		var req batchEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vectors := make([][]float32, len(req.Texts))
		for i := range vectors {
			vectors[i] = []float32{float32(i), 1, 2}
		}
		json.NewEncoder(w).Encode(batchEmbedResponse{Vectors: vectors, Dim: 3})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL+"/embed", 3)
	vectors, err := e.EmbedBatch(context.Background(), []string{"one", "two"})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0, 1, 2}, vectors[0])
}

func TestHTTPEmbedder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, 3)
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "503")
}

func TestHTTPEmbedder_OversizedBatch(t *testing.T) {
	e := NewHTTPEmbedder("http://example.invalid", 3)
	_, err := e.EmbedBatch(context.Background(), make([]string, MaxBatchSize+1))
	assert.Error(t, err)
}
