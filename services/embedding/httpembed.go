// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPEmbedder talks to a self-hosted embedding sidecar exposing a
// /batch_embed endpoint. Useful for local deployments that run their own
// sentence-transformer model instead of a hosted provider.
type HTTPEmbedder struct {
	httpClient *http.Client
	batchURL   string
	dimension  int
}

type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbedResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// NewHTTPEmbedder points at the sidecar base URL (with or without a
// trailing /embed path) and the expected vector dimension.
func NewHTTPEmbedder(baseURL string, dimension int) *HTTPEmbedder {
	batchURL := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed") + "/batch_embed"
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		batchURL:   batchURL,
		dimension:  dimension,
	}
}

// Dimension implements Embedder.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

// EmbedBatch implements Embedder.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds maximum %d", len(texts), MaxBatchSize)
	}

	jsonData, err := json.Marshal(batchEmbedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.batchURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call batch embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp batchEmbedResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}
	if err := ValidateBatchResult(texts, batchResp.Vectors, e.dimension); err != nil {
		return nil, err
	}
	return batchResp.Vectors, nil
}

var _ Embedder = (*HTTPEmbedder)(nil)
