// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorstore holds the chunk index. Each agent owns one logical
// collection; chunks are addressed by deterministic ids so re-ingesting a
// document overwrites its old points instead of duplicating them.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

// Chunk is one embedded chunk ready for upsert.
type Chunk struct {
	Payload datatypes.ChunkPayload
	Vector  []float32
}

// ScoredChunk is one search result with its cosine certainty in [0,1].
type ScoredChunk struct {
	Score   float64
	Payload datatypes.ChunkPayload
}

// CollectionStats summarizes an agent's collection for the stats endpoint.
type CollectionStats struct {
	Exists     bool `json:"exists"`
	ChunkCount int  `json:"chunk_count"`
}

// VectorStore is the chunk index contract.
type VectorStore interface {
	// EnsureCollection creates the agent's collection if missing. Idempotent.
	EnsureCollection(ctx context.Context, agentId string) error
	// CollectionExists reports whether the agent has a collection at all.
	CollectionExists(ctx context.Context, agentId string) (bool, error)
	// UpsertChunks writes the chunks, returning how many were accepted.
	UpsertChunks(ctx context.Context, agentId string, chunks []Chunk) (int, error)
	// DeleteByDocument removes every chunk belonging to the document.
	DeleteByDocument(ctx context.Context, agentId, documentId string) error
	// DeleteCollection drops the agent's collection entirely.
	DeleteCollection(ctx context.Context, agentId string) error
	// Search runs a nearest-neighbor query and returns hits sorted by
	// descending score, ties broken by document id then chunk index.
	Search(ctx context.Context, agentId string, vector []float32, limit int) ([]ScoredChunk, error)
	// Stats returns the collection's size for diagnostics.
	Stats(ctx context.Context, agentId string) (*CollectionStats, error)
}

// ClassNameForAgent derives the Weaviate class name from the agent id.
// Class names must match ^[A-Z][_0-9A-Za-z]*$, so the uuid's dashes go.
func ClassNameForAgent(agentId string) string {
	return "AgentChunks_" + strings.ReplaceAll(agentId, "-", "")
}

// ChunkID derives a stable uuid for a chunk from its coordinates. Refreshing
// a document therefore overwrites its points in place.
func ChunkID(agentId, documentId string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", agentId, documentId, chunkIndex)))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// sha256 always yields 16 usable bytes; unreachable.
		panic(err)
	}
	return id.String()
}

// sortHits orders search results: score descending, then document id, then
// chunk index. Stable output makes ranked responses deterministic.
func sortHits(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Payload.DocumentId != hits[j].Payload.DocumentId {
			return hits[i].Payload.DocumentId < hits[j].Payload.DocumentId
		}
		return hits[i].Payload.ChunkIndex < hits[j].Payload.ChunkIndex
	})
}
