// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval answers "what does this agent know about X": embed the
// query, search the agent's collection, rank and group the results.
package retrieval

import (
	"context"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/embedding"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

var tracer = otel.Tracer("replyforge.orchestrator.retrieval")

const (
	// DefaultTopK applies when the caller passes no limit.
	DefaultTopK = 5
	// MaxTopK bounds how many chunks one search may return.
	MaxTopK = 20
)

// Service runs vector retrieval for agents.
type Service struct {
	docs     docstore.Store
	vectors  vectorstore.VectorStore
	embedder embedding.Embedder
}

// NewService wires the retrieval service.
func NewService(docs docstore.Store, vectors vectorstore.VectorStore, embedder embedding.Embedder) *Service {
	return &Service{docs: docs, vectors: vectors, embedder: embedder}
}

// Search embeds the query and returns ranked hits plus per-document
// grouping. An agent without a collection yields an empty result with
// CollectionExists=false rather than an error: a brand-new agent simply
// knows nothing yet.
func (s *Service) Search(ctx context.Context, agentId, query string, limit int) (*datatypes.SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agentId), attribute.Int("limit", limit))

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.New(errs.InvalidInput, "query must not be empty")
	}
	switch {
	case limit == 0:
		limit = DefaultTopK
	case limit < 0 || limit > MaxTopK:
		return nil, errs.Newf(errs.InvalidInput, "limit must be between 1 and %d", MaxTopK)
	}

	if _, err := s.docs.GetAgent(ctx, agentId); err != nil {
		return nil, err
	}

	resp := &datatypes.SearchResponse{
		Query: query,
		Hits:  []datatypes.SearchHit{},
	}

	exists, err := s.vectors.CollectionExists(ctx, agentId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return resp, nil
	}
	resp.CollectionExists = true

	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, errs.Wrap(errs.RemoteFailed, "embedding query", err)
	}
	if len(vectors) != 1 {
		return nil, errs.Newf(errs.RemoteFailed, "embedder returned %d vectors for one query", len(vectors))
	}

	hits, err := s.vectors.Search(ctx, agentId, vectors[0], limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		return nil, err
	}

	resp.Hits = rankHits(hits)
	resp.Documents = groupByDocument(resp.Hits)
	return resp, nil
}

// rankHits converts scored chunks into the wire shape. The store already
// sorted them; rank is 1-based position.
func rankHits(hits []vectorstore.ScoredChunk) []datatypes.SearchHit {
	out := make([]datatypes.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = datatypes.SearchHit{
			Rank:                i + 1,
			Score:               h.Score,
			RelevancePercentage: int(math.Round(h.Score * 100)),
			Text:                h.Payload.Text,
			DocumentTitle:       h.Payload.DocumentTitle,
			DocumentType:        h.Payload.DocumentType,
			ChunkNumber:         h.Payload.ChunkIndex + 1,
			Source:              h.Payload.Source,
		}
	}
	return out
}

// groupByDocument summarizes hits per source document, ordered by each
// document's best-ranked hit.
func groupByDocument(hits []datatypes.SearchHit) []datatypes.DocumentSummary {
	index := make(map[string]int)
	var groups []datatypes.DocumentSummary
	for _, h := range hits {
		key := h.Source
		if i, ok := index[key]; ok {
			groups[i].Chunks++
			if h.Score > groups[i].BestScore {
				groups[i].BestScore = h.Score
			}
			continue
		}
		index[key] = len(groups)
		groups = append(groups, datatypes.DocumentSummary{
			Title:     h.DocumentTitle,
			Type:      h.DocumentType,
			Source:    h.Source,
			Chunks:    1,
			BestScore: h.Score,
		})
	}
	return groups
}
