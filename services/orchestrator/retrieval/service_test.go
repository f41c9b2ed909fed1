// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

// stubVectors serves canned hits for one agent.
type stubVectors struct {
	agentId string
	hits    []vectorstore.ScoredChunk
}

func (s *stubVectors) EnsureCollection(context.Context, string) error { return nil }
func (s *stubVectors) CollectionExists(_ context.Context, agentId string) (bool, error) {
	return agentId == s.agentId, nil
}
func (s *stubVectors) UpsertChunks(context.Context, string, []vectorstore.Chunk) (int, error) {
	return 0, nil
}
func (s *stubVectors) DeleteByDocument(context.Context, string, string) error { return nil }
func (s *stubVectors) DeleteCollection(context.Context, string) error         { return nil }
func (s *stubVectors) Search(_ context.Context, _ string, _ []float32, limit int) ([]vectorstore.ScoredChunk, error) {
	if limit > len(s.hits) {
		limit = len(s.hits)
	}
	return s.hits[:limit], nil
}
func (s *stubVectors) Stats(context.Context, string) (*vectorstore.CollectionStats, error) {
	return &vectorstore.CollectionStats{Exists: true, ChunkCount: len(s.hits)}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (stubEmbedder) Dimension() int { return 3 }

func setup(t *testing.T, hits []vectorstore.ScoredChunk) (*Service, string) {
	t.Helper()
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	agent := &datatypes.Agent{
		Id:        uuid.NewString(),
		Name:      "kb",
		AgentType: datatypes.AgentTypeResponse,
		Settings:  datatypes.DefaultAgentSettings(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, docs.PutAgent(context.Background(), agent))

	vectors := &stubVectors{agentId: agent.Id, hits: hits}
	return NewService(docs, vectors, stubEmbedder{}), agent.Id
}

func sampleHits() []vectorstore.ScoredChunk {
	return []vectorstore.ScoredChunk{
		{Score: 0.91, Payload: datatypes.ChunkPayload{DocumentId: "d1", DocumentTitle: "FAQ", DocumentType: "file", Source: "faq.md", ChunkIndex: 3, Text: "refund policy"}},
		{Score: 0.84, Payload: datatypes.ChunkPayload{DocumentId: "d2", DocumentTitle: "Site", DocumentType: "website", Source: "https://example.com", ChunkIndex: 0, Text: "shipping info"}},
		{Score: 0.7, Payload: datatypes.ChunkPayload{DocumentId: "d1", DocumentTitle: "FAQ", DocumentType: "file", Source: "faq.md", ChunkIndex: 1, Text: "returns"}},
	}
}

func TestSearchRankingAndGrouping(t *testing.T) {
	svc, agentId := setup(t, sampleHits())

	resp, err := svc.Search(context.Background(), agentId, "refunds", 10)
	require.NoError(t, err)

	assert.True(t, resp.CollectionExists)
	require.Len(t, resp.Hits, 3)
	assert.Equal(t, 1, resp.Hits[0].Rank)
	assert.Equal(t, 91, resp.Hits[0].RelevancePercentage)
	assert.Equal(t, 4, resp.Hits[0].ChunkNumber)
	assert.Equal(t, 3, resp.Hits[2].Rank)

	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "faq.md", resp.Documents[0].Source)
	assert.Equal(t, 2, resp.Documents[0].Chunks)
	assert.Equal(t, 0.91, resp.Documents[0].BestScore)
	assert.Equal(t, "https://example.com", resp.Documents[1].Source)
}

func TestSearchMissingCollectionShortCircuits(t *testing.T) {
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	agent := &datatypes.Agent{
		Id:        uuid.NewString(),
		Name:      "fresh",
		AgentType: datatypes.AgentTypeResponse,
		Settings:  datatypes.DefaultAgentSettings(),
	}
	require.NoError(t, docs.PutAgent(context.Background(), agent))

	// The stub has a collection only for a different agent, so this agent
	// has never indexed anything.
	svc := NewService(docs, &stubVectors{agentId: "someone-else"}, stubEmbedder{})

	resp, err := svc.Search(context.Background(), agent.Id, "anything", 0)
	require.NoError(t, err)
	assert.False(t, resp.CollectionExists)
	assert.Empty(t, resp.Hits)
}

func TestSearchEmptyCollectionYieldsNoHits(t *testing.T) {
	svc, agentId := setup(t, nil)

	resp, err := svc.Search(context.Background(), agentId, "anything", 0)
	require.NoError(t, err)
	assert.True(t, resp.CollectionExists)
	assert.Empty(t, resp.Hits)
}

func TestSearchValidation(t *testing.T) {
	svc, agentId := setup(t, sampleHits())
	ctx := context.Background()

	_, err := svc.Search(ctx, agentId, "", 5)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	// Whitespace trims down to nothing and must fail the same way.
	_, err = svc.Search(ctx, agentId, "   \n\t ", 5)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	_, err = svc.Search(ctx, agentId, "q", MaxTopK+1)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	_, err = svc.Search(ctx, agentId, "q", -1)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	_, err = svc.Search(ctx, "missing-agent", "q", 5)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestSearchDefaultLimit(t *testing.T) {
	hits := make([]vectorstore.ScoredChunk, 12)
	for i := range hits {
		hits[i] = vectorstore.ScoredChunk{
			Score:   1 - float64(i)*0.05,
			Payload: datatypes.ChunkPayload{DocumentId: "d", Source: "s", ChunkIndex: i},
		}
	}
	svc, agentId := setup(t, hits)

	resp, err := svc.Search(context.Background(), agentId, "q", 0)
	require.NoError(t, err)
	assert.Len(t, resp.Hits, DefaultTopK)
}
