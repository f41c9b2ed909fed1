// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("replyforge.orchestrator.vectorstore")

const upsertBatchSize = 100

// WeaviateStore implements VectorStore against a Weaviate instance.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore wraps an already-configured client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// chunkClass builds the schema for one agent's collection. Vectors come from
// our own embedder, so the class carries no vectorizer.
func chunkClass(agentId string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:      ClassNameForAgent(agentId),
		Vectorizer: "none",
		Properties: []*models.Property{
			{
				Name:            "agentId",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "documentId",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "documentType",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "documentTitle",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:         "source",
				DataType:     []string{"text"},
				Tokenization: "field",
			},
			{
				Name:     "chunkIndex",
				DataType: []string{"int"},
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:         "language",
				DataType:     []string{"text"},
				Tokenization: "field",
			},
		},
	}
}

// EnsureCollection implements VectorStore.
func (s *WeaviateStore) EnsureCollection(ctx context.Context, agentId string) error {
	className := ClassNameForAgent(agentId)

	_, err := s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
	if err == nil {
		return nil
	}

	slog.Info("Creating chunk collection", "class", className, "agent_id", agentId)
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(agentId)).Do(ctx); err != nil {
		return errs.Wrap(errs.RemoteFailed, "creating chunk collection", err)
	}
	return nil
}

// CollectionExists implements VectorStore.
func (s *WeaviateStore) CollectionExists(ctx context.Context, agentId string) (bool, error) {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(ClassNameForAgent(agentId)).
		Do(ctx)
	if err != nil {
		return false, errs.Wrap(errs.RemoteFailed, "checking chunk collection", err)
	}
	return exists, nil
}

// UpsertChunks implements VectorStore. Chunk ids are deterministic, so a
// re-ingest of the same document overwrites its prior points.
func (s *WeaviateStore) UpsertChunks(ctx context.Context, agentId string, chunks []Chunk) (int, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.UpsertChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent_id", agentId),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return 0, nil
	}

	className := ClassNameForAgent(agentId)
	accepted := 0

	for i := 0; i < len(chunks); i += upsertBatchSize {
		if err := ctx.Err(); err != nil {
			return accepted, errs.Wrap(errs.Cancelled, "upsert interrupted", err)
		}

		end := i + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		objects := make([]*models.Object, len(batch))
		for j, chunk := range batch {
			p := chunk.Payload
			objects[j] = &models.Object{
				Class:  className,
				ID:     strfmt.UUID(ChunkID(agentId, p.DocumentId, p.ChunkIndex)),
				Vector: chunk.Vector,
				Properties: map[string]interface{}{
					"agentId":       p.AgentId,
					"documentId":    p.DocumentId,
					"documentType":  p.DocumentType,
					"documentTitle": p.DocumentTitle,
					"source":        p.Source,
					"chunkIndex":    p.ChunkIndex,
					"text":          p.Text,
					"language":      p.Language,
				},
			}
		}

		result, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch upsert failed")
			return accepted, errs.Wrap(errs.RemoteFailed, "chunk batch upsert", err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors == nil {
				accepted++
			}
		}
	}

	slog.Info("Upserted chunks", "agent_id", agentId, "accepted", accepted, "total", len(chunks))
	return accepted, nil
}

// DeleteByDocument implements VectorStore.
func (s *WeaviateStore) DeleteByDocument(ctx context.Context, agentId, documentId string) error {
	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueString(documentId)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassNameForAgent(agentId)).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return errs.Wrap(errs.RemoteFailed, "deleting document chunks", err)
	}
	slog.Info("Deleted document chunks", "agent_id", agentId, "document_id", documentId)
	return nil
}

// DeleteCollection implements VectorStore.
func (s *WeaviateStore) DeleteCollection(ctx context.Context, agentId string) error {
	className := ClassNameForAgent(agentId)
	exists, err := s.CollectionExists(ctx, agentId)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := s.client.Schema().ClassDeleter().WithClassName(className).Do(ctx); err != nil {
		return errs.Wrap(errs.RemoteFailed, "dropping chunk collection", err)
	}
	slog.Info("Dropped chunk collection", "class", className)
	return nil
}

// Search implements VectorStore. Certainty is requested instead of distance
// so scores are always in [0,1] regardless of the distance metric.
func (s *WeaviateStore) Search(ctx context.Context, agentId string, vector []float32, limit int) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agentId), attribute.Int("limit", limit))

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "agentId"},
		{Name: "documentId"},
		{Name: "documentType"},
		{Name: "documentTitle"},
		{Name: "source"},
		{Name: "chunkIndex"},
		{Name: "text"},
		{Name: "language"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	className := ClassNameForAgent(agentId)
	result, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, errs.Wrap(errs.RemoteFailed, "vector search", err)
	}
	if len(result.Errors) > 0 {
		return nil, errs.Newf(errs.RemoteFailed, "vector search: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []ScoredChunk{}, nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return []ScoredChunk{}, nil
	}

	hits := make([]ScoredChunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := ScoredChunk{
			Payload: datatypes.ChunkPayload{
				AgentId:       getString(m, "agentId"),
				DocumentId:    getString(m, "documentId"),
				DocumentType:  getString(m, "documentType"),
				DocumentTitle: getString(m, "documentTitle"),
				Source:        getString(m, "source"),
				ChunkIndex:    getInt(m, "chunkIndex"),
				Text:          getString(m, "text"),
				Language:      getString(m, "language"),
			},
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				hit.Score = certainty
			}
		}
		hits = append(hits, hit)
	}

	sortHits(hits)
	return hits, nil
}

// Stats implements VectorStore via a meta-count aggregate.
func (s *WeaviateStore) Stats(ctx context.Context, agentId string) (*CollectionStats, error) {
	exists, err := s.CollectionExists(ctx, agentId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &CollectionStats{}, nil
	}

	className := ClassNameForAgent(agentId)
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.RemoteFailed, "aggregating chunk count", err)
	}

	stats := &CollectionStats{Exists: true}
	if data, ok := result.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[className].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						stats.ChunkCount = int(count)
					}
				}
			}
		}
	}
	return stats, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}

var _ VectorStore = (*WeaviateStore)(nil)
