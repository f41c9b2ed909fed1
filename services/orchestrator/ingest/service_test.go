// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/weburl"
	"github.com/replyforge/replyforge/services/embedding"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

// fakeVectorStore keeps chunks in memory, keyed by agent then chunk id.
type fakeVectorStore struct {
	mu          sync.Mutex
	collections map[string]map[string]vectorstore.Chunk
	failUpsert  bool
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{collections: make(map[string]map[string]vectorstore.Chunk)}
}

func (f *fakeVectorStore) EnsureCollection(_ context.Context, agentId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[agentId]; !ok {
		f.collections[agentId] = make(map[string]vectorstore.Chunk)
	}
	return nil
}

func (f *fakeVectorStore) CollectionExists(_ context.Context, agentId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[agentId]
	return ok, nil
}

func (f *fakeVectorStore) UpsertChunks(_ context.Context, agentId string, chunks []vectorstore.Chunk) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return 0, errs.New(errs.RemoteFailed, "vector store unavailable")
	}
	coll := f.collections[agentId]
	for _, c := range chunks {
		coll[vectorstore.ChunkID(agentId, c.Payload.DocumentId, c.Payload.ChunkIndex)] = c
	}
	return len(chunks), nil
}

func (f *fakeVectorStore) DeleteByDocument(_ context.Context, agentId, documentId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.collections[agentId] {
		if c.Payload.DocumentId == documentId {
			delete(f.collections[agentId], id)
		}
	}
	return nil
}

func (f *fakeVectorStore) DeleteCollection(_ context.Context, agentId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, agentId)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, agentId string, _ []float32, limit int) ([]vectorstore.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []vectorstore.ScoredChunk
	for _, c := range f.collections[agentId] {
		hits = append(hits, vectorstore.ScoredChunk{Score: 0.5, Payload: c.Payload})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func (f *fakeVectorStore) Stats(_ context.Context, agentId string) (*vectorstore.CollectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.collections[agentId]
	return &vectorstore.CollectionStats{Exists: ok, ChunkCount: len(coll)}, nil
}

func (f *fakeVectorStore) chunkCount(agentId string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[agentId])
}

func (f *fakeVectorStore) chunksByDocument(agentId, documentId string) []vectorstore.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chunks []vectorstore.Chunk
	for _, c := range f.collections[agentId] {
		if c.Payload.DocumentId == documentId {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// fakeEmbedder yields constant-dimension vectors, optionally failing.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding service down")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type testEnv struct {
	service *Service
	docs    *docstore.BadgerStore
	vectors *fakeVectorStore
	embed   *fakeEmbedder
	agent   *datatypes.Agent
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	vectors := newFakeVectorStore()
	embed := &fakeEmbedder{}
	service := NewService(docs, vectors, embed, nil, nil, weburl.NewValidator())

	agent := &datatypes.Agent{
		Id:        uuid.NewString(),
		Name:      "support",
		AgentType: datatypes.AgentTypeResponse,
		Settings:  datatypes.DefaultAgentSettings(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, docs.PutAgent(context.Background(), agent))

	return &testEnv{service: service, docs: docs, vectors: vectors, embed: embed, agent: agent}
}

func TestIngestFileHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	content := strings.Repeat("Our warranty covers manufacturing defects for two years. ", 60)
	doc, err := env.service.IngestFile(ctx, env.agent.Id, "warranty.txt", []byte(content))
	require.NoError(t, err)

	assert.True(t, doc.RagStatus.Processed)
	assert.Greater(t, doc.RagStatus.ChunksCreated, 0)
	assert.Equal(t, doc.RagStatus.ChunksCreated, env.vectors.chunkCount(env.agent.Id))

	stored, err := env.docs.GetDocument(ctx, env.agent.Id, doc.Id)
	require.NoError(t, err)
	assert.True(t, stored.RagStatus.Processed)
}

func TestIngestFileDuplicateFilenameConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.IngestFile(ctx, env.agent.Id, "faq.md", []byte("# FAQ\nAnswers."))
	require.NoError(t, err)

	_, err = env.service.IngestFile(ctx, env.agent.Id, "faq.md", []byte("# FAQ v2"))
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestIngestFileDegradesWhenEmbeddingFails(t *testing.T) {
	env := newTestEnv(t)
	env.embed.fail = true
	ctx := context.Background()

	doc, err := env.service.IngestFile(ctx, env.agent.Id, "notes.txt", []byte("Some support notes."))
	require.NoError(t, err)

	assert.False(t, doc.RagStatus.Processed)
	assert.Contains(t, doc.RagStatus.Error, "embedding")
	assert.NotNil(t, doc.RagStatus.AttemptedAt)

	// The record survives even though indexing failed.
	stored, err := env.docs.GetDocument(ctx, env.agent.Id, doc.Id)
	require.NoError(t, err)
	assert.False(t, stored.RagStatus.Processed)
	assert.Zero(t, env.vectors.chunkCount(env.agent.Id))
}

func TestIngestFileUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.IngestFile(context.Background(), "nope", "a.txt", []byte("x"))
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestIngestFileRejectsEmptyAndUnsupported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.IngestFile(ctx, env.agent.Id, "blank.txt", []byte("   "))
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	_, err = env.service.IngestFile(ctx, env.agent.Id, "binary.exe", []byte{0x4d, 0x5a})
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestUpdateDocumentContentReindexes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.service.IngestFile(ctx, env.agent.Id, "policy.txt",
		[]byte(strings.Repeat("Original policy text. ", 100)))
	require.NoError(t, err)
	before := env.vectors.chunkCount(env.agent.Id)
	require.Greater(t, before, 0)

	newContent := "Short replacement policy."
	updated, err := env.service.UpdateDocument(ctx, env.agent.Id, doc.Id,
		datatypes.UpdateDocumentRequest{Content: &newContent}, NopSink())
	require.NoError(t, err)

	assert.Equal(t, newContent, updated.Content)
	assert.True(t, updated.RagStatus.Processed)
	assert.Equal(t, 1, env.vectors.chunkCount(env.agent.Id))
}

func TestUpdateDocumentRejectsWrongMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.service.IngestFile(ctx, env.agent.Id, "a.txt", []byte("hello world"))
	require.NoError(t, err)

	// Files cannot be refreshed from a url.
	_, err = env.service.UpdateDocument(ctx, env.agent.Id, doc.Id,
		datatypes.UpdateDocumentRequest{RefreshURL: true}, NopSink())
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	// Empty update is invalid.
	_, err = env.service.UpdateDocument(ctx, env.agent.Id, doc.Id, datatypes.UpdateDocumentRequest{}, NopSink())
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

// gatedEmbedder signals each batch start and holds the batch until released.
// Vectors are derived from the text so stored vectors can be traced back to
// the chunk that produced them.
type gatedEmbedder struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	g.started <- struct{}{}
	<-g.release
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), float32(crc32.ChecksumIEEE([]byte(text))), 1}
	}
	return vectors, nil
}

func (g *gatedEmbedder) Dimension() int { return 3 }

func TestIngestFileEmbedsBatchesInParallel(t *testing.T) {
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	vectors := newFakeVectorStore()
	embed := &gatedEmbedder{started: make(chan struct{}, 8), release: make(chan struct{})}
	service := NewService(docs, vectors, embed, nil, nil, weburl.NewValidator())

	agent := &datatypes.Agent{
		Id:        uuid.NewString(),
		Name:      "support",
		AgentType: datatypes.AgentTypeResponse,
		Settings:  datatypes.DefaultAgentSettings(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, docs.PutAgent(context.Background(), agent))

	// Enough distinct paragraphs to produce more than one embedding batch.
	var sb strings.Builder
	for i := 0; i < 90; i++ {
		fmt.Fprintf(&sb, "Paragraph %04d. %s\n\n", i,
			strings.Repeat("Detailed support guidance follows. ", 25))
	}

	type ingestOut struct {
		doc *datatypes.ContextDocument
		err error
	}
	done := make(chan ingestOut, 1)
	go func() {
		doc, err := service.IngestFile(context.Background(), agent.Id, "guide.txt", []byte(sb.String()))
		done <- ingestOut{doc: doc, err: err}
	}()

	// Two batches must be in flight at once. A sequential embedder would
	// hold the first batch here and never start the second.
	for i := 0; i < 2; i++ {
		select {
		case <-embed.started:
		case <-time.After(5 * time.Second):
			t.Fatal("expected a second embedding batch in flight")
		}
	}
	close(embed.release)

	out := <-done
	require.NoError(t, out.err)
	doc := out.doc
	require.True(t, doc.RagStatus.Processed)
	require.Greater(t, doc.RagStatus.ChunksCreated, embedding.MaxBatchSize)

	// Every stored chunk holds the vector embedded from its own text, at
	// its own index, regardless of which batch carried it.
	expected, err := ChunkDocument(doc)
	require.NoError(t, err)
	stored := vectors.chunksByDocument(agent.Id, doc.Id)
	require.Len(t, stored, len(expected))
	byIndex := make(map[int]vectorstore.Chunk, len(stored))
	for _, c := range stored {
		byIndex[c.Payload.ChunkIndex] = c
	}
	for _, p := range expected {
		c, ok := byIndex[p.ChunkIndex]
		require.True(t, ok, "missing chunk %d", p.ChunkIndex)
		assert.Equal(t, p.Text, c.Payload.Text)
		assert.Equal(t, float32(crc32.ChecksumIEEE([]byte(p.Text))), c.Vector[1])
	}
}

func TestDeleteDocumentRemovesChunksAndRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.service.IngestFile(ctx, env.agent.Id, "del.txt", []byte("delete me please"))
	require.NoError(t, err)
	require.Greater(t, env.vectors.chunkCount(env.agent.Id), 0)

	require.NoError(t, env.service.DeleteDocument(ctx, env.agent.Id, doc.Id))

	assert.Zero(t, env.vectors.chunkCount(env.agent.Id))
	_, err = env.docs.GetDocument(ctx, env.agent.Id, doc.Id)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestDeleteAgentDataDropsCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.IngestFile(ctx, env.agent.Id, "kb.txt", []byte("knowledge base entry"))
	require.NoError(t, err)

	require.NoError(t, env.service.DeleteAgentData(ctx, env.agent.Id))

	exists, err := env.vectors.CollectionExists(ctx, env.agent.Id)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = env.docs.GetAgent(ctx, env.agent.Id)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}
