// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/replyforge/services/llm"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/retrieval"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

// recordingLLM notes which prompts ran, in order, and can fail or block
// selectively.
type recordingLLM struct {
	mu      sync.Mutex
	calls   []string
	failFor string

	// blockFor holds matching calls until release is closed.
	blockFor string
	release  chan struct{}
}

func (r *recordingLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, prompt)
	r.mu.Unlock()
	if r.blockFor != "" && strings.Contains(prompt, r.blockFor) {
		<-r.release
	}
	if r.failFor != "" && strings.Contains(prompt, r.failFor) {
		return "", fmt.Errorf("model unavailable")
	}
	return "generated reply", nil
}

func (r *recordingLLM) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []string
}

func (r *recordingDeliverer) DeliverReply(_ context.Context, _, _, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, text)
	return nil
}

type emptyVectors struct{}

func (emptyVectors) EnsureCollection(context.Context, string) error { return nil }
func (emptyVectors) CollectionExists(context.Context, string) (bool, error) {
	return false, nil
}
func (emptyVectors) UpsertChunks(context.Context, string, []vectorstore.Chunk) (int, error) {
	return 0, nil
}
func (emptyVectors) DeleteByDocument(context.Context, string, string) error { return nil }
func (emptyVectors) DeleteCollection(context.Context, string) error         { return nil }
func (emptyVectors) Search(context.Context, string, []float32, int) ([]vectorstore.ScoredChunk, error) {
	return nil, nil
}
func (emptyVectors) Stats(context.Context, string) (*vectorstore.CollectionStats, error) {
	return &vectorstore.CollectionStats{}, nil
}

type unitEmbedder struct{}

func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (unitEmbedder) Dimension() int { return 1 }

type fixture struct {
	exec      *Executor
	docs      *docstore.BadgerStore
	llm       *recordingLLM
	deliverer *recordingDeliverer
	inbox     *datatypes.Inbox
	agents    map[string]string // marker -> agentId
	finals    chan *datatypes.PipelineResult
}

// waitFinal blocks until the deferred stages of one run have finished and
// returns the complete result.
func (f *fixture) waitFinal(t *testing.T) *datatypes.PipelineResult {
	t.Helper()
	select {
	case final := <-f.finals:
		return final
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline run did not finish")
		return nil
	}
}

// newFixture builds an inbox with one agent per stage. Each agent's prompt
// carries a marker so call order is observable through the LLM stub.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	client := &recordingLLM{}
	deliverer := &recordingDeliverer{}
	retriever := retrieval.NewService(docs, emptyVectors{}, unitEmbedder{})
	exec := NewExecutor(docs, retriever, client, deliverer)
	exec.sleep = func(context.Context, time.Duration) {}
	finals := make(chan *datatypes.PipelineResult, 4)
	exec.afterRun = func(result *datatypes.PipelineResult) { finals <- result }

	ctx := context.Background()
	agents := make(map[string]string)
	mkAgent := func(marker string, agentType datatypes.AgentType) string {
		agent := &datatypes.Agent{
			Id:        uuid.NewString(),
			Name:      marker,
			Prompt:    "MARKER:" + marker,
			AgentType: agentType,
			Settings:  datatypes.DefaultAgentSettings(),
			IsActive:  true,
		}
		require.NoError(t, docs.PutAgent(ctx, agent))
		agents[marker] = agent.Id
		return agent.Id
	}

	inbox := &datatypes.Inbox{
		Id:   uuid.NewString(),
		Name: "support",
		ResponseAgent: &datatypes.ResponseAgentRef{
			AgentId: mkAgent("respond", datatypes.AgentTypeResponse),
		},
		Agents: []datatypes.InboxAgentRef{
			{AgentId: mkAgent("pre", datatypes.AgentTypePreProcess), Priority: 10, IsActive: true},
			{AgentId: mkAgent("analytics", datatypes.AgentTypeAnalytics), Priority: 150, IsActive: true},
			{AgentId: mkAgent("moderation", datatypes.AgentTypeModeration), Priority: 120, IsActive: true},
			{AgentId: mkAgent("post", datatypes.AgentTypePostProcess), Priority: 200, IsActive: true},
		},
	}
	require.NoError(t, docs.PutInbox(ctx, inbox))

	return &fixture{exec: exec, docs: docs, llm: client, deliverer: deliverer, inbox: inbox, agents: agents, finals: finals}
}

func testEvent() *datatypes.WebhookEvent {
	return &datatypes.WebhookEvent{
		Event: "message_created",
		Message: datatypes.WebhookMessage{
			Id:             "m1",
			ConversationId: "c1",
			Sender:         "customer",
			Text:           "Where is my order?",
		},
	}
}

func markerIndex(calls []string, marker string) int {
	for i, c := range calls {
		if strings.Contains(c, "MARKER:"+marker) {
			return i
		}
	}
	return -1
}

func TestExecuteStageOrdering(t *testing.T) {
	f := newFixture(t)

	result, err := f.exec.Execute(context.Background(), f.inbox.Id, testEvent())
	require.NoError(t, err)

	assert.Equal(t, "generated reply", result.Reply)
	assert.True(t, result.Delivered)
	assert.Empty(t, result.Errors)

	final := f.waitFinal(t)
	assert.Empty(t, final.Errors)

	calls := f.llm.callOrder()
	require.Len(t, calls, 5)

	pre := markerIndex(calls, "pre")
	respond := markerIndex(calls, "respond")
	moderation := markerIndex(calls, "moderation")
	analytics := markerIndex(calls, "analytics")
	post := markerIndex(calls, "post")

	// Pre before response, response before main, main before post.
	assert.Less(t, pre, respond)
	assert.Less(t, respond, moderation)
	assert.Less(t, respond, analytics)
	assert.Greater(t, post, moderation)
	assert.Greater(t, post, analytics)

	require.Len(t, f.deliverer.delivered, 1)
	assert.Equal(t, "generated reply", f.deliverer.delivered[0])
}

func TestExecuteMainStageFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.llm.failFor = "MARKER:moderation"

	result, err := f.exec.Execute(context.Background(), f.inbox.Id, testEvent())
	require.NoError(t, err)

	// The reply went out clean; the main-stage failure lands on the final
	// result, not the webhook answer.
	assert.True(t, result.Delivered)
	assert.Empty(t, result.Errors)

	final := f.waitFinal(t)
	assert.True(t, final.Delivered)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, f.agents["moderation"], final.Errors[0].AgentId)
	assert.Equal(t, "main", final.Errors[0].Stage)

	calls := f.llm.callOrder()
	assert.GreaterOrEqual(t, markerIndex(calls, "analytics"), 0)
	assert.GreaterOrEqual(t, markerIndex(calls, "post"), 0)
}

// TestExecuteReturnsBeforeDeferredStages pins the latency contract: the
// caller gets the delivered reply while main and post agents are still
// running.
func TestExecuteReturnsBeforeDeferredStages(t *testing.T) {
	f := newFixture(t)
	f.llm.blockFor = "MARKER:moderation"
	f.llm.release = make(chan struct{})

	result, err := f.exec.Execute(context.Background(), f.inbox.Id, testEvent())
	require.NoError(t, err)

	// Execute came back with the reply delivered while the moderation
	// agent is still parked; post-process cannot have started.
	assert.True(t, result.Delivered)
	assert.Equal(t, "generated reply", result.Reply)
	require.Len(t, f.deliverer.delivered, 1)
	assert.Equal(t, -1, markerIndex(f.llm.callOrder(), "post"))

	close(f.llm.release)
	final := f.waitFinal(t)
	assert.Empty(t, final.Errors)
	assert.GreaterOrEqual(t, markerIndex(f.llm.callOrder(), "post"), 0)
}

func TestExecuteResponseFailureStillRunsRest(t *testing.T) {
	f := newFixture(t)
	f.llm.failFor = "MARKER:respond"

	result, err := f.exec.Execute(context.Background(), f.inbox.Id, testEvent())
	require.NoError(t, err)

	assert.Empty(t, result.Reply)
	assert.False(t, result.Delivered)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "response", result.Errors[0].Stage)

	f.waitFinal(t)
	calls := f.llm.callOrder()
	assert.GreaterOrEqual(t, markerIndex(calls, "analytics"), 0)
}

func TestExecuteSkipsInactiveAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Deactivate the analytics attachment on the inbox.
	for i, ref := range f.inbox.Agents {
		if ref.AgentId == f.agents["analytics"] {
			f.inbox.Agents[i].IsActive = false
		}
	}
	require.NoError(t, f.docs.PutInbox(ctx, f.inbox))

	_, err := f.exec.Execute(ctx, f.inbox.Id, testEvent())
	require.NoError(t, err)

	f.waitFinal(t)
	assert.Equal(t, -1, markerIndex(f.llm.callOrder(), "analytics"))
}

func TestExecuteNoResponseAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.inbox.ResponseAgent = nil
	require.NoError(t, f.docs.PutInbox(ctx, f.inbox))

	result, err := f.exec.Execute(ctx, f.inbox.Id, testEvent())
	require.NoError(t, err)

	f.waitFinal(t)
	assert.Empty(t, result.Reply)
	assert.False(t, result.Delivered)
	assert.Equal(t, -1, markerIndex(f.llm.callOrder(), "respond"))
}

func TestExecuteUnknownInbox(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), "missing", testEvent())
	assert.Error(t, err)
}
