// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAgent(name string) *datatypes.Agent {
	return &datatypes.Agent{
		Id:        uuid.NewString(),
		Name:      name,
		AgentType: datatypes.AgentTypeResponse,
		Settings:  datatypes.DefaultAgentSettings(),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestAgentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("support-bot")
	require.NoError(t, s.PutAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.Id)
	require.NoError(t, err)
	assert.Equal(t, agent.Name, got.Name)
	assert.Equal(t, agent.AgentType, got.AgentType)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	_, err = s.GetAgent(ctx, "missing")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestPutAgentRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.PutAgent(context.Background(), &datatypes.Agent{Id: "x"})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestCreateDocumentDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("kb")
	require.NoError(t, s.PutAgent(ctx, agent))

	doc := &datatypes.ContextDocument{
		Id:       uuid.NewString(),
		AgentId:  agent.Id,
		Type:     datatypes.DocumentTypeFile,
		Filename: "faq.md",
		Content:  "hello",
	}
	require.NoError(t, s.CreateDocument(ctx, doc))

	dup := &datatypes.ContextDocument{
		Id:       uuid.NewString(),
		AgentId:  agent.Id,
		Type:     datatypes.DocumentTypeFile,
		Filename: "faq.md",
	}
	err := s.CreateDocument(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))

	// Same filename under another agent is fine.
	other := newTestAgent("other")
	require.NoError(t, s.PutAgent(ctx, other))
	dup.AgentId = other.Id
	assert.NoError(t, s.CreateDocument(ctx, dup))
}

func TestURLAndWebsiteDedupKeysAreShared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("kb")
	require.NoError(t, s.PutAgent(ctx, agent))

	require.NoError(t, s.CreateDocument(ctx, &datatypes.ContextDocument{
		Id:      uuid.NewString(),
		AgentId: agent.Id,
		Type:    datatypes.DocumentTypeURL,
		URL:     "https://example.com/docs",
	}))
	err := s.CreateDocument(ctx, &datatypes.ContextDocument{
		Id:      uuid.NewString(),
		AgentId: agent.Id,
		Type:    datatypes.DocumentTypeWebsite,
		URL:     "https://example.com/docs",
	})
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestUpdateDocumentMovesDedupIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("kb")
	require.NoError(t, s.PutAgent(ctx, agent))

	doc := &datatypes.ContextDocument{
		Id:       uuid.NewString(),
		AgentId:  agent.Id,
		Type:     datatypes.DocumentTypeFile,
		Filename: "old.txt",
	}
	require.NoError(t, s.CreateDocument(ctx, doc))

	doc.Filename = "new.txt"
	require.NoError(t, s.UpdateDocument(ctx, doc))

	// The old key is free again, the new one is claimed.
	assert.NoError(t, s.CreateDocument(ctx, &datatypes.ContextDocument{
		Id:       uuid.NewString(),
		AgentId:  agent.Id,
		Type:     datatypes.DocumentTypeFile,
		Filename: "old.txt",
	}))
	err := s.CreateDocument(ctx, &datatypes.ContextDocument{
		Id:       uuid.NewString(),
		AgentId:  agent.Id,
		Type:     datatypes.DocumentTypeFile,
		Filename: "new.txt",
	})
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestDeleteDocumentFreesDedupKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("kb")
	require.NoError(t, s.PutAgent(ctx, agent))

	doc := &datatypes.ContextDocument{
		Id:       uuid.NewString(),
		AgentId:  agent.Id,
		Type:     datatypes.DocumentTypeFile,
		Filename: "guide.pdf",
	}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.DeleteDocument(ctx, agent.Id, doc.Id))

	_, err := s.GetDocument(ctx, agent.Id, doc.Id)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	doc.Id = uuid.NewString()
	assert.NoError(t, s.CreateDocument(ctx, doc))
}

func TestDeleteAgentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("kb")
	require.NoError(t, s.PutAgent(ctx, agent))
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, s.CreateDocument(ctx, &datatypes.ContextDocument{
			Id:       uuid.NewString(),
			AgentId:  agent.Id,
			Type:     datatypes.DocumentTypeFile,
			Filename: name,
		}))
	}

	require.NoError(t, s.DeleteAgent(ctx, agent.Id))

	_, err := s.GetAgent(ctx, agent.Id)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	docs, err := s.ListDocuments(ctx, agent.Id)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestInboxRoundTripValidatesAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	responder := newTestAgent("responder")
	require.NoError(t, s.PutAgent(ctx, responder))

	analytics := newTestAgent("analytics")
	analytics.AgentType = datatypes.AgentTypeAnalytics
	require.NoError(t, s.PutAgent(ctx, analytics))

	inbox := &datatypes.Inbox{
		Id:            uuid.NewString(),
		Name:          "support",
		ResponseAgent: &datatypes.ResponseAgentRef{AgentId: responder.Id},
		Agents: []datatypes.InboxAgentRef{
			{AgentId: analytics.Id, Priority: 150, IsActive: true},
		},
	}
	require.NoError(t, s.PutInbox(ctx, inbox))

	got, err := s.GetInbox(ctx, inbox.Id)
	require.NoError(t, err)
	assert.Equal(t, "support", got.Name)
	require.NotNil(t, got.ResponseAgent)
	assert.Equal(t, responder.Id, got.ResponseAgent.AgentId)

	// A response agent inside Agents[] is rejected on write.
	bad := &datatypes.Inbox{
		Id:     uuid.NewString(),
		Agents: []datatypes.InboxAgentRef{{AgentId: responder.Id, Priority: 150}},
	}
	err = s.PutInbox(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}
