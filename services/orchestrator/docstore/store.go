// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package docstore persists agents, inboxes, and context documents. The
// vector store holds only chunks; everything else lives here, keyed by
// (agentId, docId) so per-agent operations scan locally.
package docstore

import (
	"context"

	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

// Store is the persistence contract the orchestrator depends on.
type Store interface {
	// PutAgent creates or replaces an agent record.
	PutAgent(ctx context.Context, agent *datatypes.Agent) error
	// GetAgent returns NotFound when the agent does not exist.
	GetAgent(ctx context.Context, agentId string) (*datatypes.Agent, error)
	// DeleteAgent removes the agent and all its context documents. The
	// caller is responsible for dropping the agent's vector collection.
	DeleteAgent(ctx context.Context, agentId string) error
	// ListAgents returns all agents, ordered by id.
	ListAgents(ctx context.Context) ([]*datatypes.Agent, error)

	// CreateDocument persists a new context document. It fails with
	// Conflict when another document of the same agent already claims the
	// same dedup key (filename for files, url for url/website).
	CreateDocument(ctx context.Context, doc *datatypes.ContextDocument) error
	// UpdateDocument replaces an existing record, maintaining the dedup
	// index when the key changed.
	UpdateDocument(ctx context.Context, doc *datatypes.ContextDocument) error
	// GetDocument returns NotFound when the document does not exist.
	GetDocument(ctx context.Context, agentId, docId string) (*datatypes.ContextDocument, error)
	// DeleteDocument removes the record and its dedup index entry.
	DeleteDocument(ctx context.Context, agentId, docId string) error
	// ListDocuments returns the agent's documents ordered by id.
	ListDocuments(ctx context.Context, agentId string) ([]*datatypes.ContextDocument, error)

	// PutInbox creates or replaces an inbox record.
	PutInbox(ctx context.Context, inbox *datatypes.Inbox) error
	// GetInbox returns NotFound when the inbox does not exist.
	GetInbox(ctx context.Context, inboxId string) (*datatypes.Inbox, error)

	// Close releases the underlying database.
	Close() error
}
