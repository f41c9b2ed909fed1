// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// WebhookMessage is the message portion of an incoming chat event.
type WebhookMessage struct {
	Id             string         `json:"id"`
	ConversationId string         `json:"conversation_id"`
	Sender         string         `json:"sender"`
	Text           string         `json:"text"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// WebhookEvent is the body posted to /webhook/inbox/{id}.
type WebhookEvent struct {
	Event   string         `json:"event" validate:"required"`
	Message WebhookMessage `json:"message"`
}

// PipelineAgentError records one agent's failure inside a pipeline run
// without failing the run itself.
type PipelineAgentError struct {
	AgentId string `json:"agent_id"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

// PipelineResult summarizes a webhook pipeline run. Reply is empty when the
// inbox has no response agent.
type PipelineResult struct {
	InboxId     string               `json:"inbox_id"`
	Event       string               `json:"event"`
	Reply       string               `json:"reply,omitempty"`
	Delivered   bool                 `json:"delivered"`
	Errors      []PipelineAgentError `json:"errors,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
}

// IngestURLRequest is the body of POST /agents/{id}/context/url.
type IngestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// IngestWebsiteRequest is the body of POST /agents/{id}/context/website.
type IngestWebsiteRequest struct {
	URL     string       `json:"url" binding:"required"`
	Options CrawlOptions `json:"options"`
}

// UpdateDocumentRequest is the body of PUT /agents/{id}/context/{docId}.
type UpdateDocumentRequest struct {
	Content    *string `json:"content,omitempty"`
	Filename   *string `json:"filename,omitempty"`
	RefreshURL bool    `json:"refresh_url,omitempty"`
}

// SearchRequest is the body of POST /agents/{id}/rag/search.
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// SearchHit is one ranked retrieval result.
type SearchHit struct {
	Rank                int     `json:"rank"`
	Score               float64 `json:"score"`
	RelevancePercentage int     `json:"relevance_percentage"`
	Text                string  `json:"text"`
	DocumentTitle       string  `json:"document_title"`
	DocumentType        string  `json:"document_type"`
	ChunkNumber         int     `json:"chunk_number"`
	Source              string  `json:"source"`
}

// DocumentSummary groups hits of one source document.
type DocumentSummary struct {
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Source    string  `json:"source"`
	Chunks    int     `json:"chunks"`
	BestScore float64 `json:"best_score"`
}

// SearchResponse is the payload of a rag/search call.
type SearchResponse struct {
	CollectionExists bool              `json:"collection_exists"`
	Query            string            `json:"query"`
	Hits             []SearchHit       `json:"hits"`
	Documents        []DocumentSummary `json:"documents"`
}

// APIResponse is the envelope for non-streaming endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// StreamEventType labels a frame of an SSE stream.
type StreamEventType string

const (
	StreamEventProgress StreamEventType = "progress"
	StreamEventComplete StreamEventType = "complete"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is the SSE wire shape: a CrawlProgress frame tagged with an
// event type.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	CrawlProgress
}
