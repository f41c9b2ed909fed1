// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs an inbox's agents against an incoming webhook event.
// Ordering: pre-process agents run sequentially by priority, then the
// response agent produces and delivers the reply. Execute returns at that
// point so the webhook answer is not held up; main-stage agents then run in
// parallel and post-process agents sequentially on a detached context. One
// agent's failure never aborts the run; it is recorded and the rest proceed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/llm"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/observability"
	"github.com/replyforge/replyforge/services/orchestrator/retrieval"
)

var tracer = otel.Tracer("replyforge.orchestrator.pipeline")

// DefaultResponseDeadline bounds a pipeline run when the inbox sets none.
const DefaultResponseDeadline = 60 * time.Second

// Deliverer sends the generated reply back to the originating channel.
type Deliverer interface {
	DeliverReply(ctx context.Context, inboxId, conversationId, text string) error
}

// LogDeliverer is the fallback when no chat connection is configured: the
// reply lands in the log and the API response only.
type LogDeliverer struct{}

func (LogDeliverer) DeliverReply(_ context.Context, inboxId, conversationId, text string) error {
	slog.Info("Reply generated",
		"inbox_id", inboxId,
		"conversation_id", conversationId,
		"reply_length", len(text))
	return nil
}

// Executor runs webhook pipelines.
type Executor struct {
	docs      docstore.Store
	retriever *retrieval.Service
	llm       llm.LLMClient
	deliverer Deliverer

	// sleep is swapped out in tests so response delays don't slow them.
	sleep func(ctx context.Context, d time.Duration)
	// afterRun observes the final result once deferred stages finish.
	// Tests set it; production leaves it nil.
	afterRun func(result *datatypes.PipelineResult)

	background sync.WaitGroup
}

// NewExecutor wires a pipeline executor. A nil deliverer falls back to
// LogDeliverer.
func NewExecutor(docs docstore.Store, retriever *retrieval.Service, client llm.LLMClient, deliverer Deliverer) *Executor {
	if deliverer == nil {
		deliverer = LogDeliverer{}
	}
	return &Executor{
		docs:      docs,
		retriever: retriever,
		llm:       client,
		deliverer: deliverer,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// boundAgent pairs an inbox attachment with its resolved agent record.
type boundAgent struct {
	ref   datatypes.InboxAgentRef
	agent *datatypes.Agent
}

// runState guards the shared result while main-stage agents append errors
// concurrently.
type runState struct {
	mu sync.Mutex
	*datatypes.PipelineResult
}

func (r *runState) appendError(agentId, stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, datatypes.PipelineAgentError{
		AgentId: agentId,
		Stage:   stage,
		Error:   errs.Message(err),
	})
}

// snapshot copies the result so the caller can serialize it while deferred
// stages keep appending errors to the live state.
func (r *runState) snapshot(completedAt time.Time) *datatypes.PipelineResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.PipelineResult
	cp.CompletedAt = completedAt
	cp.Errors = append([]datatypes.PipelineAgentError(nil), r.Errors...)
	return &cp
}

// Execute runs the inbox's pipeline for one webhook event. It returns as
// soon as the pre-process agents and the response agent have finished, so
// the caller can answer the webhook; main and post-process agents continue
// in the background. The returned result reflects the state at return time,
// later agent errors are logged and counted but not surfaced to the caller.
func (e *Executor) Execute(ctx context.Context, inboxId string, event *datatypes.WebhookEvent) (*datatypes.PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("inbox_id", inboxId), attribute.String("event", event.Event))

	inbox, err := e.docs.GetInbox(ctx, inboxId)
	if err != nil {
		return nil, err
	}

	deadline := DefaultResponseDeadline
	if inbox.Settings.ResponseDeadline > 0 {
		deadline = time.Duration(inbox.Settings.ResponseDeadline) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result := &runState{PipelineResult: &datatypes.PipelineResult{
		InboxId:   inboxId,
		Event:     event.Event,
		StartedAt: time.Now().UTC(),
	}}

	pre, main, post := e.resolveStages(ctx, inbox, result)

	// Stage 1: pre-process, sequential in priority order.
	for _, b := range pre {
		e.runSideAgent(ctx, b, event, result, "pre-process")
	}

	// Stage 2: the response agent.
	if inbox.ResponseAgent != nil {
		e.runResponseAgent(ctx, inbox, event, result)
	}

	// The reply is out; nothing below may delay the webhook answer. Main
	// and post stages run on a context detached from the caller's so the
	// HTTP response completing does not cancel them.
	bgCtx, bgCancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		defer bgCancel()

		// Stage 3: main stage, parallel, all-settled.
		var wg sync.WaitGroup
		for _, b := range main {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.runSideAgent(bgCtx, b, event, result, "main")
			}()
		}
		wg.Wait()

		// Stage 4: post-process, sequential, sees the reply.
		for _, b := range post {
			e.runSideAgent(bgCtx, b, event, result, "post-process")
		}

		final := result.snapshot(time.Now().UTC())
		slog.Info("Pipeline run finished",
			"inbox_id", inboxId,
			"event", event.Event,
			"delivered", final.Delivered,
			"agent_errors", len(final.Errors),
			"duration", final.CompletedAt.Sub(final.StartedAt))
		if m := observability.Default; m != nil {
			m.RecordPipelineRun(len(final.Errors), final.CompletedAt.Sub(final.StartedAt))
			for _, agentErr := range final.Errors {
				m.PipelineAgentErrorsTotal.WithLabelValues(agentErr.Stage).Inc()
			}
		}
		if e.afterRun != nil {
			e.afterRun(final)
		}
	}()

	return result.snapshot(time.Now().UTC()), nil
}

// Wait blocks until the deferred stages of all started runs have finished.
// Called on shutdown so in-flight pipelines complete before the process
// exits.
func (e *Executor) Wait() {
	e.background.Wait()
}

// resolveStages loads active agents, sorts them by priority (stable, so
// equal priorities keep configuration order), and splits them into bands.
// Unresolvable agents are recorded as errors and skipped.
func (e *Executor) resolveStages(ctx context.Context, inbox *datatypes.Inbox, result *runState) (pre, main, post []boundAgent) {
	refs := make([]datatypes.InboxAgentRef, 0, len(inbox.Agents))
	for _, ref := range inbox.Agents {
		if ref.IsActive {
			refs = append(refs, ref)
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Priority < refs[j].Priority })

	for _, ref := range refs {
		agent, err := e.docs.GetAgent(ctx, ref.AgentId)
		if err != nil {
			result.appendError(ref.AgentId, "resolve", err)
			continue
		}
		if !agent.IsActive {
			continue
		}
		b := boundAgent{ref: ref, agent: agent}
		switch {
		case ref.Priority < datatypes.PriorityMainMin:
			pre = append(pre, b)
		case ref.Priority >= datatypes.PriorityPostMin:
			post = append(post, b)
		default:
			main = append(main, b)
		}
	}
	return pre, main, post
}

// runSideAgent executes a non-response agent: its prompt applied to the
// message, result logged. Failures are recorded, never fatal.
func (e *Executor) runSideAgent(ctx context.Context, b boundAgent, event *datatypes.WebhookEvent, result *runState, stage string) {
	ctx, span := tracer.Start(ctx, "pipeline.runSideAgent")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent_id", b.agent.Id),
		attribute.String("agent_type", string(b.agent.AgentType)),
		attribute.String("stage", stage),
	)

	prompt := sideAgentPrompt(b.agent, event)
	params := paramsFromSettings(b.agent.Settings)
	output, err := e.llm.Generate(ctx, prompt, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent failed")
		result.appendError(b.agent.Id, stage, err)
		return
	}
	slog.Debug("Agent completed",
		"agent_id", b.agent.Id,
		"agent_type", b.agent.AgentType,
		"stage", stage,
		"output_length", len(output))
}

// runResponseAgent retrieves context, generates the reply, honors the
// configured delay, and delivers. Retrieval failure degrades to an
// uncontextualized reply; generation or delivery failure is recorded.
func (e *Executor) runResponseAgent(ctx context.Context, inbox *datatypes.Inbox, event *datatypes.WebhookEvent, result *runState) {
	ctx, span := tracer.Start(ctx, "pipeline.runResponseAgent")
	defer span.End()

	agent, err := e.docs.GetAgent(ctx, inbox.ResponseAgent.AgentId)
	if err != nil {
		result.appendError(inbox.ResponseAgent.AgentId, "response", err)
		return
	}
	if !agent.IsActive {
		return
	}
	span.SetAttributes(attribute.String("agent_id", agent.Id))

	topK := inbox.Settings.RetrievalTopK
	var contextBlock string
	search, err := e.retriever.Search(ctx, agent.Id, event.Message.Text, topK)
	if err != nil {
		// Reply without knowledge rather than not at all.
		slog.Warn("Context retrieval failed, replying without context",
			"agent_id", agent.Id, "error", err)
		result.appendError(agent.Id, "retrieval", err)
	} else {
		contextBlock = contextFromHits(search.Hits)
	}

	prompt := responsePrompt(agent, event, contextBlock)
	reply, err := e.llm.Generate(ctx, prompt, paramsFromSettings(agent.Settings))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		result.appendError(agent.Id, "response", err)
		return
	}
	result.Reply = strings.TrimSpace(reply)

	if agent.Settings.ResponseDelaySec > 0 {
		e.sleep(ctx, time.Duration(agent.Settings.ResponseDelaySec)*time.Second)
	}
	if ctx.Err() != nil {
		result.appendError(agent.Id, "delivery", errs.Wrap(errs.Cancelled, "deadline reached before delivery", ctx.Err()))
		return
	}

	if err := e.deliverer.DeliverReply(ctx, inbox.Id, event.Message.ConversationId, result.Reply); err != nil {
		result.appendError(agent.Id, "delivery", err)
		return
	}
	result.Delivered = true
}

func paramsFromSettings(s datatypes.AgentSettings) llm.GenerationParams {
	temp := s.Temperature
	maxTokens := s.MaxTokens
	return llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}

func sideAgentPrompt(agent *datatypes.Agent, event *datatypes.WebhookEvent) string {
	var sb strings.Builder
	sb.WriteString(agent.Prompt)
	sb.WriteString("\n\nEvent: ")
	sb.WriteString(event.Event)
	sb.WriteString("\nCustomer message:\n")
	sb.WriteString(event.Message.Text)
	return sb.String()
}

func responsePrompt(agent *datatypes.Agent, event *datatypes.WebhookEvent, contextBlock string) string {
	var sb strings.Builder
	sb.WriteString(agent.Prompt)
	if contextBlock != "" {
		sb.WriteString("\n\nRelevant knowledge base excerpts:\n")
		sb.WriteString(contextBlock)
	}
	sb.WriteString("\n\nCustomer message:\n")
	sb.WriteString(event.Message.Text)
	sb.WriteString("\n\nWrite a helpful reply to the customer.")
	return sb.String()
}

// contextFromHits formats retrieved chunks as numbered source excerpts.
func contextFromHits(hits []datatypes.SearchHit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s (%s)\n%s", i+1, h.DocumentTitle, h.Source, h.Text)
	}
	return sb.String()
}
