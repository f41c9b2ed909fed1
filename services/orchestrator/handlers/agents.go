// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/ingest"
)

var agentTracer = otel.Tracer("replyforge.orchestrator.handlers")

var validate = validator.New()

// CreateAgentRequest is the body of POST /v1/agents.
type CreateAgentRequest struct {
	Name      string                   `json:"name" binding:"required"`
	Prompt    string                   `json:"prompt"`
	AgentType datatypes.AgentType      `json:"agent_type" binding:"required"`
	Settings  *datatypes.AgentSettings `json:"settings"`
}

// CreateAgent registers a new agent.
func CreateAgent(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := agentTracer.Start(c.Request.Context(), "CreateAgent")
		defer span.End()

		var req CreateAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		settings := datatypes.DefaultAgentSettings()
		if req.Settings != nil {
			settings = *req.Settings
		}
		if err := validate.Struct(settings); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid agent settings", err))
			return
		}

		now := time.Now().UTC()
		agent := &datatypes.Agent{
			Id:        uuid.NewString(),
			Name:      req.Name,
			Prompt:    req.Prompt,
			AgentType: req.AgentType,
			Settings:  settings,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.PutAgent(ctx, agent); err != nil {
			respondErr(c, err)
			return
		}
		slog.Info("Agent created", "agent_id", agent.Id, "agent_type", agent.AgentType)
		respondOK(c, http.StatusCreated, "agent created", agent)
	}
}

// GetAgent returns one agent by id.
func GetAgent(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := store.GetAgent(c.Request.Context(), c.Param("agentId"))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", agent)
	}
}

// ListAgents returns all registered agents.
func ListAgents(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		agents, err := store.ListAgents(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", agents)
	}
}

// DeleteAgent removes an agent, its documents, and its vector collection.
func DeleteAgent(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := agentTracer.Start(c.Request.Context(), "DeleteAgent")
		defer span.End()

		agentId := c.Param("agentId")
		if err := svc.DeleteAgentData(ctx, agentId); err != nil {
			respondErr(c, err)
			return
		}
		slog.Info("Agent deleted", "agent_id", agentId)
		respondOK(c, http.StatusOK, "agent deleted", nil)
	}
}

// PutInboxRequest is the body of PUT /v1/inboxes/:inboxId.
type PutInboxRequest struct {
	Name          string                      `json:"name" binding:"required"`
	WebhookURL    string                      `json:"webhook_url"`
	ResponseAgent *datatypes.ResponseAgentRef `json:"response_agent"`
	Agents        []datatypes.InboxAgentRef   `json:"agents"`
	Settings      datatypes.InboxSettings     `json:"settings"`
}

// PutInbox creates or replaces an inbox configuration. All pipeline
// invariants are enforced here, on write, so webhook handling never has to
// re-validate.
func PutInbox(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := agentTracer.Start(c.Request.Context(), "PutInbox")
		defer span.End()

		var req PutInboxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		inboxId := c.Param("inboxId")
		now := time.Now().UTC()
		inbox := &datatypes.Inbox{
			Id:            inboxId,
			Name:          req.Name,
			WebhookURL:    req.WebhookURL,
			ResponseAgent: req.ResponseAgent,
			Agents:        req.Agents,
			Settings:      req.Settings,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if existing, err := store.GetInbox(ctx, inboxId); err == nil {
			inbox.CreatedAt = existing.CreatedAt
		}

		lookupType := func(agentId string) (datatypes.AgentType, error) {
			agent, err := store.GetAgent(ctx, agentId)
			if err != nil {
				return "", err
			}
			return agent.AgentType, nil
		}
		if err := inbox.Validate(lookupType); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid inbox pipeline", err))
			return
		}

		if err := store.PutInbox(ctx, inbox); err != nil {
			respondErr(c, err)
			return
		}
		slog.Info("Inbox configured", "inbox_id", inboxId, "agents", len(inbox.Agents))
		respondOK(c, http.StatusOK, "inbox saved", inbox)
	}
}

// GetInbox returns one inbox configuration.
func GetInbox(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		inbox, err := store.GetInbox(c.Request.Context(), c.Param("inboxId"))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", inbox)
	}
}
