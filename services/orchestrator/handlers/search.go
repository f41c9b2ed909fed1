// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/observability"
	"github.com/replyforge/replyforge/services/orchestrator/retrieval"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

// RAGSearch runs a retrieval query against an agent's knowledge base.
//
// POST /v1/agents/:agentId/rag/search
func RAGSearch(svc *retrieval.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := agentTracer.Start(c.Request.Context(), "RAGSearch")
		defer span.End()

		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		agentId := c.Param("agentId")
		span.SetAttributes(attribute.String("agent_id", agentId), attribute.Int("limit", req.Limit))

		resp, err := svc.Search(ctx, agentId, req.Query, req.Limit)
		if m := observability.Default; m != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.SearchesTotal.WithLabelValues(outcome).Inc()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search failed")
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", resp)
	}
}

// ragStats is the payload of the stats endpoint.
type ragStats struct {
	AgentId            string `json:"agent_id"`
	CollectionExists   bool   `json:"collection_exists"`
	ChunkCount         int    `json:"chunk_count"`
	DocumentCount      int    `json:"document_count"`
	IndexedDocuments   int    `json:"indexed_documents"`
	DegradedDocuments  int    `json:"degraded_documents"`
	TotalContentLength int    `json:"total_content_length"`
}

// RAGStats reports collection size and document health for an agent.
//
// GET /v1/agents/:agentId/rag/stats
func RAGStats(store docstore.Store, vectors vectorstore.VectorStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		agentId := c.Param("agentId")
		if _, err := store.GetAgent(ctx, agentId); err != nil {
			respondErr(c, err)
			return
		}

		stats := ragStats{AgentId: agentId}
		docs, err := store.ListDocuments(ctx, agentId)
		if err != nil {
			respondErr(c, err)
			return
		}
		stats.DocumentCount = len(docs)
		for _, d := range docs {
			stats.TotalContentLength += d.ContentLength
			if d.RagStatus.Processed {
				stats.IndexedDocuments++
			} else {
				stats.DegradedDocuments++
			}
		}

		collection, err := vectors.Stats(ctx, agentId)
		if err != nil {
			respondErr(c, err)
			return
		}
		stats.CollectionExists = collection.Exists
		stats.ChunkCount = collection.ChunkCount

		respondOK(c, http.StatusOK, "", stats)
	}
}
