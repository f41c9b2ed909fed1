// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes assembles the orchestrator's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/replyforge/replyforge/pkg/extensions"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/handlers"
	"github.com/replyforge/replyforge/services/orchestrator/ingest"
	"github.com/replyforge/replyforge/services/orchestrator/middleware"
	"github.com/replyforge/replyforge/services/orchestrator/observability"
	"github.com/replyforge/replyforge/services/orchestrator/pipeline"
	"github.com/replyforge/replyforge/services/orchestrator/retrieval"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

// Deps carries everything the HTTP layer needs. All fields are required
// except Metrics, which may be nil in tests.
type Deps struct {
	Store     docstore.Store
	Vectors   vectorstore.VectorStore
	Ingest    *ingest.Service
	Retrieval *retrieval.Service
	Pipeline  *pipeline.Executor
	Options   extensions.ServiceOptions
	Metrics   *observability.Metrics
}

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("replyforge-orchestrator"))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhook ingress sits outside /v1; mail platforms post here.
	webhook := router.Group("/webhook")
	webhook.Use(middleware.Auth(deps.Options.Auth))
	{
		webhook.POST("/inbox/:inboxId",
			middleware.Permission(deps.Options, "webhook:invoke", "inboxId"),
			handlers.Webhook(deps.Pipeline))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(deps.Options.Auth))
	{
		agents := v1.Group("/agents")
		{
			agents.POST("", handlers.CreateAgent(deps.Store))
			agents.GET("", handlers.ListAgents(deps.Store))
			agents.GET("/:agentId", handlers.GetAgent(deps.Store))
			agents.DELETE("/:agentId",
				middleware.Permission(deps.Options, "agents:delete", "agentId"),
				handlers.DeleteAgent(deps.Ingest))

			context := agents.Group("/:agentId/context")
			{
				context.POST("/upload", handlers.UploadDocument(deps.Ingest))
				context.POST("/url", handlers.IngestURL(deps.Ingest))
				context.POST("/website", handlers.IngestWebsite(deps.Ingest))
				context.POST("/test-url", handlers.TestURL(deps.Ingest))
				context.POST("/test-website", handlers.TestWebsite(deps.Ingest))
				context.GET("", handlers.ListDocuments(deps.Store))
				context.GET("/:docId", handlers.GetDocument(deps.Store))
				context.PUT("/:docId", handlers.UpdateDocument(deps.Store, deps.Ingest))
				context.DELETE("/:docId", handlers.DeleteDocument(deps.Ingest))
			}

			rag := agents.Group("/:agentId/rag")
			{
				rag.POST("/search", handlers.RAGSearch(deps.Retrieval))
				rag.GET("/stats", handlers.RAGStats(deps.Store, deps.Vectors))
			}
		}

		inboxes := v1.Group("/inboxes")
		{
			inboxes.PUT("/:inboxId", handlers.PutInbox(deps.Store))
			inboxes.GET("/:inboxId", handlers.GetInbox(deps.Store))
		}
	}
}
