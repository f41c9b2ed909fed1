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

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/ingest"
)

// TestURL probes a URL without creating a document.
//
// POST /v1/agents/:agentId/context/test-url
func TestURL(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "TestURL")
		defer span.End()

		var req datatypes.IngestURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		result, err := svc.TestURL(ctx, req.URL)
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", result)
	}
}

// TestWebsite previews a crawl without creating a document.
//
// POST /v1/agents/:agentId/context/test-website
func TestWebsite(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "TestWebsite")
		defer span.End()

		var req datatypes.IngestURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		result, err := svc.TestWebsite(ctx, req.URL)
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", result)
	}
}
