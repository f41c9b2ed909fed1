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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/pipeline"
)

// Webhook runs the inbox pipeline for an incoming chat event. The response
// goes out once the reply is delivered; main and post-process agents keep
// running in the background, so the result only carries errors from the
// stages that ran before the answer. Only a missing inbox or a malformed
// body fails the request itself.
//
// POST /webhook/inbox/:inboxId
func Webhook(exec *pipeline.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := agentTracer.Start(c.Request.Context(), "Webhook")
		defer span.End()

		var event datatypes.WebhookEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}
		if event.Event == "" {
			respondErr(c, errs.New(errs.InvalidInput, "event type is required"))
			return
		}

		inboxId := c.Param("inboxId")
		span.SetAttributes(
			attribute.String("inbox_id", inboxId),
			attribute.String("event", event.Event),
		)

		result, err := exec.Execute(ctx, inboxId, &event)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline failed")
			respondErr(c, err)
			return
		}

		if len(result.Errors) > 0 {
			slog.Warn("Pipeline responded with agent errors",
				"inbox_id", inboxId,
				"event", event.Event,
				"errors", len(result.Errors))
		}
		respondOK(c, http.StatusOK, "", result)
	}
}
