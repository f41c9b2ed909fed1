// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the orchestrator's HTTP surface. Handlers are
// gin.HandlerFunc closures over their dependencies; errors flow through the
// errs taxonomy so every endpoint maps kinds to statuses the same way.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

// respondErr writes the sanitized error with its mapped status. Internal
// details never reach the client; they go to the log instead.
func respondErr(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"path", c.FullPath(),
			"method", c.Request.Method,
			"error", err)
	}
	c.JSON(status, datatypes.APIResponse{
		Success: false,
		Message: errs.Message(err),
	})
}

// respondOK writes the standard success envelope.
func respondOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, datatypes.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}
