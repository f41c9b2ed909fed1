// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the HTTP middleware chain for the orchestrator.
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it with the configured AuthProvider, and stores the resulting
// AuthInfo in the gin context for downstream handlers. With the default
// NopAuthProvider every request authenticates as "local-user" with the admin
// role, so a self-hosted instance works with no identity infrastructure.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/replyforge/replyforge/pkg/extensions"
)

// authInfoKey is the gin context key for the caller's identity. Typed name
// prevents collisions with handler-set values.
const authInfoKey = "replyforge_auth_info"

// SetAuthInfo stores the authenticated caller in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated caller, or nil when the auth
// middleware did not run.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return nil
}

// Auth validates the request's bearer token and stores the caller identity.
// Unauthenticated requests are rejected with 401 before any handler runs.
func Auth(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetAuthInfo(c, info)
		c.Next()
	}
}

// Permission checks the caller against the authorization provider for a
// named action and writes an audit event either way. The resource is taken
// from the named route parameter when present.
func Permission(opts extensions.ServiceOptions, action, resourceParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		resource := ""
		if resourceParam != "" {
			resource = c.Param(resourceParam)
		}

		err := opts.Authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
			Subject:  info,
			Action:   action,
			Resource: resource,
		})

		event := extensions.AuditEvent{
			Timestamp: time.Now().UTC(),
			Action:    action,
			Resource:  resource,
			Outcome:   "allowed",
		}
		if info != nil {
			event.Actor = info.UserID
			event.TenantID = info.TenantID
		}
		if err != nil {
			event.Outcome = "denied"
			_ = opts.Audit.Log(c.Request.Context(), event)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		_ = opts.Audit.Log(c.Request.Context(), event)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>", returning ""
// when the header is missing or malformed. The scheme is case-insensitive
// per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
