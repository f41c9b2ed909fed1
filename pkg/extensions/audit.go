// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one security-relevant action: who did what to which
// resource, and how it turned out.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	Outcome   string    `json:"outcome"` // "allowed", "denied", "error"
	Detail    string    `json:"detail,omitempty"`
}

// AuditLogger receives audit events. Implementations must be safe for
// concurrent use; Log should not block the request path.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	// Flush drains any buffered events, called on shutdown.
	Flush(ctx context.Context) error
}

// SlogAuditLogger writes audit events to the structured log. It is the
// default sink for self-hosted deployments.
type SlogAuditLogger struct{}

func (l *SlogAuditLogger) Log(_ context.Context, event AuditEvent) error {
	slog.Info("audit",
		"actor", event.Actor,
		"tenant_id", event.TenantID,
		"action", event.Action,
		"resource", event.Resource,
		"outcome", event.Outcome,
		"detail", event.Detail)
	return nil
}

func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

// NopAuditLogger discards events, used in tests.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }
func (l *NopAuditLogger) Flush(_ context.Context) error             { return nil }

var (
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*NopAuditLogger)(nil)
)
