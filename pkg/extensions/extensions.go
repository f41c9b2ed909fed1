// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the seams where a hosted ReplyForge deployment
// plugs in real authentication, authorization, and audit logging. The open
// source build runs on the Nop implementations: every request authenticates
// as a local admin and audit events go to slog.
//
// Hosted deployments provide concrete implementations and inject them via
// ServiceOptions at startup; core code never imports anything beyond these
// interfaces.
package extensions

// ServiceOptions bundles the pluggable providers handed to the HTTP layer.
type ServiceOptions struct {
	Auth  AuthProvider
	Authz AuthzProvider
	Audit AuditLogger
}

// DefaultOptions returns the self-hosted configuration: no real auth, audit
// to the structured log.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		Auth:  &NopAuthProvider{},
		Authz: &NopAuthzProvider{},
		Audit: &SlogAuditLogger{},
	}
}

// WithAuth returns a copy using the given authentication provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.Auth = provider
	return opts
}

// WithAuthz returns a copy using the given authorization provider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.Authz = provider
	return opts
}

// WithAudit returns a copy using the given audit logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.Audit = logger
	return opts
}
