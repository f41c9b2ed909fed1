// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when a token fails validation. Implementations
// should wrap it so errors.Is keeps working.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated caller lacks permission for
// the requested action.
var ErrForbidden = errors.New("forbidden")

// AuthInfo identifies an authenticated caller.
type AuthInfo struct {
	UserID   string
	TenantID string
	Roles    []string
}

// HasRole reports whether the caller carries the given role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
type AuthProvider interface {
	// Validate checks a token and returns the caller's identity. A failed
	// validation returns an error wrapping ErrUnauthorized.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes one access decision.
type AuthzRequest struct {
	Subject  *AuthInfo
	Action   string // e.g. "agents:write", "webhook:invoke"
	Resource string // e.g. an agent or inbox id
}

// AuthzProvider decides whether an authenticated caller may perform an
// action. A denial returns an error wrapping ErrForbidden.
type AuthzProvider interface {
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider authenticates everything as a local admin. This is the
// default for self-hosted deployments with no identity provider.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID:   "local-user",
		TenantID: "local",
		Roles:    []string{"admin"},
	}, nil
}

// NopAuthzProvider allows every action.
type NopAuthzProvider struct{}

func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)
