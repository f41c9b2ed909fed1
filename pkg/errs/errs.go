// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package errs defines the error taxonomy shared by the HTTP surface and the
// CLI. Every error that crosses a service boundary is classified with a Kind
// so that handlers can map it to a status code and the CLI to an exit code
// without inspecting error strings.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	// Internal is a programmer error or an unclassified failure.
	Internal Kind = iota
	// InvalidInput covers field-level validation failures, including
	// rejected URLs.
	InvalidInput
	// AccessDenied means the permission checker said no.
	AccessDenied
	// NotFound means the referenced agent, inbox, or document is missing.
	NotFound
	// Conflict means a duplicate source for the same agent.
	Conflict
	// TooLarge means a size cap was exceeded.
	TooLarge
	// RemoteFailed covers fetch, crawl, and LLM provider failures.
	RemoteFailed
	// RAGDegraded means the document persisted but embedding or upsert
	// failed; the operation is a success-with-warning.
	RAGDegraded
	// Cancelled means the deadline expired or the client went away.
	Cancelled
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case AccessDenied:
		return "AccessDenied"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case TooLarge:
		return "TooLarge"
	case RemoteFailed:
		return "RemoteFailed"
	case RAGDegraded:
		return "RAGDegraded"
	case Cancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is a classified error. Msg is safe to surface after Sanitize; Err
// holds the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Context cancellation is
// recognized even when it was not wrapped in an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// HTTPStatus maps an error's kind to the HTTP status the API returns for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput:
		return http.StatusBadRequest
	case AccessDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case RemoteFailed:
		return http.StatusBadGateway
	case Cancelled:
		// 499 is the de-facto "client closed request" status.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps an error to the CLI exit code. Zero means success and is
// never returned here; call it only for non-nil errors.
func ExitCode(err error) int {
	switch KindOf(err) {
	case InvalidInput:
		return 2
	case Conflict:
		return 3
	case AccessDenied:
		return 4
	case RAGDegraded:
		return 5
	default:
		return 1
	}
}

var (
	userinfoRe = regexp.MustCompile(`(https?://)[^/@\s]+@`)
	pathRe     = regexp.MustCompile(`(/(?:home|var|etc|run|tmp|root)/[^\s:"']*)`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
)

// Sanitize strips credentials, internal filesystem paths, and HTML from a
// message before it is surfaced to a client. The result is best-effort; logs
// keep the original.
func Sanitize(msg string) string {
	msg = userinfoRe.ReplaceAllString(msg, "$1")
	msg = pathRe.ReplaceAllString(msg, "[path]")
	msg = tagRe.ReplaceAllString(msg, "")
	return strings.TrimSpace(msg)
}

// Message returns the sanitized user-facing message for an error. Internal
// errors are collapsed to a generic message so programmer errors never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return Sanitize(e.Msg)
	}
	if KindOf(err) == Cancelled {
		return "cancelled"
	}
	return "internal error"
}
