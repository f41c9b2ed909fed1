// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for ReplyForge components.
//
// All components log through Go's standard slog package. This package only
// decides how the default handler is built:
//
//   - JSON output when writing to a pipe or file (service deployments)
//   - human-readable text output when stderr is a terminal (CLI usage)
//
// # Basic Usage
//
//	logging.Setup(logging.Config{Service: "orchestrator", Level: "info"})
//	slog.Info("ingest started", "agent_id", agentID)
package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Config controls handler construction.
type Config struct {
	// Service is attached to every record as the "service" attribute.
	Service string
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// ForceJSON overrides terminal detection, used by the serve command.
	ForceJSON bool
}

// ParseLevel maps a config string to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds a handler from the config and installs it as the slog
// default. It returns the logger for callers that prefer explicit handles.
func Setup(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.ForceJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)
	return logger
}
