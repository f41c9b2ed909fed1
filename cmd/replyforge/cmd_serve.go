// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replyforge/replyforge/pkg/logging"
	"github.com/replyforge/replyforge/pkg/ux"
	"github.com/replyforge/replyforge/services/orchestrator"
	"github.com/replyforge/replyforge/services/orchestrator/config"
)

// runServe starts the orchestrator in the foreground. This is the
// single-binary path; deployments that want config hot reload run the
// dedicated orchestrator command instead.
func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv("REPLYFORGE_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Setup(logging.Config{
		Service: "orchestrator",
		Level:   cfg.Server.LogLevel,
	})

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	ux.Title("ReplyForge orchestrator")
	ux.Info("listening on " + cfg.Server.Addr)
	return svc.Run()
}
