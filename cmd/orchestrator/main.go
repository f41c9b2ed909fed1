// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the ReplyForge HTTP server.
//
// Configuration comes from an optional YAML file plus REPLYFORGE_*
// environment variables; see the config package for the full list. The
// config file is watched while running: log level changes apply immediately,
// everything else on restart.
//
//	orchestrator -config /etc/replyforge/replyforge.yaml
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/replyforge/replyforge/pkg/logging"
	"github.com/replyforge/replyforge/services/orchestrator"
	"github.com/replyforge/replyforge/services/orchestrator/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("REPLYFORGE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logging.Setup(logging.Config{
		Service:   "orchestrator",
		Level:     cfg.Server.LogLevel,
		ForceJSON: true,
	})

	if *configPath != "" {
		stop, err := config.Watch(*configPath,
			func(fresh config.Config) {
				logging.Setup(logging.Config{
					Service:   "orchestrator",
					Level:     fresh.Server.LogLevel,
					ForceJSON: true,
				})
				slog.Info("Config reloaded", "log_level", fresh.Server.LogLevel)
			},
			func(err error) {
				slog.Warn("Config reload failed, keeping previous settings", "error", err)
			})
		if err != nil {
			slog.Warn("Config watch unavailable", "error", err)
		} else {
			defer stop()
		}
	}

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("initializing orchestrator: %v", err)
	}
	if err := svc.Run(); err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
}
