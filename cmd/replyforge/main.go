// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command replyforge is the management CLI. It talks to a running
// orchestrator over HTTP, except for `serve`, which runs the orchestrator
// itself.
//
// Exit codes: 0 success, 2 invalid input, 3 conflict, 4 access denied,
// 5 ingested but not indexed, 1 anything else.
package main

import (
	"errors"
	"os"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(userMessage(err))
		os.Exit(errs.ExitCode(err))
	}
}

// userMessage keeps classified messages as-is and falls back to the raw
// error text for cobra usage errors and other unclassified failures.
func userMessage(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
