// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/ux"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/handlers"
)

func runAgentCreate(cmd *cobra.Command, args []string) error {
	settings := datatypes.DefaultAgentSettings()
	settings.Temperature = agentTemperature
	settings.MaxTokens = agentMaxTokens

	req := handlers.CreateAgentRequest{
		Name:      args[0],
		Prompt:    agentPrompt,
		AgentType: datatypes.AgentType(agentType),
		Settings:  &settings,
	}

	var agent datatypes.Agent
	msg, err := newClient().do(context.Background(), http.MethodPost, "/v1/agents", req, &agent)
	if err != nil {
		return err
	}

	ux.Success(msg)
	ux.KeyValue("id", agent.Id)
	ux.KeyValue("type", string(agent.AgentType))
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	var agents []datatypes.Agent
	if _, err := newClient().do(context.Background(), http.MethodGet, "/v1/agents", nil, &agents); err != nil {
		return err
	}

	if len(agents) == 0 {
		ux.Muted("no agents configured")
		return nil
	}
	for _, a := range agents {
		state := ux.IconSuccess
		if !a.IsActive {
			state = ux.IconWarning
		}
		fmt.Printf("%s %s  %s  %s\n", state.Render(), a.Id,
			ux.Styles.Bold.Render(a.Name), ux.Styles.Muted.Render(string(a.AgentType)))
	}
	return nil
}

func runAgentGet(cmd *cobra.Command, args []string) error {
	var agent datatypes.Agent
	path := "/v1/agents/" + args[0]
	if _, err := newClient().do(context.Background(), http.MethodGet, path, nil, &agent); err != nil {
		return err
	}

	ux.Title(agent.Name)
	ux.KeyValue("id", agent.Id)
	ux.KeyValue("type", string(agent.AgentType))
	ux.KeyValue("active", fmt.Sprintf("%t", agent.IsActive))
	ux.KeyValue("temperature", fmt.Sprintf("%.2f", agent.Settings.Temperature))
	ux.KeyValue("max_tokens", fmt.Sprintf("%d", agent.Settings.MaxTokens))
	ux.KeyValue("created", agent.CreatedAt.Format("2006-01-02 15:04:05"))
	if agent.Prompt != "" {
		ux.Box("prompt", agent.Prompt)
	}
	return nil
}

func runAgentDelete(cmd *cobra.Command, args []string) error {
	path := "/v1/agents/" + args[0]
	msg, err := newClient().do(context.Background(), http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	ux.Success(msg)
	return nil
}

func runInboxPut(cmd *cobra.Command, args []string) error {
	body, err := readJSONFile(bodyFile)
	if err != nil {
		return err
	}

	var inbox datatypes.Inbox
	path := "/v1/inboxes/" + args[0]
	msg, err := newClient().do(context.Background(), http.MethodPut, path, body, &inbox)
	if err != nil {
		return err
	}

	ux.Success(msg)
	ux.KeyValue("id", inbox.Id)
	if inbox.ResponseAgent != nil {
		ux.KeyValue("response agent", inbox.ResponseAgent.AgentId)
	}
	ux.KeyValue("pipeline agents", fmt.Sprintf("%d", len(inbox.Agents)))
	return nil
}

func runInboxGet(cmd *cobra.Command, args []string) error {
	var inbox datatypes.Inbox
	path := "/v1/inboxes/" + args[0]
	if _, err := newClient().do(context.Background(), http.MethodGet, path, nil, &inbox); err != nil {
		return err
	}

	ux.Title(inbox.Name)
	ux.KeyValue("id", inbox.Id)
	ux.KeyValue("webhook", inbox.WebhookURL)
	if inbox.ResponseAgent != nil {
		ux.KeyValue("response agent", inbox.ResponseAgent.AgentId)
	}
	for _, ref := range inbox.Agents {
		state := ux.IconSuccess
		if !ref.IsActive {
			state = ux.IconWarning
		}
		fmt.Printf("  %s priority %d  %s\n", state.Render(), ref.Priority, ref.AgentId)
	}
	return nil
}

func runWebhookSend(cmd *cobra.Command, args []string) error {
	body, err := readJSONFile(bodyFile)
	if err != nil {
		return err
	}

	var result datatypes.PipelineResult
	path := "/webhook/inbox/" + args[0]
	if _, err := newClient().do(context.Background(), http.MethodPost, path, body, &result); err != nil {
		return err
	}

	if result.Reply != "" {
		ux.Box("reply", result.Reply)
	} else {
		ux.Muted("pipeline produced no reply")
	}
	ux.KeyValue("delivered", fmt.Sprintf("%t", result.Delivered))
	ux.KeyValue("duration", result.CompletedAt.Sub(result.StartedAt).String())
	for _, agentErr := range result.Errors {
		ux.Warning(fmt.Sprintf("%s (%s): %s", agentErr.AgentId, agentErr.Stage, agentErr.Error))
	}
	return nil
}

// readJSONFile loads a request body from disk, checking that it is valid
// JSON before it goes on the wire.
func readJSONFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "reading "+path, err)
	}
	if !json.Valid(data) {
		return nil, errs.New(errs.InvalidInput, path+" is not valid JSON")
	}
	return json.RawMessage(data), nil
}
