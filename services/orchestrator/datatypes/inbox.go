// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"
)

// Pipeline priority ranges. These are policy, enforced when an inbox config
// is written: violations are rejected as invalid input.
const (
	PriorityMainMin = 100
	PriorityPostMin = 200
)

// InboxAgentRef attaches a non-response agent to an inbox at a priority.
type InboxAgentRef struct {
	AgentId  string `json:"agent_id" validate:"required"`
	Priority int    `json:"priority"`
	IsActive bool   `json:"is_active"`
}

// ResponseAgentRef attaches the single response agent. It has no priority;
// it always runs after pre-process.
type ResponseAgentRef struct {
	AgentId string         `json:"agent_id" validate:"required"`
	Config  map[string]any `json:"config,omitempty"`
}

// InboxSettings carries per-inbox toggles.
type InboxSettings struct {
	RetrievalTopK    int  `json:"retrieval_top_k"`
	IgnoreRobots     bool `json:"ignore_robots"`
	ResponseDeadline int  `json:"response_deadline_sec"`
}

// Inbox maps a webhook endpoint to a configured pipeline of agents.
type Inbox struct {
	Id            string            `json:"id"`
	Name          string            `json:"name"`
	WebhookURL    string            `json:"webhook_url"`
	ResponseAgent *ResponseAgentRef `json:"response_agent,omitempty"`
	Agents        []InboxAgentRef   `json:"agents"`
	Settings      InboxSettings     `json:"settings"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Validate enforces the pipeline invariants: at most one response agent
// (structurally guaranteed), and no agent in Agents[] may be of type
// response. agentType looks up the referenced agent's type; it returns an
// error when the agent does not exist.
func (i *Inbox) Validate(agentType func(agentId string) (AgentType, error)) error {
	seen := make(map[string]bool, len(i.Agents))
	for _, ref := range i.Agents {
		if ref.AgentId == "" {
			return fmt.Errorf("inbox agent reference missing agent_id")
		}
		if seen[ref.AgentId] {
			return fmt.Errorf("agent %s attached to inbox more than once", ref.AgentId)
		}
		seen[ref.AgentId] = true
		if ref.Priority < 0 {
			return fmt.Errorf("agent %s has negative priority %d", ref.AgentId, ref.Priority)
		}
		t, err := agentType(ref.AgentId)
		if err != nil {
			return fmt.Errorf("agent %s: %w", ref.AgentId, err)
		}
		if t == AgentTypeResponse {
			return fmt.Errorf("response agent %s must be assigned as the inbox response agent, not listed in agents", ref.AgentId)
		}
		if err := checkPriorityRange(t, ref.Priority); err != nil {
			return fmt.Errorf("agent %s: %w", ref.AgentId, err)
		}
	}
	if i.ResponseAgent != nil {
		t, err := agentType(i.ResponseAgent.AgentId)
		if err != nil {
			return fmt.Errorf("response agent %s: %w", i.ResponseAgent.AgentId, err)
		}
		if t != AgentTypeResponse {
			return fmt.Errorf("agent %s has type %s, expected response", i.ResponseAgent.AgentId, t)
		}
	}
	return nil
}

// checkPriorityRange enforces the range policy: pre-process agents sit
// below 100, post-process at 200 and above, everything else in the main
// band.
func checkPriorityRange(t AgentType, priority int) error {
	switch t {
	case AgentTypePreProcess:
		if priority >= PriorityMainMin {
			return fmt.Errorf("pre-process agents require priority below %d, got %d", PriorityMainMin, priority)
		}
	case AgentTypePostProcess:
		if priority < PriorityPostMin {
			return fmt.Errorf("post-process agents require priority %d or above, got %d", PriorityPostMin, priority)
		}
	default:
		if priority < PriorityMainMin || priority >= PriorityPostMin {
			return fmt.Errorf("%s agents require priority in [%d,%d), got %d", t, PriorityMainMin, PriorityPostMin, priority)
		}
	}
	return nil
}
