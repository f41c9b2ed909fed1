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

// AgentType distinguishes how an agent participates in an inbox pipeline.
type AgentType string

const (
	AgentTypeResponse    AgentType = "response"
	AgentTypePreProcess  AgentType = "pre-process"
	AgentTypeAnalytics   AgentType = "analytics"
	AgentTypeModeration  AgentType = "moderation"
	AgentTypeRouting     AgentType = "routing"
	AgentTypePostProcess AgentType = "post-process"
)

// Valid reports whether the type is one of the known agent types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeResponse, AgentTypePreProcess, AgentTypeAnalytics,
		AgentTypeModeration, AgentTypeRouting, AgentTypePostProcess:
		return true
	}
	return false
}

// AgentSettings tunes the LLM call made on the agent's behalf.
type AgentSettings struct {
	Temperature      float32 `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens        int     `json:"max_tokens" validate:"gte=1,lte=2000"`
	ResponseDelaySec int     `json:"response_delay_sec" validate:"gte=0,lte=30"`
	ConnectionId     string  `json:"connection_id,omitempty"`
	ModelId          string  `json:"model_id,omitempty"`
}

// DefaultAgentSettings returns the settings applied when a new agent omits
// them.
func DefaultAgentSettings() AgentSettings {
	return AgentSettings{
		Temperature: 0.7,
		MaxTokens:   500,
	}
}

// Validate enforces the settings ranges.
func (s AgentSettings) Validate() error {
	if s.Temperature < 0 || s.Temperature > 1 {
		return fmt.Errorf("temperature %.2f outside [0,1]", s.Temperature)
	}
	if s.MaxTokens < 1 || s.MaxTokens > 2000 {
		return fmt.Errorf("max_tokens %d outside [1,2000]", s.MaxTokens)
	}
	if s.ResponseDelaySec < 0 || s.ResponseDelaySec > 30 {
		return fmt.Errorf("response_delay_sec %d outside [0,30]", s.ResponseDelaySec)
	}
	return nil
}

// Agent is the unit of personality plus knowledge. Each agent owns a list of
// context documents and a logical vector collection named from its id.
type Agent struct {
	Id        string        `json:"id"`
	Name      string        `json:"name" validate:"required"`
	Prompt    string        `json:"prompt"`
	Settings  AgentSettings `json:"settings"`
	AgentType AgentType     `json:"agent_type"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks the agent record before it is persisted.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if !a.AgentType.Valid() {
		return fmt.Errorf("unknown agent type %q", a.AgentType)
	}
	return a.Settings.Validate()
}
