// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeLookup(types map[string]AgentType) func(string) (AgentType, error) {
	return func(id string) (AgentType, error) {
		t, ok := types[id]
		if !ok {
			return "", fmt.Errorf("not found")
		}
		return t, nil
	}
}

func TestInboxValidate_ResponseAgentInAgentsRejected(t *testing.T) {
	inbox := &Inbox{
		Agents: []InboxAgentRef{{AgentId: "r1", Priority: 100, IsActive: true}},
	}
	err := inbox.Validate(typeLookup(map[string]AgentType{"r1": AgentTypeResponse}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response agent")
}

func TestInboxValidate_PriorityRangePolicy(t *testing.T) {
	types := map[string]AgentType{
		"pre":  AgentTypePreProcess,
		"main": AgentTypeAnalytics,
		"post": AgentTypePostProcess,
	}

	ok := &Inbox{Agents: []InboxAgentRef{
		{AgentId: "pre", Priority: 10},
		{AgentId: "main", Priority: 150},
		{AgentId: "post", Priority: 200},
	}}
	assert.NoError(t, ok.Validate(typeLookup(types)))

	preTooHigh := &Inbox{Agents: []InboxAgentRef{{AgentId: "pre", Priority: 100}}}
	assert.Error(t, preTooHigh.Validate(typeLookup(types)))

	mainOutOfBand := &Inbox{Agents: []InboxAgentRef{{AgentId: "main", Priority: 50}}}
	assert.Error(t, mainOutOfBand.Validate(typeLookup(types)))

	postTooLow := &Inbox{Agents: []InboxAgentRef{{AgentId: "post", Priority: 199}}}
	assert.Error(t, postTooLow.Validate(typeLookup(types)))
}

func TestInboxValidate_DuplicateAndUnknownAgents(t *testing.T) {
	types := map[string]AgentType{"a": AgentTypeAnalytics}

	dup := &Inbox{Agents: []InboxAgentRef{
		{AgentId: "a", Priority: 100},
		{AgentId: "a", Priority: 110},
	}}
	assert.Error(t, dup.Validate(typeLookup(types)))

	unknown := &Inbox{Agents: []InboxAgentRef{{AgentId: "ghost", Priority: 100}}}
	assert.Error(t, unknown.Validate(typeLookup(types)))
}

func TestInboxValidate_ResponseAgentMustBeResponseType(t *testing.T) {
	types := map[string]AgentType{"a": AgentTypeAnalytics, "r": AgentTypeResponse}

	bad := &Inbox{ResponseAgent: &ResponseAgentRef{AgentId: "a"}}
	assert.Error(t, bad.Validate(typeLookup(types)))

	good := &Inbox{ResponseAgent: &ResponseAgentRef{AgentId: "r"}}
	assert.NoError(t, good.Validate(typeLookup(types)))
}

func TestAgentSettingsValidate(t *testing.T) {
	s := DefaultAgentSettings()
	assert.NoError(t, s.Validate())

	s.Temperature = 1.5
	assert.Error(t, s.Validate())

	s = DefaultAgentSettings()
	s.MaxTokens = 0
	assert.Error(t, s.Validate())

	s = DefaultAgentSettings()
	s.ResponseDelaySec = 31
	assert.Error(t, s.Validate())
}

func TestCrawlOptionsClamp(t *testing.T) {
	clamped := CrawlOptions{MaxPages: 1000, MaxDepth: 9}.Clamp()
	assert.Equal(t, CrawlMaxPages, clamped.MaxPages)
	assert.Equal(t, CrawlMaxDepth, clamped.MaxDepth)

	defaulted := CrawlOptions{}.Clamp()
	assert.Equal(t, 10, defaulted.MaxPages)
	assert.Equal(t, 2, defaulted.MaxDepth)
}

func TestDocumentDedupKey(t *testing.T) {
	f := &ContextDocument{Type: DocumentTypeFile, Filename: "guide.pdf"}
	u := &ContextDocument{Type: DocumentTypeURL, URL: "https://example.com/docs"}
	w := &ContextDocument{Type: DocumentTypeWebsite, URL: "https://example.com"}

	assert.Equal(t, "file:guide.pdf", f.DedupKey())
	assert.Equal(t, "url:https://example.com/docs", u.DedupKey())
	assert.Equal(t, "url:https://example.com", w.DedupKey())
	assert.NotEqual(t, u.DedupKey(), w.DedupKey())
}
