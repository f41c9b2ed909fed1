// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var agentIdRe = regexp.MustCompile(`id\s+([0-9a-f-]{36})`)

// TestAgentKnowledgeWorkflow verifies the full loop: create an agent, upload
// context, search it, and clean up.
func TestAgentKnowledgeWorkflow(t *testing.T) {
	uniqueID := time.Now().Unix()
	codename := fmt.Sprintf("Voucher_Program_%d", uniqueID)

	out, err := runCLI(t, "agent", "create", fmt.Sprintf("e2e-agent-%d", uniqueID),
		"--type", "response", "--prompt", "Answer from the knowledge base only.")
	if err != nil {
		t.Fatalf("agent create failed: %v\nOutput: %s", err, out)
	}
	match := agentIdRe.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("no agent id in output:\n%s", out)
	}
	agentId := match[1]
	defer runCLI(t, "agent", "delete", agentId)

	docFile := filepath.Join(t.TempDir(), fmt.Sprintf("policy_%d.txt", uniqueID))
	content := fmt.Sprintf("Customers in cohort %d qualify for the %s discount.", uniqueID, codename)
	if err := os.WriteFile(docFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err = runCLI(t, "context", "upload", agentId, docFile)
	if err != nil {
		t.Fatalf("upload failed: %v\nOutput: %s", err, out)
	}

	// Give the vector store a moment to make the chunks searchable.
	time.Sleep(5 * time.Second)

	question := fmt.Sprintf("What discount applies to cohort %d?", uniqueID)
	out, err = runCLI(t, "search", agentId, question)
	if err != nil {
		t.Fatalf("search failed: %v\nOutput: %s", err, out)
	}
	if !strings.Contains(out, codename) {
		t.Errorf("retrieval missed the ingested fact.\nExpected mention of %s\nGot: %s", codename, out)
	}

	out, err = runCLI(t, "stats", agentId)
	if err != nil {
		t.Fatalf("stats failed: %v\nOutput: %s", err, out)
	}
	if !strings.Contains(out, "1 indexed") {
		t.Errorf("stats did not report the indexed document.\nOutput: %s", out)
	}
}

// TestAgentDeleteRemovesEverything checks that deletion cascades to the
// document listing.
func TestAgentDeleteRemovesEverything(t *testing.T) {
	out, err := runCLI(t, "agent", "create", fmt.Sprintf("e2e-del-%d", time.Now().UnixNano()),
		"--type", "response")
	if err != nil {
		t.Fatalf("agent create failed: %v\nOutput: %s", err, out)
	}
	match := agentIdRe.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("no agent id in output:\n%s", out)
	}
	agentId := match[1]

	if out, err := runCLI(t, "agent", "delete", agentId); err != nil {
		t.Fatalf("agent delete failed: %v\nOutput: %s", err, out)
	}

	if _, err := runCLI(t, "agent", "get", agentId); err == nil {
		t.Error("deleted agent still retrievable")
	}
}
