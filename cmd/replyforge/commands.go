// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/replyforge/replyforge/pkg/ux"
)

// --- Global Command Variables ---
var (
	serverURL   string
	apiToken    string
	plainOutput bool
	configPath  string

	agentPrompt      string
	agentType        string
	agentTemperature float32
	agentMaxTokens   int

	crawlMaxPages    int
	crawlMaxDepth    int
	crawlCrossDomain bool
	ignoreRobots     bool

	searchLimit int
	bodyFile    string

	rootCmd = &cobra.Command{
		Use:   "replyforge",
		Short: "A cli to manage a ReplyForge response automation deployment",
		Long: `ReplyForge turns customer-support inboxes into retrieval-augmented
response pipelines. This tool manages agents, their context documents,
and inbox wiring against a running orchestrator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server in the foreground",
		RunE:  runServe,
	}

	// --- Agents ---
	agentCmd = &cobra.Command{
		Use:   "agent",
		Short: "Manage response and pipeline agents",
	}
	agentCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentCreate,
	}
	agentListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all agents",
		RunE:  runAgentList,
	}
	agentGetCmd = &cobra.Command{
		Use:   "get [agent-id]",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentGet,
	}
	agentDeleteCmd = &cobra.Command{
		Use:   "delete [agent-id]",
		Short: "Delete an agent, its documents, and its vector collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentDelete,
	}

	// --- Context documents ---
	contextCmd = &cobra.Command{
		Use:   "context",
		Short: "Manage an agent's context documents",
	}
	contextUploadCmd = &cobra.Command{
		Use:   "upload [agent-id] [file]",
		Short: "Upload a local file into the agent's knowledge base",
		Args:  cobra.ExactArgs(2),
		RunE:  runContextUpload,
	}
	contextURLCmd = &cobra.Command{
		Use:   "url [agent-id] [url]",
		Short: "Ingest a single web page",
		Args:  cobra.ExactArgs(2),
		RunE:  runContextURL,
	}
	contextCrawlCmd = &cobra.Command{
		Use:   "crawl [agent-id] [url]",
		Short: "Crawl a website and ingest it as one document",
		Args:  cobra.ExactArgs(2),
		RunE:  runContextCrawl,
	}
	contextListCmd = &cobra.Command{
		Use:   "list [agent-id]",
		Short: "List the agent's context documents",
		Args:  cobra.ExactArgs(1),
		RunE:  runContextList,
	}
	contextDeleteCmd = &cobra.Command{
		Use:   "delete [agent-id] [doc-id]",
		Short: "Delete a context document and its chunks",
		Args:  cobra.ExactArgs(2),
		RunE:  runContextDelete,
	}

	// --- Retrieval ---
	searchCmd = &cobra.Command{
		Use:   "search [agent-id] [query]",
		Short: "Run a retrieval query against an agent's knowledge base",
		Args:  cobra.ExactArgs(2),
		RunE:  runSearch,
	}
	statsCmd = &cobra.Command{
		Use:   "stats [agent-id]",
		Short: "Show indexing statistics for an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}

	// --- Inboxes ---
	inboxCmd = &cobra.Command{
		Use:   "inbox",
		Short: "Manage inbox pipelines",
	}
	inboxPutCmd = &cobra.Command{
		Use:   "put [inbox-id]",
		Short: "Create or replace an inbox from a JSON definition (-f)",
		Args:  cobra.ExactArgs(1),
		RunE:  runInboxPut,
	}
	inboxGetCmd = &cobra.Command{
		Use:   "get [inbox-id]",
		Short: "Show one inbox",
		Args:  cobra.ExactArgs(1),
		RunE:  runInboxGet,
	}

	// --- Webhook testing ---
	webhookSendCmd = &cobra.Command{
		Use:   "webhook [inbox-id]",
		Short: "Send a test webhook event through an inbox pipeline (-f)",
		Args:  cobra.ExactArgs(1),
		RunE:  runWebhookSend,
	}

	// --- Source checks ---
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Probe a source before ingesting it",
	}
	checkURLCmd = &cobra.Command{
		Use:   "url [agent-id] [url]",
		Short: "Check that a page is reachable and extractable",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheckURL,
	}
	checkWebsiteCmd = &cobra.Command{
		Use:   "website [agent-id] [url]",
		Short: "Check a site's robots policy and link surface",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheckWebsite,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"orchestrator base URL (default $REPLYFORGE_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "",
		"bearer token for hosted deployments (default $REPLYFORGE_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"force plain machine-friendly output")

	serveCmd.Flags().StringVar(&configPath, "config", "",
		"path to the YAML config file (default $REPLYFORGE_CONFIG)")

	agentCreateCmd.Flags().StringVar(&agentPrompt, "prompt", "",
		"system prompt defining the agent's behavior")
	agentCreateCmd.Flags().StringVar(&agentType, "type", "response",
		"agent type: response, pre-process, analytics, moderation, routing, post-process")
	agentCreateCmd.Flags().Float32Var(&agentTemperature, "temperature", 0.7,
		"sampling temperature [0,1]")
	agentCreateCmd.Flags().IntVar(&agentMaxTokens, "max-tokens", 500,
		"response token cap [1,2000]")

	contextCrawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 10, "page budget")
	contextCrawlCmd.Flags().IntVar(&crawlMaxDepth, "max-depth", 2, "link depth budget")
	contextCrawlCmd.Flags().BoolVar(&crawlCrossDomain, "cross-domain", false,
		"follow links off the starting host")
	contextCrawlCmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false,
		"skip robots.txt checks (use only on sites you own)")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum hits to return")

	inboxPutCmd.Flags().StringVarP(&bodyFile, "file", "f", "",
		"JSON file with the inbox definition (required)")
	_ = inboxPutCmd.MarkFlagRequired("file")
	webhookSendCmd.Flags().StringVarP(&bodyFile, "file", "f", "",
		"JSON file with the webhook event (required)")
	_ = webhookSendCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentGetCmd)
	agentCmd.AddCommand(agentDeleteCmd)

	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextUploadCmd)
	contextCmd.AddCommand(contextURLCmd)
	contextCmd.AddCommand(contextCrawlCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextDeleteCmd)

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(inboxCmd)
	inboxCmd.AddCommand(inboxPutCmd)
	inboxCmd.AddCommand(inboxGetCmd)

	rootCmd.AddCommand(webhookSendCmd)

	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkURLCmd)
	checkCmd.AddCommand(checkWebsiteCmd)
}
