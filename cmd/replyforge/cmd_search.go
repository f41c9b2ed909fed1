// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/replyforge/replyforge/pkg/ux"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/ingest"
)

func runSearch(cmd *cobra.Command, args []string) error {
	agentId, query := args[0], args[1]

	var result datatypes.SearchResponse
	_, err := newClient().do(context.Background(), http.MethodPost,
		"/v1/agents/"+agentId+"/rag/search",
		datatypes.SearchRequest{Query: query, Limit: searchLimit}, &result)
	if err != nil {
		return err
	}

	if !result.CollectionExists {
		ux.Warning("agent has no indexed documents yet")
		return nil
	}
	if len(result.Hits) == 0 {
		ux.Muted("no matches")
		return nil
	}

	for _, hit := range result.Hits {
		fmt.Printf("%s %s %s\n",
			ux.Styles.Highlight.Render(fmt.Sprintf("#%d", hit.Rank)),
			ux.Styles.Bold.Render(hit.DocumentTitle),
			ux.Styles.Muted.Render(fmt.Sprintf("%d%% · chunk %d · %s",
				hit.RelevancePercentage, hit.ChunkNumber, hit.Source)))
		ux.Info(hit.Text)
	}
	ux.Muted(fmt.Sprintf("%d hits across %d documents", len(result.Hits), len(result.Documents)))
	return nil
}

// statsResponse mirrors the rag/stats payload.
type statsResponse struct {
	AgentId            string `json:"agent_id"`
	CollectionExists   bool   `json:"collection_exists"`
	ChunkCount         int    `json:"chunk_count"`
	DocumentCount      int    `json:"document_count"`
	IndexedDocuments   int    `json:"indexed_documents"`
	DegradedDocuments  int    `json:"degraded_documents"`
	TotalContentLength int    `json:"total_content_length"`
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats statsResponse
	path := "/v1/agents/" + args[0] + "/rag/stats"
	if _, err := newClient().do(context.Background(), http.MethodGet, path, nil, &stats); err != nil {
		return err
	}

	ux.Title("knowledge base: " + stats.AgentId)
	ux.KeyValue("collection", fmt.Sprintf("%t", stats.CollectionExists))
	ux.KeyValue("documents", fmt.Sprintf("%d (%d indexed, %d degraded)",
		stats.DocumentCount, stats.IndexedDocuments, stats.DegradedDocuments))
	ux.KeyValue("chunks", fmt.Sprintf("%d", stats.ChunkCount))
	ux.KeyValue("content bytes", fmt.Sprintf("%d", stats.TotalContentLength))
	if stats.DegradedDocuments > 0 {
		ux.Warning("some documents are not searchable; re-ingest them once the vector store is healthy")
	}
	return nil
}

func runCheckURL(cmd *cobra.Command, args []string) error {
	var result ingest.URLTestResult
	_, err := newClient().do(context.Background(), http.MethodPost,
		"/v1/agents/"+args[0]+"/context/test-url",
		datatypes.IngestURLRequest{URL: args[1]}, &result)
	if err != nil {
		return err
	}

	if !result.Reachable {
		ux.Error("unreachable: " + result.Error)
		return nil
	}
	ux.Success(fmt.Sprintf("reachable (HTTP %d)", result.StatusCode))
	if result.Title != "" {
		ux.KeyValue("title", result.Title)
	}
	ux.KeyValue("content type", result.ContentType)
	ux.KeyValue("bytes", fmt.Sprintf("%d", result.ContentLength))
	return nil
}

func runCheckWebsite(cmd *cobra.Command, args []string) error {
	var result ingest.WebsiteTestResult
	_, err := newClient().do(context.Background(), http.MethodPost,
		"/v1/agents/"+args[0]+"/context/test-website",
		datatypes.IngestURLRequest{URL: args[1]}, &result)
	if err != nil {
		return err
	}

	if !result.Reachable {
		ux.Error("unreachable: " + result.Error)
		return nil
	}
	ux.Success("site reachable")
	if result.Title != "" {
		ux.KeyValue("title", result.Title)
	}
	ux.KeyValue("robots", map[bool]string{true: "allowed", false: "disallowed"}[result.RobotsAllowed])
	ux.KeyValue("links", fmt.Sprintf("%d (%d same host)", result.LinkCount, result.SameHostLinks))
	if !result.RobotsAllowed {
		ux.Warning("robots.txt disallows crawling; --ignore-robots only on sites you own")
	}
	return nil
}
