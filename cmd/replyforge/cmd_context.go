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

	"github.com/spf13/cobra"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/ux"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

func runContextUpload(cmd *cobra.Command, args []string) error {
	agentId, filePath := args[0], args[1]

	var doc datatypes.ContextDocument
	err := ux.WithSpinner("uploading "+filePath, func() error {
		_, err := newClient().upload(context.Background(),
			"/v1/agents/"+agentId+"/context/upload", filePath, &doc)
		return err
	})
	if err != nil {
		return err
	}
	return reportIngested(doc)
}

func runContextURL(cmd *cobra.Command, args []string) error {
	agentId, url := args[0], args[1]

	var doc datatypes.ContextDocument
	err := ux.WithSpinner("ingesting "+url, func() error {
		_, err := newClient().do(context.Background(), http.MethodPost,
			"/v1/agents/"+agentId+"/context/url",
			datatypes.IngestURLRequest{URL: url}, &doc)
		return err
	})
	if err != nil {
		return err
	}
	return reportIngested(doc)
}

func runContextCrawl(cmd *cobra.Command, args []string) error {
	agentId, url := args[0], args[1]

	req := datatypes.IngestWebsiteRequest{
		URL: url,
		Options: datatypes.CrawlOptions{
			MaxPages:       crawlMaxPages,
			MaxDepth:       crawlMaxDepth,
			SameDomainOnly: !crawlCrossDomain,
			IgnoreRobots:   ignoreRobots,
		},
	}

	spin := ux.NewSpinner("crawling " + url)
	spin.Start()

	var doc datatypes.ContextDocument
	err := newClient().stream(context.Background(),
		"/v1/agents/"+agentId+"/context/website", req,
		func(event datatypes.StreamEvent) {
			switch event.Type {
			case datatypes.StreamEventProgress:
				msg := event.Message
				if event.TotalPages > 0 {
					msg = fmt.Sprintf("%s [%s]", msg,
						ux.ProgressBar(event.CurrentPage, event.TotalPages, 20))
				}
				spin.UpdateMessage(msg)
			case datatypes.StreamEventComplete:
				if raw, err := json.Marshal(event.Data); err == nil {
					_ = json.Unmarshal(raw, &doc)
				}
			}
		})
	if err != nil {
		spin.StopWithError(userMessage(err))
		return err
	}

	spin.StopWithSuccess(fmt.Sprintf("crawled %s", url))
	if site := doc.Metadata.Website; site != nil {
		ux.KeyValue("pages", fmt.Sprintf("%d", site.TotalPages))
		if site.Partial {
			ux.Warning("crawl stopped early: a page, byte, or time budget was reached")
		}
	}
	return reportIngested(doc)
}

func runContextList(cmd *cobra.Command, args []string) error {
	var docs []datatypes.ContextDocument
	path := "/v1/agents/" + args[0] + "/context"
	if _, err := newClient().do(context.Background(), http.MethodGet, path, nil, &docs); err != nil {
		return err
	}

	if len(docs) == 0 {
		ux.Muted("no context documents")
		return nil
	}
	for _, d := range docs {
		state := ux.IconSuccess
		if !d.RagStatus.Processed {
			state = ux.IconWarning
		}
		source := d.Filename
		if source == "" {
			source = d.URL
		}
		fmt.Printf("%s %s  %s  %s\n", state.Render(), d.Id,
			ux.Styles.Bold.Render(source),
			ux.Styles.Muted.Render(fmt.Sprintf("%s, %d bytes", d.Type, d.ContentLength)))
	}
	return nil
}

func runContextDelete(cmd *cobra.Command, args []string) error {
	path := "/v1/agents/" + args[0] + "/context/" + args[1]
	msg, err := newClient().do(context.Background(), http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	ux.Success(msg)
	return nil
}

// reportIngested prints the outcome of an ingest. A document that was saved
// but not indexed is a success-with-warning and maps to its own exit code.
func reportIngested(doc datatypes.ContextDocument) error {
	ux.KeyValue("document", doc.Id)
	if doc.RagStatus.Processed {
		ux.KeyValue("chunks", fmt.Sprintf("%d", doc.RagStatus.ChunksCreated))
		return nil
	}
	ux.Warning("document saved, but indexing failed: " + doc.RagStatus.Error)
	return errs.New(errs.RAGDegraded, "document saved, but indexing failed")
}
