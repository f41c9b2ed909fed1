// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

const (
	chunkSize    = 1000
	chunkOverlap = 150
	// minChunk drops trailing fragments too short to retrieve well. A
	// document whose whole content is that short still gets its one chunk.
	minChunk = 50
)

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}
)

// splitterFor picks separators by source name so markdown headings stay
// intact where possible.
func splitterFor(source string) textsplitter.TextSplitter {
	seps := defaultSeparators
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		seps = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(seps),
	)
}

// ChunkDocument splits a document's content and wraps each piece in the
// payload stored next to its vector. Empty content yields no chunks, not an
// error; the caller decides whether that degrades the document.
func ChunkDocument(doc *datatypes.ContextDocument) ([]datatypes.ChunkPayload, error) {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil, nil
	}

	// Source is where the content came from: the URL for fetched
	// documents (whose filename carries the page title), else the upload
	// filename.
	source := doc.URL
	if source == "" {
		source = doc.Filename
	}

	pieces, err := splitterFor(source).SplitText(content)
	if err != nil {
		return nil, err
	}

	title := doc.Metadata.Title
	if title == "" {
		title = source
	}

	payloads := make([]datatypes.ChunkPayload, 0, len(pieces))
	for i, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		payloads = append(payloads, datatypes.ChunkPayload{
			AgentId:       doc.AgentId,
			DocumentId:    doc.Id,
			DocumentType:  string(doc.Type),
			DocumentTitle: title,
			Source:        source,
			ChunkIndex:    i,
			Text:          piece,
		})
	}
	return dropShortTail(payloads), nil
}

// dropShortTail removes a trailing chunk under minChunk characters. Short
// tails are splitter leftovers that add noise to retrieval; a single-chunk
// document is kept whole regardless.
func dropShortTail(payloads []datatypes.ChunkPayload) []datatypes.ChunkPayload {
	for len(payloads) > 1 && len(payloads[len(payloads)-1].Text) < minChunk {
		payloads = payloads[:len(payloads)-1]
	}
	return payloads
}
