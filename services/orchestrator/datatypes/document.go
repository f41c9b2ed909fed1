// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"
)

// DocumentType classifies how a context document was ingested.
type DocumentType string

const (
	DocumentTypeFile    DocumentType = "file"
	DocumentTypeURL     DocumentType = "url"
	DocumentTypeWebsite DocumentType = "website"
)

// Content size caps per ingest mode. Exposed as config defaults; the
// orchestrator reads the effective values from config.
const (
	MaxURLContentSize     = 100 * 1024        // single URL
	MaxFileContentSize    = 1 * 1024 * 1024   // extracted text of an uploaded file
	MaxWebsiteContentSize = 10 * 1024 * 1024  // aggregated website crawl
)

// TruncationMarker is appended when website content is cut at the aggregate
// cap instead of failing the crawl.
const TruncationMarker = "\n\n[content truncated: size limit reached]"

// RagStatus records whether a document's chunks made it into the vector
// collection. A document either has Processed=true or carries Error.
type RagStatus struct {
	Processed     bool       `json:"processed"`
	ChunksCreated int        `json:"chunks_created,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	AttemptedAt   *time.Time `json:"attempted_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// WebsiteMetadata holds crawl provenance for type=website documents.
type WebsiteMetadata struct {
	BaseURL      string       `json:"base_url"`
	PageURLs     []string     `json:"page_urls"`
	TotalPages   int          `json:"total_pages"`
	CrawlOptions CrawlOptions `json:"crawl_options"`
	LastCrawled  time.Time    `json:"last_crawled"`
	Partial      bool         `json:"partial,omitempty"`
}

// DocumentMetadata is the open metadata bag on a context document. Website
// fields are nil for file and url documents.
type DocumentMetadata struct {
	Title        string           `json:"title,omitempty"`
	ContentType  string           `json:"content_type,omitempty"`
	ETag         string           `json:"etag,omitempty"`
	LastModified *time.Time       `json:"last_modified,omitempty"`
	Website      *WebsiteMetadata `json:"website,omitempty"`
	Truncated    bool             `json:"truncated,omitempty"`
}

// ContextDocument is one ingested source owned by an agent. Its identity is
// the (AgentId, Id) pair; per-agent operations scan locally.
type ContextDocument struct {
	Id            string           `json:"id"`
	AgentId       string           `json:"agent_id"`
	Type          DocumentType     `json:"type"`
	Filename      string           `json:"filename,omitempty"`
	URL           string           `json:"url,omitempty"`
	Content       string           `json:"content"`
	ContentLength int              `json:"content_length"`
	UploadedAt    time.Time        `json:"uploaded_at"`
	Metadata      DocumentMetadata `json:"metadata"`
	RagStatus     RagStatus        `json:"rag_status"`
}

// DedupKey returns the uniqueness key for the document within its agent:
// filename for files, url for url/website documents. Empty means the
// document is not subject to dedup (should not happen for valid records).
func (d *ContextDocument) DedupKey() string {
	switch d.Type {
	case DocumentTypeFile:
		return "file:" + d.Filename
	case DocumentTypeURL, DocumentTypeWebsite:
		return "url:" + d.URL
	}
	return ""
}

// ChunkPayload is the metadata stored alongside each vector point.
type ChunkPayload struct {
	AgentId       string `json:"agent_id"`
	DocumentId    string `json:"document_id"`
	DocumentType  string `json:"document_type"`
	DocumentTitle string `json:"document_title"`
	Source        string `json:"source"`
	ChunkIndex    int    `json:"chunk_index"`
	Text          string `json:"text"`
	Language      string `json:"language,omitempty"`
}
