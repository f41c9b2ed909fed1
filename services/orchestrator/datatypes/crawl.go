// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Crawl limits. Requested options are clamped to these, never rejected.
const (
	CrawlMaxPages     = 200
	CrawlMaxDepth     = 3
	CrawlMaxPageSize  = 1 * 1024 * 1024
	CrawlMaxTotalSize = 10 * 1024 * 1024
	CrawlMaxTotalTime = 10 * time.Minute
	CrawlPageTimeout  = 30 * time.Second
)

// CrawlOptions bounds a website crawl.
type CrawlOptions struct {
	MaxPages        int      `json:"max_pages"`
	MaxDepth        int      `json:"max_depth"`
	SameDomainOnly  bool     `json:"same_domain_only"`
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	IgnoreRobots    bool     `json:"ignore_robots,omitempty"`
}

// DefaultCrawlOptions is the fallback applied when a website refresh finds
// no stored options on the document.
func DefaultCrawlOptions() CrawlOptions {
	return CrawlOptions{
		MaxPages:       10,
		MaxDepth:       2,
		SameDomainOnly: true,
	}
}

// Clamp normalizes requested options into the hard limits. Zero values take
// the defaults.
func (o CrawlOptions) Clamp() CrawlOptions {
	def := DefaultCrawlOptions()
	if o.MaxPages <= 0 {
		o.MaxPages = def.MaxPages
	}
	if o.MaxPages > CrawlMaxPages {
		o.MaxPages = CrawlMaxPages
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = def.MaxDepth
	}
	if o.MaxDepth > CrawlMaxDepth {
		o.MaxDepth = CrawlMaxDepth
	}
	return o
}

// CrawlPhase names a stage of a streaming ingest job.
type CrawlPhase string

const (
	PhaseStarting   CrawlPhase = "starting"
	PhaseCrawling   CrawlPhase = "crawling"
	PhaseProcessing CrawlPhase = "processing"
	PhaseRag        CrawlPhase = "rag"
	PhaseComplete   CrawlPhase = "complete"
	PhaseError      CrawlPhase = "error"
)

// CrawlProgress is one frame of a streaming job's lifecycle. Data is only
// set on the terminal complete event.
type CrawlProgress struct {
	Phase       CrawlPhase `json:"phase"`
	Message     string     `json:"message"`
	CurrentPage int        `json:"current_page"`
	TotalPages  int        `json:"total_pages"`
	Percentage  int        `json:"percentage"`
	CurrentURL  string     `json:"current_url,omitempty"`
	Data        any        `json:"data,omitempty"`
}

// CrawlPage is one fetched page of a website crawl.
type CrawlPage struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Depth   int    `json:"depth"`
	Error   string `json:"error,omitempty"`
}

// CrawlResult is the assembled output of a bounded BFS crawl. Partial is
// true when a budget (pages, bytes, wall time) stopped the crawl early.
type CrawlResult struct {
	BaseURL            string      `json:"base_url"`
	Pages              []CrawlPage `json:"pages"`
	TotalPages         int         `json:"total_pages"`
	TotalContentLength int         `json:"total_content_length"`
	Summary            string      `json:"summary"`
	Partial            bool        `json:"partial"`
	MaxDepthReached    int         `json:"max_depth_reached"`
}
