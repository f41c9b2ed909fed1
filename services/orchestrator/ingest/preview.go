// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/weburl"
)

// URLTestResult is the outcome of a non-mutating single-page probe.
type URLTestResult struct {
	URL           string `json:"url"`
	Reachable     bool   `json:"reachable"`
	StatusCode    int    `json:"status_code,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`
	Title         string `json:"title,omitempty"`
	Error         string `json:"error,omitempty"`
}

// WebsiteTestResult is the outcome of a non-mutating crawl preview: the base
// page only, with a link census so the caller can judge crawl scope before
// committing.
type WebsiteTestResult struct {
	URL           string `json:"url"`
	RobotsAllowed bool   `json:"robots_allowed"`
	Reachable     bool   `json:"reachable"`
	Title         string `json:"title,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`
	LinkCount     int    `json:"link_count"`
	SameHostLinks int    `json:"same_host_links"`
	Error         string `json:"error,omitempty"`
}

// TestURL validates a URL (including DNS resolution) and fetches it without
// creating a document. Fetch failures are reported in the result, not as an
// error: only a rejected URL errors.
func (s *Service) TestURL(ctx context.Context, rawURL string) (*URLTestResult, error) {
	canonical, err := s.validator.ValidateResolved(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	result := &URLTestResult{URL: canonical}
	fetched, err := s.fetcher.Fetch(ctx, canonical)
	if err != nil {
		result.Error = errs.Message(err)
		return result, nil
	}
	result.Reachable = true
	result.StatusCode = fetched.StatusCode
	result.ContentType = fetched.ContentType
	result.ContentLength = len(fetched.Body)

	if IsHTMLContent(fetched.ContentType) {
		if page, err := ExtractHTML(fetched.Body, fetched.FinalURL); err == nil {
			result.Title = page.Title
		}
	}
	return result, nil
}

// TestWebsite previews a crawl: validates the base URL, checks robots.txt,
// and fetches just the base page to count outlinks. No document is created
// and no link is followed.
func (s *Service) TestWebsite(ctx context.Context, rawURL string) (*WebsiteTestResult, error) {
	canonical, err := s.validator.ValidateResolved(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	result := &WebsiteTestResult{
		URL:           canonical,
		RobotsAllowed: s.crawler.robots.Allowed(ctx, canonical),
	}

	fetched, err := s.fetcher.Fetch(ctx, canonical)
	if err != nil {
		result.Error = errs.Message(err)
		return result, nil
	}
	if !IsHTMLContent(fetched.ContentType) {
		result.Error = "base page is not HTML"
		return result, nil
	}

	page, err := ExtractHTML(fetched.Body, fetched.FinalURL)
	if err != nil {
		result.Error = errs.Message(err)
		return result, nil
	}
	result.Reachable = true
	result.Title = page.Title
	result.ContentLength = len(page.Text)
	result.LinkCount = len(page.Links)
	for _, link := range page.Links {
		if weburl.SameHost(canonical, link) {
			result.SameHostLinks++
		}
	}
	return result, nil
}
