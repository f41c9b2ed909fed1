// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest implements the acquisition side of the knowledge base:
// fetching, extraction, chunking, crawling, and the orchestration that turns
// a source into persisted chunks.
package ingest

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/weburl"
)

const (
	defaultUserAgent = "ReplyForgeBot/1.0 (+https://replyforge.dev/bot)"
	maxRedirects     = 5
)

// FetchResult is one fetched resource. NotModified is true for a 304 answer
// to a conditional request; Body is empty in that case.
type FetchResult struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
	StatusCode   int
	NotModified  bool
	FinalURL     string
}

// Fetcher retrieves remote content with SSRF protection on both the initial
// connect and every redirect hop.
type Fetcher struct {
	client    *http.Client
	validator *weburl.Validator
	userAgent string
	maxSize   int64
}

// NewFetcher builds a fetcher capped at maxSize bytes per response. The
// transport dials through the validator's policy dialer, which re-resolves
// targets so DNS rebinding between validation and connect cannot reach
// private address space.
func NewFetcher(validator *weburl.Validator, timeout time.Duration, maxSize int64) *Fetcher {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           validator.DialContext(dialer),
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errs.Newf(errs.RemoteFailed, "too many redirects (max %d)", maxRedirects)
				}
				// Each hop gets the same scrutiny as the original URL.
				if _, err := validator.Validate(req.URL.String()); err != nil {
					return errs.Wrap(errs.InvalidInput, "redirect blocked", err)
				}
				return nil
			},
		},
		validator: validator,
		userAgent: userAgentOrDefault(""),
		maxSize:   maxSize,
	}
}

func userAgentOrDefault(ua string) string {
	if ua == "" {
		return defaultUserAgent
	}
	return ua
}

// Fetch retrieves a URL without conditional headers.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.fetch(ctx, rawURL, "", false, f.maxSize)
}

// FetchLimited retrieves a URL under a tighter byte cap than the fetcher's
// own. Crawls use it so a single page cannot eat the whole crawl budget.
func (f *Fetcher) FetchLimited(ctx context.Context, rawURL string, maxSize int64) (*FetchResult, error) {
	if maxSize <= 0 || maxSize > f.maxSize {
		maxSize = f.maxSize
	}
	return f.fetch(ctx, rawURL, "", false, maxSize)
}

// FetchConditional retrieves a URL, sending If-None-Match when etag is set.
// A 304 comes back as NotModified=true with an empty body rather than an
// error, so refresh flows can short-circuit.
func (f *Fetcher) FetchConditional(ctx context.Context, rawURL, etag string) (*FetchResult, error) {
	return f.fetch(ctx, rawURL, etag, false, f.maxSize)
}

// FetchAnyStatus retrieves a URL and reports non-2xx statuses in the result
// instead of failing. The robots cache needs the status to decide between
// allow-all and deny-all.
func (f *Fetcher) FetchAnyStatus(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.fetch(ctx, rawURL, "", true, f.maxSize)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL, etag string, allowAnyStatus bool, maxSize int64) (*FetchResult, error) {
	canonical, err := f.validator.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonical, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "building request", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Cancelled, "fetch interrupted", ctx.Err())
		}
		return nil, errs.Wrap(errs.RemoteFailed, "fetch failed", err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		return result, nil
	}
	if resp.StatusCode != http.StatusOK {
		if allowAnyStatus {
			return result, nil
		}
		return nil, errs.Newf(errs.RemoteFailed, "remote returned HTTP %d for %s", resp.StatusCode, canonical)
	}

	// Read one byte past the cap to tell "exactly at the limit" from "over".
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, errs.Wrap(errs.RemoteFailed, "reading response body", err)
	}
	if int64(len(body)) > maxSize {
		return nil, errs.Newf(errs.TooLarge, "content exceeds %d bytes", maxSize)
	}

	result.Body = body
	return result, nil
}
