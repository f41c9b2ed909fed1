// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = 10 * time.Minute

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// RobotsCache fetches and caches robots.txt per host. FromStatusAndBytes
// carries the standard semantics: 4xx permits everything, 5xx denies
// everything. An unreachable host permits crawling.
type RobotsCache struct {
	fetcher   *Fetcher
	userAgent string

	mu      sync.Mutex
	entries map[string]*robotsEntry
}

// NewRobotsCache builds a cache that fetches through the given fetcher, so
// robots lookups get the same SSRF protections as page fetches.
func NewRobotsCache(fetcher *Fetcher, userAgent string) *RobotsCache {
	return &RobotsCache{
		fetcher:   fetcher,
		userAgent: userAgentOrDefault(userAgent),
		entries:   make(map[string]*robotsEntry),
	}
}

// Allowed reports whether the crawler may fetch pageURL.
func (r *RobotsCache) Allowed(ctx context.Context, pageURL string) bool {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	group := r.groupFor(ctx, parsed)
	if group == nil {
		return true
	}
	return group.Test(parsed.RequestURI())
}

func (r *RobotsCache) groupFor(ctx context.Context, page *url.URL) *robotstxt.Group {
	host := page.Scheme + "://" + page.Host

	r.mu.Lock()
	entry, ok := r.entries[host]
	r.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		return entry.group
	}

	group := r.fetchGroup(ctx, host)

	r.mu.Lock()
	r.entries[host] = &robotsEntry{group: group, fetchedAt: time.Now()}
	r.mu.Unlock()
	return group
}

// fetchGroup retrieves and parses robots.txt. A nil return means "no
// restrictions".
func (r *RobotsCache) fetchGroup(ctx context.Context, host string) *robotstxt.Group {
	result, err := r.fetcher.FetchAnyStatus(ctx, host+"/robots.txt")
	if err != nil {
		slog.Debug("robots.txt not reachable, allowing crawl", "host", host, "error", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(result.StatusCode, result.Body)
	if err != nil {
		slog.Debug("robots.txt unparsable, allowing crawl", "host", host, "error", err)
		return nil
	}
	return data.FindGroup(r.userAgent)
}
