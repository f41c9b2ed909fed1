// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/weburl"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/observability"
)

var crawlTracer = otel.Tracer("replyforge.orchestrator.ingest.crawler")

const crawlConcurrency = 4

// Crawler walks a website breadth-first within hard budgets: page count,
// depth, per-page and aggregate byte caps, and a wall-clock ceiling. Hitting
// any budget ends the crawl with a partial result, never an error.
type Crawler struct {
	fetcher   *Fetcher
	robots    *RobotsCache
	validator *weburl.Validator

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCrawler wires a crawler over an already-constructed fetcher. The robots
// cache shares it so both obey the same network policy.
func NewCrawler(fetcher *Fetcher, robots *RobotsCache, validator *weburl.Validator) *Crawler {
	return &Crawler{
		fetcher:   fetcher,
		robots:    robots,
		validator: validator,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// hostLimiter returns the rate limiter for a host, 2 requests per second.
func (c *Crawler) hostLimiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(2), 1)
		c.limiters[host] = l
	}
	return l
}

type frontierItem struct {
	url   string
	depth int
}

// Crawl fetches baseURL and follows links breadth-first. Progress frames go
// to sink; the caller still owns the terminal event.
func (c *Crawler) Crawl(ctx context.Context, baseURL string, opts datatypes.CrawlOptions, sink *ProgressSink) (*datatypes.CrawlResult, error) {
	ctx, span := crawlTracer.Start(ctx, "crawler.Crawl")
	defer span.End()

	canonical, err := c.validator.Validate(baseURL)
	if err != nil {
		return nil, err
	}
	opts = opts.Clamp()
	span.SetAttributes(
		attribute.String("base_url", canonical),
		attribute.Int("max_pages", opts.MaxPages),
		attribute.Int("max_depth", opts.MaxDepth),
	)

	if !opts.IgnoreRobots && !c.robots.Allowed(ctx, canonical) {
		return nil, errs.Newf(errs.AccessDenied, "robots.txt disallows crawling %s", canonical)
	}

	ctx, cancel := context.WithTimeout(ctx, datatypes.CrawlMaxTotalTime)
	defer cancel()

	result := &datatypes.CrawlResult{BaseURL: canonical}
	visited := map[string]bool{weburl.CrawlKey(canonical): true}
	frontier := []frontierItem{{url: canonical, depth: 0}}
	totalBytes := 0

	for len(frontier) > 0 && len(result.Pages) < opts.MaxPages {
		if ctx.Err() != nil {
			result.Partial = true
			break
		}

		// Trim the current level to the remaining page budget before
		// spending fetches on it.
		level := frontier
		remaining := opts.MaxPages - len(result.Pages)
		if len(level) > remaining {
			level = level[:remaining]
			result.Partial = true
		}
		frontier = nil

		type fetched struct {
			item frontierItem
			page *datatypes.CrawlPage
			out  []string
		}
		results := make([]fetched, len(level))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(crawlConcurrency)
		for i, item := range level {
			g.Go(func() error {
				sink.Progress(datatypes.CrawlProgress{
					Phase:       datatypes.PhaseCrawling,
					Message:     fmt.Sprintf("Fetching page %d of up to %d", len(result.Pages)+i+1, opts.MaxPages),
					CurrentPage: len(result.Pages) + i + 1,
					TotalPages:  opts.MaxPages,
					Percentage:  (len(result.Pages) + i) * 100 / opts.MaxPages,
					CurrentURL:  item.url,
				})
				page, out := c.fetchPage(gctx, item, opts)
				results[i] = fetched{item: item, page: page, out: out}
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			if r.page == nil {
				continue
			}
			if m := observability.Default; m != nil {
				outcome := "ok"
				if r.page.Error != "" {
					outcome = "error"
				}
				m.CrawlPagesTotal.WithLabelValues(outcome).Inc()
			}
			if r.page.Error == "" {
				if totalBytes+len(r.page.Content) > datatypes.CrawlMaxTotalSize {
					// Cut the page that crosses the aggregate cap and stop.
					allowed := datatypes.CrawlMaxTotalSize - totalBytes
					if allowed > 0 {
						r.page.Content = r.page.Content[:allowed] + datatypes.TruncationMarker
						result.Pages = append(result.Pages, *r.page)
					}
					result.Partial = true
					result.TotalContentLength = datatypes.CrawlMaxTotalSize
					result.TotalPages = len(result.Pages)
					return result, nil
				}
				totalBytes += len(r.page.Content)
			}
			result.Pages = append(result.Pages, *r.page)
			if r.item.depth > result.MaxDepthReached {
				result.MaxDepthReached = r.item.depth
			}

			if r.item.depth >= opts.MaxDepth {
				continue
			}
			for _, link := range r.out {
				key := weburl.CrawlKey(link)
				if visited[key] {
					continue
				}
				visited[key] = true
				frontier = append(frontier, frontierItem{url: link, depth: r.item.depth + 1})
			}
		}

		if len(result.Pages) >= opts.MaxPages && len(frontier) > 0 {
			result.Partial = true
		}
	}

	result.TotalPages = len(result.Pages)
	result.TotalContentLength = totalBytes
	slog.Info("Crawl finished",
		"base_url", canonical,
		"pages", result.TotalPages,
		"bytes", totalBytes,
		"partial", result.Partial,
		"max_depth_reached", result.MaxDepthReached)
	return result, nil
}

// fetchPage fetches one page and returns it plus candidate outlinks. A page
// that fails validation or robots silently yields nil; a fetch error yields
// a page carrying the error so the summary can report it.
func (c *Crawler) fetchPage(ctx context.Context, item frontierItem, opts datatypes.CrawlOptions) (*datatypes.CrawlPage, []string) {
	if item.depth > 0 {
		if _, err := c.validator.Validate(item.url); err != nil {
			return nil, nil
		}
		if !opts.IgnoreRobots && !c.robots.Allowed(ctx, item.url) {
			return nil, nil
		}
	}

	if parsed, err := url.Parse(item.url); err == nil {
		if err := c.hostLimiter(parsed.Hostname()).Wait(ctx); err != nil {
			return nil, nil
		}
	}

	pageCtx, cancel := context.WithTimeout(ctx, datatypes.CrawlPageTimeout)
	defer cancel()

	fetchResult, err := c.fetcher.FetchLimited(pageCtx, item.url, datatypes.CrawlMaxPageSize)
	if err != nil {
		slog.Debug("Page fetch failed", "url", item.url, "error", err)
		return &datatypes.CrawlPage{URL: item.url, Depth: item.depth, Error: errs.Message(err)}, nil
	}
	if !IsHTMLContent(fetchResult.ContentType) {
		return nil, nil
	}

	extracted, err := ExtractHTML(fetchResult.Body, fetchResult.FinalURL)
	if err != nil {
		return &datatypes.CrawlPage{URL: item.url, Depth: item.depth, Error: errs.Message(err)}, nil
	}

	page := &datatypes.CrawlPage{
		URL:     item.url,
		Title:   extracted.Title,
		Content: extracted.Text,
		Depth:   item.depth,
	}

	var out []string
	for _, link := range extracted.Links {
		if opts.SameDomainOnly && !weburl.SameHost(item.url, link) {
			continue
		}
		if !matchesPatterns(link, opts.IncludePatterns, opts.ExcludePatterns) {
			continue
		}
		out = append(out, link)
	}
	return page, out
}

// matchesPatterns applies the include/exclude substring filters. Empty
// include means everything passes; exclude wins over include.
func matchesPatterns(link string, include, exclude []string) bool {
	for _, p := range exclude {
		if p != "" && strings.Contains(link, p) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, p := range include {
		if p != "" && strings.Contains(link, p) {
			return true
		}
	}
	return false
}
