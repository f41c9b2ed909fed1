// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the orchestrator.
//
// Metrics cover the three hot paths: HTTP traffic, document ingestion, and
// webhook pipeline runs. They are exposed on /metrics; all operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "replyforge"

// Metrics holds the orchestrator's Prometheus collectors. Initialize once at
// startup via Init; registering twice panics.
type Metrics struct {
	// RequestsTotal counts HTTP requests by route, method, and status code.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures request latency by route and method.
	RequestDurationSeconds *prometheus.HistogramVec

	// DocumentsIngestedTotal counts ingested documents by type (file, url,
	// website) and outcome (indexed, degraded, failed).
	DocumentsIngestedTotal *prometheus.CounterVec

	// ChunksIndexedTotal counts chunks accepted by the vector store.
	ChunksIndexedTotal prometheus.Counter

	// CrawlPagesTotal counts pages fetched during website crawls by outcome.
	CrawlPagesTotal *prometheus.CounterVec

	// SearchesTotal counts retrieval queries by outcome.
	SearchesTotal *prometheus.CounterVec

	// PipelineRunsTotal counts webhook pipeline runs by outcome (clean,
	// with_errors, failed).
	PipelineRunsTotal *prometheus.CounterVec

	// PipelineAgentErrorsTotal counts per-agent failures inside pipeline
	// runs by stage.
	PipelineAgentErrorsTotal *prometheus.CounterVec

	// PipelineDurationSeconds measures full pipeline run duration.
	PipelineDurationSeconds prometheus.Histogram
}

// Default is the process-wide metrics instance, set by Init.
var Default *Metrics

// Init creates and registers all collectors on the default registry.
func Init() *Metrics {
	Default = &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route, method, and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"route", "method"},
		),
		DocumentsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "documents_total",
				Help:      "Ingested documents by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		ChunksIndexedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "chunks_indexed_total",
				Help:      "Chunks accepted by the vector store",
			},
		),
		CrawlPagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "crawl_pages_total",
				Help:      "Pages fetched during website crawls by outcome",
			},
			[]string{"outcome"},
		),
		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "retrieval",
				Name:      "searches_total",
				Help:      "Retrieval queries by outcome",
			},
			[]string{"outcome"},
		),
		PipelineRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Webhook pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		PipelineAgentErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "agent_errors_total",
				Help:      "Per-agent failures inside pipeline runs by stage",
			},
			[]string{"stage"},
		),
		PipelineDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Full pipeline run duration",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
			},
		),
	}
	return Default
}

// RecordIngest records a completed document ingest.
func (m *Metrics) RecordIngest(docType string, indexed bool, chunks int) {
	outcome := "indexed"
	if !indexed {
		outcome = "degraded"
	}
	m.DocumentsIngestedTotal.WithLabelValues(docType, outcome).Inc()
	if chunks > 0 {
		m.ChunksIndexedTotal.Add(float64(chunks))
	}
}

// RecordIngestFailure records an ingest that produced no document.
func (m *Metrics) RecordIngestFailure(docType string) {
	m.DocumentsIngestedTotal.WithLabelValues(docType, "failed").Inc()
}

// RecordPipelineRun records a finished webhook pipeline run.
func (m *Metrics) RecordPipelineRun(agentErrors int, duration time.Duration) {
	outcome := "clean"
	if agentErrors > 0 {
		outcome = "with_errors"
	}
	m.PipelineRunsTotal.WithLabelValues(outcome).Inc()
	m.PipelineDurationSeconds.Observe(duration.Seconds())
}

// GinMiddleware records request counts and latencies per route. Uses the
// route template, not the raw path, so agent ids do not explode cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
