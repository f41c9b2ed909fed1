// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/ingest"
	"github.com/replyforge/replyforge/services/orchestrator/observability"
)

// recordIngestMetric is nil-safe so handler tests can run without Init.
func recordIngestMetric(docType string, doc *datatypes.ContextDocument, err error) {
	if observability.Default == nil {
		return
	}
	if err != nil {
		observability.Default.RecordIngestFailure(docType)
		return
	}
	observability.Default.RecordIngest(docType, doc.RagStatus.Processed, doc.RagStatus.ChunksCreated)
}

var docTracer = otel.Tracer("replyforge.orchestrator.handlers")

// maxUploadSize caps the raw multipart upload before extraction.
const maxUploadSize = 10 * 1024 * 1024

// UploadDocument ingests an uploaded file as agent context.
//
// POST /v1/agents/:agentId/context/upload (multipart, field "file")
func UploadDocument(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "UploadDocument")
		defer span.End()

		agentId := c.Param("agentId")
		span.SetAttributes(attribute.String("agent_id", agentId))

		fileHeader, err := c.FormFile("file")
		if err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "missing file field", err))
			return
		}
		if fileHeader.Size > maxUploadSize {
			respondErr(c, errs.Newf(errs.TooLarge, "upload exceeds %d bytes", maxUploadSize))
			return
		}

		f, err := fileHeader.Open()
		if err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "unreadable upload", err))
			return
		}
		defer f.Close()
		content, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
		if err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "reading upload", err))
			return
		}
		if int64(len(content)) > maxUploadSize {
			respondErr(c, errs.Newf(errs.TooLarge, "upload exceeds %d bytes", maxUploadSize))
			return
		}

		filename := filepath.Base(fileHeader.Filename)
		doc, err := svc.IngestFile(ctx, agentId, filename, content)
		recordIngestMetric("file", doc, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingest failed")
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusCreated, ingestMessage(doc), doc)
	}
}

// IngestURL ingests a single web page as agent context.
//
// POST /v1/agents/:agentId/context/url
func IngestURL(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "IngestURL")
		defer span.End()

		var req datatypes.IngestURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		doc, err := svc.IngestURL(ctx, c.Param("agentId"), req.URL)
		recordIngestMetric("url", doc, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingest failed")
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusCreated, ingestMessage(doc), doc)
	}
}

// IngestWebsite crawls a site and streams progress over SSE. The terminal
// "complete" event carries the finished document; "error" carries the
// sanitized failure message.
//
// POST /v1/agents/:agentId/context/website
func IngestWebsite(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "IngestWebsite")
		defer span.End()

		var req datatypes.IngestWebsiteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			respondErr(c, errs.Wrap(errs.Internal, "streaming unsupported", err))
			return
		}

		sink := ingest.NewProgressSink()
		agentId := c.Param("agentId")

		go func() {
			doc, err := svc.IngestWebsite(ctx, agentId, req.URL, req.Options, sink)
			recordIngestMetric("website", doc, err)
			if err != nil {
				sink.Fail(errs.Message(err))
				return
			}
			summary := crawlHeaderSummary(doc)
			if !doc.RagStatus.Processed {
				summary = ingestMessage(doc)
			}
			sink.Complete(datatypes.CrawlProgress{
				Message:    summary,
				TotalPages: totalPages(doc),
				Data:       doc,
			})
		}()

		for event := range sink.Events() {
			if err := writer.WriteEvent(event); err != nil {
				// Client went away; the ingest goroutine finishes on its own.
				slog.Debug("SSE client disconnected", "agent_id", agentId)
				return
			}
		}
	}
}

func totalPages(doc *datatypes.ContextDocument) int {
	if doc.Metadata.Website == nil {
		return 0
	}
	return doc.Metadata.Website.TotalPages
}

func crawlHeaderSummary(doc *datatypes.ContextDocument) string {
	if w := doc.Metadata.Website; w != nil && w.Partial {
		return "crawl complete (partial: budget reached)"
	}
	return "crawl complete"
}

// ingestMessage distinguishes full success from the degraded case where the
// record persisted but indexing failed.
func ingestMessage(doc *datatypes.ContextDocument) string {
	if doc.RagStatus.Processed {
		return "document ingested"
	}
	return "document saved, but indexing failed: " + doc.RagStatus.Error
}

// ListDocuments returns an agent's context documents without their content.
//
// GET /v1/agents/:agentId/context
func ListDocuments(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		agentId := c.Param("agentId")
		if _, err := store.GetAgent(ctx, agentId); err != nil {
			respondErr(c, err)
			return
		}
		docs, err := store.ListDocuments(ctx, agentId)
		if err != nil {
			respondErr(c, err)
			return
		}
		// Strip bulky content from the listing.
		for _, d := range docs {
			d.Content = ""
		}
		respondOK(c, http.StatusOK, "", docs)
	}
}

// GetDocument returns one document including content.
//
// GET /v1/agents/:agentId/context/:docId
func GetDocument(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := store.GetDocument(c.Request.Context(), c.Param("agentId"), c.Param("docId"))
		if err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "", doc)
	}
}

// UpdateDocument edits or refreshes a document. Refreshing a website
// document means a full recrawl, so that path answers with the same SSE
// progress stream as the original ingest; everything else responds with
// plain JSON.
//
// PUT /v1/agents/:agentId/context/:docId
func UpdateDocument(store docstore.Store, svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "UpdateDocument")
		defer span.End()

		var req datatypes.UpdateDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Wrap(errs.InvalidInput, "invalid request body", err))
			return
		}
		agentId, docId := c.Param("agentId"), c.Param("docId")

		if req.RefreshURL {
			existing, err := store.GetDocument(ctx, agentId, docId)
			if err != nil {
				respondErr(c, err)
				return
			}
			if existing.Type == datatypes.DocumentTypeWebsite {
				refreshWebsiteStreaming(c, svc, agentId, docId, req)
				return
			}
		}

		doc, err := svc.UpdateDocument(ctx, agentId, docId, req, ingest.NopSink())
		if err != nil {
			span.RecordError(err)
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, ingestMessage(doc), doc)
	}
}

// refreshWebsiteStreaming recrawls a website document, streaming crawl
// progress over SSE exactly like IngestWebsite.
func refreshWebsiteStreaming(c *gin.Context, svc *ingest.Service, agentId, docId string, req datatypes.UpdateDocumentRequest) {
	ctx := c.Request.Context()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		respondErr(c, errs.Wrap(errs.Internal, "streaming unsupported", err))
		return
	}

	sink := ingest.NewProgressSink()
	go func() {
		doc, err := svc.UpdateDocument(ctx, agentId, docId, req, sink)
		if err != nil {
			sink.Fail(errs.Message(err))
			return
		}
		summary := crawlHeaderSummary(doc)
		if !doc.RagStatus.Processed {
			summary = ingestMessage(doc)
		}
		sink.Complete(datatypes.CrawlProgress{
			Message:    summary,
			TotalPages: totalPages(doc),
			Data:       doc,
		})
	}()

	for event := range sink.Events() {
		if err := writer.WriteEvent(event); err != nil {
			slog.Debug("SSE client disconnected", "agent_id", agentId, "document_id", docId)
			return
		}
	}
}

// DeleteDocument removes a document and its chunks.
//
// DELETE /v1/agents/:agentId/context/:docId
func DeleteDocument(svc *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := docTracer.Start(c.Request.Context(), "DeleteDocument")
		defer span.End()

		if err := svc.DeleteDocument(ctx, c.Param("agentId"), c.Param("docId")); err != nil {
			respondErr(c, err)
			return
		}
		respondOK(c, http.StatusOK, "document deleted", nil)
	}
}
