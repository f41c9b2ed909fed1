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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/pkg/weburl"
	"github.com/replyforge/replyforge/services/embedding"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

var tracer = otel.Tracer("replyforge.orchestrator.ingest")

// embedFanOut bounds how many embedding batches are in flight per document.
const embedFanOut = 4

// Service coordinates the full ingestion path: acquire, persist, chunk,
// embed, upsert. Vector-side failures degrade rather than fail: the document
// record survives with rag_status carrying the error, and retrieval simply
// sees fewer chunks.
type Service struct {
	docs      docstore.Store
	vectors   vectorstore.VectorStore
	embedder  embedding.Embedder
	fetcher   *Fetcher
	crawler   *Crawler
	validator *weburl.Validator

	// Per-document locks serialize concurrent refreshes of the same
	// document while leaving unrelated ingests parallel.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the ingestion service.
func NewService(
	docs docstore.Store,
	vectors vectorstore.VectorStore,
	embedder embedding.Embedder,
	fetcher *Fetcher,
	crawler *Crawler,
	validator *weburl.Validator,
) *Service {
	return &Service{
		docs:      docs,
		vectors:   vectors,
		embedder:  embedder,
		fetcher:   fetcher,
		crawler:   crawler,
		validator: validator,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) docLock(agentId, docId string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentId + "/" + docId
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// IngestFile ingests an uploaded file. Content is the raw upload; extraction
// happens here so callers stay format-agnostic.
func (s *Service) IngestFile(ctx context.Context, agentId, filename string, content []byte) (*datatypes.ContextDocument, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestFile")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agentId), attribute.String("filename", filename))

	if _, err := s.docs.GetAgent(ctx, agentId); err != nil {
		return nil, err
	}

	text, err := ExtractFile(filename, content)
	if err != nil {
		return nil, err
	}
	if len(text) > datatypes.MaxFileContentSize {
		return nil, errs.Newf(errs.TooLarge, "extracted text exceeds %d bytes", datatypes.MaxFileContentSize)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.InvalidInput, "file contains no extractable text")
	}

	now := time.Now().UTC()
	doc := &datatypes.ContextDocument{
		Id:            uuid.NewString(),
		AgentId:       agentId,
		Type:          datatypes.DocumentTypeFile,
		Filename:      filename,
		Content:       text,
		ContentLength: len(text),
		UploadedAt:    now,
		Metadata:      datatypes.DocumentMetadata{Title: filename},
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.processRAG(ctx, doc)
	if err := s.docs.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// IngestURL fetches a single page and ingests its extracted text.
func (s *Service) IngestURL(ctx context.Context, agentId, rawURL string) (*datatypes.ContextDocument, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestURL")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agentId))

	if _, err := s.docs.GetAgent(ctx, agentId); err != nil {
		return nil, err
	}

	canonical, err := s.validator.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	text, meta, err := s.fetchURLContent(ctx, canonical, "")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &datatypes.ContextDocument{
		Id:            uuid.NewString(),
		AgentId:       agentId,
		Type:          datatypes.DocumentTypeURL,
		Filename:      meta.Title,
		URL:           canonical,
		Content:       text,
		ContentLength: len(text),
		UploadedAt:    now,
		Metadata:      meta,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.processRAG(ctx, doc)
	if err := s.docs.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fetchURLContent retrieves and extracts a single URL, discriminating on the
// response content type. The returned metadata carries title, etag, and
// last-modified for later conditional refreshes.
func (s *Service) fetchURLContent(ctx context.Context, canonical, etag string) (string, datatypes.DocumentMetadata, error) {
	meta := datatypes.DocumentMetadata{}

	result, err := s.fetcher.FetchConditional(ctx, canonical, etag)
	if err != nil {
		return "", meta, err
	}
	if result.NotModified {
		meta.ETag = etag
		return "", meta, nil
	}

	meta.ContentType = result.ContentType
	meta.ETag = result.ETag
	if !result.LastModified.IsZero() {
		lm := result.LastModified
		meta.LastModified = &lm
	}

	var text string
	switch {
	case IsHTMLContent(result.ContentType):
		extracted, err := ExtractHTML(result.Body, result.FinalURL)
		if err != nil {
			return "", meta, err
		}
		text = extracted.Text
		meta.Title = extracted.Title
	case IsPDFContent(result.ContentType):
		text, err = ExtractPDF(result.Body)
		if err != nil {
			return "", meta, err
		}
	case IsTextContent(result.ContentType):
		text = ExtractText(result.Body)
	default:
		return "", meta, errs.Newf(errs.InvalidInput, "unsupported content type %q", result.ContentType)
	}

	if len(text) > datatypes.MaxURLContentSize {
		return "", meta, errs.Newf(errs.TooLarge, "page text exceeds %d bytes", datatypes.MaxURLContentSize)
	}
	if strings.TrimSpace(text) == "" {
		return "", meta, errs.New(errs.InvalidInput, "page contains no extractable text")
	}
	if meta.Title == "" {
		meta.Title = canonical
	}
	return text, meta, nil
}

// IngestWebsite crawls a site and ingests the aggregate as one document.
// Progress frames stream to sink; the caller owns the terminal event and
// receives the finished document.
func (s *Service) IngestWebsite(ctx context.Context, agentId, rawURL string, opts datatypes.CrawlOptions, sink *ProgressSink) (*datatypes.ContextDocument, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestWebsite")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agentId))

	if _, err := s.docs.GetAgent(ctx, agentId); err != nil {
		return nil, err
	}
	canonical, err := s.validator.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	sink.Progress(datatypes.CrawlProgress{
		Phase:   datatypes.PhaseStarting,
		Message: "Starting crawl of " + canonical,
	})

	crawl, err := s.crawler.Crawl(ctx, canonical, opts, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "crawl failed")
		return nil, err
	}
	if len(crawl.Pages) == 0 {
		return nil, errs.New(errs.RemoteFailed, "crawl produced no pages")
	}

	sink.Progress(datatypes.CrawlProgress{
		Phase:      datatypes.PhaseProcessing,
		Message:    fmt.Sprintf("Assembling content from %d pages", crawl.TotalPages),
		TotalPages: crawl.TotalPages,
		Percentage: 95,
	})

	content, pageURLs := assembleWebsiteContent(crawl)

	now := time.Now().UTC()
	doc := &datatypes.ContextDocument{
		Id:            uuid.NewString(),
		AgentId:       agentId,
		Type:          datatypes.DocumentTypeWebsite,
		URL:           canonical,
		Content:       content,
		ContentLength: len(content),
		UploadedAt:    now,
		Metadata: datatypes.DocumentMetadata{
			Title:     websiteTitle(crawl),
			Truncated: strings.HasSuffix(content, datatypes.TruncationMarker),
			Website: &datatypes.WebsiteMetadata{
				BaseURL:      canonical,
				PageURLs:     pageURLs,
				TotalPages:   crawl.TotalPages,
				CrawlOptions: opts.Clamp(),
				LastCrawled:  now,
				Partial:      crawl.Partial,
			},
		},
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	sink.Progress(datatypes.CrawlProgress{
		Phase:      datatypes.PhaseRag,
		Message:    "Indexing content for retrieval",
		TotalPages: crawl.TotalPages,
		Percentage: 98,
	})

	s.processRAG(ctx, doc)
	if err := s.docs.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// assembleWebsiteContent joins page texts under URL headers, led by the
// crawl summary, enforcing the aggregate cap with a truncation marker
// instead of an error. The summary is recorded on the crawl result so
// callers can surface it.
func assembleWebsiteContent(crawl *datatypes.CrawlResult) (string, []string) {
	crawl.Summary = crawlSummary(crawl)

	var sb strings.Builder
	sb.WriteString("Crawl summary: ")
	sb.WriteString(crawl.Summary)
	var pageURLs []string
	for _, page := range crawl.Pages {
		if page.Error != "" || page.Content == "" {
			continue
		}
		section := fmt.Sprintf("## %s\nURL: %s\n\n%s", page.Title, page.URL, page.Content)
		if sb.Len()+len(section) > datatypes.MaxWebsiteContentSize {
			room := datatypes.MaxWebsiteContentSize - sb.Len()
			if room > 0 {
				sb.WriteString(section[:room])
			}
			sb.WriteString(datatypes.TruncationMarker)
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(section)
		pageURLs = append(pageURLs, page.URL)
	}
	return sb.String(), pageURLs
}

func websiteTitle(crawl *datatypes.CrawlResult) string {
	for _, page := range crawl.Pages {
		if page.Error == "" && page.Title != "" {
			return page.Title
		}
	}
	return crawl.BaseURL
}

// crawlSummary is the one-line account surfaced in responses and the crawl
// summary header.
func crawlSummary(crawl *datatypes.CrawlResult) string {
	failed := 0
	for _, page := range crawl.Pages {
		if page.Error != "" {
			failed++
		}
	}
	summary := fmt.Sprintf("%d pages crawled (%d failed), %d bytes, max depth %d",
		crawl.TotalPages, failed, crawl.TotalContentLength, crawl.MaxDepthReached)
	if crawl.Partial {
		summary += ", stopped at budget"
	}
	return summary
}

// UpdateDocument edits a file document's content/filename, or refreshes a
// url/website document from its source. Refresh is atomic from retrieval's
// point of view: old chunks are deleted only after the new content is in
// hand, and the new chunks go in immediately after. Website refreshes
// stream crawl progress to sink; other paths never touch it, so
// non-streaming callers pass NopSink.
func (s *Service) UpdateDocument(ctx context.Context, agentId, docId string, req datatypes.UpdateDocumentRequest, sink *ProgressSink) (*datatypes.ContextDocument, error) {
	ctx, span := tracer.Start(ctx, "ingest.UpdateDocument")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agentId), attribute.String("document_id", docId))

	lock := s.docLock(agentId, docId)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.docs.GetDocument(ctx, agentId, docId)
	if err != nil {
		return nil, err
	}

	switch {
	case req.RefreshURL:
		if doc.Type == datatypes.DocumentTypeFile {
			return nil, errs.New(errs.InvalidInput, "file documents cannot be refreshed from a url")
		}
		if err := s.refreshFromSource(ctx, doc, sink); err != nil {
			return nil, err
		}
	case req.Content != nil || req.Filename != nil:
		if doc.Type != datatypes.DocumentTypeFile {
			return nil, errs.New(errs.InvalidInput, "only file documents accept direct content edits")
		}
		if req.Filename != nil {
			doc.Filename = *req.Filename
		}
		if req.Content != nil {
			content := ExtractText([]byte(*req.Content))
			if len(content) > datatypes.MaxFileContentSize {
				return nil, errs.Newf(errs.TooLarge, "content exceeds %d bytes", datatypes.MaxFileContentSize)
			}
			if content == "" {
				return nil, errs.New(errs.InvalidInput, "content must not be empty")
			}
			doc.Content = content
			doc.ContentLength = len(content)
		}
		s.reindex(ctx, doc)
	default:
		return nil, errs.New(errs.InvalidInput, "update requires content, filename, or refresh_url")
	}

	if err := s.docs.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// refreshFromSource re-acquires a url or website document. A 304 leaves the
// document untouched. Website recrawls report progress to sink the same way
// the first ingest did.
func (s *Service) refreshFromSource(ctx context.Context, doc *datatypes.ContextDocument, sink *ProgressSink) error {
	switch doc.Type {
	case datatypes.DocumentTypeURL:
		text, meta, err := s.fetchURLContent(ctx, doc.URL, doc.Metadata.ETag)
		if err != nil {
			return err
		}
		if text == "" && meta.ETag == doc.Metadata.ETag {
			slog.Info("Document unchanged upstream, skipping reindex", "document_id", doc.Id)
			return nil
		}
		doc.Content = text
		doc.ContentLength = len(text)
		doc.Filename = meta.Title
		doc.Metadata.Title = meta.Title
		doc.Metadata.ContentType = meta.ContentType
		doc.Metadata.ETag = meta.ETag
		doc.Metadata.LastModified = meta.LastModified
	case datatypes.DocumentTypeWebsite:
		opts := datatypes.DefaultCrawlOptions()
		if doc.Metadata.Website != nil {
			opts = doc.Metadata.Website.CrawlOptions
		}
		sink.Progress(datatypes.CrawlProgress{
			Phase:   datatypes.PhaseStarting,
			Message: "Starting crawl of " + doc.URL,
		})
		crawl, err := s.crawler.Crawl(ctx, doc.URL, opts, sink)
		if err != nil {
			return err
		}
		if len(crawl.Pages) == 0 {
			return errs.New(errs.RemoteFailed, "recrawl produced no pages")
		}
		sink.Progress(datatypes.CrawlProgress{
			Phase:      datatypes.PhaseProcessing,
			Message:    fmt.Sprintf("Assembling content from %d pages", crawl.TotalPages),
			TotalPages: crawl.TotalPages,
			Percentage: 95,
		})
		content, pageURLs := assembleWebsiteContent(crawl)
		now := time.Now().UTC()
		doc.Content = content
		doc.ContentLength = len(content)
		doc.Metadata.Title = websiteTitle(crawl)
		doc.Metadata.Truncated = strings.HasSuffix(content, datatypes.TruncationMarker)
		doc.Metadata.Website = &datatypes.WebsiteMetadata{
			BaseURL:      doc.URL,
			PageURLs:     pageURLs,
			TotalPages:   crawl.TotalPages,
			CrawlOptions: opts.Clamp(),
			LastCrawled:  now,
			Partial:      crawl.Partial,
		}
		sink.Progress(datatypes.CrawlProgress{
			Phase:      datatypes.PhaseRag,
			Message:    "Indexing content for retrieval",
			TotalPages: crawl.TotalPages,
			Percentage: 98,
		})
	}
	s.reindex(ctx, doc)
	return nil
}

// reindex drops the document's old chunks and writes fresh ones. Old chunk
// ids are deterministic, so chunks up to the new count are overwritten in
// place and the delete clears any tail beyond it.
func (s *Service) reindex(ctx context.Context, doc *datatypes.ContextDocument) {
	if err := s.vectors.DeleteByDocument(ctx, doc.AgentId, doc.Id); err != nil {
		slog.Warn("Failed to clear old chunks before reindex", "document_id", doc.Id, "error", err)
	}
	s.processRAG(ctx, doc)
}

// DeleteDocument removes chunks first, then the record. If the chunk delete
// fails the record survives so a retry can finish the job.
func (s *Service) DeleteDocument(ctx context.Context, agentId, docId string) error {
	ctx, span := tracer.Start(ctx, "ingest.DeleteDocument")
	defer span.End()

	lock := s.docLock(agentId, docId)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.docs.GetDocument(ctx, agentId, docId); err != nil {
		return err
	}
	if err := s.vectors.DeleteByDocument(ctx, agentId, docId); err != nil {
		return err
	}
	return s.docs.DeleteDocument(ctx, agentId, docId)
}

// DeleteAgentData drops the agent's collection and cascades the record
// delete.
func (s *Service) DeleteAgentData(ctx context.Context, agentId string) error {
	if err := s.vectors.DeleteCollection(ctx, agentId); err != nil {
		return err
	}
	return s.docs.DeleteAgent(ctx, agentId)
}

// processRAG chunks, embeds, and upserts the document's content, recording
// the outcome on doc.RagStatus. Failures degrade: the document stays, the
// status carries the error, and the caller persists it.
func (s *Service) processRAG(ctx context.Context, doc *datatypes.ContextDocument) {
	ctx, span := tracer.Start(ctx, "ingest.processRAG")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", doc.Id))

	now := time.Now().UTC()
	doc.RagStatus = datatypes.RagStatus{AttemptedAt: &now}

	fail := func(stage string, err error) {
		slog.Warn("RAG processing degraded",
			"document_id", doc.Id, "stage", stage, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		doc.RagStatus.Processed = false
		doc.RagStatus.Error = fmt.Sprintf("%s: %s", stage, errs.Message(err))
	}

	payloads, err := ChunkDocument(doc)
	if err != nil {
		fail("chunking", err)
		return
	}
	if len(payloads) == 0 {
		fail("chunking", errs.New(errs.InvalidInput, "no chunks produced"))
		return
	}

	if err := s.vectors.EnsureCollection(ctx, doc.AgentId); err != nil {
		fail("collection", err)
		return
	}

	texts := make([]string, len(payloads))
	for i, p := range payloads {
		texts[i] = p.Text
	}

	// Batches embed in parallel up to the fan-out; each batch keeps its
	// slot so chunk order survives the reassembly below.
	batches := embedding.SplitBatches(texts)
	vectorsByBatch := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedFanOut)
	for i, batch := range batches {
		g.Go(func() error {
			vectors, err := s.embedder.EmbedBatch(gctx, batch)
			if err != nil {
				return err
			}
			if err := embedding.ValidateBatchResult(batch, vectors, s.embedder.Dimension()); err != nil {
				return err
			}
			vectorsByBatch[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fail("embedding", err)
		return
	}

	chunks := make([]vectorstore.Chunk, 0, len(payloads))
	offset := 0
	for i, batch := range batches {
		for j, vec := range vectorsByBatch[i] {
			chunks = append(chunks, vectorstore.Chunk{
				Payload: payloads[offset+j],
				Vector:  vec,
			})
		}
		offset += len(batch)
	}

	accepted, err := s.vectors.UpsertChunks(ctx, doc.AgentId, chunks)
	if err != nil {
		fail("upsert", err)
		return
	}

	processedAt := time.Now().UTC()
	doc.RagStatus.Processed = true
	doc.RagStatus.ChunksCreated = accepted
	doc.RagStatus.ProcessedAt = &processedAt
	slog.Info("Document indexed", "document_id", doc.Id, "chunks", accepted)
}
