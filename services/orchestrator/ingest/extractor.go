// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/replyforge/replyforge/pkg/errs"
)

// ExtractedPage is the text view of one fetched resource.
type ExtractedPage struct {
	Title string
	Text  string
	Links []string
}

// ExtractHTML runs readability extraction over an HTML document and collects
// the outgoing links, resolved against baseURL. Links are returned raw; the
// crawler validates and deduplicates them.
func ExtractHTML(body []byte, baseURL string) (*ExtractedPage, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "invalid base url", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "html extraction failed", err)
	}

	page := &ExtractedPage{
		Title: article.Title,
		Text:  norm.NFC.String(strings.TrimSpace(article.TextContent)),
	}

	// Readability drops navigation; walk the original document for links.
	page.Links = collectLinks(body, base)
	if page.Title == "" {
		page.Title = documentTitle(body)
	}
	return page, nil
}

// collectLinks walks the HTML tree and returns absolute http(s) hrefs.
func collectLinks(body []byte, base *url.URL) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if abs.Scheme != "http" && abs.Scheme != "https" {
					continue
				}
				abs.Fragment = ""
				s := abs.String()
				if !seen[s] {
					seen[s] = true
					links = append(links, s)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// documentTitle pulls the <title> element when readability found none.
func documentTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// ExtractPDF pulls plain text page by page. Pages that fail to parse are
// skipped rather than failing the document; image-only PDFs yield a stub.
func ExtractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "opening pdf", err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text)
		}
	}

	extracted := sb.String()
	if extracted == "" {
		extracted = fmt.Sprintf("[PDF document with %d pages - no text content extracted]", numPages)
	}
	return norm.NFC.String(extracted), nil
}

// docxDocument mirrors the paragraph/run structure of word/document.xml. Only
// text runs matter; everything else is ignored by the decoder.
type docxDocument struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// ExtractDOCX reads the main document part of a .docx archive and joins
// paragraph text with newlines.
func ExtractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "opening docx archive", err)
	}

	var docPart io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docPart, err = f.Open()
			if err != nil {
				return "", errs.Wrap(errs.InvalidInput, "opening docx document part", err)
			}
			break
		}
	}
	if docPart == nil {
		return "", errs.New(errs.InvalidInput, "docx archive has no word/document.xml")
	}
	defer docPart.Close()

	var doc docxDocument
	if err := xml.NewDecoder(docPart).Decode(&doc); err != nil {
		return "", errs.Wrap(errs.InvalidInput, "parsing docx document", err)
	}

	var sb strings.Builder
	for _, p := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, r := range p.Runs {
			line.WriteString(r.Text)
		}
		if line.Len() > 0 {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(line.String())
		}
	}
	return norm.NFC.String(sb.String()), nil
}

// ExtractText normalizes plain text and markdown uploads: NFC, LF line
// endings, trimmed.
func ExtractText(content []byte) string {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	return norm.NFC.String(strings.TrimSpace(s))
}

// ExtractFile dispatches on the uploaded file's extension.
func ExtractFile(filename string, content []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ExtractPDF(content)
	case ".docx":
		return ExtractDOCX(content)
	case ".txt", ".md", ".markdown":
		return ExtractText(content), nil
	default:
		return "", errs.Newf(errs.InvalidInput, "unsupported file type %q, expected pdf, docx, txt, or md", filepath.Ext(filename))
	}
}

// IsHTMLContent reports whether a Content-Type header denotes HTML.
func IsHTMLContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// IsPDFContent reports whether a Content-Type header denotes PDF.
func IsPDFContent(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf")
}

// IsTextContent reports whether a Content-Type header denotes plain text.
func IsTextContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/plain") || strings.Contains(ct, "text/markdown")
}
