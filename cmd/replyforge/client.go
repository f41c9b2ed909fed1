// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

// apiClient is a thin HTTP client for the orchestrator API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *apiClient {
	base := serverURL
	if base == "" {
		base = os.Getenv("REPLYFORGE_SERVER")
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	token := apiToken
	if token == "" {
		token = os.Getenv("REPLYFORGE_TOKEN")
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		// Website crawls stream for a while; everything else is quick.
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

// envelope mirrors datatypes.APIResponse with the payload left raw so each
// call site can decode into its own type.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// kindFromStatus inverts the server's status mapping so remote failures
// classify the same way local ones do.
func kindFromStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.InvalidInput
	case http.StatusForbidden:
		return errs.AccessDenied
	case http.StatusNotFound:
		return errs.NotFound
	case http.StatusConflict:
		return errs.Conflict
	case http.StatusRequestEntityTooLarge:
		return errs.TooLarge
	case http.StatusBadGateway:
		return errs.RemoteFailed
	case 499:
		return errs.Cancelled
	default:
		return errs.Internal
	}
}

// do performs a JSON round trip. A nil body sends no payload; a nil out
// discards the response data.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return "", errs.Wrap(errs.Internal, "encoding request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "building request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.RemoteFailed, "server unreachable at "+c.baseURL, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", errs.Wrap(errs.RemoteFailed,
			fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode), err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return "", errs.New(kindFromStatus(resp.StatusCode), msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", errs.Wrap(errs.Internal, "decoding response data", err)
		}
	}
	return env.Message, nil
}

// upload posts a local file as multipart form data.
func (c *apiClient) upload(ctx context.Context, path, filePath string, out any) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "opening "+filePath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", errs.Wrap(errs.Internal, "building multipart body", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", errs.Wrap(errs.Internal, "reading "+filePath, err)
	}
	if err := writer.Close(); err != nil {
		return "", errs.Wrap(errs.Internal, "finalizing multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "building request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.RemoteFailed, "server unreachable at "+c.baseURL, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", errs.Wrap(errs.RemoteFailed,
			fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode), err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return "", errs.New(kindFromStatus(resp.StatusCode), msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", errs.Wrap(errs.Internal, "decoding response data", err)
		}
	}
	return env.Message, nil
}

// stream posts body and consumes the SSE response frame by frame. onFrame
// is called for every frame including the terminal one; the terminal frame
// ends the stream. An "error" frame becomes the returned error.
func (c *apiClient) stream(ctx context.Context, path string, body any, onFrame func(datatypes.StreamEvent)) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.Internal, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.Internal, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.RemoteFailed, "server unreachable at "+c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Message != "" {
			return errs.New(kindFromStatus(resp.StatusCode), env.Message)
		}
		return errs.Newf(kindFromStatus(resp.StatusCode), "HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		onFrame(event)
		switch event.Type {
		case datatypes.StreamEventComplete:
			return nil
		case datatypes.StreamEventError:
			return errs.New(errs.RemoteFailed, event.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(errs.RemoteFailed, "stream interrupted", err)
	}
	return errs.New(errs.RemoteFailed, "stream ended without a terminal event")
}

func (c *apiClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
