// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"log/slog"
	"sync"

	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

const progressBuffer = 16

// ProgressSink receives progress frames from a running ingest job. Frames to
// a full sink are dropped so a stalled SSE consumer can never block the
// crawl; the terminal frame is always delivered because the job closes the
// channel only after a blocking send of the final event.
type ProgressSink struct {
	mu     sync.Mutex
	ch     chan datatypes.StreamEvent
	closed bool
}

// NewProgressSink creates a sink with a small buffer.
func NewProgressSink() *ProgressSink {
	return &ProgressSink{ch: make(chan datatypes.StreamEvent, progressBuffer)}
}

// Events is the consumer side. It is closed after the terminal event.
func (p *ProgressSink) Events() <-chan datatypes.StreamEvent {
	return p.ch
}

// Progress publishes a non-terminal frame, dropping it when the consumer is
// behind.
func (p *ProgressSink) Progress(frame datatypes.CrawlProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- datatypes.StreamEvent{Type: datatypes.StreamEventProgress, CrawlProgress: frame}:
	default:
		slog.Debug("Dropping progress frame, consumer behind", "phase", frame.Phase)
	}
}

// Complete publishes the terminal success frame and closes the stream.
func (p *ProgressSink) Complete(frame datatypes.CrawlProgress) {
	frame.Phase = datatypes.PhaseComplete
	frame.Percentage = 100
	p.terminal(datatypes.StreamEvent{Type: datatypes.StreamEventComplete, CrawlProgress: frame})
}

// Fail publishes the terminal error frame and closes the stream.
func (p *ProgressSink) Fail(message string) {
	p.terminal(datatypes.StreamEvent{
		Type: datatypes.StreamEventError,
		CrawlProgress: datatypes.CrawlProgress{
			Phase:   datatypes.PhaseError,
			Message: message,
		},
	})
}

func (p *ProgressSink) terminal(event datatypes.StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	// Terminal events must not be lost. The buffer may be full of stale
	// progress frames; clear room first since the consumer will see the
	// close right after.
	for {
		select {
		case p.ch <- event:
			close(p.ch)
			return
		default:
			select {
			case <-p.ch:
			default:
			}
		}
	}
}

// NopSink returns a sink nobody listens to, for non-streaming callers. Its
// buffer is drained by a goroutine so terminal sends never spin.
func NopSink() *ProgressSink {
	sink := NewProgressSink()
	go func() {
		for range sink.ch {
		}
	}()
	return sink
}
