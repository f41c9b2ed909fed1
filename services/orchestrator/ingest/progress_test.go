// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

func TestProgressSinkDropsWhenFull(t *testing.T) {
	sink := NewProgressSink()

	// Nobody reading: overfill the buffer. Must not block.
	for i := 0; i < progressBuffer*3; i++ {
		sink.Progress(datatypes.CrawlProgress{Phase: datatypes.PhaseCrawling, CurrentPage: i})
	}

	drained := 0
	for {
		select {
		case <-sink.Events():
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, progressBuffer, drained)
}

func TestProgressSinkTerminalAlwaysDelivered(t *testing.T) {
	sink := NewProgressSink()

	// Fill the buffer with stale frames, then complete.
	for i := 0; i < progressBuffer*2; i++ {
		sink.Progress(datatypes.CrawlProgress{Phase: datatypes.PhaseCrawling})
	}
	sink.Complete(datatypes.CrawlProgress{Message: "done"})

	var last datatypes.StreamEvent
	count := 0
	for ev := range sink.Events() {
		last = ev
		count++
	}
	require.Greater(t, count, 0)
	assert.Equal(t, datatypes.StreamEventComplete, last.Type)
	assert.Equal(t, datatypes.PhaseComplete, last.Phase)
	assert.Equal(t, 100, last.Percentage)
}

func TestProgressSinkIgnoresAfterTerminal(t *testing.T) {
	sink := NewProgressSink()
	sink.Fail("boom")

	// Neither of these may panic on the closed channel.
	sink.Progress(datatypes.CrawlProgress{Phase: datatypes.PhaseCrawling})
	sink.Complete(datatypes.CrawlProgress{})

	var events []datatypes.StreamEvent
	for ev := range sink.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.StreamEventError, events[0].Type)
	assert.Equal(t, "boom", events[0].Message)
}

func TestMatchesPatterns(t *testing.T) {
	assert.True(t, matchesPatterns("https://example.com/docs/a", nil, nil))
	assert.True(t, matchesPatterns("https://example.com/docs/a", []string{"/docs/"}, nil))
	assert.False(t, matchesPatterns("https://example.com/blog/a", []string{"/docs/"}, nil))
	assert.False(t, matchesPatterns("https://example.com/docs/private", []string{"/docs/"}, []string{"private"}))
}
