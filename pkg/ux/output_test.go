// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIconRenderPlainMode(t *testing.T) {
	prev := IsPlain()
	SetPlain(true)
	defer SetPlain(prev)

	assert.Equal(t, "✓", IconSuccess.Render())
	assert.Equal(t, "✗", IconError.Render())
}

func TestProgressBarPlainMode(t *testing.T) {
	prev := IsPlain()
	SetPlain(true)
	defer SetPlain(prev)

	assert.Equal(t, "3/10", ProgressBar(3, 10, 20))
	assert.Equal(t, "0/0", ProgressBar(0, 0, 20))
}

func TestProgressBarStyled(t *testing.T) {
	prev := IsPlain()
	SetPlain(false)
	defer SetPlain(prev)

	bar := ProgressBar(5, 10, 10)
	assert.Contains(t, bar, "50%")
	// Over-count clamps at 100%.
	assert.Contains(t, ProgressBar(15, 10, 10), "100%")
}

func TestRepeatChar(t *testing.T) {
	assert.Equal(t, "███", repeatChar('█', 3))
	assert.Equal(t, "", repeatChar('█', 0))
	assert.Equal(t, "", repeatChar('█', -1))
}

func TestSpinnerPlainModeLifecycle(t *testing.T) {
	prev := IsPlain()
	SetPlain(true)
	defer SetPlain(prev)

	s := NewSpinner("working")
	s.Start()
	s.UpdateMessage("still working")
	s.Stop()
	// Stop after stop is a no-op.
	s.Stop()
}

func TestWithSpinnerPropagatesError(t *testing.T) {
	prev := IsPlain()
	SetPlain(true)
	defer SetPlain(prev)

	err := WithSpinner("task", func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, WithSpinner("task", func() error { return nil }))
}
