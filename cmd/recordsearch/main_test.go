package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"input", fmt.Errorf("%w: bad mode", types.ErrInvalidInput), 2},
		{"dimension", &types.DimensionMismatchError{Expected: 768, Actual: 384}, 3},
		{"corrupt", &types.IndexCorruptionError{Path: "vector", Reason: "checksum"}, 3},
		{"empty", types.ErrEmptyIndex, 4},
		{"busy", types.ErrBuildInProgress, 5},
		{"canceled", context.Canceled, 130},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestHighlight(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	assert.Equal(t, "type 2 diabetes, continue metformin", highlight("type 2 <b>diabetes</b>, continue\nmetformin"))
	assert.Equal(t, "no markers", highlight("no markers"))
	assert.Equal(t, "open <b>only", highlight("open <b>only"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short text", preview("short\n  text", 20))
	assert.Equal(t, "abcde…", preview("abcdefgh", 5))
}
