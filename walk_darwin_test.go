//go:build darwin && (amd64 || arm64) && cgo

package shlibwalk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaveLibSystem(t *testing.T) {
	found := false
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		if strings.Contains(lib.Name(), "libSystem") || strings.Contains(lib.Name(), "libdyld") {
			found = true
			return Stop
		}
		return Continue
	}))
	require.True(t, found, "every darwin process links libSystem")
}

func TestMainImageHasTextSegment(t *testing.T) {
	checked := false
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		foundText := false
		for _, seg := range lib.Segments() {
			if seg.Name() == "__TEXT" {
				foundText = true
				require.True(t, seg.IsCode(), "__TEXT of %q must be executable", lib.Name())
			}
		}
		require.True(t, foundText, "image %q has no __TEXT segment", lib.Name())
		checked = true
		return Continue
	}))
	require.True(t, checked)
}
