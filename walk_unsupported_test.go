//go:build !(linux && (amd64 || arm64)) && !(darwin && (amd64 || arm64) && cgo) && !windows

package shlibwalk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWalkIsNoop(t *testing.T) {
	require.False(t, Supported)

	calls := 0
	require.NoError(t, Walk(func(*Library) IterationControl {
		calls++
		return Continue
	}))
	require.Zero(t, calls, "the fallback must never invoke the callback")
}

func TestLocateFindsNothing(t *testing.T) {
	loc, err := Locate(0x1000)
	require.NoError(t, err)
	require.Nil(t, loc)
}
