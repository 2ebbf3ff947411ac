package shlibwalk

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWalkVisitsMainExecutableOnce(t *testing.T) {
	if !Supported {
		t.Skip("no enumerator on this platform")
	}

	exe, err := os.Executable()
	require.NoError(t, err)

	type visit struct {
		name     string
		segments int
	}
	var visits []visit
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		visits = append(visits, visit{name: lib.Name(), segments: len(lib.Segments())})
		return Continue
	}))
	require.NotEmpty(t, visits)

	mainVisits := 0
	for _, v := range visits {
		if filepath.Base(v.name) == filepath.Base(exe) {
			mainVisits++
			require.GreaterOrEqual(t, v.segments, 1)
		}
	}
	require.Equal(t, 1, mainVisits, "main executable must be visited exactly once")
}

func TestWalkEarlyStop(t *testing.T) {
	if !Supported {
		t.Skip("no enumerator on this platform")
	}

	calls := 0
	require.NoError(t, Walk(func(*Library) IterationControl {
		calls++
		return Stop
	}))
	require.Equal(t, 1, calls, "Stop on the first invocation must end the walk")
}

func TestActualAddressResolution(t *testing.T) {
	if !Supported {
		t.Skip("no enumerator on this platform")
	}

	require.NoError(t, Walk(func(lib *Library) IterationControl {
		for _, seg := range lib.Segments() {
			avma := seg.ActualVirtualAddress(lib)
			require.Equal(t, seg.StatedVirtualAddress()+lib.Bias(), avma)

			if seg.Size() == 0 {
				require.False(t, seg.ContainsActualAddress(lib, avma))
				continue
			}
			require.True(t, seg.ContainsActualAddress(lib, avma))
			require.True(t, seg.ContainsStatedAddress(seg.StatedVirtualAddress()))
			require.False(t, seg.ContainsActualAddress(lib, avma+uintptr(seg.Size())))
		}
		return Continue
	}))
}

func TestLocateOwnCode(t *testing.T) {
	if !Supported {
		t.Skip("no enumerator on this platform")
	}

	addr := reflect.ValueOf(Locate).Pointer()
	loc, err := Locate(addr)
	require.NoError(t, err)
	require.NotNil(t, loc, "own code address must resolve to a mapped segment")
	require.NotEmpty(t, loc.Library)
	require.NotEmpty(t, loc.Segment)
}

func TestLocateUnmappedAddress(t *testing.T) {
	if !Supported {
		t.Skip("no enumerator on this platform")
	}

	// The first page is never a mapped image on any supported platform.
	loc, err := Locate(1)
	require.NoError(t, err)
	require.Nil(t, loc)
}
