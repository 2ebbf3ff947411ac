//go:build linux && (amd64 || arm64)

package shlibwalk

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEveryObjectHasLoadSegment(t *testing.T) {
	foundCode := false
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		foundLoad := false
		for _, seg := range lib.Segments() {
			if seg.Name() == "LOAD" {
				foundLoad = true
			}
			if seg.IsCode() {
				foundCode = true
			}
		}
		require.True(t, foundLoad, "object %q has no LOAD segment", lib.Name())
		return Continue
	}))
	require.True(t, foundCode, "at least one object must map executable code")
}

func TestOnlyLoadSegmentsAreMappings(t *testing.T) {
	sawMetadata := false
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		for _, seg := range lib.Segments() {
			if seg.Name() == "LOAD" {
				require.True(t, seg.IsLoad())
			} else {
				require.False(t, seg.IsLoad(), "%s claims to be a mapping", seg.Name())
				sawMetadata = true
			}
		}
		return Continue
	}))
	require.True(t, sawMetadata, "every object carries metadata headers besides LOAD")
}

func TestVdsoReported(t *testing.T) {
	found := false
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		if lib.Name() == "[vdso]" {
			found = true
			require.NotEmpty(t, lib.Segments())
			return Stop
		}
		return Continue
	}))
	require.True(t, found, "the vdso image should be mapped into every process")
}

func TestEhFrameHdrSegment(t *testing.T) {
	require.NoError(t, Walk(func(lib *Library) IterationControl {
		seg, ok := lib.EhFrameHdr()
		if !ok {
			return Continue
		}
		require.Equal(t, "GNU_EH_FRAME", seg.Name())
		require.False(t, seg.IsCode())
		return Continue
	}))
}

func TestMappedFileNotReported(t *testing.T) {
	// An ELF file the process mmaps for inspection is not a loaded
	// object and must not show up in the walk.
	exe, err := os.Executable()
	require.NoError(t, err)
	image, err := os.ReadFile(exe)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "inspected.so")
	require.NoError(t, os.WriteFile(path, image, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	mapped, err := unix.Mmap(int(f.Fd()), 0, len(image), unix.PROT_READ, unix.MAP_PRIVATE)
	require.NoError(t, err)
	defer unix.Munmap(mapped)

	require.NoError(t, Walk(func(lib *Library) IterationControl {
		require.NotEqual(t, path, lib.Name())
		return Continue
	}))
}

func TestLibraryAtRejectsNonELF(t *testing.T) {
	buf := make([]byte, 128)
	_, ok := libraryAt(uintptr(unsafe.Pointer(&buf[0])), "bogus")
	require.False(t, ok)
	runtime.KeepAlive(buf)
}

func TestLibraryAtRejectsForeignClass(t *testing.T) {
	// A valid magic with ELFCLASS32 must be skipped on a 64-bit walk.
	buf := make([]byte, 128)
	copy(buf, "\x7fELF")
	buf[4] = 1 // ELFCLASS32
	_, ok := libraryAt(uintptr(unsafe.Pointer(&buf[0])), "bogus")
	require.False(t, ok)
	runtime.KeepAlive(buf)
}
