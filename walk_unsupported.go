//go:build !(linux && (amd64 || arm64)) && !(darwin && (amd64 || arm64) && cgo) && !windows

package shlibwalk

// Supported reports whether this build carries a real enumerator for the
// target platform. It is false here: Walk succeeds trivially with zero
// callback invocations, so callers can distinguish "no libraries" from
// "no enumerator".
const Supported = false

// Library is never constructed on platforms without an enumerator.
type Library struct{}

// Segment is never constructed on platforms without an enumerator.
type Segment struct{}

func (lib *Library) Name() string { return "" }

func (lib *Library) Bias() uintptr { return 0 }

func (lib *Library) Segments() []Segment { return nil }

func (seg Segment) Name() string { return "" }

func (seg Segment) StatedVirtualAddress() uintptr { return 0 }

func (seg Segment) Size() uint64 { return 0 }

func (seg Segment) IsCode() bool { return false }

func (seg Segment) IsLoad() bool { return false }

// Walk reports success without invoking fn: no enumeration primitive
// exists for this platform.
func Walk(fn func(*Library) IterationControl) error {
	_ = fn
	return nil
}
