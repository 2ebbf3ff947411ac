// Package shlibwalk enumerates the shared libraries (and the main
// executable) currently mapped into the calling process.
//
// Walk reports every loaded object as a Library view exposing its name,
// its load bias, and the memory segments it occupies. Segment addresses
// come in two flavors: the stated virtual address recorded in the binary
// at link time, and the actual virtual address in effect at runtime. The
// two differ by the library's load bias, the displacement the loader
// applied when it mapped the object somewhere other than its stated base.
//
// The Library and Segment views handed to the Walk callback borrow
// loader-owned state. They are valid only for the duration of that one
// callback invocation; copy out whatever you need. Retaining a view past
// the callback's return is undefined behavior at the platform level.
//
// A walk is a best-effort snapshot. Libraries loaded or unloaded by other
// threads while a walk is in progress may be missed or reported stale;
// no platform offers a transactionally consistent module list and this
// package does not pretend otherwise.
package shlibwalk

import "bytes"

// IterationControl tells Walk whether to proceed to the next library.
type IterationControl int

const (
	// Continue proceeds to the next loaded library.
	Continue IterationControl = iota
	// Stop ends the walk early.
	Stop
)

// ActualVirtualAddress resolves the segment's stated address against the
// owning library's load bias. The arithmetic wraps per the platform's
// native address width, mirroring address-space wraparound.
func (seg Segment) ActualVirtualAddress(lib *Library) uintptr {
	return seg.StatedVirtualAddress() + lib.Bias()
}

// ContainsStatedAddress reports whether addr falls within the segment's
// stated address range.
func (seg Segment) ContainsStatedAddress(addr uintptr) bool {
	start := seg.StatedVirtualAddress()
	return addr >= start && addr-start < uintptr(seg.Size())
}

// ContainsActualAddress reports whether addr falls within the segment's
// mapped range, given its owning library.
func (seg Segment) ContainsActualAddress(lib *Library, addr uintptr) bool {
	start := seg.ActualVirtualAddress(lib)
	return addr >= start && addr-start < uintptr(seg.Size())
}

// Location is an owned summary of where an address lives. Unlike the
// views passed to Walk callbacks it remains valid indefinitely.
type Location struct {
	// Library is the pathname of the object containing the address.
	Library string
	// Segment is the name of the containing segment.
	Segment string
	// Offset is the address's distance from the segment's mapped start.
	Offset uintptr
}

// Locate walks the loaded libraries and returns where the given actual
// (runtime) address lives, or nil if no mapped segment contains it.
// Only segments that describe memory mappings are consulted; metadata
// headers such as an ELF TLS template occupy no runtime memory and
// cannot claim an address, even when their stated range matches.
func Locate(addr uintptr) (*Location, error) {
	var loc *Location
	err := Walk(func(lib *Library) IterationControl {
		for _, seg := range lib.Segments() {
			if !seg.IsLoad() {
				continue
			}
			if seg.ContainsActualAddress(lib, addr) {
				loc = &Location{
					Library: lib.Name(),
					Segment: seg.Name(),
					Offset:  addr - seg.ActualVirtualAddress(lib),
				}
				return Stop
			}
		}
		return Continue
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
