//go:build darwin && (amd64 || arm64) && cgo

package shlibwalk

/*
#include <mach-o/dyld.h>
*/
import "C"

import (
	"sync"
	"unsafe"
)

// Supported reports whether this build carries a real enumerator for the
// target platform. When it is false, Walk succeeds with zero callback
// invocations.
const Supported = true

const (
	machMagic64   = 0xfeedfacf
	lcSegment64   = 0x19
	vmProtExecute = 0x4
)

// dyldMu serializes access to the shared dyld image table. dyld does not
// document the indexed image APIs as safe against images being added or
// removed while the table is read, so every walk in the process takes
// this lock while it indexes the table.
var dyldMu sync.Mutex

type machHeader64 struct {
	Magic      uint32
	CPUType    int32
	CPUSubType int32
	FileType   uint32
	NCmds      uint32
	SizeCmds   uint32
	Flags      uint32
	Reserved   uint32
}

type loadCommand struct {
	Cmd     uint32
	CmdSize uint32
}

type segmentCommand64 struct {
	Cmd      uint32
	CmdSize  uint32
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

// Library describes one Mach-O image from the dyld image table. The
// image's load commands are decoded under dyldMu before the callback
// runs, so the struct owns its data; the single-callback lifetime rule
// still applies for portability.
type Library struct {
	name     string
	slide    uintptr
	segments []Segment
}

// Segment describes one LC_SEGMENT_64 load command of an image.
type Segment struct {
	name   string
	vmaddr uintptr
	size   uint64
	prot   uint32
}

// Name returns the image path as reported by dyld.
func (lib *Library) Name() string { return lib.name }

// Bias returns the image's vmaddr slide, the displacement between the
// segments' stated addresses and where dyld mapped them.
func (lib *Library) Bias() uintptr { return lib.slide }

// Segments returns the image's segments in load-command order.
func (lib *Library) Segments() []Segment { return lib.segments }

// Name returns the Mach-O segment name, e.g. "__TEXT".
func (seg Segment) Name() string { return seg.name }

// StatedVirtualAddress returns the segment's vmaddr before the slide is
// applied.
func (seg Segment) StatedVirtualAddress() uintptr { return seg.vmaddr }

// Size returns the segment's extent in memory, in bytes.
func (seg Segment) Size() uint64 { return seg.size }

// IsCode reports whether the segment maps executable instructions.
func (seg Segment) IsCode() bool { return seg.prot&vmProtExecute != 0 }

// IsLoad reports whether the segment describes a memory mapping. Every
// LC_SEGMENT_64 command does.
func (seg Segment) IsLoad() bool { return true }

// Walk invokes fn once per Mach-O image currently loaded by dyld,
// stopping early if fn returns Stop.
//
// The dyld image table is snapshotted and decoded under a process-wide
// lock; fn runs after the lock is released, so fn may re-enter Walk
// without deadlocking. Images loaded or unloaded concurrently may be
// missed; see the package documentation.
func Walk(fn func(*Library) IterationControl) error {
	for _, lib := range snapshotImages() {
		if fn(&lib) == Stop {
			break
		}
	}
	return nil
}

// snapshotImages indexes the dyld table under dyldMu and decodes each
// image's segments while the table cannot shift underneath it.
func snapshotImages() []Library {
	dyldMu.Lock()
	defer dyldMu.Unlock()

	count := uint32(C._dyld_image_count())
	libs := make([]Library, 0, count)
	for i := uint32(0); i < count; i++ {
		header := unsafe.Pointer(C._dyld_get_image_header(C.uint32_t(i)))
		if header == nil {
			continue
		}
		segments, ok := imageSegments(header)
		if !ok {
			continue
		}

		name := ""
		if cname := C._dyld_get_image_name(C.uint32_t(i)); cname != nil {
			name = C.GoString(cname)
		}
		libs = append(libs, Library{
			name:     name,
			slide:    uintptr(C._dyld_get_image_vmaddr_slide(C.uint32_t(i))),
			segments: segments,
		})
	}
	return libs
}

// imageSegments walks the load commands of the Mach-O header mapped at
// hdr and collects its LC_SEGMENT_64 entries.
func imageSegments(hdr unsafe.Pointer) ([]Segment, bool) {
	mh := (*machHeader64)(hdr)
	if mh.Magic != machMagic64 {
		return nil, false
	}

	var segments []Segment
	cmd := uintptr(hdr) + unsafe.Sizeof(machHeader64{})
	remaining := uintptr(mh.SizeCmds)
	for i := uint32(0); i < mh.NCmds; i++ {
		lc := (*loadCommand)(unsafe.Pointer(cmd))
		if uintptr(lc.CmdSize) < unsafe.Sizeof(loadCommand{}) || uintptr(lc.CmdSize) > remaining {
			break
		}
		if lc.Cmd == lcSegment64 && uintptr(lc.CmdSize) >= unsafe.Sizeof(segmentCommand64{}) {
			sc := (*segmentCommand64)(unsafe.Pointer(cmd))
			segments = append(segments, Segment{
				name:   cString(sc.SegName[:]),
				vmaddr: uintptr(sc.VMAddr),
				size:   sc.VMSize,
				prot:   sc.InitProt,
			})
		}
		remaining -= uintptr(lc.CmdSize)
		cmd += uintptr(lc.CmdSize)
	}
	return segments, true
}
