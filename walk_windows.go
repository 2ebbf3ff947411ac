//go:build windows

package shlibwalk

import (
	"debug/pe"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Supported reports whether this build carries a real enumerator for the
// target platform. When it is false, Walk succeeds with zero callback
// invocations.
const Supported = true

// ErrSnapshotUnstable reports that the process module set kept growing
// between the snapshot size query and the snapshot read, exhausting the
// retry budget. The caller may retry the walk once the module churn has
// settled.
var ErrSnapshotUnstable = errors.New("module snapshot kept growing")

// snapshotAttempts bounds the resize-and-retry loop; there is no silent
// infinite loop, and no truncated list is ever returned.
const snapshotAttempts = 5

const (
	dosMagic    = 0x5a4d     // 'MZ'
	ntSignature = 0x00004550 // 'PE\0\0'
)

type imageDOSHeader struct {
	Magic           uint16
	_               [58]byte
	NewHeaderOffset int32
}

type imageNTHeaders struct {
	Signature  uint32
	FileHeader pe.FileHeader
}

// Library is a view over one PE module loaded in the process. It borrows
// the module's in-memory section table and is only valid inside the Walk
// callback it was handed to.
type Library struct {
	name     string
	base     uintptr
	segments []Segment
}

// Segment is a view over one section header of a loaded PE module.
type Segment struct {
	section *pe.SectionHeader32
}

// Name returns the module's file path as reported by the system.
func (lib *Library) Name() string { return lib.name }

// Bias returns the module's base address. PE sections state their
// addresses relative to the module, so the base is the displacement to
// apply to every stated address.
func (lib *Library) Bias() uintptr { return lib.base }

// Segments returns the module's sections in section-table order.
func (lib *Library) Segments() []Segment { return lib.segments }

// Name returns the section name, e.g. ".text".
func (seg Segment) Name() string { return cString(seg.section.Name[:]) }

// StatedVirtualAddress returns the section's relative virtual address.
func (seg Segment) StatedVirtualAddress() uintptr { return uintptr(seg.section.VirtualAddress) }

// Size returns the section's extent in memory, in bytes.
func (seg Segment) Size() uint64 { return uint64(seg.section.VirtualSize) }

// IsCode reports whether the section maps executable instructions.
func (seg Segment) IsCode() bool {
	return seg.section.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0
}

// IsLoad reports whether the section describes a memory mapping. Every
// section in a loaded image does.
func (seg Segment) IsLoad() bool { return true }

// moduleEnumerator matches the EnumProcessModules calling convention.
// snapshotModules takes it as a parameter so the grow-and-retry policy
// can be exercised without live module churn.
type moduleEnumerator func(process windows.Handle, module *windows.Handle, cb uint32, needed *uint32) error

// moduleNamer matches the GetModuleFileNameEx calling convention;
// moduleName takes it as a parameter for the same reason.
type moduleNamer func(process windows.Handle, module windows.Handle, filename *uint16, size uint32) error

// Walk invokes fn once per module currently loaded in the process,
// stopping early if fn returns Stop.
//
// The module list is captured with the two-phase EnumProcessModules
// snapshot; if the module set grows between the phases the snapshot is
// retried with a larger buffer a bounded number of times before the walk
// fails with ErrSnapshotUnstable.
func Walk(fn func(*Library) IterationControl) error {
	proc := windows.CurrentProcess()
	modules, err := snapshotModules(windows.EnumProcessModules, proc)
	if err != nil {
		return err
	}

	for _, module := range modules {
		name, ok := moduleName(windows.GetModuleFileNameEx, proc, module)
		if !ok {
			continue
		}

		// Pin the module so it cannot be unloaded while its in-memory
		// headers are read and the callback runs. The module is already
		// loaded, so this only bumps its reference count.
		pinned, pinErr := windows.LoadLibraryEx(name, 0, windows.LOAD_LIBRARY_AS_DATAFILE)

		stop := false
		if lib, ok := moduleLibrary(proc, module, name); ok {
			stop = fn(lib) == Stop
		}

		if pinErr == nil {
			_ = windows.FreeLibrary(pinned)
		}
		if stop {
			break
		}
	}
	return nil
}

// snapshotModules captures the process module handle list, retrying with
// a larger buffer while the reported size keeps outgrowing it.
func snapshotModules(enum moduleEnumerator, proc windows.Handle) ([]windows.Handle, error) {
	const handleSize = uint32(unsafe.Sizeof(windows.Handle(0)))

	var needed uint32
	if err := enum(proc, nil, 0, &needed); err != nil {
		return nil, fmt.Errorf("size module snapshot: %w", err)
	}

	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		if needed == 0 {
			return nil, nil
		}
		buf := make([]windows.Handle, needed/handleSize)
		cb := uint32(len(buf)) * handleSize
		var written uint32
		if err := enum(proc, &buf[0], cb, &written); err != nil {
			return nil, fmt.Errorf("read module snapshot: %w", err)
		}
		if written <= cb {
			return buf[:written/handleSize], nil
		}
		// The module set grew between the size query and the read.
		needed = written
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrSnapshotUnstable, snapshotAttempts)
}

// maxModulePath is the NT path ceiling in UTF-16 units; no module path
// can be longer.
const maxModulePath = 1 << 15

// moduleName resolves the module's file path. GetModuleFileNameEx
// reports success even when it truncates, so a filled buffer is the only
// truncation signal; the buffer is doubled until the path fits.
func moduleName(namer moduleNamer, proc windows.Handle, module windows.Handle) (string, bool) {
	for size := uint32(windows.MAX_PATH + 1); ; size *= 2 {
		buf := make([]uint16, size)
		if err := namer(proc, module, &buf[0], size); err != nil {
			return "", false
		}
		n := 0
		for n < len(buf) && buf[n] != 0 {
			n++
		}
		if n < len(buf)-1 || size >= maxModulePath {
			return windows.UTF16ToString(buf[:n]), true
		}
	}
}

// moduleLibrary builds a Library view over the module's mapped image.
func moduleLibrary(proc windows.Handle, module windows.Handle, name string) (*Library, bool) {
	var info windows.ModuleInfo
	if err := windows.GetModuleInformation(proc, module, &info, uint32(unsafe.Sizeof(info))); err != nil {
		return nil, false
	}

	sections, ok := sectionsAt(info.BaseOfDll)
	if !ok {
		return nil, false
	}
	segments := make([]Segment, len(sections))
	for i := range sections {
		segments[i] = Segment{section: &sections[i]}
	}
	return &Library{name: name, base: info.BaseOfDll, segments: segments}, true
}

// sectionsAt reads the PE section table from the module headers mapped
// at base.
func sectionsAt(base uintptr) ([]pe.SectionHeader32, bool) {
	dos := (*imageDOSHeader)(unsafe.Pointer(base))
	if dos.Magic != dosMagic || dos.NewHeaderOffset <= 0 {
		return nil, false
	}
	nt := (*imageNTHeaders)(unsafe.Pointer(base + uintptr(dos.NewHeaderOffset)))
	if nt.Signature != ntSignature {
		return nil, false
	}

	sectionBase := base + uintptr(dos.NewHeaderOffset) +
		unsafe.Sizeof(imageNTHeaders{}) + uintptr(nt.FileHeader.SizeOfOptionalHeader)
	sections := unsafe.Slice((*pe.SectionHeader32)(unsafe.Pointer(sectionBase)), int(nt.FileHeader.NumberOfSections))
	return sections, true
}
