//go:build linux && (amd64 || arm64)

package shlibwalk

import (
	"debug/elf"
	"fmt"
	"unsafe"

	"github.com/prometheus/procfs"
)

// Supported reports whether this build carries a real enumerator for the
// target platform. When it is false, Walk succeeds with zero callback
// invocations.
const Supported = true

// Library is a view over one ELF object mapped into the process. It
// borrows the object's in-memory program-header table and is only valid
// inside the Walk callback it was handed to.
type Library struct {
	name     string
	bias     uintptr
	segments []Segment
}

// Segment is a view over one program header of a mapped ELF object.
type Segment struct {
	phdr *elf.Prog64
}

// Name returns the object's pathname as reported by /proc/self/maps,
// byte for byte. The kernel's vdso image is reported as "[vdso]".
func (lib *Library) Name() string { return lib.name }

// Bias returns the displacement between the object's stated load
// addresses and where the loader actually placed it.
func (lib *Library) Bias() uintptr { return lib.bias }

// Segments returns the object's program headers in table order.
func (lib *Library) Segments() []Segment { return lib.segments }

// EhFrameHdr returns the object's GNU_EH_FRAME segment, when the object
// carries unwind tables.
func (lib *Library) EhFrameHdr() (Segment, bool) {
	for _, seg := range lib.segments {
		if elf.ProgType(seg.phdr.Type) == elf.PT_GNU_EH_FRAME {
			return seg, true
		}
	}
	return Segment{}, false
}

func (seg Segment) Name() string {
	return progTypeName(elf.ProgType(seg.phdr.Type))
}

// StatedVirtualAddress returns p_vaddr, the address the segment claims
// to occupy before the load bias is applied.
func (seg Segment) StatedVirtualAddress() uintptr { return uintptr(seg.phdr.Vaddr) }

// Size returns the segment's extent in memory, in bytes.
func (seg Segment) Size() uint64 { return seg.phdr.Memsz }

// IsCode reports whether the segment maps executable instructions.
func (seg Segment) IsCode() bool {
	return elf.ProgType(seg.phdr.Type) == elf.PT_LOAD && elf.ProgFlag(seg.phdr.Flags)&elf.PF_X != 0
}

// IsLoad reports whether the segment describes a memory mapping. Only
// PT_LOAD headers do; the rest (PHDR, TLS, NOTE, ...) annotate ranges
// inside the load segments or occupy no runtime memory at all.
func (seg Segment) IsLoad() bool {
	return elf.ProgType(seg.phdr.Type) == elf.PT_LOAD
}

// Walk invokes fn once per ELF object currently mapped into the process,
// stopping early if fn returns Stop.
//
// The walk reads /proc/self/maps to find every object's runtime base and
// then reads the program-header table straight from mapped memory, the
// same data the runtime linker maintains. An object mapped or unmapped
// concurrently may be missed; see the package documentation.
func Walk(fn func(*Library) IterationControl) error {
	self, err := procfs.Self()
	if err != nil {
		return fmt.Errorf("open /proc/self: %w", err)
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return fmt.Errorf("read /proc/self/maps: %w", err)
	}

	// A loaded object always has an executable mapping somewhere in its
	// range; a file the process merely mmapped for inspection does not.
	executable := make(map[string]bool)
	for _, m := range maps {
		if m.Perms != nil && m.Perms.Execute {
			executable[m.Pathname] = true
		}
	}

	seen := make(map[string]bool)
	for _, m := range maps {
		if !enumerable(m) || !executable[m.Pathname] || seen[m.Pathname] {
			continue
		}
		seen[m.Pathname] = true
		lib, ok := libraryAt(m.StartAddr, m.Pathname)
		if !ok {
			continue
		}
		if fn(lib) == Stop {
			break
		}
	}
	return nil
}

// enumerable keeps the header mapping of file-backed objects plus the
// kernel's vdso image. Anonymous and pseudo mappings have no ELF header
// to report, and only an offset-zero readable mapping can begin one.
// The caller additionally requires an executable mapping of the same
// pathname before reporting the object.
func enumerable(m *procfs.ProcMap) bool {
	if m.Perms == nil || !m.Perms.Read || m.Offset != 0 {
		return false
	}
	if m.Pathname == "[vdso]" {
		return true
	}
	return len(m.Pathname) > 0 && m.Pathname[0] == '/'
}

// libraryAt builds a Library view over the ELF object mapped at base.
// It reports false when the mapping does not begin with an ELF image of
// the running machine class; file-backed mappings of non-objects (locale
// archives, mmapped data files) fall out here.
func libraryAt(base uintptr, name string) (*Library, bool) {
	ident := (*[elf.EI_NIDENT]byte)(unsafe.Pointer(base))
	if string(ident[0:4]) != elf.ELFMAG {
		return nil, false
	}
	if elf.Class(ident[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return nil, false
	}

	hdr := (*elf.Header64)(unsafe.Pointer(base))
	if hdr.Phoff == 0 || hdr.Phnum == 0 || uintptr(hdr.Phentsize) != unsafe.Sizeof(elf.Prog64{}) {
		return nil, false
	}
	// The program-header table sits alongside the ELF header inside the
	// object's first mapping on every mainstream linker's output, so it
	// is readable at base+Phoff.
	phdrs := unsafe.Slice((*elf.Prog64)(unsafe.Pointer(base+uintptr(hdr.Phoff))), int(hdr.Phnum))

	bias := base
	for i := range phdrs {
		if elf.ProgType(phdrs[i].Type) == elf.PT_LOAD {
			bias = base + uintptr(phdrs[i].Off) - uintptr(phdrs[i].Vaddr)
			break
		}
	}

	segments := make([]Segment, len(phdrs))
	for i := range phdrs {
		segments[i] = Segment{phdr: &phdrs[i]}
	}
	return &Library{name: name, bias: bias, segments: segments}, true
}

func progTypeName(t elf.ProgType) string {
	switch t {
	case elf.PT_NULL:
		return "NULL"
	case elf.PT_LOAD:
		return "LOAD"
	case elf.PT_DYNAMIC:
		return "DYNAMIC"
	case elf.PT_INTERP:
		return "INTERP"
	case elf.PT_NOTE:
		return "NOTE"
	case elf.PT_SHLIB:
		return "SHLIB"
	case elf.PT_PHDR:
		return "PHDR"
	case elf.PT_TLS:
		return "TLS"
	case elf.PT_GNU_EH_FRAME:
		return "GNU_EH_FRAME"
	case elf.PT_GNU_STACK:
		return "GNU_STACK"
	case elf.PT_GNU_RELRO:
		return "GNU_RELRO"
	default:
		return "(unknown segment type)"
	}
}
