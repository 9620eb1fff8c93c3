// Package elfload is the ELF loader (§4.4): it inspects a kernel or module
// ELF image, decides where it belongs in physical memory, and copies its
// PT_LOAD segments there. Identical logic handles amd64 and i386 images;
// only the recorded bitness differs.
package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/hyperboot/hyper/pkg/archconst"
	"github.com/hyperboot/hyper/pkg/bytesrange"
	"github.com/hyperboot/hyper/pkg/memory"
)

// Bitness is the width reported by the ELF ident.
type Bitness int

const (
	BitnessInvalid Bitness = iota
	Bitness32
	Bitness64
)

// PhysMem is the physical-memory sink the loader writes segment data and
// BSS zero-fill into. A real binding backs it with direct physical access;
// tests back it with an in-memory map.
type PhysMem interface {
	WriteAt(addr uint64, data []byte) error
	Zero(addr uint64, size uint64) error
}

// Info is the binary info record described in §3.
type Info struct {
	PhysicalBase           uint64
	PhysicalCeiling        uint64
	VirtualBase            uint64
	Entrypoint             uint64
	Bitness                Bitness
	KernelRangeIsDirectMap bool
}

// Identify inspects the ELF ident bytes and reports the bitness, or
// BitnessInvalid if raw is not a recognizable ELF image.
func Identify(raw []byte) Bitness {
	if len(raw) < 5 || raw[0] != 0x7f || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return BitnessInvalid
	}
	switch elf.Class(raw[4]) {
	case elf.ELFCLASS32:
		return Bitness32
	case elf.ELFCLASS64:
		return Bitness64
	default:
		return BitnessInvalid
	}
}

type segment struct {
	vaddr  uint64
	memsz  uint64
	filesz uint64
	off    uint64
}

// Load parses raw as an ELF image and places its PT_LOAD segments in
// physical memory, filling in info on success.
//
// When allocateAnywhere is set (64-bit images only), the loader allocates a
// single physical region of the right size wherever the allocator finds
// room and copies segments into it, ignoring any fixed-address convention
// in the file. Otherwise it requires the image's own virtual addresses to
// imply a usable physical placement, either identity (low addresses) or the
// direct map (addresses at or above archconst.DirectMapBase, mapped down by
// archconst.DirectMapBase per §4.4's fixed-placement formula). A virtual
// address in the higher half but below DirectMapBase is not covered by the
// direct map; it is placed at a physical address equal to its virtual one,
// with KernelRangeIsDirectMap false.
func Load(raw []byte, alloc *memory.Allocator, mem PhysMem, allocateAnywhere bool, memType memory.Type) (*Info, error) {
	bitness := Identify(raw)
	if bitness == BitnessInvalid {
		return nil, fmt.Errorf("elfload: not a recognizable ELF image")
	}
	is64 := bitness == Bitness64
	if allocateAnywhere && !is64 {
		return nil, fmt.Errorf("elfload: allocate-anywhere is only supported for 64-bit images")
	}

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("elfload: %w", err)
	}
	defer f.Close()

	var segs []segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, segment{vaddr: p.Vaddr, memsz: p.Memsz, filesz: p.Filesz, off: p.Off})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("elfload: image has no PT_LOAD segments")
	}

	if err := checkOverlap(segs); err != nil {
		return nil, err
	}

	virtualBase, ceiling := pageAlignedUnion(segs)
	size := ceiling - virtualBase

	entrypoint := f.Entry
	if entrypoint < virtualBase || entrypoint >= virtualBase+size {
		return nil, fmt.Errorf("elfload: entrypoint 0x%x falls outside the loaded range [0x%x, 0x%x)", entrypoint, virtualBase, virtualBase+size)
	}

	info := &Info{VirtualBase: virtualBase, Entrypoint: entrypoint, Bitness: bitness}

	if allocateAnywhere {
		physBase := alloc.AllocateCriticalBytes(memType, size)
		info.PhysicalBase = physBase
		info.PhysicalCeiling = physBase + size
		info.KernelRangeIsDirectMap = false
	} else {
		physBase := virtualBase
		directMap := false
		if virtualBase >= archconst.DirectMapBase {
			physBase = virtualBase - archconst.DirectMapBase
			directMap = true
		}
		alloc.AllocateCriticalPagesAt(physBase, memType, pagesFor(size))
		info.PhysicalBase = physBase
		info.PhysicalCeiling = physBase + size
		info.KernelRangeIsDirectMap = directMap
	}

	for _, seg := range segs {
		dest := info.PhysicalBase + (seg.vaddr - virtualBase)
		if seg.filesz > 0 {
			if seg.off > uint64(len(raw)) || seg.filesz > uint64(len(raw))-seg.off {
				return nil, fmt.Errorf("elfload: segment at file offset 0x%x, size 0x%x, extends past end of image (%d bytes)", seg.off, seg.filesz, len(raw))
			}
			data := raw[seg.off : seg.off+seg.filesz]
			if err := mem.WriteAt(dest, data); err != nil {
				return nil, fmt.Errorf("elfload: writing segment at 0x%x: %w", dest, err)
			}
		}
		if seg.memsz > seg.filesz {
			bssStart := dest + seg.filesz
			bssLen := seg.memsz - seg.filesz
			if err := mem.Zero(bssStart, bssLen); err != nil {
				return nil, fmt.Errorf("elfload: zeroing bss at 0x%x: %w", bssStart, err)
			}
		}
	}

	return info, nil
}

func pagesFor(size uint64) uint64 {
	return (size + memory.PageSize - 1) / memory.PageSize
}

// pageAlignedUnion returns the page-aligned [base, ceiling) spanning every
// segment's virtual footprint.
func pageAlignedUnion(segs []segment) (base, ceiling uint64) {
	base = ^uint64(0)
	for _, s := range segs {
		lo := alignDown(s.vaddr)
		hi := alignUp(s.vaddr + s.memsz)
		if lo < base {
			base = lo
		}
		if hi > ceiling {
			ceiling = hi
		}
	}
	return base, ceiling
}

func alignDown(addr uint64) uint64 { return addr &^ (memory.PageSize - 1) }
func alignUp(addr uint64) uint64   { return (addr + memory.PageSize - 1) &^ (memory.PageSize - 1) }

// checkOverlap reports an error if any two segments' virtual footprints
// overlap (§4.4 edge case).
func checkOverlap(segs []segment) error {
	sorted := make([]segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].vaddr < sorted[j].vaddr })
	for i := 1; i < len(sorted); i++ {
		prev := bytesrange.Range{Offset: sorted[i-1].vaddr, Length: sorted[i-1].memsz}
		cur := bytesrange.Range{Offset: sorted[i].vaddr, Length: sorted[i].memsz}
		if prev.Intersect(cur) {
			return fmt.Errorf("elfload: PT_LOAD segments overlap: [0x%x,0x%x) and [0x%x,0x%x)",
				prev.Offset, prev.End(), cur.Offset, cur.End())
		}
	}
	return nil
}
