// Package paging builds the 4-level (48-bit) amd64 page table the kernel is
// handed over into (§4.5): an identity map of the first 4 GiB, a direct map
// of the same range at archconst.DirectMapBase, and, when the kernel wasn't
// loaded at a fixed address the direct map already covers, an explicit
// kernel mapping.
package paging

import (
	"fmt"

	"github.com/hyperboot/hyper/pkg/archconst"
	"github.com/hyperboot/hyper/pkg/memory"
)

const (
	entriesPerTable = 512
	pageSize4K      = 4096
	pageSize2M      = 2 << 20
	pageSize1G      = 1 << 30

	identityMapBytes = 4 << 30 // 4 GiB, per §4.5
)

// Page-table entry bits (amd64).
const (
	flagPresent  = 1 << 0
	flagWritable = 1 << 1
	flagHuge     = 1 << 7
)

// PageWriter is the physical-memory sink used to write page-table pages.
// Tests back it with an in-memory map; a real binding writes straight to
// physical memory.
type PageWriter interface {
	WriteUint64(addr uint64, offset int, value uint64) error
}

// HugePageSupport reports whether 1 GiB and 2 MiB huge pages are available,
// normally derived from CPUID. When a size isn't supported the builder
// falls back to 4 KiB mappings for that range (§4.5, implementer's choice).
type HugePageSupport struct {
	GB1 bool
	MB2 bool
}

// Table is the built page hierarchy: the PML4 physical address, kept so
// callers and tests can reference it.
type Table struct {
	PML4Address uint64
}

// builder tracks the intermediate tables allocated so far so that two
// mappings sharing a PML4/PDPT/PD entry reuse the same child table instead
// of clobbering each other.
type builder struct {
	alloc *memory.Allocator
	w     PageWriter

	pml4 uint64
	// keyed by (parentAddr, index)
	children map[tableKey]uint64
}

type tableKey struct {
	parent uint64
	index  int
}

// Build constructs the page table described in §4.5 and returns its PML4
// physical address. kernelVirtual/kernelPhysical/kernelSize describe the
// ELF loader's Info (§4.4); when kernelDirectMapCovers is true (the kernel
// loaded to its fixed physical == virtual-archconst.DirectMapBase) no extra
// kernel entries are added, since the direct map already covers it.
func Build(alloc *memory.Allocator, w PageWriter, huge HugePageSupport, kernelVirtual, kernelPhysical, kernelSize uint64, kernelDirectMapCovers bool) (*Table, error) {
	b := &builder{alloc: alloc, w: w, children: map[tableKey]uint64{}}
	b.pml4 = b.allocateTable()

	if err := b.mapRange(0, 0, identityMapBytes, huge); err != nil {
		return nil, fmt.Errorf("paging: identity map: %w", err)
	}
	if err := b.mapRange(archconst.DirectMapBase, 0, identityMapBytes, huge); err != nil {
		return nil, fmt.Errorf("paging: direct map: %w", err)
	}

	if !kernelDirectMapCovers && kernelSize > 0 {
		if err := b.mapRange(kernelVirtual, kernelPhysical, kernelSize, HugePageSupport{}); err != nil {
			return nil, fmt.Errorf("paging: kernel map: %w", err)
		}
	}

	return &Table{PML4Address: b.pml4}, nil
}

func (b *builder) allocateTable() uint64 {
	addr := b.alloc.AllocateCriticalBytes(memory.TypePageTable, pageSize4K)
	for i := 0; i < entriesPerTable; i++ {
		_ = b.w.WriteUint64(addr, i*8, 0)
	}
	return addr
}

// mapRange maps [virtBase, virtBase+size) to [physBase, physBase+size),
// preferring 1 GiB then 2 MiB huge pages and falling back to 4 KiB mappings
// page by page when the CPU lacks the relevant huge-page support.
func (b *builder) mapRange(virtBase, physBase, size uint64, huge HugePageSupport) error {
	end := virtBase + size
	virt := virtBase
	phys := physBase
	for virt < end {
		switch {
		case huge.GB1 && virt%pageSize1G == 0 && phys%pageSize1G == 0 && end-virt >= pageSize1G:
			if err := b.mapLeaf(virt, phys, 1); err != nil {
				return err
			}
			virt += pageSize1G
			phys += pageSize1G
		case huge.MB2 && virt%pageSize2M == 0 && phys%pageSize2M == 0 && end-virt >= pageSize2M:
			if err := b.mapLeaf(virt, phys, 2); err != nil {
				return err
			}
			virt += pageSize2M
			phys += pageSize2M
		default:
			if err := b.mapLeaf(virt, phys, 4); err != nil {
				return err
			}
			virt += pageSize4K
			phys += pageSize4K
		}
	}
	return nil
}

// mapLeaf walks/allocates the intermediate tables for virt and installs a
// leaf PTE of the given granularity in GiB/MiB/KiB terms (1 = 1 GiB huge
// entry in the PDPT; 2 = 2 MiB huge entry in the PD; 4 = ordinary 4 KiB
// entry in the PT).
func (b *builder) mapLeaf(virt, phys uint64, granularity int) error {
	pml4Index := int((virt >> 39) & 0x1ff)
	pdptIndex := int((virt >> 30) & 0x1ff)
	pdIndex := int((virt >> 21) & 0x1ff)
	ptIndex := int((virt >> 12) & 0x1ff)

	pdpt := b.walkOrCreate(b.pml4, pml4Index)

	if granularity == 1 {
		return b.w.WriteUint64(pdpt, pdptIndex*8, phys|flagPresent|flagWritable|flagHuge)
	}

	pd := b.walkOrCreate(pdpt, pdptIndex)

	if granularity == 2 {
		return b.w.WriteUint64(pd, pdIndex*8, phys|flagPresent|flagWritable|flagHuge)
	}

	pt := b.walkOrCreate(pd, pdIndex)
	return b.w.WriteUint64(pt, ptIndex*8, phys|flagPresent|flagWritable)
}

// walkOrCreate returns the existing child table at (parent, index),
// allocating and linking a fresh one on first use.
func (b *builder) walkOrCreate(parent uint64, index int) uint64 {
	key := tableKey{parent: parent, index: index}
	if addr, ok := b.children[key]; ok {
		return addr
	}
	table := b.allocateTable()
	_ = b.w.WriteUint64(parent, index*8, table|flagPresent|flagWritable)
	b.children[key] = table
	return table
}
