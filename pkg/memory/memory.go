// Package memory is the allocator facade (§4.3): a typed page/byte
// allocator over a swappable MemoryServices backend supplied by firmware
// (BIOS/UEFI, out of scope — reached only through this interface).
package memory

import (
	hyperlog "github.com/hyperboot/hyper/pkg/log"
)

// PageSize is the allocation granularity.
const PageSize = 4096

// Type tags an allocated region with a boot-protocol memory type, carried
// through into the final memory-map snapshot (§3, §4.7). Its values start at
// protocolLoaderTypeBase so a region this loader allocated is never mistaken
// for one of the firmware-native codes CopyMap may report for memory it
// didn't allocate.
type Type uint32

const (
	TypeKernelBinary Type = protocolLoaderTypeBase + iota
	TypeModule
	TypeKernelStack
	TypeLoaderReclaimable
	TypeLoaderPermanent
	TypePageTable
	TypeAttributeArray
)

// Protocol memory-map type codes (§3 "Memory-map entry (protocol)"). A raw
// entry reported by CopyMap is left alone when it is a recognized
// firmware-native code (at or below protocolMaxNativeType — the handful of
// ACPI/available/reserved codes firmware itself assigns) or one of this
// loader's own Type tags (at or above protocolLoaderTypeBase). Anything else
// is a code neither side recognizes and is coerced to ProtocolTypeReserved
// before it reaches the kernel, rather than passed through as an unknown
// value the kernel would have to guess at.
const (
	ProtocolTypeAvailable       uint32 = 1
	ProtocolTypeReserved        uint32 = 2
	ProtocolTypeACPIReclaimable uint32 = 3
	ProtocolTypeACPINVS         uint32 = 4

	protocolMaxNativeType  uint32 = ProtocolTypeACPINVS
	protocolLoaderTypeBase uint32 = 0x8000_0000
)

// Services is the swappable backend a concrete firmware binding (BIOS or
// UEFI) implements.
type Services interface {
	// AllocatePages allocates count pages anywhere and tags them with
	// typ, returning the physical address and whether it succeeded.
	AllocatePages(typ Type, count uint64) (addr uint64, ok bool)

	// AllocatePagesAt allocates count pages at a fixed physical address
	// (used for placing the higher-half kernel's identity-style
	// mappings, §4.3 allocate_critical_pages_with_type_at).
	AllocatePagesAt(addr uint64, typ Type, count uint64) (ok bool)

	// FreePages releases a prior allocation.
	FreePages(addr uint64, count uint64)

	// CopyMap copies up to len(dest) entries of the current firmware
	// memory map into dest and returns the total number of entries the
	// map currently holds (which may exceed len(dest)) along with an
	// opaque handover key describing this exact snapshot. Passing a nil
	// dest only queries the count (§4.7 step 2a).
	CopyMap(dest []Entry) (entryCount int, key Key)
}

// Key is the opaque firmware token bound to a specific memory-map
// snapshot (§4.7 step 4, GLOSSARY "Handover key"). It is only valid as long
// as no further allocation occurs.
type Key uint64

// Entry is one firmware memory-map record (§3, "Memory-map entry
// (protocol)").
type Entry struct {
	PhysicalAddress uint64
	SizeInBytes     uint64
	Type            uint32
}

// ceilPages rounds size up to the next multiple of PageSize, in pages.
func ceilPages(size uint64) uint64 {
	return (size + PageSize - 1) / PageSize
}

// Allocator is the loader-facing facade over Services. It distinguishes
// critical allocations (failure is fatal) from best-effort ones, and
// enforces the "no allocation after handover snapshot" invariant (§4.7,
// §5, §9) with a runtime guard flag — the design notes call out a
// state-typed-handle alternative, but a single-threaded, halt-on-violation
// loader gets the same guarantee more simply from a bool the handover
// builder flips right after calling CopyMap for the final time.
type Allocator struct {
	backend Services
	frozen  bool
}

// New creates an Allocator over backend.
func New(backend Services) *Allocator {
	return &Allocator{backend: backend}
}

// SetBackend atomically replaces the backend (§5: "process-wide pointer set
// once and replaced atomically at init and during the bios→protocol
// transition"). The loader is single-threaded, so "atomically" here just
// means "between firmware calls", not a memory-ordering guarantee.
func (a *Allocator) SetBackend(backend Services) {
	a.backend = backend
}

// Freeze marks the allocator as past the handover snapshot (§4.7 step 4).
// Any further allocation is a ProtocolError and halts the loader.
func (a *Allocator) Freeze() {
	a.frozen = true
}

func (a *Allocator) checkFrozen(what string) {
	if a.frozen {
		hyperlog.Fatalf("memory: attempted %s after the handover memory-map snapshot was taken", what)
	}
}

// AllocatePages is the best-effort tier: it returns ok=false on failure
// rather than halting.
func (a *Allocator) AllocatePages(typ Type, count uint64) (addr uint64, ok bool) {
	a.checkFrozen("AllocatePages")
	return a.backend.AllocatePages(typ, count)
}

// AllocateCriticalPages is the critical tier: failure halts the loader
// (§4.3, §7 ResourceError).
func (a *Allocator) AllocateCriticalPages(typ Type, count uint64) uint64 {
	a.checkFrozen("AllocateCriticalPages")
	addr, ok := a.backend.AllocatePages(typ, count)
	if !ok {
		hyperlog.Fatalf("memory: critical allocation of %d pages (type %d) failed", count, typ)
	}
	return addr
}

// AllocateCriticalBytes rounds size up to whole pages and allocates
// critically.
func (a *Allocator) AllocateCriticalBytes(typ Type, size uint64) uint64 {
	return a.AllocateCriticalPages(typ, ceilPages(size))
}

// AllocateCriticalPagesAt places a fixed-address critical allocation,
// halting on failure.
func (a *Allocator) AllocateCriticalPagesAt(addr uint64, typ Type, count uint64) {
	a.checkFrozen("AllocateCriticalPagesAt")
	if ok := a.backend.AllocatePagesAt(addr, typ, count); !ok {
		hyperlog.Fatalf("memory: critical allocation of %d pages (type %d) at 0x%x failed", count, typ, addr)
	}
}

// FreePages releases pages back to the backend.
func (a *Allocator) FreePages(addr uint64, count uint64) {
	a.backend.FreePages(addr, count)
}

// CopyMap queries or snapshots the firmware memory map (§4.7). It does not
// itself allocate, so it is permitted even after Freeze. The returned
// entries' Type fields are coerced per §3 before the caller sees them: only
// firmware-native and loader-tagged codes survive unchanged.
func (a *Allocator) CopyMap(dest []Entry) (entryCount int, key Key) {
	entryCount, key = a.backend.CopyMap(dest)
	coerceUnrecognizedTypes(dest)
	return entryCount, key
}

// coerceUnrecognizedTypes rewrites any entry whose Type is neither a
// recognized firmware-native code nor one of this loader's own Type tags to
// ProtocolTypeReserved, in place.
func coerceUnrecognizedTypes(entries []Entry) {
	for i, e := range entries {
		if e.Type <= protocolMaxNativeType || e.Type >= protocolLoaderTypeBase {
			continue
		}
		entries[i].Type = ProtocolTypeReserved
	}
}

// IsFrozen reports whether Freeze has been called.
func (a *Allocator) IsFrozen() bool {
	return a.frozen
}
