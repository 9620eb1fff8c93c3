// Package handover builds the attribute array and drives the handover
// protocol (§4.7): the loader's last and most invariant-heavy stage before
// jumping into the kernel.
package handover

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/hyperboot/hyper/pkg/archconst"
	"github.com/hyperboot/hyper/pkg/bytesrange"
	"github.com/hyperboot/hyper/pkg/elfload"
	hyperlog "github.com/hyperboot/hyper/pkg/log"
	"github.com/hyperboot/hyper/pkg/memory"
	"github.com/hyperboot/hyper/pkg/video"
	"golang.org/x/text/encoding/unicode"
)

// Record type tags (§6), fixed by the boot protocol.
const (
	RecordPlatformInfo    uint32 = 1
	RecordKernelInfo      uint32 = 2
	RecordModuleInfo      uint32 = 3
	RecordCommandLine     uint32 = 4
	RecordFramebufferInfo uint32 = 5
	RecordMemoryMap       uint32 = 6
)

const (
	attributeHeaderSize = 8 // u32 type + u32 size_in_bytes
	arrayHeaderSize     = 8 // u32 pad + u32 attribute_count
	memoryMapEntrySize  = 24
	platformNameBufSize = 64
	loaderName          = "HyperLoader v0.1"

	// maxMapSizeRetries bounds the "reserve, recheck, retry" loop (§9 open
	// question: guard against a non-monotonic firmware map oscillating
	// forever).
	maxMapSizeRetries = 16
)

// Magic is passed to the kernel alongside the attribute array address. Its
// exact value only has to agree between this loader and the kernel it
// boots; it is computed once from a readable ASCII tag rather than an
// opaque literal.
var Magic uint64

func init() {
	Magic = binary.LittleEndian.Uint64([]byte("HYPRBOOT"))
}

// Module describes one loaded module for MODULE_INFO (§8 scenario 3).
type Module struct {
	Name            string // "" means unnamed; rendered as unnamed_module<N>
	PhysicalAddress uint64
	Size            uint64
}

// Builder assembles the attribute array and drives the handover loop. It
// holds the allocator so it can both reserve the array's own memory and
// detect the "no allocation after snapshot" violation (§4.7 invariant).
type Builder struct {
	alloc *memory.Allocator
}

// New creates a Builder over alloc.
func New(alloc *memory.Allocator) *Builder {
	return &Builder{alloc: alloc}
}

// Input bundles everything the handover builder needs beyond the
// allocator: the loaded kernel's binary info, modules, optional command
// line and framebuffer.
type Input struct {
	Kernel      elfload.Info
	Modules     []Module
	CommandLine string // empty means no COMMAND_LINE record
	Framebuffer *video.FramebufferInfo
}

// Result is the built handover state: the physical address and size of the
// attribute array, and the firmware's handover key for the snapshot it was
// built against.
type Result struct {
	ArrayAddress uint64
	ArraySize    uint64
	Bytes        []byte // the built array; the caller writes this to ArrayAddress
	Key          memory.Key
	Higher       bool // kernel entrypoint >= archconst.HigherHalfBase
}

// Build runs the full §4.7 pipeline: computes the static size, loops
// reserving memory-map space until the reservation is stable, writes the
// array, and takes the final memory-map snapshot. It does not itself call
// ms->handover or jump; those are the caller's final, irreversible steps.
func (b *Builder) Build(in Input) (*Result, error) {
	if err := b.Validate(in); err != nil {
		return nil, err
	}

	cmdlineBytes, err := encodeCommandLine(in.CommandLine)
	if err != nil {
		return nil, fmt.Errorf("handover: encoding command line: %w", err)
	}

	staticSize := staticByteRequirement(in, cmdlineBytes)

	arrayAddr, reservedEntries, err := b.reserveStable(staticSize)
	if err != nil {
		return nil, err
	}

	higher := in.Kernel.Entrypoint >= archconst.HigherHalfBase

	buf := make([]byte, staticSize+uint64(reservedEntries)*memoryMapEntrySize)
	count, recordsEnd := writeRecords(buf, in, cmdlineBytes, higher)

	entries := make([]memory.Entry, reservedEntries)
	n, finalKey := b.alloc.CopyMap(entries)
	if n > reservedEntries {
		return nil, fmt.Errorf("handover: memory map grew past its reservation at snapshot time (had room for %d, firmware reports %d)", reservedEntries, n)
	}

	mapOff := writeAttributeHeader(buf, recordsEnd, recordHeader(RecordMemoryMap, uint32(8+n*memoryMapEntrySize)))
	binary.LittleEndian.PutUint32(buf[mapOff:], uint32(n))
	binary.LittleEndian.PutUint32(buf[mapOff+4:], 0)
	encodeMapEntries(buf[mapOff+8:], entries[:n])

	binary.LittleEndian.PutUint32(buf[4:], count+1) // +1 for the memory-map record itself

	b.alloc.Freeze()

	return &Result{
		ArrayAddress: arrayAddr,
		ArraySize:    uint64(len(buf)),
		Bytes:        buf,
		Key:          finalKey,
		Higher:       higher,
	}, nil
}

// Validate checks in against the attribute-array invariants (§4.7, §9)
// before any allocation happens, aggregating every problem found into a
// single *multierror.Error (nil if none), matching pkg/config's Validate
// convention. Build calls this itself, so callers that only ever call
// Build never need to call it directly; it is exported for callers (and
// tests) that want to check an Input without attempting to build it.
func (b *Builder) Validate(in Input) error {
	var result *multierror.Error

	if in.Kernel.Bitness != elfload.Bitness32 && in.Kernel.Bitness != elfload.Bitness64 {
		result = multierror.Append(result, fmt.Errorf("handover: kernel info has no recognized bitness"))
	}
	if in.Kernel.PhysicalCeiling <= in.Kernel.PhysicalBase {
		result = multierror.Append(result, fmt.Errorf("handover: kernel physical range [0x%x, 0x%x) is empty", in.Kernel.PhysicalBase, in.Kernel.PhysicalCeiling))
	}

	kernelRange := bytesrange.Range{Offset: in.Kernel.PhysicalBase, Length: in.Kernel.PhysicalCeiling - in.Kernel.PhysicalBase}
	var moduleRanges []bytesrange.Range
	for i, m := range in.Modules {
		if m.Size == 0 {
			result = multierror.Append(result, fmt.Errorf("handover: module %q has zero size", moduleDisplayName(m, i)))
			continue
		}
		r := bytesrange.Range{Offset: m.PhysicalAddress, Length: m.Size}
		if r.Intersect(kernelRange) {
			result = multierror.Append(result, fmt.Errorf("handover: module %q overlaps the kernel's physical range", moduleDisplayName(m, i)))
		}
		for j, other := range moduleRanges {
			if r.Intersect(other) {
				result = multierror.Append(result, fmt.Errorf("handover: module %q overlaps module %q", moduleDisplayName(m, i), moduleDisplayName(in.Modules[j], j)))
			}
		}
		moduleRanges = append(moduleRanges, r)
	}

	if in.Framebuffer != nil {
		fb := in.Framebuffer
		if fb.Width == 0 || fb.Height == 0 {
			result = multierror.Append(result, fmt.Errorf("handover: framebuffer has zero width or height"))
		}
		switch fb.BPP {
		case 8, 16, 24, 32:
		default:
			result = multierror.Append(result, fmt.Errorf("handover: framebuffer bpp %d is not one of 8/16/24/32", fb.BPP))
		}
	}

	if _, err := encodeCommandLine(in.CommandLine); err != nil {
		result = multierror.Append(result, fmt.Errorf("handover: command line is not encodable: %w", err))
	}

	return result.ErrorOrNil()
}

// reserveStable implements §4.7 step 2: loop until the firmware memory
// map's entry count, after a critical allocation of a guess, does not
// exceed the guess. Each retry frees the prior guess before making a
// larger one, since the critical allocation itself perturbs the map.
func (b *Builder) reserveStable(staticSize uint64) (addr uint64, reservedEntries int, err error) {
	count, _ := b.alloc.CopyMap(nil)
	reservedEntries = count + 1

	for attempt := 0; attempt < maxMapSizeRetries; attempt++ {
		totalSize := staticSize + uint64(reservedEntries)*memoryMapEntrySize
		addr = b.alloc.AllocateCriticalBytes(memory.TypeAttributeArray, totalSize)

		newCount, _ := b.alloc.CopyMap(nil)
		if newCount <= reservedEntries {
			return addr, reservedEntries, nil
		}

		b.alloc.FreePages(addr, (totalSize+memory.PageSize-1)/memory.PageSize)
		reservedEntries = newCount + 1
	}

	hyperlog.Fatalf("handover: memory map did not stabilize after %d attempts", maxMapSizeRetries)
	return 0, 0, fmt.Errorf("unreachable")
}

func staticByteRequirement(in Input, cmdlineBytes []byte) uint64 {
	size := uint64(arrayHeaderSize)
	size += attributeHeaderSize + platformNameBufSize   // PLATFORM_INFO
	size += attributeHeaderSize + kernelInfoPayloadSize // KERNEL_INFO
	for i, m := range in.Modules {
		size += attributeHeaderSize + moduleInfoPayloadSize(m, i)
	}
	if len(cmdlineBytes) > 0 {
		size += alignUp8(attributeHeaderSize + uint64(len(cmdlineBytes)))
	}
	if in.Framebuffer != nil {
		size += attributeHeaderSize + framebufferInfoPayloadSize
	}
	size += attributeHeaderSize + 8 // MEMORY_MAP header and its count/pad; entries are reserved separately
	return alignUp8(size)
}

const kernelInfoPayloadSize = 8 + 8 + 8 + 8 + 1 + 1  // base, ceiling, vbase, entry, bitness, directmap
const framebufferInfoPayloadSize = 8 + 4 + 4 + 4 + 4 // addr, w, h, bpp, pitch

func moduleInfoPayloadSize(m Module, index int) uint64 {
	name := moduleDisplayName(m, index)
	return alignUp8(8 + 8 + uint64(len(name)) + 1)
}

func moduleDisplayName(m Module, index int) string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("unnamed_module%d", index+1)
}

func alignUp8(n uint64) uint64 { return (n + 7) &^ 7 }

func recordHeader(typ uint32, size uint32) [attributeHeaderSize]byte {
	var h [attributeHeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:], typ)
	binary.LittleEndian.PutUint32(h[4:], size)
	return h
}

func writeAttributeHeader(buf []byte, offset uint64, h [attributeHeaderSize]byte) uint64 {
	copy(buf[offset:], h[:])
	return offset + attributeHeaderSize
}

// writeRecords writes every fixed-order attribute except MEMORY_MAP (which
// Build appends once the final entry count is known) and returns the
// number of records written so far and the offset just past the last one.
func writeRecords(buf []byte, in Input, cmdlineBytes []byte, higher bool) (uint32, uint64) {
	off := uint64(arrayHeaderSize)
	var count uint32

	off = writeAttributeHeader(buf, off, recordHeader(RecordPlatformInfo, platformNameBufSize))
	copy(buf[off:off+platformNameBufSize], loaderName)
	off += platformNameBufSize
	count++

	off = writeAttributeHeader(buf, off, recordHeader(RecordKernelInfo, uint32(kernelInfoPayloadSize)))
	off = writeKernelInfo(buf, off, in.Kernel)
	count++

	for i, m := range in.Modules {
		payload := moduleInfoPayloadSize(m, i)
		off = writeAttributeHeader(buf, off, recordHeader(RecordModuleInfo, uint32(payload)))
		start := off
		addr := m.PhysicalAddress
		binary.LittleEndian.PutUint64(buf[off:], addr)
		binary.LittleEndian.PutUint64(buf[off+8:], m.Size)
		name := moduleDisplayName(m, i)
		copy(buf[off+16:], name)
		off = start + payload
		count++
	}

	if len(cmdlineBytes) > 0 {
		recSize := alignUp8(attributeHeaderSize + uint64(len(cmdlineBytes)))
		off = writeAttributeHeader(buf, off, recordHeader(RecordCommandLine, uint32(recSize-attributeHeaderSize)))
		copy(buf[off:], cmdlineBytes)
		off += recSize - attributeHeaderSize
		count++
	}

	if in.Framebuffer != nil {
		off = writeAttributeHeader(buf, off, recordHeader(RecordFramebufferInfo, uint32(framebufferInfoPayloadSize)))
		addr := in.Framebuffer.Address
		if higher {
			addr += archconst.DirectMapBase
		}
		binary.LittleEndian.PutUint64(buf[off:], addr)
		binary.LittleEndian.PutUint32(buf[off+8:], in.Framebuffer.Width)
		binary.LittleEndian.PutUint32(buf[off+12:], in.Framebuffer.Height)
		binary.LittleEndian.PutUint32(buf[off+16:], in.Framebuffer.BPP)
		binary.LittleEndian.PutUint32(buf[off+20:], in.Framebuffer.Pitch)
		off += framebufferInfoPayloadSize
		count++
	}

	return count, off
}

func writeKernelInfo(buf []byte, off uint64, k elfload.Info) uint64 {
	binary.LittleEndian.PutUint64(buf[off:], k.PhysicalBase)
	binary.LittleEndian.PutUint64(buf[off+8:], k.PhysicalCeiling)
	binary.LittleEndian.PutUint64(buf[off+16:], k.VirtualBase)
	binary.LittleEndian.PutUint64(buf[off+24:], k.Entrypoint)
	buf[off+32] = byte(k.Bitness)
	if k.KernelRangeIsDirectMap {
		buf[off+33] = 1
	}
	return off + kernelInfoPayloadSize
}

// encodeCommandLine encodes s as UTF-16LE, the boot protocol's native
// command-line encoding, returning nil for an empty command line.
func encodeCommandLine(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	return enc.Bytes([]byte(s))
}

// encodeMapEntries serializes entries into buf using the protocol's 24-byte
// memory-map entry layout (§6).
func encodeMapEntries(buf []byte, entries []memory.Entry) {
	for i, e := range entries {
		off := i * memoryMapEntrySize
		binary.LittleEndian.PutUint64(buf[off:], e.PhysicalAddress)
		binary.LittleEndian.PutUint64(buf[off+8:], e.SizeInBytes)
		binary.LittleEndian.PutUint32(buf[off+16:], e.Type)
		binary.LittleEndian.PutUint32(buf[off+20:], 0)
	}
}
