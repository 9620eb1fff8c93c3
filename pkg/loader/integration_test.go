package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperboot/hyper/pkg/bootpath"
	"github.com/hyperboot/hyper/pkg/config"
	"github.com/hyperboot/hyper/pkg/elfload"
	"github.com/hyperboot/hyper/pkg/fstable"
	"github.com/hyperboot/hyper/pkg/handover"
	"github.com/hyperboot/hyper/pkg/memory"
	"github.com/hyperboot/hyper/pkg/paging"
)

// buildMinimal32BitELF assembles the smallest valid ELF32 image with one
// PT_LOAD segment, mirroring pkg/elfload's own test builder but kept local
// since that one is unexported.
func buildMinimal32BitELF(t *testing.T, vaddr uint32, data []byte) []byte {
	t.Helper()
	const ehsize, phentsize = 52, 32
	phoff := uint32(ehsize)

	buf := new(bytes.Buffer)
	ident := make([]byte, 16)
	copy(ident, []byte{0x7f, 'E', 'L', 'F'})
	ident[4] = byte(elf.ELFCLASS32)
	ident[5] = byte(elf.ELFDATA2LSB)
	ident[6] = byte(elf.EV_CURRENT)
	buf.Write(ident)

	le := binary.LittleEndian
	w16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	w32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }

	w16(uint16(elf.ET_EXEC))
	w16(uint16(elf.EM_386))
	w32(uint32(elf.EV_CURRENT))
	w32(vaddr) // e_entry
	w32(phoff)
	w32(0) // e_shoff
	w32(0) // e_flags
	w16(uint16(ehsize))
	w16(uint16(phentsize))
	w16(1) // one program header
	w16(0)
	w16(0)
	w16(0)

	dataOff := phoff + phentsize
	w32(uint32(elf.PT_LOAD))
	w32(dataOff)
	w32(vaddr)
	w32(vaddr)
	w32(uint32(len(data)))
	w32(uint32(len(data)))
	w32(uint32(elf.PF_R | elf.PF_W | elf.PF_X))
	w32(0x1000)

	buf.Write(data)
	return buf.Bytes()
}

// mockFile is the fstable.File over an in-memory byte slice.
type mockFile struct{ data []byte }

func (f *mockFile) Read(buf []byte, off int64, length int) (int, error) {
	return copy(buf, f.data[off:off+int64(length)]), nil
}
func (f *mockFile) Size() int64  { return int64(len(f.data)) }
func (f *mockFile) Close() error { return nil }

// mockFilesystem serves a single fixed file regardless of the path asked
// for, which is all an end-to-end pipeline test needs.
type mockFilesystem struct{ data []byte }

func (fs *mockFilesystem) Open(path string) (fstable.File, error) {
	return &mockFile{data: fs.data}, nil
}

// mockFirmware is the single backend standing in for every out-of-scope
// firmware collaborator this pipeline needs: physical memory (for the ELF
// loader and page-table builder) and the allocator/memory-map service.
type mockFirmware struct {
	mem      map[uint64][]byte
	next     uint64
	mapEntry memory.Entry
}

func newMockFirmware() *mockFirmware {
	return &mockFirmware{mem: map[uint64][]byte{}, next: 0x200000, mapEntry: memory.Entry{PhysicalAddress: 0, SizeInBytes: 0x100000, Type: memory.ProtocolTypeAvailable}}
}

func (m *mockFirmware) WriteAt(addr uint64, data []byte) error {
	cp := append([]byte(nil), data...)
	m.mem[addr] = cp
	return nil
}
func (m *mockFirmware) Zero(addr uint64, size uint64) error {
	m.mem[addr] = make([]byte, size)
	return nil
}
func (m *mockFirmware) WriteUint64(addr uint64, offset int, value uint64) error {
	buf, ok := m.mem[addr]
	if !ok {
		buf = make([]byte, 4096)
		m.mem[addr] = buf
	}
	binary.LittleEndian.PutUint64(buf[offset:], value)
	return nil
}
func (m *mockFirmware) AllocatePages(typ memory.Type, count uint64) (uint64, bool) {
	addr := m.next
	m.next += count * memory.PageSize
	return addr, true
}
func (m *mockFirmware) AllocatePagesAt(addr uint64, typ memory.Type, count uint64) bool {
	return true
}
func (m *mockFirmware) FreePages(addr uint64, count uint64) {}
func (m *mockFirmware) CopyMap(dest []memory.Entry) (int, memory.Key) {
	n := copy(dest, []memory.Entry{m.mapEntry})
	_ = n
	return 1, memory.Key(7)
}

// TestEndToEndSingleEntryNoModulesNoVideo drives the full pipeline spec §8
// scenario 1 describes: a config with one loadable entry naming a 32-bit
// ELF, no modules, no video mode requested, against mocked firmware and a
// mocked filesystem.
func TestEndToEndSingleEntryNoModulesNoVideo(t *testing.T) {
	store, err := config.Parse(`
[hello]
binary = "/k.elf"
`)
	require.NoError(t, err)
	require.NoError(t, store.Validate())

	entryOff := store.FirstLoadableEntry()
	require.NotZero(t, entryOff)
	scope := store.EntryAt(entryOff).Value.Object

	binaryPath, ok, err := store.GetString(scope, "binary")
	require.NoError(t, err)
	require.True(t, ok)

	fullPath, err := bootpath.Parse(binaryPath)
	require.NoError(t, err)
	assert.Equal(t, "/k.elf", fullPath.PathWithinPartition)

	table := fstable.NewTable()
	kernelELF := buildMinimal32BitELF(t, 0x100000, bytes.Repeat([]byte{0x90}, 0x40))
	fs := &mockFilesystem{data: kernelELF}
	bootDisk := bootpath.Selector{Kind: bootpath.SelectorIndex, Index: 0}
	bootPartition := bootpath.Selector{Kind: bootpath.SelectorIndex, Index: 0}
	table.Mount(bootDisk, bootPartition, fs)
	table.SetBoot(bootDisk, bootPartition)

	resolved, _, ok := table.ByFullPath(fullPath)
	require.True(t, ok)

	f, err := resolved.Open(fullPath.PathWithinPartition)
	require.NoError(t, err)
	raw := make([]byte, f.Size())
	_, err = f.Read(raw, 0, len(raw))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	firmware := newMockFirmware()
	alloc := memory.New(firmware)

	info, err := elfload.Load(raw, alloc, firmware, false, memory.TypeKernelBinary)
	require.NoError(t, err)
	assert.Equal(t, elfload.Bitness32, info.Bitness)

	table2, err := paging.Build(alloc, firmware, paging.HugePageSupport{}, info.VirtualBase, info.PhysicalBase, info.PhysicalCeiling-info.PhysicalBase, info.KernelRangeIsDirectMap)
	require.NoError(t, err)
	assert.NotZero(t, table2.PML4Address)

	builder := handover.New(alloc)
	result, err := builder.Build(handover.Input{Kernel: *info})
	require.NoError(t, err)
	assert.True(t, alloc.IsFrozen())

	count := binary.LittleEndian.Uint32(result.Bytes[4:])
	assert.EqualValues(t, 3, count, "PLATFORM_INFO + KERNEL_INFO + MEMORY_MAP only, no modules or video")

	recordTypes := readRecordTypes(t, result.Bytes)
	assert.Equal(t, []uint32{handover.RecordPlatformInfo, handover.RecordKernelInfo, handover.RecordMemoryMap}, recordTypes)
}

// readRecordTypes walks the array's fixed 8-byte record headers, collecting
// each record's type tag in order.
func readRecordTypes(t *testing.T, arr []byte) []uint32 {
	t.Helper()
	count := binary.LittleEndian.Uint32(arr[4:])
	var types []uint32
	off := 8
	for i := uint32(0); i < count; i++ {
		typ := binary.LittleEndian.Uint32(arr[off:])
		size := binary.LittleEndian.Uint32(arr[off+4:])
		types = append(types, typ)
		off += 8 + int(size)
	}
	return types
}
