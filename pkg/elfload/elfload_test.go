package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/hyperboot/hyper/pkg/archconst"
	"github.com/hyperboot/hyper/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progSpec struct {
	vaddr uint64
	data  []byte
	memsz uint64 // if 0, len(data) is used
}

// buildELF assembles a minimal, valid ELF32/ELF64 image with the given
// PT_LOAD segments and entry point. It is deliberately hand-rolled rather
// than using debug/elf to write, since the standard library only reads ELF.
func buildELF(t *testing.T, is64 bool, entry uint64, progs []progSpec) []byte {
	t.Helper()

	var ehsize, phentsize int
	if is64 {
		ehsize, phentsize = 64, 56
	} else {
		ehsize, phentsize = 52, 32
	}
	phoff := uint64(ehsize)
	dataStart := phoff + uint64(phentsize*len(progs))

	var body bytes.Buffer
	offsets := make([]uint64, len(progs))
	for i, p := range progs {
		offsets[i] = dataStart + uint64(body.Len())
		body.Write(p.data)
	}

	buf := new(bytes.Buffer)

	ident := make([]byte, 16)
	copy(ident, []byte{0x7f, 'E', 'L', 'F'})
	if is64 {
		ident[4] = byte(elf.ELFCLASS64)
	} else {
		ident[4] = byte(elf.ELFCLASS32)
	}
	ident[5] = byte(elf.ELFDATA2LSB)
	ident[6] = byte(elf.EV_CURRENT)
	buf.Write(ident)

	le := binary.LittleEndian
	write16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	write32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	write64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }
	writeAddr := func(v uint64) {
		if is64 {
			write64(v)
		} else {
			write32(uint32(v))
		}
	}

	write16(uint16(elf.ET_EXEC))
	write16(uint16(elf.EM_X86_64))
	write32(uint32(elf.EV_CURRENT))
	writeAddr(entry)
	writeAddr(phoff)
	writeAddr(0) // e_shoff
	write32(0)   // e_flags
	write16(uint16(ehsize))
	write16(uint16(phentsize))
	write16(uint16(len(progs)))
	write16(0) // e_shentsize
	write16(0) // e_shnum
	write16(0) // e_shstrndx

	for i, p := range progs {
		memsz := p.memsz
		if memsz == 0 {
			memsz = uint64(len(p.data))
		}
		if is64 {
			write32(uint32(elf.PT_LOAD))
			write32(uint32(elf.PF_R | elf.PF_W | elf.PF_X))
			write64(offsets[i])
			write64(p.vaddr)
			write64(p.vaddr)
			write64(uint64(len(p.data)))
			write64(memsz)
			write64(0x1000)
		} else {
			write32(uint32(elf.PT_LOAD))
			write32(uint32(offsets[i]))
			write32(uint32(p.vaddr))
			write32(uint32(p.vaddr))
			write32(uint32(len(p.data)))
			write32(uint32(memsz))
			write32(uint32(elf.PF_R | elf.PF_W | elf.PF_X))
			write32(0x1000)
		}
	}

	buf.Write(body.Bytes())
	return buf.Bytes()
}

type mockPhysMem struct {
	writes map[uint64][]byte
	zeroed map[uint64]uint64
}

func newMockPhysMem() *mockPhysMem {
	return &mockPhysMem{writes: map[uint64][]byte{}, zeroed: map[uint64]uint64{}}
}

func (m *mockPhysMem) WriteAt(addr uint64, data []byte) error {
	cp := append([]byte(nil), data...)
	m.writes[addr] = cp
	return nil
}

func (m *mockPhysMem) Zero(addr uint64, size uint64) error {
	m.zeroed[addr] = size
	return nil
}

type fixedBackend struct{ next uint64 }

func (b *fixedBackend) AllocatePages(typ memory.Type, count uint64) (uint64, bool) {
	addr := b.next
	b.next += count * memory.PageSize
	return addr, true
}
func (b *fixedBackend) AllocatePagesAt(addr uint64, typ memory.Type, count uint64) bool { return true }
func (b *fixedBackend) FreePages(addr uint64, count uint64)                             {}
func (b *fixedBackend) CopyMap(dest []memory.Entry) (int, memory.Key)                   { return 0, 0 }

func TestIdentify(t *testing.T) {
	raw64 := buildELF(t, true, 0x100000, []progSpec{{vaddr: 0x100000, data: []byte{1, 2, 3, 4}}})
	assert.Equal(t, Bitness64, Identify(raw64))

	raw32 := buildELF(t, false, 0x100000, []progSpec{{vaddr: 0x100000, data: []byte{1, 2, 3, 4}}})
	assert.Equal(t, Bitness32, Identify(raw32))

	assert.Equal(t, BitnessInvalid, Identify([]byte("not an elf")))
}

func Test32BitFixedLoad(t *testing.T) {
	raw := buildELF(t, false, 0x100000, []progSpec{{vaddr: 0x100000, data: bytes.Repeat([]byte{0xAA}, 0x10)}})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	info, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	require.NoError(t, err)
	assert.Equal(t, Bitness32, info.Bitness)
	assert.EqualValues(t, 0x100000, info.PhysicalBase)
	assert.EqualValues(t, 0x101000, info.PhysicalCeiling)
	assert.EqualValues(t, 0x100000, info.VirtualBase)
	assert.False(t, info.KernelRangeIsDirectMap)
}

func Test64BitDirectMapFixedLoad(t *testing.T) {
	vaddr := archconst.DirectMapBase + 0x200000
	raw := buildELF(t, true, vaddr, []progSpec{{vaddr: vaddr, data: bytes.Repeat([]byte{0xBB}, 0x20)}})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	info, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	require.NoError(t, err)
	assert.EqualValues(t, 0x200000, info.PhysicalBase)
	assert.True(t, info.KernelRangeIsDirectMap)
	assert.Equal(t, vaddr, info.Entrypoint)
}

// TestHigherHalfBelowDirectMapIsNotDirectMapCovered exercises the boundary
// the direct map review caught: an address in the higher half (§3 GLOSSARY)
// but below archconst.DirectMapBase is not a placement convention this
// loader treats as direct-map-covered, matching pkg/paging's expectation
// that such a kernel needs an explicit page-table entry.
func TestHigherHalfBelowDirectMapIsNotDirectMapCovered(t *testing.T) {
	vaddr := archconst.HigherHalfBase + 0x200000
	raw := buildELF(t, true, vaddr, []progSpec{{vaddr: vaddr, data: bytes.Repeat([]byte{0xBB}, 0x20)}})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	info, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	require.NoError(t, err)
	assert.False(t, info.KernelRangeIsDirectMap)
}

func Test64BitAllocateAnywhere(t *testing.T) {
	vaddr := archconst.HigherHalfBase + 0x400000
	raw := buildELF(t, true, vaddr, []progSpec{{vaddr: vaddr, data: bytes.Repeat([]byte{0xCC}, 0x10)}})
	backend := &fixedBackend{next: 0x500000}
	alloc := memory.New(backend)
	mem := newMockPhysMem()

	info, err := Load(raw, alloc, mem, true, memory.TypeKernelBinary)
	require.NoError(t, err)
	assert.EqualValues(t, 0x500000, info.PhysicalBase)
	assert.False(t, info.KernelRangeIsDirectMap)
	assert.NotEqual(t, info.PhysicalBase, info.VirtualBase)
	assert.Equal(t, []byte{0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}, mem.writes[0x500000])
}

func TestBSSZeroFill(t *testing.T) {
	raw := buildELF(t, true, 0x100000, []progSpec{{vaddr: 0x100000, data: bytes.Repeat([]byte{1}, 0x10), memsz: 0x30}})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	_, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	require.NoError(t, err)
	assert.EqualValues(t, 0x20, mem.zeroed[0x100010])
}

func TestOverlappingSegmentsRejected(t *testing.T) {
	raw := buildELF(t, true, 0x100000, []progSpec{
		{vaddr: 0x100000, data: bytes.Repeat([]byte{1}, 0x2000)},
		{vaddr: 0x101000, data: bytes.Repeat([]byte{2}, 0x1000)},
	})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	_, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	assert.Error(t, err)
}

func TestEntrypointOutsideRangeRejected(t *testing.T) {
	raw := buildELF(t, true, 0x999000, []progSpec{{vaddr: 0x100000, data: []byte{1, 2, 3, 4}}})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	_, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	assert.Error(t, err)
}

func TestNoLoadSegmentsRejected(t *testing.T) {
	raw := buildELF(t, true, 0x100000, nil)
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	_, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	assert.Error(t, err)
}

func TestAllocateAnywhereRequires64Bit(t *testing.T) {
	raw := buildELF(t, false, 0x100000, []progSpec{{vaddr: 0x100000, data: []byte{1, 2, 3, 4}}})
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	_, err := Load(raw, alloc, mem, true, memory.TypeKernelBinary)
	assert.Error(t, err)
}

func TestTruncatedSegmentDataRejected(t *testing.T) {
	raw := buildELF(t, true, 0x100000, []progSpec{{vaddr: 0x100000, data: bytes.Repeat([]byte{0xAA}, 0x40)}})
	raw = raw[:len(raw)-0x20] // p_offset+p_filesz now points past the end of the image
	alloc := memory.New(&fixedBackend{})
	mem := newMockPhysMem()

	_, err := Load(raw, alloc, mem, false, memory.TypeKernelBinary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extends past end of image")
}
