// Package dump implements "hyperctl dump", which decodes a raw attribute
// array (as handover.Builder.Build would have written it) and prints its
// records and final memory map as tables, in the style of the teacher's
// utk "table" operation.
package dump

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hyperboot/hyper/cmd/hyperctl/commands"
	"github.com/hyperboot/hyper/pkg/handover"
)

var _ commands.Command = (*Command)(nil)

// Command is "hyperctl dump -f array.bin".
type Command struct {
	ArrayPath string `short:"f" long:"array" description:"path to a raw attribute array, as built for handover" required:"true"`
}

// ShortDescription explains what this command does in one line.
func (cmd *Command) ShortDescription() string {
	return "decodes and prints a raw attribute array"
}

// LongDescription explains what this verb does, without limitation in
// amount of lines.
func (cmd *Command) LongDescription() string {
	return `Reads the raw bytes of a handover attribute array and prints
every record it contains, decoding PLATFORM_INFO, KERNEL_INFO, MODULE_INFO,
COMMAND_LINE and FRAMEBUFFER_INFO records, and rendering MEMORY_MAP as its
own table of physical-address ranges.`
}

const (
	arrayHeaderSize     = 8
	attributeHeaderSize = 8
	memoryMapEntrySize  = 24
)

// Execute is the main function here. It is responsible for starting the
// execution of the command.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	raw, err := os.ReadFile(cmd.ArrayPath)
	if err != nil {
		return fmt.Errorf("unable to read attribute array %q: %w", cmd.ArrayPath, err)
	}
	return Render(raw, os.Stdout)
}

type record struct {
	typ  uint32
	body []byte
}

// decode splits raw into its fixed-order records, validating only enough
// structure (header sizes, total length) to walk them; per-record field
// interpretation is left to render.
func decode(raw []byte) (count uint32, records []record, err error) {
	if len(raw) < arrayHeaderSize {
		return 0, nil, fmt.Errorf("dump: array shorter than its header (%d bytes)", len(raw))
	}
	count = binary.LittleEndian.Uint32(raw[4:])

	off := uint64(arrayHeaderSize)
	for i := uint32(0); i < count; i++ {
		if off+attributeHeaderSize > uint64(len(raw)) {
			return 0, nil, fmt.Errorf("dump: record %d header runs past end of array", i)
		}
		typ := binary.LittleEndian.Uint32(raw[off:])
		size := binary.LittleEndian.Uint32(raw[off+4:])
		bodyStart := off + attributeHeaderSize
		if bodyStart+uint64(size) > uint64(len(raw)) {
			return 0, nil, fmt.Errorf("dump: record %d body runs past end of array", i)
		}
		records = append(records, record{typ: typ, body: raw[bodyStart : bodyStart+uint64(size)]})
		off = bodyStart + uint64(size)
	}
	return count, records, nil
}

// Render decodes raw and writes its tables to w.
func Render(raw []byte, w *os.File) error {
	count, records, err := decode(raw)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("attribute array (%s, %d records)", humanize.Bytes(uint64(len(raw))), count))
	t.AppendHeader(table.Row{"#", "type", "size", "detail"})
	for i, r := range records {
		t.AppendRow(table.Row{i, recordName(r.typ), humanize.Bytes(uint64(len(r.body))), renderDetail(r)})
	}
	t.Render()

	for _, r := range records {
		if r.typ == handover.RecordMemoryMap {
			renderMemoryMap(w, r.body)
		}
	}
	return nil
}

func recordName(typ uint32) string {
	switch typ {
	case handover.RecordPlatformInfo:
		return "PLATFORM_INFO"
	case handover.RecordKernelInfo:
		return "KERNEL_INFO"
	case handover.RecordModuleInfo:
		return "MODULE_INFO"
	case handover.RecordCommandLine:
		return "COMMAND_LINE"
	case handover.RecordFramebufferInfo:
		return "FRAMEBUFFER_INFO"
	case handover.RecordMemoryMap:
		return "MEMORY_MAP"
	default:
		return fmt.Sprintf("unknown(%d)", typ)
	}
}

func renderDetail(r record) string {
	switch r.typ {
	case handover.RecordPlatformInfo:
		return cString(r.body)
	case handover.RecordKernelInfo:
		if len(r.body) < 34 {
			return "truncated"
		}
		base := binary.LittleEndian.Uint64(r.body[0:])
		ceiling := binary.LittleEndian.Uint64(r.body[8:])
		entry := binary.LittleEndian.Uint64(r.body[24:])
		return fmt.Sprintf("phys [0x%x,0x%x) entry=0x%x", base, ceiling, entry)
	case handover.RecordModuleInfo:
		if len(r.body) < 17 {
			return "truncated"
		}
		addr := binary.LittleEndian.Uint64(r.body[0:])
		size := binary.LittleEndian.Uint64(r.body[8:])
		return fmt.Sprintf("%s @0x%x (%s)", cString(r.body[16:]), addr, humanize.Bytes(size))
	case handover.RecordFramebufferInfo:
		if len(r.body) < 24 {
			return "truncated"
		}
		addr := binary.LittleEndian.Uint64(r.body[0:])
		w := binary.LittleEndian.Uint32(r.body[8:])
		h := binary.LittleEndian.Uint32(r.body[12:])
		bpp := binary.LittleEndian.Uint32(r.body[16:])
		return fmt.Sprintf("0x%x %dx%d@%dbpp", addr, w, h, bpp)
	case handover.RecordCommandLine:
		return fmt.Sprintf("%d bytes UTF-16LE", len(r.body))
	case handover.RecordMemoryMap:
		if len(r.body) < 8 {
			return "truncated"
		}
		return fmt.Sprintf("%d entries", binary.LittleEndian.Uint32(r.body[0:]))
	default:
		return ""
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// renderMemoryMap renders MEMORY_MAP's body, which is itself a small
// header (entry count + padding) followed by fixed-size entries (§6).
func renderMemoryMap(w *os.File, body []byte) {
	if len(body) < 8 {
		return
	}
	n := int(binary.LittleEndian.Uint32(body[0:]))
	entries := body[8:]

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("memory map")
	t.AppendHeader(table.Row{"#", "physical address", "size", "type"})
	for i := 0; i < n && (i+1)*memoryMapEntrySize <= len(entries); i++ {
		off := i * memoryMapEntrySize
		addr := binary.LittleEndian.Uint64(entries[off:])
		size := binary.LittleEndian.Uint64(entries[off+8:])
		typ := binary.LittleEndian.Uint32(entries[off+16:])
		t.AppendRow(table.Row{i, fmt.Sprintf("0x%x", addr), humanize.Bytes(size), typ})
	}
	t.Render()
}
