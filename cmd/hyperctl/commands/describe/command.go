// Package describe implements "hyperctl describe", which prints the
// attribute-array structure a given config entry (and, optionally, a real
// kernel image) would produce, without needing real firmware (§4.7, §6).
package describe

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hyperboot/hyper/cmd/hyperctl/commands"
	"github.com/hyperboot/hyper/pkg/config"
)

var _ commands.Command = (*Command)(nil)

// Command is "hyperctl describe -f config.cfg [-e entry] [--kernel path]".
type Command struct {
	ConfigPath string  `short:"f" long:"config" description:"path to boot configuration file" required:"true"`
	EntryName  *string `short:"e" long:"entry" description:"loadable entry to describe (defaults to the first one declared)"`
	KernelPath *string `long:"kernel" description:"path to the kernel image named by the entry's binary key, if available on this filesystem"`
}

// ShortDescription explains what this command does in one line.
func (cmd *Command) ShortDescription() string {
	return "prints the attribute-array layout a config entry would produce"
}

// LongDescription explains what this verb does, without limitation in
// amount of lines.
func (cmd *Command) LongDescription() string {
	return `Parses the given configuration file, selects one loadable entry,
and prints the fixed-order attribute records (PLATFORM_INFO, KERNEL_INFO,
MODULE_INFO per module, COMMAND_LINE, FRAMEBUFFER_INFO, MEMORY_MAP) that
building its handover array would produce, along with ELF identification
of the kernel image when --kernel points at a readable file.`
}

// Execute is the main function here. It is responsible for starting the
// execution of the command.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	raw, err := os.ReadFile(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("unable to read configuration file %q: %w", cmd.ConfigPath, err)
	}
	store, err := config.Parse(string(raw))
	if err != nil {
		return fmt.Errorf("configuration syntax error: %w", err)
	}

	entryOff, entryName, err := selectEntry(store, cmd.EntryName)
	if err != nil {
		return err
	}
	scope := store.EntryAt(entryOff).Value.Object

	summary, err := summarize(store, scope)
	if err != nil {
		return err
	}

	fmt.Printf("entry: %s\n", entryName)
	renderRecordTable(summary)

	if cmd.KernelPath != nil {
		if err := describeKernel(*cmd.KernelPath); err != nil {
			return err
		}
	}

	return nil
}

// selectEntry resolves the entry to describe: the named one if want is
// non-nil, otherwise the first loadable entry. An empty config, or a name
// that matches nothing, is reported as an ErrArgs since it is a usage
// mistake rather than a malformed file.
func selectEntry(store *config.Store, want *string) (config.Offset, string, error) {
	if want == nil {
		off := store.FirstLoadableEntry()
		if off == 0 {
			return 0, "", commands.ErrArgs{Err: fmt.Errorf("configuration declares no loadable entries")}
		}
		return off, store.LoadableEntryName(off), nil
	}
	for off := store.FirstLoadableEntry(); off != 0; off = store.NextLoadableEntry(off) {
		if store.LoadableEntryName(off) == *want {
			return off, *want, nil
		}
	}
	return 0, "", commands.ErrArgs{Err: fmt.Errorf("no loadable entry named %q", *want)}
}

// recordSummary is one row of the planned attribute array: its tag name
// and either a concrete byte size or a note explaining why it is omitted.
type recordSummary struct {
	Record string
	Detail string
}

func summarize(store *config.Store, scope config.Offset) ([]recordSummary, error) {
	var rows []recordSummary
	rows = append(rows, recordSummary{"PLATFORM_INFO", "always present"})

	binary, ok, err := store.GetOneOf(scope, "binary", config.MaskString|config.MaskObject)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", "binary", err)
	}
	if !ok {
		return nil, fmt.Errorf("entry is missing mandatory key %q", "binary")
	}
	rows = append(rows, recordSummary{"KERNEL_INFO", describeBinary(binary)})

	moduleCount := 0
	for cur := store.FirstInScope(scope); cur != 0; cur = store.EntryAt(cur).NextInScope {
		e := store.EntryAt(cur)
		if e.Tag == config.TagValue && e.Key == "module" {
			moduleCount++
			rows = append(rows, recordSummary{"MODULE_INFO", fmt.Sprintf("module #%d", moduleCount)})
		}
	}

	if cmdline, ok, _ := store.GetString(scope, "cmdline"); ok {
		rows = append(rows, recordSummary{"COMMAND_LINE", fmt.Sprintf("%s (%s, UTF-16LE on the wire)", cmdline, humanize.Bytes(uint64(len(cmdline))))})
	}

	if _, ok, _ := store.GetObject(scope, "video-mode"); ok {
		rows = append(rows, recordSummary{"FRAMEBUFFER_INFO", "requested by object video-mode"})
	} else if s, ok, _ := store.GetString(scope, "video-mode"); ok && s == "auto" {
		rows = append(rows, recordSummary{"FRAMEBUFFER_INFO", "requested by \"auto\""})
	}

	rows = append(rows, recordSummary{"MEMORY_MAP", "size known only at handover time"})
	return rows, nil
}

func describeBinary(v config.Value) string {
	if v.Type == config.TypeString {
		return v.Str
	}
	return "object form (path/allocate-anywhere)"
}

func renderRecordTable(rows []recordSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Record", "Detail"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Record, r.Detail})
	}
	t.Render()
}

// describeKernel opens path and, if it looks like an ELF image, prints its
// class and entry point. A file that cannot be read or parsed as ELF is
// reported as an error, since the user explicitly asked for it.
func describeKernel(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read kernel image %q: %w", path, err)
	}
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%q does not look like an ELF image: %w", path, err)
	}
	defer f.Close()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"class", f.Class})
	t.AppendRow(table.Row{"entry", fmt.Sprintf("0x%x", f.Entry)})
	t.AppendRow(table.Row{"size on disk", humanize.Bytes(uint64(len(raw)))})
	t.Render()
	return nil
}
