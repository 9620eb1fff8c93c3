// Package validate implements "hyperctl validate", which parses a boot
// configuration file and checks every loadable entry against the
// recognized-key table (§6) without needing real firmware or a kernel
// image. The actual checks live on config.Store itself (§4.1/§7); this
// command is just the CLI surface over it.
package validate

import (
	"fmt"
	"os"

	"github.com/hyperboot/hyper/cmd/hyperctl/commands"
	"github.com/hyperboot/hyper/pkg/config"
)

var _ commands.Command = (*Command)(nil)

// Command is "hyperctl validate -f config.cfg".
type Command struct {
	ConfigPath string `short:"f" long:"config" description:"path to boot configuration file" required:"true"`
}

// ShortDescription explains what this command does in one line.
func (cmd *Command) ShortDescription() string {
	return "checks a boot configuration file for missing or malformed keys"
}

// LongDescription explains what this verb does, without limitation in
// amount of lines.
func (cmd *Command) LongDescription() string {
	return `Parses the given configuration file and, for every loadable
entry it declares, checks that mandatory keys are present and that every
recognized key's value matches the expected shape (§6 of the recognized
config keys table). Reports every problem found, not just the first.`
}

// Execute is the main function here. It is responsible for starting the
// execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
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

	if err := store.Validate(); err != nil {
		return err
	}

	fmt.Printf("%s: ok\n", cmd.ConfigPath)
	return nil
}
