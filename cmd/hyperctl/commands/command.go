package commands

import (
	"github.com/jessevdk/go-flags"
)

// Command is an interface of implementations of verbs (like "validate" or
// "describe" of "hyperctl validate"/"hyperctl describe").
type Command interface {
	flags.Commander

	// ShortDescription explains what this command does in one line.
	ShortDescription() string

	// LongDescription explains what this verb does, without limitation in
	// amount of lines.
	LongDescription() string
}
