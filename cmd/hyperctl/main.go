// hyperctl is offline tooling for the Hyper boot protocol: it validates
// configuration files, describes the attribute array a config entry would
// produce, and dumps a previously-built raw attribute array as tables. It
// runs on a developer's workstation, not as part of the boot path itself.
//
// Synopsis:
//
//	hyperctl validate -f boot.cfg
//	hyperctl describe -f boot.cfg [-e entry] [--kernel vmlinux]
//	hyperctl dump -f array.bin
package main

import (
	"log"

	"github.com/jessevdk/go-flags"

	"github.com/hyperboot/hyper/cmd/hyperctl/commands"
	"github.com/hyperboot/hyper/cmd/hyperctl/commands/describe"
	"github.com/hyperboot/hyper/cmd/hyperctl/commands/dump"
	"github.com/hyperboot/hyper/cmd/hyperctl/commands/validate"
)

var knownCommands = map[string]commands.Command{
	"validate": &validate.Command{},
	"describe": &describe.Command{},
	"dump":     &dump.Command{},
}

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for commandName, command := range knownCommands {
		_, err := flagsParser.AddCommand(commandName, command.ShortDescription(), command.LongDescription(), command)
		if err != nil {
			panic(err)
		}
	}

	if _, err := flagsParser.Parse(); err != nil {
		log.Fatal(err)
	}
}
