// Command tx802mcp automates a Yamaha TX802 over MIDI SysEx: voice banks,
// performance edits, front panel remote control and an MCP tool server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

var (
	configPath = flag.String("config", "", "Configuration file (default ~/.config/tx802mcp/config.toml)")
	outPort    = flag.String("port", "", "MIDI output port: number, name or part of a name")
	inPort     = flag.String("in-port", "", "MIDI input port: number, name or part of a name")
	deviceID   = flag.Int("device-id", 0, "SysEx device ID of the TX802 (1-16)")
	verbose    = flag.Bool("verbose", false, "Log debug output")
)

func main() {
	flag.Parse()
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	for _, c := range libraryCommands() {
		subcommands.Register(c, "library")
	}
	for _, c := range deviceCommands() {
		subcommands.Register(c, "device")
	}
	subcommands.Register(mcpCommand(), "")
	subcommands.Register(configCommand(), "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}
