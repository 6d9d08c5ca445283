// Package cli parses the vcd command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandServe   Command = "serve"
	CommandStatus  Command = "status"
	CommandEngines Command = "engines"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

type commandSpec struct {
	name    Command
	summary string
	// json marks commands that can print machine-readable output.
	json bool
}

var commands = []commandSpec{
	{name: CommandServe, summary: "Run the voice-control daemon"},
	{name: CommandStatus, summary: "Print the running daemon's session state", json: true},
	{name: CommandEngines, summary: "List recognition engines found in the engine directory", json: true},
	{name: CommandDevices, summary: "List available input devices"},
	{name: CommandDoctor, summary: "Run configuration and environment checks"},
	{name: CommandVersion, summary: "Print version information"},
	{name: CommandHelp, summary: "Show this help"},
}

func lookup(name string) (commandSpec, bool) {
	for _, spec := range commands {
		if string(spec.name) == name {
			return spec, true
		}
	}
	return commandSpec{}, false
}

// Parsed is one invocation: a single command plus global flags.
type Parsed struct {
	Command    Command
	ConfigPath string
	// SocketPath overrides the daemon socket under XDG_RUNTIME_DIR.
	SocketPath string
	JSON       bool
	ShowHelp   bool
}

// Parse reads flags and at most one command. Flags may appear on either side of the command.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	var command string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, value, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(name, "--") {
			if err := parsed.setValue(name, value); err != nil {
				return Parsed{}, err
			}
			continue
		}

		switch arg {
		case "-h", "--help":
			return Parsed{Command: CommandHelp, ShowHelp: true}, nil
		case "--version":
			parsed.Command = CommandVersion
			parsed.ShowHelp = false
			command = string(CommandVersion)
		case "--json":
			parsed.JSON = true
		case "--config", "--socket":
			i++
			if i >= len(args) || strings.HasPrefix(args[i], "-") {
				return Parsed{}, fmt.Errorf("%s requires a path", arg)
			}
			if err := parsed.setValue(arg, args[i]); err != nil {
				return Parsed{}, err
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}
			if command != "" {
				return Parsed{}, fmt.Errorf("unexpected argument %q after command %q", arg, command)
			}
			spec, ok := lookup(arg)
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			command = arg
			parsed.Command = spec.name
			parsed.ShowHelp = spec.name == CommandHelp
		}
	}

	if parsed.JSON {
		if spec, _ := lookup(string(parsed.Command)); !spec.json {
			return Parsed{}, fmt.Errorf("--json is not supported by %q", parsed.Command)
		}
	}
	return parsed, nil
}

func (p *Parsed) setValue(flag, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s requires a path", flag)
	}
	switch flag {
	case "--config":
		p.ConfigPath = value
	case "--socket":
		p.SocketPath = value
	default:
		return errors.New("unknown flag: " + flag)
	}
	return nil
}

func HelpText(binaryName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n  %s [flags] <command>\n\nCommands:\n", binaryName)
	for _, spec := range commands {
		fmt.Fprintf(&b, "  %-9s %s\n", spec.name, spec.summary)
	}
	b.WriteString(`
Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/vcd/config.jsonc)
  --socket PATH   Daemon socket path (default: $XDG_RUNTIME_DIR/vcd.sock)
  --json          Print status or engines as JSON
  -h, --help      Show help
  --version       Show version
`)
	return b.String()
}
