package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun        Command = "run"
	CommandListen     Command = "listen"
	CommandStop       Command = "stop"
	CommandStatus     Command = "status"
	CommandBackground Command = "background"
	CommandDevices    Command = "devices"
	CommandDoctor     Command = "doctor"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:        {},
	CommandListen:     {},
	CommandStop:       {},
	CommandStatus:     {},
	CommandBackground: {},
	CommandDevices:    {},
	CommandDoctor:     {},
	CommandVersion:    {},
	CommandHelp:       {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	// BackgroundEnable holds the on/off argument of the background command.
	BackgroundEnable bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			if cmd == CommandBackground {
				i++
				if i >= len(args) {
					return Parsed{}, errors.New("background requires on or off")
				}
				switch args[i] {
				case "on":
					parsed.BackgroundEnable = true
				case "off":
					parsed.BackgroundEnable = false
				default:
					return Parsed{}, fmt.Errorf("background accepts on or off, got %q", args[i])
				}
			}
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  run                 Run the voice daemon
  listen              Start a manual listening session on the running daemon
  stop                Stop the active capture and process what was heard
  status              Print the daemon's pipeline stage
  background on|off   Enable or disable passive wake-word listening
  devices             List available audio input devices
  doctor              Run configuration and environment checks
  version             Print version information
  help                Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/parla/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
