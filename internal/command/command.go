// Package command separates control commands from conversational input and executes them.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gat45/usine-a-gaz/internal/session"
)

// Prefix marks a line as a control command.
const Prefix = ">>>"

var (
	// ErrUnknownCommand is returned for a prefixed line whose name is not a command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidConfigKey is returned when setting a key outside the option whitelist.
	ErrInvalidConfigKey = errors.New("invalid config key")
	// ErrCommandUsage is returned when a command is missing arguments.
	ErrCommandUsage = errors.New("invalid command usage")
)

// Kind identifies what an input line asks for.
type Kind int

const (
	Conversation Kind = iota
	Reset
	ShowConfig
	SetConfig
	ShowStatus
	Help
)

func (k Kind) String() string {
	switch k {
	case Conversation:
		return "conversation"
	case Reset:
		return "reset"
	case ShowConfig:
		return "show_config"
	case SetConfig:
		return "set_config"
	case ShowStatus:
		return "status"
	case Help:
		return "help"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Input is a classified line. Text is set for Conversation; Key and Value for SetConfig.
type Input struct {
	Kind  Kind
	Text  string
	Key   string
	Value string
}

// IsCommand reports whether the input is a control command.
func (in Input) IsCommand() bool { return in.Kind != Conversation }

// Classify parses text. Lines without the prefix are conversation and are returned verbatim.
func Classify(text string) (Input, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, Prefix) {
		return Input{Kind: Conversation, Text: text}, nil
	}
	fields := strings.Fields(strings.TrimPrefix(trimmed, Prefix))
	if len(fields) == 0 {
		return Input{}, fmt.Errorf("%w: expected a command after %s", ErrCommandUsage, Prefix)
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "reset":
		return Input{Kind: Reset}, nil
	case "status":
		return Input{Kind: ShowStatus}, nil
	case "help":
		return Input{Kind: Help}, nil
	case "config", "show-config":
		if len(args) == 0 {
			return Input{Kind: ShowConfig}, nil
		}
		key, value, ok := strings.Cut(strings.Join(args, " "), "=")
		if !ok {
			return Input{}, fmt.Errorf("%w: %s key=value", ErrCommandUsage, name)
		}
		return setConfig(strings.TrimSpace(key), strings.TrimSpace(value))
	case "set":
		if len(args) == 1 {
			if key, value, ok := strings.Cut(args[0], "="); ok {
				return setConfig(key, value)
			}
		}
		if len(args) < 2 {
			return Input{}, fmt.Errorf("%w: set <key> <value>", ErrCommandUsage)
		}
		return setConfig(args[0], strings.Join(args[1:], " "))
	default:
		return Input{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func setConfig(key, value string) (Input, error) {
	key = strings.ToLower(key)
	if key == "" || value == "" {
		return Input{}, fmt.Errorf("%w: set <key> <value>", ErrCommandUsage)
	}
	if !session.IsOptionKey(key) {
		return Input{}, fmt.Errorf("%w: %q (valid: %s)", ErrInvalidConfigKey, key, strings.Join(session.OptionKeys(), ", "))
	}
	return Input{Kind: SetConfig, Key: key, Value: value}, nil
}
