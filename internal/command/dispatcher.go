package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gat45/usine-a-gaz/internal/session"
)

// errConversation is returned when Dispatch is handed a conversational input.
var errConversation = errors.New("conversation input is not a command")

// Sessions is the part of the session manager commands act on.
type Sessions interface {
	Reset(key string) error
	Options(key string) (session.Options, error)
	SetOption(key, name, value string) error
}

// StatusFunc reports system status as a one-line summary and a structured detail.
type StatusFunc func(ctx context.Context) (string, any)

// Result is the outcome of a command.
type Result struct {
	Kind    Kind   `json:"-"`
	Command string `json:"command"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Dispatcher executes control commands. It never talks to the inference backend, so
// commands work while the backend is down.
type Dispatcher struct {
	sessions Sessions
	status   StatusFunc
}

// NewDispatcher creates a dispatcher. status may be nil.
func NewDispatcher(sessions Sessions, status StatusFunc) *Dispatcher {
	return &Dispatcher{sessions: sessions, status: status}
}

// Dispatch executes in for the session key.
func (d *Dispatcher) Dispatch(ctx context.Context, key string, in Input) (*Result, error) {
	res := &Result{Kind: in.Kind, Command: in.Kind.String()}
	switch in.Kind {
	case Conversation:
		return nil, errConversation
	case Reset:
		if err := d.sessions.Reset(key); err != nil {
			return nil, err
		}
		res.Message = "Session has been reset."
	case ShowConfig:
		opts, err := d.sessions.Options(key)
		if err != nil {
			return nil, err
		}
		m := opts.Map()
		res.Message = formatOptions(m)
		res.Data = m
	case SetConfig:
		if err := d.sessions.SetOption(key, in.Key, in.Value); err != nil {
			if errors.Is(err, session.ErrUnknownOption) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfigKey, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrCommandUsage, err)
		}
		res.Message = fmt.Sprintf("%s set to %s", in.Key, in.Value)
	case ShowStatus:
		if d.status == nil {
			res.Message = "status unavailable"
			break
		}
		res.Message, res.Data = d.status(ctx)
	case Help:
		res.Message = helpText()
	default:
		return nil, fmt.Errorf("%w: unhandled kind %v", ErrUnknownCommand, in.Kind)
	}
	return res, nil
}

func formatOptions(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s = %s", k, m[k])
	}
	return b.String()
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		"  " + Prefix + " reset              clear history and restore default options",
		"  " + Prefix + " config             show session options",
		"  " + Prefix + " config key=value   set a session option",
		"  " + Prefix + " set key value      set a session option",
		"  " + Prefix + " status             show backend and system status",
		"  " + Prefix + " help               show this help",
		"Options: " + strings.Join(session.OptionKeys(), ", "),
	}, "\n")
}
