// Package control implements the line-oriented command grammar shared by
// the control socket, the MQTT command topic and the interactive shell.
package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/sweeney/radio-alarm/internal/daemon"
)

// Query is a read-only command answered from the status snapshot.
type Query int

const (
	QueryNone Query = iota
	QueryStatus
	QueryInfo
	QueryList
	QueryAlarms
	QueryStation
	QueryVolume
	QueryHelp
)

// Command is one parsed command line. Exactly one of Intent, Query and
// Shutdown is set.
type Command struct {
	Name     string
	Intent   daemon.Intent
	Query    Query
	Shutdown bool
}

var (
	ErrEmpty   = errors.New("empty command")
	ErrUnknown = errors.New("unknown command")
)

// Usage lists the accepted commands.
const Usage = "commands: play, stop, pause, next, prev, station [n], volume [+|-]n, " +
	"status, info, list, alarms, snooze, dismiss, reload, quit, help"

// Parse tokenizes line with shell quoting rules and maps it onto an intent
// or a query. Station numbers are 1-based. A volume with a leading sign is
// relative.
func Parse(line string) (Command, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse %q: %w", line, err)
	}
	if len(tokens) == 0 {
		return Command{}, ErrEmpty
	}
	name := strings.ToLower(tokens[0])
	args := tokens[1:]

	switch name {
	case "play", "p":
		return Command{Name: "play", Intent: daemon.Play{}}, nil
	case "stop", "s":
		return Command{Name: "stop", Intent: daemon.Stop{}}, nil
	case "pause", "toggle":
		return Command{Name: "pause", Intent: daemon.TogglePause{}}, nil
	case "next", "n":
		return Command{Name: "next", Intent: daemon.Next{}}, nil
	case "prev", "previous":
		return Command{Name: "prev", Intent: daemon.Prev{}}, nil
	case "snooze":
		return Command{Name: name, Intent: daemon.Snooze{}}, nil
	case "dismiss":
		return Command{Name: name, Intent: daemon.Dismiss{}}, nil
	case "reload":
		return Command{Name: name, Intent: daemon.ReloadPlaylist{}}, nil
	case "status":
		return Command{Name: name, Query: QueryStatus}, nil
	case "info":
		return Command{Name: name, Query: QueryInfo}, nil
	case "list":
		return Command{Name: name, Query: QueryList}, nil
	case "alarms":
		return Command{Name: name, Query: QueryAlarms}, nil
	case "quit", "exit", "shutdown":
		return Command{Name: "quit", Shutdown: true}, nil
	case "help", "?":
		return Command{Name: "help", Query: QueryHelp}, nil
	case "station":
		if len(args) == 0 {
			return Command{Name: name, Query: QueryStation}, nil
		}
		in, err := ParseStation(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Name: name, Intent: in}, nil
	case "volume", "v":
		if len(args) == 0 {
			return Command{Name: "volume", Query: QueryVolume}, nil
		}
		in, err := ParseVolume(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Name: "volume", Intent: in}, nil
	}
	return Command{}, fmt.Errorf("%w %q", ErrUnknown, name)
}

// ParseStation parses a 1-based station number.
func ParseStation(s string) (daemon.Intent, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, &daemon.ValidationError{Intent: "station", Err: fmt.Errorf("station must be a number, got %q", s)}
	}
	return daemon.SetStation{Index: n - 1}, nil
}

// ParseVolume parses an absolute level ("70") or a relative change
// ("+5", "-10").
func ParseVolume(s string) (daemon.Intent, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, &daemon.ValidationError{Intent: "volume", Err: fmt.Errorf("volume must be a number, got %q", s)}
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return daemon.AdjustVolume{Delta: n}, nil
	}
	return daemon.SetVolume{Level: n}, nil
}
