package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/sweeney/radio-alarm/internal/control"
)

const clientTimeout = 10 * time.Second

// clientCommands are forwarded verbatim to the daemon's control socket.
var clientCommands = []struct {
	name  string
	short string
	args  cobra.PositionalArgs
}{
	{"play", "Start or resume playback", cobra.NoArgs},
	{"stop", "Stop playback", cobra.NoArgs},
	{"pause", "Toggle pause", cobra.NoArgs},
	{"next", "Next station", cobra.NoArgs},
	{"prev", "Previous station", cobra.NoArgs},
	{"station", "Select station n (1-based), or print the current one", cobra.MaximumNArgs(1)},
	{"volume", "Set volume 0-100 or adjust with +n/-n, or print it", cobra.MaximumNArgs(1)},
	{"status", "Print the daemon status", cobra.NoArgs},
	{"info", "Print stream metadata", cobra.NoArgs},
	{"list", "List stations", cobra.NoArgs},
	{"alarms", "List alarms", cobra.NoArgs},
	{"snooze", "Snooze the ringing alarm", cobra.NoArgs},
	{"dismiss", "Dismiss the ringing or snoozed alarm", cobra.NoArgs},
	{"reload", "Reload the playlist", cobra.NoArgs},
	{"quit", "Shut the daemon down", cobra.NoArgs},
}

func newClientCmds(opts *rootOptions) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(clientCommands))
	for _, c := range clientCommands {
		name := c.name
		cmds = append(cmds, &cobra.Command{
			Use:     name,
			Short:   c.short,
			Args:    c.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				socket, err := opts.socketPath(cmd)
				if err != nil {
					return err
				}
				if name == "status" {
					return printStatus(cmd.Context(), cmd.OutOrStdout(), socket)
				}
				line := strings.Join(append([]string{name}, args...), " ")
				return send(cmd.Context(), cmd.OutOrStdout(), socket, line)
			},
		})
	}
	return cmds
}

func (o *rootOptions) socketPath(cmd *cobra.Command) (string, error) {
	if o.socket != "" {
		return o.socket, nil
	}
	cfg, err := o.load(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Control.Socket == "" {
		return "", errors.New("control socket disabled in config")
	}
	return cfg.Control.Socket, nil
}

// send forwards line to the daemon and prints its reply. An "ERROR:" reply
// is returned as an error so the exit status reflects it.
func send(ctx context.Context, w io.Writer, socket, line string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	reply, err := control.Send(ctx, socket, line)
	if err != nil {
		return err
	}
	reply = strings.TrimRight(reply, "\n")
	if control.IsError(reply) {
		return errors.New(strings.TrimSpace(strings.TrimPrefix(reply, "ERROR:")))
	}
	fmt.Fprintln(w, reply)
	return nil
}

// printStatus says whether a daemon is running and, if so, prints its status.
func printStatus(ctx context.Context, w io.Writer, socket string) error {
	if !control.Running(socket) {
		fmt.Fprintln(w, "daemon not running")
		return fmt.Errorf("%w at %s", control.ErrNotRunning, socket)
	}
	fmt.Fprintln(w, "daemon running")
	return send(ctx, w, socket, "status")
}

func newShellCmd(opts *rootOptions) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt for daemon commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			socket, err := opts.socketPath(cmd)
			if err != nil {
				return err
			}
			return runShell(cmd.Context(), socket, prompt)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "radio> ", "prompt string")
	return cmd
}

func runShell(ctx context.Context, socket, prompt string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), "radio-alarm-shell.history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    shellCompleter(),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "Connected to "+socket+". Type 'help' for commands, 'exit' to quit.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		done, err := shellLine(ctx, rl.Stdout(), socket, line)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "ERROR: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

// shellLine handles one line of shell input. It reports whether the shell
// should exit.
func shellLine(ctx context.Context, w io.Writer, socket, line string) (bool, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}
	switch tokens[0] {
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Fprintln(w, control.Usage)
		fmt.Fprintln(w, "in the shell, exit and quit leave the shell; shutdown stops the daemon")
		return false, nil
	}
	return false, send(ctx, w, socket, strings.Join(tokens, " "))
}

func shellCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(clientCommands)+2)
	for _, c := range clientCommands {
		items = append(items, readline.PcItem(c.name))
	}
	items = append(items, readline.PcItem("help"), readline.PcItem("exit"), readline.PcItem("shutdown"))
	return readline.NewPrefixCompleter(items...)
}
