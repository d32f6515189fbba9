package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/daemon"
	"github.com/sweeney/radio-alarm/internal/playlist"
	"github.com/sweeney/radio-alarm/internal/status"
)

// Machine is the part of *daemon.Machine the executor needs.
type Machine interface {
	Submit(ctx context.Context, origin string, in daemon.Intent) (status.Snapshot, error)
	Snapshot() status.Snapshot
}

// Executor runs command lines against the state machine and renders a
// one-message text reply.
type Executor struct {
	machine  Machine
	stations *playlist.Store
	shutdown func()
}

// NewExecutor creates an Executor.
func NewExecutor(m Machine, stations *playlist.Store) *Executor {
	return &Executor{machine: m, stations: stations}
}

// OnShutdown sets the function the quit command calls. Without it quit is
// rejected. It must be set before the executor is shared.
func (e *Executor) OnShutdown(fn func()) {
	e.shutdown = fn
}

// Execute parses and runs line. The reply always starts with "OK:" or
// "ERROR:" except for info and list, which return their payload. err is
// non-nil when the command failed.
func (e *Executor) Execute(ctx context.Context, origin, line string) (string, error) {
	cmd, err := Parse(line)
	if err != nil {
		if errors.Is(err, ErrUnknown) || errors.Is(err, ErrEmpty) {
			return fmt.Sprintf("ERROR: %v\n%s", err, Usage), err
		}
		return "ERROR: " + err.Error(), err
	}
	if cmd.Shutdown {
		if e.shutdown == nil {
			err := errors.New("shutdown not available")
			return "ERROR: " + err.Error(), err
		}
		e.shutdown()
		return "OK: shutting down", nil
	}
	if cmd.Intent == nil {
		return e.query(cmd.Query, e.machine.Snapshot()), nil
	}
	snap, err := e.machine.Submit(ctx, origin, cmd.Intent)
	if err != nil {
		return "ERROR: " + err.Error(), err
	}
	return "OK: " + describe(cmd, snap), nil
}

func describe(cmd Command, snap status.Snapshot) string {
	r := snap.Radio
	switch cmd.Intent.(type) {
	case daemon.Stop:
		return "stopped"
	case daemon.SetVolume, daemon.AdjustVolume:
		return fmt.Sprintf("volume %d%%", r.Volume)
	case daemon.Snooze:
		if r.ActiveAlarm != nil {
			return "alarm snoozed until " + r.ActiveAlarm.Runtime.SnoozedUntil.Format("15:04")
		}
		return "alarm snoozed"
	case daemon.Dismiss:
		return "alarm dismissed"
	case daemon.ReloadPlaylist:
		return fmt.Sprintf("%d stations loaded", r.StationCount)
	}
	if r.Station == nil || snap.Playback() == "stopped" {
		return snap.Playback()
	}
	return fmt.Sprintf("%s station %d/%d (%s)", snap.Playback(), r.Station.ID(), r.StationCount, r.Station.Name)
}

func (e *Executor) query(q Query, snap status.Snapshot) string {
	r := snap.Radio
	switch q {
	case QueryInfo:
		data, _ := json.MarshalIndent(snap.Stream, "", "  ")
		return string(data)
	case QueryList:
		return formatList(e.stations.Stations(), r.Station)
	case QueryAlarms:
		return formatAlarms(r.Alarms)
	case QueryStation:
		return fmt.Sprintf("OK: current station: %d", currentID(r))
	case QueryVolume:
		return fmt.Sprintf("OK: volume %d%%", r.Volume)
	case QueryHelp:
		return "OK: " + Usage
	}
	return "OK: " + FormatStatus(snap)
}

// FormatStatus renders a one-line status summary.
func FormatStatus(snap status.Snapshot) string {
	r := snap.Radio
	var b strings.Builder
	fmt.Fprintf(&b, "station %d/%d, volume %d%%, status %s, mode %s",
		currentID(r), r.StationCount, r.Volume, snap.Playback(), r.Mode)
	if snap.Stream.Title != "" {
		fmt.Fprintf(&b, ", title %q", snap.Stream.Title)
	}
	if a := r.NextAlarm; a != nil {
		fmt.Fprintf(&b, ", next alarm %s", a.Runtime.FiresAt.Format("Mon 15:04"))
	}
	if r.LastError != "" {
		fmt.Fprintf(&b, ", last error: %s", r.LastError)
	}
	return b.String()
}

func currentID(r status.Radio) int {
	if r.Station == nil {
		return 0
	}
	return r.Station.ID()
}

func formatList(stations []playlist.Station, current *playlist.Station) string {
	var b strings.Builder
	b.WriteString("Stations:")
	for _, st := range stations {
		marker := "  "
		if current != nil && current.Index == st.Index {
			marker = " *"
		}
		fmt.Fprintf(&b, "\n%s %d: %s (%s)", marker, st.ID(), st.Name, st.URL)
	}
	return b.String()
}

func formatAlarms(views []alarm.View) string {
	if len(views) == 0 {
		return "OK: no alarms"
	}
	var b strings.Builder
	b.WriteString("Alarms:")
	for _, v := range views {
		days := "daily"
		if len(v.Weekdays) > 0 {
			names := make([]string, len(v.Weekdays))
			for i, d := range v.Weekdays {
				names[i] = d.String()[:3]
			}
			days = strings.Join(names, ",")
		}
		fmt.Fprintf(&b, "\n  %s %s %s station %d %s", v.ID, v.Time, days, v.Station+1, v.Runtime.Status)
		if !v.Enabled {
			b.WriteString(" (disabled)")
		} else if !v.Runtime.FiresAt.IsZero() {
			fmt.Fprintf(&b, " next %s", v.Runtime.FiresAt.Format(time.DateTime))
		}
		if v.Label != "" {
			fmt.Fprintf(&b, " %q", v.Label)
		}
	}
	return b.String()
}
