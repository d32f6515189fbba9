package daemon

import (
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/input"
)

// Intent is a request to change daemon state.
type Intent interface {
	Name() string
}

type (
	// Play starts or resumes playback of the current station.
	Play struct{}
	// Stop stops playback. A ringing or snoozed alarm is dismissed.
	Stop struct{}
	// TogglePause pauses or resumes; it snoozes a ringing alarm.
	TogglePause struct{}
	// Next plays the following station, wrapping at the end.
	Next struct{}
	// Prev plays the preceding station, wrapping at the start.
	Prev struct{}
	// SetStation plays the station at the 0-based Index.
	SetStation struct{ Index int }
	// SetVolume sets an absolute volume, which must be 0-100.
	SetVolume struct{ Level int }
	// AdjustVolume changes the volume by Delta, clamped to 0-100.
	AdjustVolume struct{ Delta int }
	// SetAlarm creates or replaces an alarm and persists the alarm list.
	SetAlarm struct{ Config alarm.Config }
	// DeleteAlarm removes an alarm and persists the alarm list.
	DeleteAlarm struct{ ID string }
	// Snooze silences the ringing alarm for its snooze length.
	Snooze struct{}
	// Dismiss ends the ringing or snoozed alarm.
	Dismiss struct{}
	// ReloadPlaylist re-reads the station list.
	ReloadPlaylist struct{}
	// Input is a decoded knob or button event.
	Input struct{ Event input.Event }
	// Tick asks the machine to fire any alarm due at Now.
	Tick struct{ Now time.Time }
)

func (Play) Name() string           { return "play" }
func (Stop) Name() string           { return "stop" }
func (TogglePause) Name() string    { return "pause" }
func (Next) Name() string           { return "next" }
func (Prev) Name() string           { return "prev" }
func (SetStation) Name() string     { return "station" }
func (SetVolume) Name() string      { return "volume" }
func (AdjustVolume) Name() string   { return "volume_adjust" }
func (SetAlarm) Name() string       { return "set_alarm" }
func (DeleteAlarm) Name() string    { return "delete_alarm" }
func (Snooze) Name() string         { return "snooze" }
func (Dismiss) Name() string        { return "dismiss" }
func (ReloadPlaylist) Name() string { return "reload" }
func (Input) Name() string          { return "input" }
func (Tick) Name() string           { return "tick" }

// Intents raised by the machine itself.
type (
	healthFailed struct{ Err error }
	healthStable struct{}
	retry        struct{ Gen uint64 }
	startFailed  struct {
		Err   error
		Retry bool
	}
	commandFailed    struct{ Err error }
	playlistReloaded struct{ Count, Station int }
)

func (healthFailed) Name() string     { return "health_failed" }
func (healthStable) Name() string     { return "health_stable" }
func (retry) Name() string            { return "retry" }
func (startFailed) Name() string      { return "start_failed" }
func (commandFailed) Name() string    { return "command_failed" }
func (playlistReloaded) Name() string { return "playlist_reloaded" }

// Command is a player or storage action produced by Apply.
type Command interface {
	command()
}

// Start causes.
const (
	CauseRequest = "request"
	CauseAlarm   = "alarm"
	CauseRetry   = "retry"
)

type (
	CmdStart struct {
		Station int
		Cause   string
	}
	CmdStop       struct{}
	CmdPause      struct{}
	CmdResume     struct{}
	CmdSetVolume  struct{ Volume int }
	CmdSaveAlarms struct{ Configs []alarm.Config }
	CmdRetry      struct {
		Gen   uint64
		Delay time.Duration
	}
	CmdReloadPlaylist struct{}
)

func (CmdStart) command()          {}
func (CmdStop) command()           {}
func (CmdPause) command()          {}
func (CmdResume) command()         {}
func (CmdSetVolume) command()      {}
func (CmdSaveAlarms) command()     {}
func (CmdRetry) command()          {}
func (CmdReloadPlaylist) command() {}
