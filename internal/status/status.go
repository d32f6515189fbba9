// Package status provides a thread-safe status tracker for the radio alarm daemon.
// The state machine writes it after every intent; HTTP handlers, the control
// socket and the MQTT publisher only read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/player"
	"github.com/sweeney/radio-alarm/internal/playlist"
)

// Config contains daemon configuration for display.
type Config struct {
	HTTPAddr string
	Broker   string
	Socket   string
	Playlist string
}

// Radio is the state owned by the daemon state machine.
type Radio struct {
	Mode         string
	KnobMode     string
	Station      *playlist.Station // nil until a station has been chosen
	StationCount int
	Volume       int
	ActiveAlarm  *alarm.View // ringing or snoozed alarm
	NextAlarm    *alarm.View
	Alarms       []alarm.View
	LastError    string
	Seq          uint64 // number of intents processed
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Radio         Radio
	Stream        player.StreamInfo
	InputEnabled  bool
	InputError    string
	MQTTConnected bool
	StartTime     time.Time
	Now           time.Time
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Degraded reports whether the daemon is running with a surfaced error.
func (s Snapshot) Degraded() bool {
	return s.Radio.LastError != "" || s.InputError != ""
}

// Playback maps the daemon mode onto stopped, playing or paused.
func (s Snapshot) Playback() string {
	switch s.Radio.Mode {
	case "playing", "ringing":
		return "playing"
	case "paused":
		return "paused"
	default:
		return "stopped"
	}
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Radio:     Radio{Mode: "idle"},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetRadio replaces the state machine's part of the snapshot.
func (t *Tracker) SetRadio(r Radio) {
	t.mu.Lock()
	t.snap.Radio = r
	t.mu.Unlock()
}

// SetStream sets the current stream metadata.
func (t *Tracker) SetStream(info player.StreamInfo) {
	t.mu.Lock()
	t.snap.Stream = info
	t.mu.Unlock()
}

// SetInput records whether local input is working.
func (t *Tracker) SetInput(enabled bool, err error) {
	t.mu.Lock()
	t.snap.InputEnabled = enabled
	t.snap.InputError = ""
	if err != nil {
		t.snap.InputError = err.Error()
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
