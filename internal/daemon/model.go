package daemon

import (
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
)

// Mode is the daemon's authoritative state.
type Mode int

const (
	Idle Mode = iota
	Playing
	Paused
	Ringing
	Snoozed
)

func (m Mode) String() string {
	switch m {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ringing:
		return "ringing"
	case Snoozed:
		return "snoozed"
	default:
		return "idle"
	}
}

// KnobMode selects what rotating the encoder does.
type KnobMode int

const (
	KnobVolume KnobMode = iota
	KnobBrowse
	KnobAlarm
)

func (k KnobMode) String() string {
	switch k {
	case KnobBrowse:
		return "browse"
	case KnobAlarm:
		return "alarm"
	default:
		return "volume"
	}
}

func (k KnobMode) next() KnobMode {
	return (k + 1) % 3
}

// Policy holds the tunables the transitions depend on.
type Policy struct {
	VolumeStep   int
	MaxRetries   int
	RetryBackoff time.Duration
	StableAfter  time.Duration
	AlarmStep    time.Duration
}

// Model is the state the machine owns. Apply is its only mutator apart
// from the machine restoring a clone after a failed save.
type Model struct {
	Mode      Mode
	Knob      KnobMode
	Station   int // current station index, -1 if none or dropped by a reload
	Volume    int
	Stations  int
	Alarms    *alarm.Table
	LastError string

	// Gen changes whenever the playback target changes; retries carry the
	// generation they were scheduled for and are dropped if it moved on.
	Gen     uint64
	Retries int

	Policy Policy
}

// NewModel returns the initial Idle model.
func NewModel(p Policy, volume, stations int, alarms *alarm.Table) Model {
	return Model{
		Mode:     Idle,
		Station:  -1,
		Volume:   volume,
		Stations: stations,
		Alarms:   alarms,
		Policy:   p,
	}
}

// Clone returns a deep copy.
func (m Model) Clone() Model {
	c := m
	if m.Alarms != nil {
		c.Alarms = m.Alarms.Clone()
	}
	return c
}

func (m *Model) backoff() time.Duration {
	d := m.Policy.RetryBackoff
	for i := 1; i < m.Retries; i++ {
		d *= 2
	}
	return d
}
