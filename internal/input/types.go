// Package input turns raw encoder and button samples into logical input events.
package input

import "time"

// EventKind identifies a logical input event.
type EventKind int

const (
	RotateUp EventKind = iota + 1
	RotateDown
	ShortPress
	LongPress
	AlarmPress
)

func (k EventKind) String() string {
	switch k {
	case RotateUp:
		return "rotate_up"
	case RotateDown:
		return "rotate_down"
	case ShortPress:
		return "short_press"
	case LongPress:
		return "long_press"
	case AlarmPress:
		return "alarm_press"
	default:
		return "unknown"
	}
}

// Event is one decoded input event.
type Event struct {
	Kind EventKind
	Time time.Time
}

// lineState tracks debounce state for one GPIO line.
type lineState struct {
	Stable       bool
	Pending      bool
	HasPending   bool
	PendingSince time.Time
	Baselined    bool
}
