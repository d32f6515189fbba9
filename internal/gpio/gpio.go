// Package gpio provides rotary encoder and button line reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Sample is one reading of all input lines.
// Encoder lines carry their electrical level; buttons are already in
// logical form (true = pressed, the lines are active-low).
type Sample struct {
	DT     bool
	CLK    bool
	Button bool
	Alarm  bool
}

// Reader reads the input lines.
type Reader interface {
	// Read samples every line at once.
	Read() (Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Pins is the BCM pin assignment. A negative Alarm pin means no alarm button.
type Pins struct {
	DT    int
	CLK   int
	SW    int
	Alarm int
}

// HardwareError reports a GPIO access failure. The input driver is disabled
// when it sees one; the rest of the daemon keeps running.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("gpio %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }
