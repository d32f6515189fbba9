//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads GPIO from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	vals  []int
	alarm bool
}

// NewRealReader requests the encoder, button and optional alarm lines on chip.
func NewRealReader(chip string, pins Pins) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, &HardwareError{Op: "open chip " + chip, Err: err}
	}

	offsets := []int{pins.DT, pins.CLK, pins.SW}
	hasAlarm := pins.Alarm >= 0
	if hasAlarm {
		offsets = append(offsets, pins.Alarm)
	}

	// Encoder common and buttons are wired to ground, so pull the lines up.
	lines, err := c.RequestLines(offsets, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer("radio-alarm"))
	if err != nil {
		c.Close()
		return nil, &HardwareError{Op: fmt.Sprintf("request lines %v", offsets), Err: err}
	}

	return &RealReader{
		chip:  c,
		lines: lines,
		vals:  make([]int, len(offsets)),
		alarm: hasAlarm,
	}, nil
}

// Read samples all lines in one request.
// Buttons are inverted: raw low = pressed.
func (r *RealReader) Read() (Sample, error) {
	if err := r.lines.Values(r.vals); err != nil {
		return Sample{}, &HardwareError{Op: "read lines", Err: err}
	}
	s := Sample{
		DT:     r.vals[0] == 1,
		CLK:    r.vals[1] == 1,
		Button: r.vals[2] == 0,
	}
	if r.alarm {
		s.Alarm = r.vals[3] == 0
	}
	return s, nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error
	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure lines: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lines: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
