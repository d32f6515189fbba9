//go:build !linux

package gpio

import "errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns a HardwareError on non-Linux platforms.
func NewRealReader(chip string, pins Pins) (*RealReader, error) {
	return nil, &HardwareError{Op: "open chip " + chip, Err: errors.New("not supported on this platform (requires Linux)")}
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (Sample, error) {
	return Sample{}, &HardwareError{Op: "read lines", Err: errors.New("not supported")}
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
