package daemon

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveAlarm = errors.New("no alarm is ringing or snoozed")
	ErrNotRinging    = errors.New("no alarm is ringing")
	ErrOutOfRange    = errors.New("value out of range")
	ErrNotFound      = errors.New("not found")
	ErrEmptyPlaylist = errors.New("no stations loaded")
	ErrStopped       = errors.New("state machine stopped")
)

// ValidationError reports an intent that was rejected. State is unchanged.
type ValidationError struct {
	Intent string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Intent, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(in Intent, format string, args ...any) error {
	return &ValidationError{Intent: in.Name(), Err: fmt.Errorf(format, args...)}
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
