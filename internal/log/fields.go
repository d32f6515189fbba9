package log

// Canonical field names for structured logging.
const (
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldIntent    = "intent"
	FieldOrigin    = "origin"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldStation   = "station"
	FieldURL       = "url"
	FieldVolume    = "volume"
	FieldAlarmID   = "alarm_id"
	FieldFiresAt   = "fires_at"
	FieldPath      = "path"
	FieldPID       = "pid"
	FieldAttempt   = "attempt"
)
