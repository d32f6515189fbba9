// Package alarm holds alarm configuration, next-fire computation and the
// runtime state of each alarm.
package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSnoozeMinutes is applied when an alarm does not set its own.
const DefaultSnoozeMinutes = 9

var (
	ErrInvalidTime    = errors.New("time must be HH:MM (00:00-23:59)")
	ErrInvalidSnooze  = errors.New("snooze_minutes must be 1-120")
	ErrInvalidStation = errors.New("station must be >= 0")
	ErrInvalidWeekday = errors.New("unknown weekday")
)

// Config is one configured alarm. Station is the 0-based playlist index of
// the wake station. An empty Weekdays set means every day.
type Config struct {
	ID            string   `json:"id"`
	Time          string   `json:"time"`
	Weekdays      Weekdays `json:"weekdays"`
	Enabled       bool     `json:"enabled"`
	SnoozeMinutes int      `json:"snooze_minutes"`
	Station       int      `json:"station"`
	Label         string   `json:"label,omitempty"`
}

// Normalize fills defaults: a new ID and the default snooze length.
func (c Config) Normalize() Config {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SnoozeMinutes == 0 {
		c.SnoozeMinutes = DefaultSnoozeMinutes
	}
	return c
}

// Validate checks the fields that do not depend on the playlist.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := c.clock(); err != nil {
		errs = append(errs, err)
	}
	if c.SnoozeMinutes < 1 || c.SnoozeMinutes > 120 {
		errs = append(errs, ErrInvalidSnooze)
	}
	if c.Station < 0 {
		errs = append(errs, ErrInvalidStation)
	}
	return errors.Join(errs...)
}

// clock parses Time into hour and minute.
func (c Config) clock() (int, int, error) {
	t, err := time.Parse("15:04", c.Time)
	if err != nil || len(c.Time) != 5 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, c.Time)
	}
	return t.Hour(), t.Minute(), nil
}

// ActiveOn reports whether the alarm is active on day d.
func (c Config) ActiveOn(d time.Weekday) bool {
	if len(c.Weekdays) == 0 {
		return true
	}
	for _, w := range c.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// Shift moves the alarm time by delta, wrapping around midnight.
func (c Config) Shift(delta time.Duration) Config {
	h, m, err := c.clock()
	if err != nil {
		return c
	}
	mins := (h*60 + m + int(delta/time.Minute)) % (24 * 60)
	if mins < 0 {
		mins += 24 * 60
	}
	c.Time = fmt.Sprintf("%02d:%02d", mins/60, mins%60)
	return c
}

// NextFire returns the soonest time strictly after after that matches the
// alarm's time of day on an active weekday, in loc. It returns false for a
// disabled or invalid alarm.
//
// Each candidate is built with time.Date in loc, so a DST change between
// now and the fire time does not shift the wall-clock time.
func NextFire(c Config, after time.Time, loc *time.Location) (time.Time, bool) {
	if !c.Enabled {
		return time.Time{}, false
	}
	h, m, err := c.clock()
	if err != nil {
		return time.Time{}, false
	}
	local := after.In(loc)
	y, mon, d := local.Date()
	for i := 0; i <= 7; i++ {
		t := time.Date(y, mon, d+i, h, m, 0, 0, loc)
		if t.After(after) && c.ActiveOn(t.Weekday()) {
			return t, true
		}
	}
	return time.Time{}, false
}

// Weekdays is a set of active days, encoded in JSON as short names
// ("mon", "tue", ...). Numbers 0-6 (Sunday = 0) are accepted on input.
type Weekdays []time.Weekday

var dayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(w))
	for _, d := range w {
		names = append(names, dayNames[d%7])
	}
	return json.Marshal(names)
}

func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*w = nil
		return nil
	}
	out := make(Weekdays, 0, len(raw))
	seen := map[time.Weekday]bool{}
	for _, r := range raw {
		d, err := parseWeekday(r)
		if err != nil {
			return err
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	*w = out
	return nil
}

func parseWeekday(r json.RawMessage) (time.Weekday, error) {
	var n int
	if err := json.Unmarshal(r, &n); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, n)
		}
		return time.Weekday(n), nil
	}
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWeekday, r)
	}
	return ParseWeekday(s)
}

// ParseWeekday accepts "mon", "Monday" and similar, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for i, name := range dayNames {
			if strings.HasPrefix(s, name) {
				return time.Weekday(i), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}
