package alarm

import (
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/sweeney/radio-alarm/internal/log"
	"github.com/sweeney/radio-alarm/internal/metrics"
)

// Status is the runtime status of one alarm.
type Status int

const (
	Idle Status = iota
	Scheduled
	Ringing
	Snoozed
)

func (s Status) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Ringing:
		return "ringing"
	case Snoozed:
		return "snoozed"
	default:
		return "idle"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Runtime is the transient state of one alarm, rebuilt from its Config at
// startup.
type Runtime struct {
	Status       Status    `json:"status"`
	FiresAt      time.Time `json:"fires_at,omitzero"`
	SnoozedUntil time.Time `json:"snoozed_until,omitzero"`
	LastFired    time.Time `json:"last_fired,omitzero"`
}

// View pairs a config with its runtime state.
type View struct {
	Config
	Runtime Runtime `json:"runtime"`
}

// Fire is a due alarm returned by Table.Due.
type Fire struct {
	Config Config
	At     time.Time // scheduled time that became due
	Snooze bool      // end of a snooze rather than a regular fire
}

type entry struct {
	cfg Config
	rt  Runtime
}

// Table tracks every alarm. It is not safe for concurrent use; the daemon
// state machine is its only user.
type Table struct {
	entries      []*entry
	loc          *time.Location
	missedWindow time.Duration
	logger       zerolog.Logger
}

// NewTable schedules each config for its next future fire after now.
// Occurrences before now are never fired.
func NewTable(cfgs []Config, now time.Time, loc *time.Location, missedWindow time.Duration) *Table {
	if loc == nil {
		loc = time.Local
	}
	t := &Table{
		loc:          loc,
		missedWindow: missedWindow,
		logger:       xlog.WithComponent("alarm"),
	}
	for _, c := range cfgs {
		e := &entry{cfg: c}
		t.schedule(e, now)
		t.entries = append(t.entries, e)
	}
	return t
}

func (t *Table) schedule(e *entry, now time.Time) {
	e.rt.SnoozedUntil = time.Time{}
	if next, ok := NextFire(e.cfg, now, t.loc); ok {
		e.rt.Status = Scheduled
		e.rt.FiresAt = next
		return
	}
	e.rt.Status = Idle
	e.rt.FiresAt = time.Time{}
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	c := *t
	c.entries = make([]*entry, len(t.entries))
	for i, e := range t.entries {
		cp := *e
		cp.cfg.Weekdays = append(Weekdays(nil), e.cfg.Weekdays...)
		c.entries[i] = &cp
	}
	return &c
}

func (t *Table) find(id string) *entry {
	for _, e := range t.entries {
		if e.cfg.ID == id {
			return e
		}
	}
	return nil
}

// Configs returns the configured alarms in insertion order.
func (t *Table) Configs() []Config {
	out := make([]Config, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.cfg
	}
	return out
}

// Views returns every alarm with its runtime state.
func (t *Table) Views() []View {
	out := make([]View, len(t.entries))
	for i, e := range t.entries {
		out[i] = View{Config: e.cfg, Runtime: e.rt}
	}
	return out
}

// Get returns the alarm with the given ID.
func (t *Table) Get(id string) (View, bool) {
	e := t.find(id)
	if e == nil {
		return View{}, false
	}
	return View{Config: e.cfg, Runtime: e.rt}, true
}

// Put adds or replaces an alarm and reschedules it from now.
func (t *Table) Put(c Config, now time.Time) {
	e := t.find(c.ID)
	if e == nil {
		e = &entry{}
		t.entries = append(t.entries, e)
	}
	e.cfg = c
	e.rt = Runtime{LastFired: e.rt.LastFired}
	t.schedule(e, now)
}

// Delete removes an alarm and reports whether it existed.
func (t *Table) Delete(id string) bool {
	for i, e := range t.entries {
		if e.cfg.ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Active returns the alarm that is ringing or snoozed, if any.
func (t *Table) Active() (View, bool) {
	for _, e := range t.entries {
		if e.rt.Status == Ringing || e.rt.Status == Snoozed {
			return View{Config: e.cfg, Runtime: e.rt}, true
		}
	}
	return View{}, false
}

// Next returns the scheduled alarm that fires soonest.
func (t *Table) Next() (View, bool) {
	var best *entry
	for _, e := range t.entries {
		if e.rt.Status != Scheduled {
			continue
		}
		if best == nil || e.rt.FiresAt.Before(best.rt.FiresAt) {
			best = e
		}
	}
	if best == nil {
		return View{}, false
	}
	return View{Config: best.cfg, Runtime: best.rt}, true
}

// Due returns the alarms whose fire time has been reached. Each scheduled
// occurrence is returned at most once: it is advanced before Due returns,
// so repeated checks within the same minute do not fire it again.
//
// An occurrence found more than the missed window late (suspend, clock
// jump) is skipped and rescheduled.
func (t *Table) Due(now time.Time) []Fire {
	var fires []Fire
	for _, e := range t.entries {
		switch e.rt.Status {
		case Scheduled:
			if now.Before(e.rt.FiresAt) {
				continue
			}
			at := e.rt.FiresAt
			e.rt.LastFired = at
			t.schedule(e, maxTime(now, at))
			if t.missedWindow > 0 && now.Sub(at) > t.missedWindow {
				t.logger.Warn().
					Str(xlog.FieldEvent, "alarm.skipped").
					Str(xlog.FieldAlarmID, e.cfg.ID).
					Time(xlog.FieldFiresAt, at).
					Msg("alarm missed, skipping to next occurrence")
				metrics.AlarmFiresTotal.WithLabelValues("skipped").Inc()
				continue
			}
			fires = append(fires, Fire{Config: e.cfg, At: at})
		case Snoozed:
			if now.Before(e.rt.SnoozedUntil) {
				continue
			}
			fires = append(fires, Fire{Config: e.cfg, At: e.rt.SnoozedUntil, Snooze: true})
		}
	}
	return fires
}

// Ring marks id as ringing.
func (t *Table) Ring(id string, now time.Time) bool {
	e := t.find(id)
	if e == nil {
		return false
	}
	e.rt.Status = Ringing
	e.rt.SnoozedUntil = time.Time{}
	e.rt.LastFired = now
	return true
}

// Snooze moves id to Snoozed with fires_at = now + snooze_minutes and
// returns the new fire time.
func (t *Table) Snooze(id string, now time.Time) (time.Time, bool) {
	e := t.find(id)
	if e == nil {
		return time.Time{}, false
	}
	until := now.Add(time.Duration(e.cfg.SnoozeMinutes) * time.Minute)
	e.rt.Status = Snoozed
	e.rt.SnoozedUntil = until
	e.rt.FiresAt = until
	return until, true
}

// Dismiss ends a ringing or snoozed alarm and schedules its next future
// occurrence.
func (t *Table) Dismiss(id string, now time.Time) bool {
	e := t.find(id)
	if e == nil {
		return false
	}
	t.schedule(e, now)
	return true
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
