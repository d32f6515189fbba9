package input

import (
	"time"

	"github.com/sweeney/radio-alarm/internal/gpio"
)

// quadrature maps (previous<<2 | current) encoder states to a step.
// A state is CLK<<1 | DT. Invalid (double) transitions count as zero.
var quadrature = [16]int{0, -1, 1, 0, 1, 0, 0, -1, -1, 0, 0, 1, 0, 1, -1, 0}

// Options configures a Decoder.
type Options struct {
	Debounce       time.Duration
	LongPress      time.Duration
	StepsPerDetent int
}

// Decoder debounces samples and decodes rotation and presses.
// It holds no clock; callers pass the sample time, which keeps it
// deterministic under test.
type Decoder struct {
	opts Options

	dt, clk, sw, alarm lineState
	baselined          bool

	encoder    int // last debounced CLK<<1 | DT
	acc        int
	pressStart time.Time
	longFired  bool
	alarmArmed bool // alarm button went down after the baseline
}

// NewDecoder creates a decoder. StepsPerDetent defaults to 4.
func NewDecoder(opts Options) *Decoder {
	if opts.StepsPerDetent <= 0 {
		opts.StepsPerDetent = 4
	}
	return &Decoder{opts: opts}
}

// Process takes a new sample and returns any events that should be emitted.
// Events are only returned once every line has a debounced baseline.
func (d *Decoder) Process(s gpio.Sample, now time.Time) []Event {
	dtChanged := d.debounce(&d.dt, s.DT, now)
	clkChanged := d.debounce(&d.clk, s.CLK, now)
	swChanged := d.debounce(&d.sw, s.Button, now)
	alarmChanged := d.debounce(&d.alarm, s.Alarm, now)

	if !d.baselined {
		if d.dt.Baselined && d.clk.Baselined && d.sw.Baselined && d.alarm.Baselined {
			d.baselined = true
			d.encoder = encoderState(d.clk.Stable, d.dt.Stable)
			// A button held at startup does not count as a press.
			d.longFired = d.sw.Stable
		}
		return nil
	}

	var events []Event

	if dtChanged || clkChanged {
		next := encoderState(d.clk.Stable, d.dt.Stable)
		d.acc += quadrature[d.encoder<<2|next]
		d.encoder = next
		for d.acc >= d.opts.StepsPerDetent {
			d.acc -= d.opts.StepsPerDetent
			events = append(events, Event{Kind: RotateUp, Time: now})
		}
		for d.acc <= -d.opts.StepsPerDetent {
			d.acc += d.opts.StepsPerDetent
			events = append(events, Event{Kind: RotateDown, Time: now})
		}
	}

	if swChanged {
		if d.sw.Stable {
			d.pressStart = now
			d.longFired = false
		} else if !d.longFired {
			events = append(events, Event{Kind: ShortPress, Time: now})
		}
	}
	if d.sw.Stable && !d.longFired && now.Sub(d.pressStart) >= d.opts.LongPress {
		d.longFired = true
		events = append(events, Event{Kind: LongPress, Time: now})
	}

	// The alarm button acts on release, like a doorbell.
	if alarmChanged {
		if d.alarm.Stable {
			d.alarmArmed = true
		} else if d.alarmArmed {
			d.alarmArmed = false
			events = append(events, Event{Kind: AlarmPress, Time: now})
		}
	}

	return events
}

// debounce applies the refractory window to one line. It reports whether the
// stable level changed after the baseline was established.
func (d *Decoder) debounce(l *lineState, level bool, now time.Time) bool {
	if !l.Baselined {
		if !l.HasPending || l.Pending != level {
			l.Pending = level
			l.HasPending = true
			l.PendingSince = now
			return false
		}
		if now.Sub(l.PendingSince) >= d.opts.Debounce {
			l.Stable = level
			l.Baselined = true
			l.HasPending = false
		}
		return false
	}

	if level == l.Stable {
		l.HasPending = false
		return false
	}
	if !l.HasPending || l.Pending != level {
		l.Pending = level
		l.HasPending = true
		l.PendingSince = now
		if d.opts.Debounce > 0 {
			return false
		}
	}
	if now.Sub(l.PendingSince) >= d.opts.Debounce {
		l.Stable = level
		l.HasPending = false
		return true
	}
	return false
}

// IsBaselined returns whether every line has a debounced baseline.
func (d *Decoder) IsBaselined() bool {
	return d.baselined
}

func encoderState(clk, dt bool) int {
	s := 0
	if clk {
		s |= 2
	}
	if dt {
		s |= 1
	}
	return s
}
