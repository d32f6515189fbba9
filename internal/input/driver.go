package input

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/radio-alarm/internal/gpio"
	xlog "github.com/sweeney/radio-alarm/internal/log"
)

// DefaultMaxErrors is the number of consecutive read failures after which
// the driver gives up on the hardware.
const DefaultMaxErrors = 50

// Driver polls a gpio.Reader and emits decoded events.
type Driver struct {
	reader    gpio.Reader
	decoder   *Decoder
	poll      time.Duration
	maxErrors int
	now       func() time.Time
	logger    zerolog.Logger
	errLog    rate.Sometimes
}

// NewDriver creates a driver polling reader every poll interval.
func NewDriver(reader gpio.Reader, poll time.Duration, opts Options) *Driver {
	return &Driver{
		reader:    reader,
		decoder:   NewDecoder(opts),
		poll:      poll,
		maxErrors: DefaultMaxErrors,
		now:       time.Now,
		logger:    xlog.WithComponent("input"),
		errLog:    rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Run polls until ctx is done. Each event is passed to emit in order; emit
// may block, which only delays the next poll.
//
// After too many consecutive read failures Run returns a *gpio.HardwareError
// and the caller carries on without local input. It returns nil on cancel.
func (d *Driver) Run(ctx context.Context, emit func(Event)) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sample, err := d.reader.Read()
		if err != nil {
			failures++
			d.errLog.Do(func() {
				d.logger.Warn().Err(err).
					Str(xlog.FieldEvent, "input.read_failed").
					Int("consecutive", failures).
					Msg("GPIO read failed")
			})
			if failures >= d.maxErrors {
				var herr *gpio.HardwareError
				if !errors.As(err, &herr) {
					herr = &gpio.HardwareError{Op: "read lines", Err: err}
				}
				d.logger.Error().Err(herr).
					Str(xlog.FieldEvent, "input.disabled").
					Msg(fmt.Sprintf("input disabled after %d consecutive read errors", failures))
				return herr
			}
			continue
		}
		failures = 0

		for _, ev := range d.decoder.Process(sample, d.now()) {
			d.logger.Debug().Str(xlog.FieldEvent, "input.event").Stringer("kind", ev.Kind).Msg("input event")
			emit(ev)
		}
	}
}
