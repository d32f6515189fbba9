// Package player owns the audio output subprocess.
//
// A Controller runs at most one player child at a time. Starting a new
// stream terminates the previous child first, so audio never overlaps.
// The controller reports child failures through Health; deciding whether to
// retry belongs to the caller.
package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/radio-alarm/internal/config"
	xlog "github.com/sweeney/radio-alarm/internal/log"
	"github.com/sweeney/radio-alarm/internal/playlist"
)

// State is the controller's view of its child.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// PlaybackFailure reports that the player could not be started or exited
// while it should have been playing.
type PlaybackFailure struct {
	URL string
	Err error
}

func (e *PlaybackFailure) Error() string {
	return fmt.Sprintf("playback failure for %s: %v", e.URL, e.Err)
}

func (e *PlaybackFailure) Unwrap() error { return e.Err }

// Health is a point-in-time view of the child.
type Health struct {
	State   State
	Running bool
	PID     int
	Uptime  time.Duration
	// Err is a *PlaybackFailure when the child died while playing.
	Err error
}

// Options configures a Controller.
type Options struct {
	Command       []string // argv template, "{url}" is substituted
	PauseMode     string   // config.PauseStop or config.PauseSignal
	StopGrace     time.Duration
	StartupWindow time.Duration
	InfoPath      string // optional stream info mirror
	Mixer         Mixer
}

// OptionsFromConfig builds Options from the player configuration.
func OptionsFromConfig(cfg config.PlayerConfig) Options {
	var mixer Mixer = NoopMixer{}
	if cfg.Mixer == config.MixerAmixer {
		mixer = AmixerMixer{Control: cfg.MixerControl}
	}
	return Options{
		Command:       cfg.Command,
		PauseMode:     cfg.PauseMode,
		StopGrace:     cfg.StopGrace,
		StartupWindow: cfg.StartupWindow,
		InfoPath:      cfg.InfoPath,
		Mixer:         mixer,
	}
}

// Controller manages the player child process.
type Controller struct {
	opts   Options
	logger zerolog.Logger
	exits  chan struct{}

	mu      sync.Mutex
	proc    *process
	state   State
	station playlist.Station
	info    StreamInfo
}

// New creates a stopped controller.
func New(opts Options) *Controller {
	if opts.Mixer == nil {
		opts.Mixer = NoopMixer{}
	}
	if opts.PauseMode == "" {
		opts.PauseMode = config.PauseStop
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 2 * time.Second
	}
	return &Controller{
		opts:   opts,
		logger: xlog.WithComponent("player"),
		exits:  make(chan struct{}, 1),
	}
}

// Exits receives a value whenever a child exits without being asked to.
func (c *Controller) Exits() <-chan struct{} {
	return c.exits
}

// Start plays st. It is a no-op if st is already playing; a paused st is
// resumed. Any other child is terminated first.
func (c *Controller) Start(ctx context.Context, st playlist.Station) error {
	c.mu.Lock()
	if c.proc != nil && !c.proc.exited() && c.station.URL == st.URL {
		switch c.state {
		case Playing:
			c.mu.Unlock()
			return nil
		case Paused:
			c.mu.Unlock()
			return c.Resume(ctx)
		}
	}
	c.mu.Unlock()
	return c.restart(ctx, st)
}

func (c *Controller) restart(ctx context.Context, st playlist.Station) error {
	c.stopChild()

	argv := expandCommand(c.opts.Command, st.URL)
	c.mu.Lock()
	c.info = StreamInfo{StreamURL: st.URL, StationName: st.Name, UpdatedAt: time.Now()}
	c.mu.Unlock()

	p, err := spawn(argv, c.onOutput, c.onExit)
	if err != nil {
		c.setStopped()
		return &PlaybackFailure{URL: st.URL, Err: fmt.Errorf("spawn %s: %w", argv[0], err)}
	}

	if c.opts.StartupWindow > 0 {
		select {
		case <-p.done:
			p.expected.Store(true)
			c.setStopped()
			return &PlaybackFailure{URL: st.URL, Err: fmt.Errorf("exited during startup: %w", p.exitError())}
		case <-ctx.Done():
			p.terminate(c.opts.StopGrace)
			c.setStopped()
			return ctx.Err()
		case <-time.After(c.opts.StartupWindow):
		}
	}

	c.mu.Lock()
	c.proc = p
	c.state = Playing
	c.station = st
	info := c.info
	c.mu.Unlock()

	c.logger.Info().
		Str(xlog.FieldEvent, "player.started").
		Str(xlog.FieldStation, st.Name).
		Str(xlog.FieldURL, st.URL).
		Int(xlog.FieldPID, p.pid()).
		Msg("player started")
	c.publishInfo(info)
	return nil
}

// Stop terminates the child if one is running. It always succeeds.
func (c *Controller) Stop() {
	c.stopChild()
	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
}

func (c *Controller) stopChild() {
	c.mu.Lock()
	p := c.proc
	c.proc = nil
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.terminate(c.opts.StopGrace)
	c.logger.Info().
		Str(xlog.FieldEvent, "player.stopped").
		Int(xlog.FieldPID, p.pid()).
		Msg("player stopped")
}

func (c *Controller) setStopped() {
	c.mu.Lock()
	c.proc = nil
	c.state = Stopped
	c.mu.Unlock()
}

// Pause suspends playback. In stop mode the child is terminated and the
// station kept for Resume; in signal mode the process group is stopped.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return nil
	}
	p := c.proc
	c.mu.Unlock()

	if c.opts.PauseMode == config.PauseSignal && p != nil {
		if err := p.signal(syscall.SIGSTOP); err != nil {
			return fmt.Errorf("pause player: %w", err)
		}
	} else {
		c.stopChild()
	}

	c.mu.Lock()
	c.state = Paused
	c.mu.Unlock()
	return nil
}

// Resume continues after Pause. It is a no-op unless paused.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Paused {
		c.mu.Unlock()
		return nil
	}
	p := c.proc
	st := c.station
	c.mu.Unlock()

	if c.opts.PauseMode == config.PauseSignal && p != nil && !p.exited() {
		if err := p.signal(syscall.SIGCONT); err != nil {
			return fmt.Errorf("resume player: %w", err)
		}
		c.mu.Lock()
		c.state = Playing
		c.mu.Unlock()
		return nil
	}
	return c.restart(ctx, st)
}

// SetVolume clamps percent to [0,100] and applies it through the mixer. The
// clamped value is returned even when the mixer fails.
func (c *Controller) SetVolume(ctx context.Context, percent int) (int, error) {
	v := Clamp(percent)
	if err := c.opts.Mixer.SetVolume(ctx, v); err != nil {
		return v, fmt.Errorf("set volume: %w", err)
	}
	return v, nil
}

// Clamp limits a volume to [0,100].
func Clamp(percent int) int {
	return min(max(percent, 0), 100)
}

// Health reports on the child. If it has exited while playing, the child is
// released and Err carries a *PlaybackFailure; the next Start spawns afresh.
// A child that dies while paused is released but the controller stays
// Paused, so Resume spawns a new one.
func (c *Controller) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := Health{State: c.state}
	if c.proc == nil {
		return h
	}
	if c.proc.exited() {
		switch c.state {
		case Playing:
			h.Err = &PlaybackFailure{URL: c.station.URL, Err: c.proc.exitError()}
			c.logger.Warn().
				Err(h.Err).
				Str(xlog.FieldEvent, "player.exited").
				Str(xlog.FieldStation, c.station.Name).
				Msg("player exited unexpectedly")
			c.state = Stopped
		case Paused:
			c.logger.Warn().
				Str(xlog.FieldEvent, "player.exited_paused").
				Str(xlog.FieldStation, c.station.Name).
				Msg("paused player exited")
		default:
			c.state = Stopped
		}
		c.proc = nil
		h.State = c.state
		return h
	}
	h.Running = true
	h.PID = c.proc.pid()
	h.Uptime = time.Since(c.proc.started)
	return h
}

// Info returns the latest stream metadata.
func (c *Controller) Info() StreamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Close stops the child.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

func (c *Controller) onOutput(line string) {
	c.mu.Lock()
	if !applyLine(&c.info, line) {
		c.mu.Unlock()
		return
	}
	c.info.UpdatedAt = time.Now()
	info := c.info
	c.mu.Unlock()

	c.logger.Debug().Str(xlog.FieldEvent, "player.metadata").Str("title", info.Title).Msg("stream metadata")
	c.publishInfo(info)
}

func (c *Controller) onExit(p *process) {
	if p.expected.Load() {
		return
	}
	select {
	case c.exits <- struct{}{}:
	default:
	}
}

func (c *Controller) publishInfo(info StreamInfo) {
	if c.opts.InfoPath == "" {
		return
	}
	if err := writeInfo(c.opts.InfoPath, info); err != nil {
		c.logger.Warn().Err(err).Str(xlog.FieldPath, c.opts.InfoPath).Msg("stream info not written")
	}
}

// expandCommand substitutes url for "{url}" in the template, appending it if
// the template does not mention it.
func expandCommand(tmpl []string, url string) []string {
	argv := make([]string, 0, len(tmpl)+1)
	found := false
	for _, arg := range tmpl {
		if strings.Contains(arg, "{url}") {
			found = true
			arg = strings.ReplaceAll(arg, "{url}", url)
		}
		argv = append(argv, arg)
	}
	if !found {
		argv = append(argv, url)
	}
	return argv
}

// IsPlaybackFailure reports whether err is or wraps a *PlaybackFailure.
func IsPlaybackFailure(err error) bool {
	var pf *PlaybackFailure
	return errors.As(err, &pf)
}
