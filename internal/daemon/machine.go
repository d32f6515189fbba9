// Package daemon is the single authority over playback and alarm state.
//
// Every producer (knob, alarm scheduler, HTTP, MQTT, control socket) turns
// its stimulus into an Intent and hands it to the Machine. The Machine
// applies one intent at a time: it computes the transition with
// Model.Apply, executes the resulting player and storage commands to
// completion, then publishes a status snapshot before taking the next one.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/config"
	xlog "github.com/sweeney/radio-alarm/internal/log"
	"github.com/sweeney/radio-alarm/internal/metrics"
	"github.com/sweeney/radio-alarm/internal/player"
	"github.com/sweeney/radio-alarm/internal/playlist"
	"github.com/sweeney/radio-alarm/internal/status"
)

// Player is the subset of *player.Controller the machine drives.
type Player interface {
	Start(ctx context.Context, st playlist.Station) error
	Stop()
	Pause() error
	Resume(ctx context.Context) error
	SetVolume(ctx context.Context, percent int) (int, error)
	Health() player.Health
	Info() player.StreamInfo
	Exits() <-chan struct{}
}

// AlarmStore persists alarm configs.
type AlarmStore interface {
	Save([]alarm.Config) error
}

// Observer is told about every published snapshot. It must not block.
type Observer interface {
	StatusChanged(status.Snapshot)
}

// Options configures a Machine.
type Options struct {
	Policy         Policy
	InitialVolume  int
	HealthInterval time.Duration
	Location       *time.Location
	MissedWindow   time.Duration
	Now            func() time.Time // defaults to time.Now
}

// OptionsFromConfig builds Options from the daemon configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Policy: Policy{
			VolumeStep:   cfg.Player.VolumeStep,
			MaxRetries:   cfg.Player.MaxRetries,
			RetryBackoff: cfg.Player.RetryBackoff,
			StableAfter:  cfg.Player.StableAfter,
			AlarmStep:    5 * time.Minute,
		},
		InitialVolume:  cfg.Player.InitialVolume,
		HealthInterval: cfg.Player.HealthInterval,
		Location:       time.Local,
		MissedWindow:   cfg.Alarms.MissedWindow,
	}
}

// Deps are the collaborators a Machine needs.
type Deps struct {
	Player   Player
	Stations *playlist.Store
	Alarms   []alarm.Config
	Store    AlarmStore
	Tracker  *status.Tracker
}

type request struct {
	intent Intent
	origin string
	reply  chan result // nil for fire-and-forget posts
}

type result struct {
	snap status.Snapshot
	err  error
}

// Machine serializes intents into state transitions.
type Machine struct {
	opts     Options
	model    Model
	player   Player
	stations *playlist.Store
	store    AlarmStore
	tracker  *status.Tracker
	now      func() time.Time
	logger   zerolog.Logger

	intents chan request
	done    chan struct{}

	mu        sync.Mutex
	observers []Observer

	retryTimer *time.Timer
	lastInfo   player.StreamInfo
	playing    playlist.Station // last station handed to the player
	seq        uint64
}

// New creates a Machine in the Idle state. Alarms are scheduled from now;
// occurrences missed while the daemon was down are not fired.
func New(opts Options, deps Deps) *Machine {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Tracker == nil {
		deps.Tracker = status.NewTracker(time.Now(), status.Config{})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	table := alarm.NewTable(deps.Alarms, now(), opts.Location, opts.MissedWindow)
	m := &Machine{
		opts:     opts,
		model:    NewModel(opts.Policy, player.Clamp(opts.InitialVolume), deps.Stations.Len(), table),
		player:   deps.Player,
		stations: deps.Stations,
		store:    deps.Store,
		tracker:  deps.Tracker,
		now:      now,
		logger:   xlog.WithComponent("daemon"),
		intents:  make(chan request, 64),
		done:     make(chan struct{}),
	}
	m.publish()
	return m
}

// Subscribe registers an observer for status changes.
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Submit enqueues in and waits until it has been applied. It returns the
// resulting snapshot, or the snapshot unchanged and a *ValidationError if
// in was rejected.
func (m *Machine) Submit(ctx context.Context, origin string, in Intent) (status.Snapshot, error) {
	reply := make(chan result, 1)
	if err := m.enqueue(ctx, request{intent: in, origin: origin, reply: reply}); err != nil {
		return m.tracker.Snapshot(), err
	}
	select {
	case r := <-reply:
		return r.snap, r.err
	case <-ctx.Done():
		return m.tracker.Snapshot(), ctx.Err()
	case <-m.done:
		return m.tracker.Snapshot(), ErrStopped
	}
}

// Post enqueues in without waiting for it to be applied. It blocks only
// while the queue is full.
func (m *Machine) Post(ctx context.Context, origin string, in Intent) error {
	return m.enqueue(ctx, request{intent: in, origin: origin})
}

func (m *Machine) enqueue(ctx context.Context, req request) error {
	select {
	case m.intents <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// Snapshot returns the latest published status.
func (m *Machine) Snapshot() status.Snapshot {
	return m.tracker.Snapshot()
}

// Run processes intents until ctx is done, then stops the player.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.shutdown()

	m.applyVolume(ctx, m.model.Volume)
	m.publish()
	m.logger.Info().
		Str(xlog.FieldEvent, "daemon.started").
		Int("stations", m.model.Stations).
		Int("alarms", len(m.model.Alarms.Configs())).
		Int(xlog.FieldVolume, m.model.Volume).
		Msg("state machine running")

	health := time.NewTicker(m.opts.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.intents:
			snap, err := m.handle(ctx, req.origin, req.intent)
			if req.reply != nil {
				req.reply <- result{snap: snap, err: err}
			}
		case <-health.C:
			m.checkHealth(ctx)
		case <-m.player.Exits():
			m.checkHealth(ctx)
		}
	}
}

func (m *Machine) shutdown() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	// Shutdown counts as a stop: a ringing alarm is dismissed.
	_, _ = m.model.Apply(Stop{}, m.now())
	m.player.Stop()
	m.publish()
	m.logger.Info().Str(xlog.FieldEvent, "daemon.stopped").Msg("player stopped, state machine exiting")
}

// handle applies one intent and executes its commands.
func (m *Machine) handle(ctx context.Context, origin string, in Intent) (status.Snapshot, error) {
	if ev, ok := in.(Input); ok {
		metrics.InputEventsTotal.WithLabelValues(ev.Event.Kind.String()).Inc()
	}

	prev := m.model.Clone()
	cmds, err := m.model.Apply(in, m.now())
	if err != nil {
		metrics.IntentsTotal.WithLabelValues(in.Name(), "invalid").Inc()
		m.logger.Warn().Err(err).
			Str(xlog.FieldEvent, "intent.rejected").
			Str(xlog.FieldIntent, in.Name()).
			Str(xlog.FieldOrigin, origin).
			Msg("intent rejected")
		return m.tracker.Snapshot(), err
	}

	err = m.execute(ctx, cmds, prev)
	result := "ok"
	if err != nil {
		result = "failed"
	}
	metrics.IntentsTotal.WithLabelValues(in.Name(), result).Inc()

	if prev.Mode != m.model.Mode {
		m.logger.Info().
			Str(xlog.FieldEvent, "state.changed").
			Str(xlog.FieldIntent, in.Name()).
			Str(xlog.FieldOrigin, origin).
			Str(xlog.FieldOldState, prev.Mode.String()).
			Str(xlog.FieldNewState, m.model.Mode.String()).
			Msg("state changed")
	} else {
		m.logger.Debug().
			Str(xlog.FieldEvent, "intent.applied").
			Str(xlog.FieldIntent, in.Name()).
			Str(xlog.FieldOrigin, origin).
			Msg("intent applied")
	}
	return m.publish(), err
}

// execute runs cmds in order. Follow-up transitions (start failures,
// reload results) are applied inline so no other intent interleaves.
func (m *Machine) execute(ctx context.Context, cmds []Command, prev Model) error {
	var firstErr error
	for _, cmd := range cmds {
		var err error
		switch c := cmd.(type) {
		case CmdStart:
			err = m.start(ctx, c)
		case CmdStop:
			m.cancelRetry()
			m.player.Stop()
		case CmdPause:
			m.cancelRetry()
			if perr := m.player.Pause(); perr != nil {
				err = m.follow(ctx, commandFailed{Err: perr})
				if err == nil {
					err = perr
				}
			}
		case CmdResume:
			if rerr := m.player.Resume(ctx); rerr != nil {
				metrics.PlayerFailuresTotal.WithLabelValues("start").Inc()
				_ = m.follow(ctx, startFailed{Err: rerr})
				err = rerr
			}
		case CmdSetVolume:
			m.applyVolume(ctx, c.Volume)
		case CmdSaveAlarms:
			if serr := m.store.Save(c.Configs); serr != nil {
				m.model = prev
				m.logger.Error().Err(serr).Str(xlog.FieldEvent, "alarms.save_failed").Msg("alarm change reverted")
				return fmt.Errorf("save alarms: %w", serr)
			}
		case CmdRetry:
			m.scheduleRetry(ctx, c)
		case CmdReloadPlaylist:
			var url string
			if cur, ok := m.stations.Get(m.model.Station); ok {
				url = cur.URL
			} else if m.model.Mode != Idle {
				url = m.playing.URL
			}
			n, rerr := m.stations.Reload()
			if rerr != nil {
				err = fmt.Errorf("reload playlist: %w", rerr)
				break
			}
			idx := -1
			if url != "" {
				idx = m.stations.IndexOf(url)
			}
			err = m.follow(ctx, playlistReloaded{Count: n, Station: idx})
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// follow applies a machine-raised intent and executes its commands.
func (m *Machine) follow(ctx context.Context, in Intent) error {
	prev := m.model.Clone()
	cmds, err := m.model.Apply(in, m.now())
	if err != nil {
		return err
	}
	return m.execute(ctx, cmds, prev)
}

func (m *Machine) start(ctx context.Context, c CmdStart) error {
	st, ok := m.stations.Get(c.Station)
	if c.Cause == CauseRetry && m.playing.URL != "" {
		// A retry restarts the stream that died, even if a reload moved
		// or removed it.
		st, ok = m.playing, true
	}
	if !ok {
		err := &player.PlaybackFailure{Err: fmt.Errorf("station index %d not loaded", c.Station)}
		_ = m.follow(ctx, startFailed{Err: err})
		return err
	}
	if c.Cause != CauseRetry {
		m.cancelRetry()
	}

	metrics.PlayerStartsTotal.WithLabelValues(c.Cause).Inc()
	if c.Cause == CauseAlarm {
		metrics.AlarmFiresTotal.WithLabelValues("regular").Inc()
	}
	m.logger.Info().
		Str(xlog.FieldEvent, "player.start").
		Str(xlog.FieldStation, st.Name).
		Str(xlog.FieldURL, st.URL).
		Str("cause", c.Cause).
		Int(xlog.FieldAttempt, m.model.Retries).
		Msg("starting playback")

	m.playing = st
	if err := m.player.Start(ctx, st); err != nil {
		metrics.PlayerFailuresTotal.WithLabelValues("start").Inc()
		m.logger.Warn().Err(err).
			Str(xlog.FieldEvent, "player.start_failed").
			Str(xlog.FieldStation, st.Name).
			Msg("playback failed to start")
		_ = m.follow(ctx, startFailed{Err: err, Retry: c.Cause == CauseRetry})
		return err
	}
	return nil
}

func (m *Machine) applyVolume(ctx context.Context, v int) {
	if _, err := m.player.SetVolume(ctx, v); err != nil {
		m.logger.Warn().Err(err).
			Str(xlog.FieldEvent, "volume.failed").
			Int(xlog.FieldVolume, v).
			Msg("mixer rejected volume")
		_ = m.follow(ctx, commandFailed{Err: err})
	}
	metrics.Volume.Set(float64(v))
}

func (m *Machine) scheduleRetry(ctx context.Context, c CmdRetry) {
	m.cancelRetry()
	m.logger.Info().
		Str(xlog.FieldEvent, "player.retry_scheduled").
		Int(xlog.FieldAttempt, m.model.Retries).
		Dur("delay", c.Delay).
		Msg("playback retry scheduled")
	m.retryTimer = time.AfterFunc(c.Delay, func() {
		_ = m.Post(ctx, "retry", retry{Gen: c.Gen})
	})
}

func (m *Machine) cancelRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// checkHealth turns the player's health into an internal intent.
func (m *Machine) checkHealth(ctx context.Context) {
	h := m.player.Health()
	switch {
	case h.Err != nil:
		metrics.PlayerFailuresTotal.WithLabelValues("exit").Inc()
		_, _ = m.handle(ctx, "health", healthFailed{Err: h.Err})
	case h.Running && m.model.Retries > 0 && h.Uptime >= m.opts.Policy.StableAfter:
		_, _ = m.handle(ctx, "health", healthStable{})
	default:
		if info := m.player.Info(); info != m.lastInfo {
			m.publish()
		}
	}
}

// publish writes the model to the status tracker and notifies observers.
func (m *Machine) publish() status.Snapshot {
	model := &m.model
	r := status.Radio{
		Mode:         model.Mode.String(),
		KnobMode:     model.Knob.String(),
		StationCount: m.stations.Len(),
		Volume:       model.Volume,
		Alarms:       model.Alarms.Views(),
		LastError:    model.LastError,
	}
	if st, ok := m.stations.Get(model.Station); ok {
		r.Station = &st
	} else if model.Mode != Idle && m.playing.URL != "" {
		st := m.playing
		st.Index = -1
		r.Station = &st
	}
	if v, ok := model.Alarms.Active(); ok {
		r.ActiveAlarm = &v
	}
	if v, ok := model.Alarms.Next(); ok {
		r.NextAlarm = &v
	}
	m.seq++
	r.Seq = m.seq

	m.lastInfo = m.player.Info()
	m.tracker.SetRadio(r)
	m.tracker.SetStream(m.lastInfo)
	metrics.Playing.Set(metrics.BoolGauge(model.active()))

	snap := m.tracker.Snapshot()
	m.mu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range observers {
		o.StatusChanged(snap)
	}
	return snap
}

// IsUnavailable reports whether err means playback could not be provided.
func IsUnavailable(err error) bool {
	return player.IsPlaybackFailure(err) || errors.Is(err, ErrStopped)
}
