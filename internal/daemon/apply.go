package daemon

import (
	"fmt"
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/input"
	"github.com/sweeney/radio-alarm/internal/player"
)

// Apply performs the transition for in at time now and returns the
// commands the machine must execute, in order. It does no I/O. A rejected
// intent returns a *ValidationError and leaves m unchanged.
func (m *Model) Apply(in Intent, now time.Time) ([]Command, error) {
	switch in := in.(type) {
	case Play:
		return m.play(in, now)
	case Stop:
		return m.stop(now), nil
	case TogglePause:
		return m.togglePause(in, now)
	case Next:
		return m.step(in, 1, now)
	case Prev:
		return m.step(in, -1, now)
	case SetStation:
		if in.Index < 0 || in.Index >= m.Stations {
			return nil, invalid(in, "%w: station %d not in 1-%d", ErrOutOfRange, in.Index+1, m.Stations)
		}
		return m.playStation(in.Index, now), nil
	case SetVolume:
		if in.Level < 0 || in.Level > 100 {
			return nil, invalid(in, "%w: volume %d not in 0-100", ErrOutOfRange, in.Level)
		}
		return m.setVolume(in.Level), nil
	case AdjustVolume:
		return m.setVolume(player.Clamp(m.Volume + in.Delta)), nil
	case SetAlarm:
		return m.setAlarm(in, now)
	case DeleteAlarm:
		return m.deleteAlarm(in, now)
	case Snooze:
		return m.snooze(in, now)
	case Dismiss:
		return m.dismiss(in, now)
	case ReloadPlaylist:
		return []Command{CmdReloadPlaylist{}}, nil
	case Input:
		return m.input(in.Event, now)
	case Tick:
		return m.tick(in.Now), nil

	case healthFailed:
		if !m.active() {
			return nil, nil
		}
		m.LastError = in.Err.Error()
		return m.retryOrGiveUp(now), nil
	case healthStable:
		if m.Retries > 0 {
			m.Retries = 0
			m.LastError = ""
		}
		return nil, nil
	case retry:
		if in.Gen != m.Gen || !m.active() {
			return nil, nil
		}
		return []Command{CmdStart{Station: m.Station, Cause: CauseRetry}}, nil
	case startFailed:
		m.LastError = in.Err.Error()
		if in.Retry && m.active() {
			return m.retryOrGiveUp(now), nil
		}
		m.endAlarm(now)
		m.Mode = Idle
		m.Gen++
		m.Retries = 0
		return nil, nil
	case commandFailed:
		m.LastError = in.Err.Error()
		return nil, nil
	case playlistReloaded:
		m.Stations = in.Count
		m.Station = in.Station
		return nil, nil
	}
	return nil, invalid(in, "unsupported intent")
}

func (m *Model) active() bool {
	return m.Mode == Playing || m.Mode == Ringing
}

// current returns the station to play when none is named.
func (m *Model) current() int {
	if m.Station >= 0 && m.Station < m.Stations {
		return m.Station
	}
	return 0
}

// startOn moves to mode playing station i under a new generation.
func (m *Model) startOn(i int, cause string, mode Mode) []Command {
	m.Mode = mode
	m.Station = i
	m.Gen++
	m.Retries = 0
	m.LastError = ""
	return []Command{CmdStart{Station: i, Cause: cause}}
}

// endAlarm dismisses the ringing or snoozed alarm, if any.
func (m *Model) endAlarm(now time.Time) {
	if v, ok := m.Alarms.Active(); ok {
		m.Alarms.Dismiss(v.ID, now)
	}
}

func (m *Model) play(in Intent, now time.Time) ([]Command, error) {
	if m.Stations == 0 {
		return nil, invalid(in, "%w", ErrEmptyPlaylist)
	}
	switch m.Mode {
	case Playing, Ringing:
		return nil, nil
	case Paused:
		m.Mode = Playing
		m.Gen++
		return []Command{CmdResume{}}, nil
	case Snoozed:
		m.endAlarm(now)
	}
	return m.startOn(m.current(), CauseRequest, Playing), nil
}

func (m *Model) stop(now time.Time) []Command {
	switch m.Mode {
	case Idle:
		return nil
	case Snoozed:
		m.endAlarm(now)
		m.Mode = Idle
		return nil
	case Ringing:
		m.endAlarm(now)
	}
	m.Mode = Idle
	m.Gen++
	m.Retries = 0
	return []Command{CmdStop{}}
}

func (m *Model) togglePause(in Intent, now time.Time) ([]Command, error) {
	switch m.Mode {
	case Playing:
		m.Mode = Paused
		m.Gen++
		return []Command{CmdPause{}}, nil
	case Ringing:
		return m.snooze(in, now)
	}
	return m.play(in, now)
}

func (m *Model) step(in Intent, dir int, now time.Time) ([]Command, error) {
	if m.Stations == 0 {
		return nil, invalid(in, "%w", ErrEmptyPlaylist)
	}
	var i int
	switch {
	case m.Station < 0 && dir > 0:
		i = 0
	case m.Station < 0:
		i = m.Stations - 1
	default:
		i = ((m.current()+dir)%m.Stations + m.Stations) % m.Stations
	}
	return m.playStation(i, now), nil
}

func (m *Model) playStation(i int, now time.Time) []Command {
	if m.Mode == Ringing || m.Mode == Snoozed {
		m.endAlarm(now)
	}
	return m.startOn(i, CauseRequest, Playing)
}

func (m *Model) setVolume(v int) []Command {
	m.Volume = v
	return []Command{CmdSetVolume{Volume: v}}
}

// deactivate ends playback tied to alarm id if it is the active alarm.
// The table entry itself is replaced or removed by the caller.
func (m *Model) deactivate(id string) []Command {
	v, ok := m.Alarms.Active()
	if !ok || v.ID != id {
		return nil
	}
	wasRinging := m.Mode == Ringing
	if m.Mode == Ringing || m.Mode == Snoozed {
		m.Mode = Idle
		m.Gen++
	}
	if wasRinging {
		return []Command{CmdStop{}}
	}
	return nil
}

func (m *Model) setAlarm(in SetAlarm, now time.Time) ([]Command, error) {
	cfg := in.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Intent: in.Name(), Err: err}
	}
	if cfg.Station >= m.Stations {
		return nil, invalid(in, "%w: station %d not in 1-%d", ErrOutOfRange, cfg.Station+1, m.Stations)
	}
	stop := m.deactivate(cfg.ID)
	m.Alarms.Put(cfg, now)
	return append([]Command{CmdSaveAlarms{Configs: m.Alarms.Configs()}}, stop...), nil
}

func (m *Model) deleteAlarm(in DeleteAlarm, now time.Time) ([]Command, error) {
	if _, ok := m.Alarms.Get(in.ID); !ok {
		return nil, invalid(in, "alarm %q: %w", in.ID, ErrNotFound)
	}
	stop := m.deactivate(in.ID)
	m.Alarms.Delete(in.ID)
	return append([]Command{CmdSaveAlarms{Configs: m.Alarms.Configs()}}, stop...), nil
}

func (m *Model) snooze(in Intent, now time.Time) ([]Command, error) {
	if m.Mode != Ringing {
		return nil, invalid(in, "%w", ErrNotRinging)
	}
	v, ok := m.Alarms.Active()
	if !ok {
		return nil, invalid(in, "%w", ErrNotRinging)
	}
	m.Alarms.Snooze(v.ID, now)
	m.Mode = Snoozed
	m.Gen++
	m.Retries = 0
	return []Command{CmdStop{}}, nil
}

func (m *Model) dismiss(in Intent, now time.Time) ([]Command, error) {
	if m.Mode != Ringing && m.Mode != Snoozed {
		return nil, invalid(in, "%w", ErrNoActiveAlarm)
	}
	wasRinging := m.Mode == Ringing
	m.endAlarm(now)
	m.Mode = Idle
	m.Gen++
	m.Retries = 0
	if wasRinging {
		return []Command{CmdStop{}}, nil
	}
	return nil, nil
}

// input maps knob and button events onto intents according to the
// current mode and knob mode.
func (m *Model) input(ev input.Event, now time.Time) ([]Command, error) {
	switch ev.Kind {
	case input.RotateUp, input.RotateDown:
		dir := 1
		if ev.Kind == input.RotateDown {
			dir = -1
		}
		if m.Mode == Ringing || m.Knob == KnobVolume {
			return m.setVolume(player.Clamp(m.Volume + dir*m.Policy.VolumeStep)), nil
		}
		if m.Knob == KnobBrowse {
			if dir > 0 {
				return m.step(Next{}, dir, now)
			}
			return m.step(Prev{}, dir, now)
		}
		return m.shiftAlarm(dir, now)
	case input.ShortPress:
		if m.Mode == Ringing || m.Mode == Snoozed {
			return m.dismiss(Dismiss{}, now)
		}
		return m.togglePause(TogglePause{}, now)
	case input.LongPress:
		if m.Mode == Ringing {
			return m.snooze(Snooze{}, now)
		}
		m.Knob = m.Knob.next()
		return nil, nil
	case input.AlarmPress:
		switch m.Mode {
		case Ringing, Snoozed:
			return m.dismiss(Dismiss{}, now)
		case Idle, Paused:
			return m.play(Play{}, now)
		}
		return nil, nil
	}
	return nil, invalid(Input{Event: ev}, "unknown event kind %d", int(ev.Kind))
}

// shiftAlarm moves the first alarm by one alarm step, creating a 07:00
// alarm on the current station if there is none.
func (m *Model) shiftAlarm(dir int, now time.Time) ([]Command, error) {
	var cfg alarm.Config
	if cfgs := m.Alarms.Configs(); len(cfgs) > 0 {
		cfg = cfgs[0]
	} else {
		cfg = alarm.Config{Time: "07:00", Station: m.current(), Label: "knob"}
	}
	cfg = cfg.Shift(time.Duration(dir) * m.Policy.AlarmStep)
	cfg.Enabled = true
	return m.setAlarm(SetAlarm{Config: cfg}, now)
}

// tick rings the first due alarm. Occurrences that fall due while another
// alarm rings are consumed without ringing.
func (m *Model) tick(now time.Time) []Command {
	var cmds []Command
	for _, f := range m.Alarms.Due(now) {
		if m.Mode == Ringing {
			continue
		}
		if !f.Snooze {
			m.endAlarm(now)
		}
		m.Alarms.Ring(f.Config.ID, now)
		station := f.Config.Station
		if station >= m.Stations {
			station = m.current()
		}
		cmds = append(cmds, m.startOn(station, CauseAlarm, Ringing)...)
	}
	return cmds
}

// retryOrGiveUp schedules the next retry, or stops once the budget is spent.
func (m *Model) retryOrGiveUp(now time.Time) []Command {
	if m.Retries < m.Policy.MaxRetries {
		m.Retries++
		return []Command{CmdRetry{Gen: m.Gen, Delay: m.backoff()}}
	}
	m.LastError = fmt.Sprintf("%s (gave up after %d retries)", m.LastError, m.Retries)
	m.endAlarm(now)
	m.Mode = Idle
	m.Gen++
	m.Retries = 0
	return []Command{CmdStop{}}
}
