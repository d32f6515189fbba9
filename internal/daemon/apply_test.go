package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/input"
)

var t0 = time.Date(2026, 10, 14, 6, 59, 0, 0, time.UTC)

var testPolicy = Policy{
	VolumeStep:   5,
	MaxRetries:   3,
	RetryBackoff: time.Second,
	StableAfter:  30 * time.Second,
	AlarmStep:    5 * time.Minute,
}

func newModel(stations int, alarms ...alarm.Config) Model {
	return NewModel(testPolicy, 50, stations, alarm.NewTable(alarms, t0, time.UTC, 2*time.Minute))
}

func mustApply(t *testing.T, m *Model, in Intent) []Command {
	t.Helper()
	cmds, err := m.Apply(in, t0)
	require.NoError(t, err, "apply %s", in.Name())
	return cmds
}

func wakeAlarm(id string, station int) alarm.Config {
	return alarm.Config{ID: id, Time: "07:00", Enabled: true, SnoozeMinutes: 9, Station: station}
}

// ringing returns a model whose alarm "wake" (station 2) is ringing.
func ringing(t *testing.T) Model {
	t.Helper()
	m := newModel(5, wakeAlarm("wake", 2))
	cmds, err := m.Apply(Tick{Now: t0.Add(time.Minute)}, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []Command{CmdStart{Station: 2, Cause: CauseAlarm}}, cmds)
	require.Equal(t, Ringing, m.Mode)
	return m
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*testing.T) Model
		intent   Intent
		wantMode Mode
		wantCmds []Command
	}{
		{"idle play starts first station", func(*testing.T) Model { return newModel(3) }, Play{}, Playing, []Command{CmdStart{Station: 0, Cause: CauseRequest}}},
		{"idle toggle starts", func(*testing.T) Model { return newModel(3) }, TogglePause{}, Playing, []Command{CmdStart{Station: 0, Cause: CauseRequest}}},
		{"idle stop is noop", func(*testing.T) Model { return newModel(3) }, Stop{}, Idle, nil},
		{"playing play is noop", playingOn(1), Play{}, Playing, nil},
		{"playing stop", playingOn(1), Stop{}, Idle, []Command{CmdStop{}}},
		{"playing toggle pauses", playingOn(1), TogglePause{}, Paused, []Command{CmdPause{}}},
		{"paused play resumes", pausedOn(1), Play{}, Playing, []Command{CmdResume{}}},
		{"paused toggle resumes", pausedOn(1), TogglePause{}, Playing, []Command{CmdResume{}}},
		{"paused stop", pausedOn(1), Stop{}, Idle, []Command{CmdStop{}}},
		{"paused next starts", pausedOn(1), Next{}, Playing, []Command{CmdStart{Station: 2, Cause: CauseRequest}}},
		{"playing set station", playingOn(1), SetStation{Index: 4}, Playing, []Command{CmdStart{Station: 4, Cause: CauseRequest}}},
		{"ringing snooze", ringing, Snooze{}, Snoozed, []Command{CmdStop{}}},
		{"ringing toggle snoozes", ringing, TogglePause{}, Snoozed, []Command{CmdStop{}}},
		{"ringing dismiss", ringing, Dismiss{}, Idle, []Command{CmdStop{}}},
		{"ringing stop dismisses", ringing, Stop{}, Idle, []Command{CmdStop{}}},
		{"ringing next plays on", ringing, Next{}, Playing, []Command{CmdStart{Station: 3, Cause: CauseRequest}}},
		{"ringing play is noop", ringing, Play{}, Ringing, nil},
		{"snoozed dismiss", snoozed, Dismiss{}, Idle, nil},
		{"snoozed play", snoozed, Play{}, Playing, []Command{CmdStart{Station: 2, Cause: CauseRequest}}},
		{"snoozed prev", snoozed, Prev{}, Playing, []Command{CmdStart{Station: 1, Cause: CauseRequest}}},
		{"volume any state", ringing, SetVolume{Level: 80}, Ringing, []Command{CmdSetVolume{Volume: 80}}},
		{"reload", playingOn(0), ReloadPlaylist{}, Playing, []Command{CmdReloadPlaylist{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.setup(t)
			cmds := mustApply(t, &m, tt.intent)
			assert.Equal(t, tt.wantMode, m.Mode)
			if diff := cmp.Diff(tt.wantCmds, cmds); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func playingOn(i int) func(*testing.T) Model {
	return func(t *testing.T) Model {
		m := newModel(5)
		mustApply(t, &m, SetStation{Index: i})
		return m
	}
}

func pausedOn(i int) func(*testing.T) Model {
	return func(t *testing.T) Model {
		m := playingOn(i)(t)
		mustApply(t, &m, TogglePause{})
		return m
	}
}

func snoozed(t *testing.T) Model {
	m := ringing(t)
	mustApply(t, &m, Snooze{})
	return m
}

func TestRejectedIntentsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*testing.T) Model
		intent Intent
		want   error
	}{
		{"volume above range", playingOn(1), SetVolume{Level: 101}, ErrOutOfRange},
		{"volume below range", playingOn(1), SetVolume{Level: -1}, ErrOutOfRange},
		{"station out of range", playingOn(1), SetStation{Index: 5}, ErrOutOfRange},
		{"negative station", playingOn(1), SetStation{Index: -1}, ErrOutOfRange},
		{"snooze without alarm", playingOn(1), Snooze{}, ErrNotRinging},
		{"snooze while snoozed", snoozed, Snooze{}, ErrNotRinging},
		{"dismiss without alarm", playingOn(1), Dismiss{}, ErrNoActiveAlarm},
		{"delete unknown alarm", ringing, DeleteAlarm{ID: "nope"}, ErrNotFound},
		{"alarm bad time", playingOn(1), SetAlarm{Config: alarm.Config{Time: "25:00"}}, alarm.ErrInvalidTime},
		{"alarm station out of range", playingOn(1), SetAlarm{Config: alarm.Config{Time: "07:00", Station: 9}}, ErrOutOfRange},
		{"play with empty playlist", func(*testing.T) Model { return newModel(0) }, Play{}, ErrEmptyPlaylist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.setup(t)
			before := m.Clone()

			cmds, err := m.Apply(tt.intent, t0)
			assert.Nil(t, cmds)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.ErrorIs(t, err, tt.want)

			assert.Equal(t, before.Mode, m.Mode)
			assert.Equal(t, before.Station, m.Station)
			assert.Equal(t, before.Volume, m.Volume)
			assert.Equal(t, before.Gen, m.Gen)
			assert.Equal(t, before.Alarms.Views(), m.Alarms.Views())
		})
	}
}

func TestSetVolumeRoundTrip(t *testing.T) {
	m := newModel(1)
	for v := 0; v <= 100; v++ {
		cmds := mustApply(t, &m, SetVolume{Level: v})
		assert.Equal(t, []Command{CmdSetVolume{Volume: v}}, cmds)
		assert.Equal(t, v, m.Volume)
	}
}

func TestNextPrevWrap(t *testing.T) {
	m := newModel(3)
	mustApply(t, &m, SetStation{Index: 2})

	cmds := mustApply(t, &m, Next{})
	assert.Equal(t, []Command{CmdStart{Station: 0, Cause: CauseRequest}}, cmds)

	cmds = mustApply(t, &m, Prev{})
	assert.Equal(t, []Command{CmdStart{Station: 2, Cause: CauseRequest}}, cmds)

	fresh := newModel(3)
	cmds = mustApply(t, &fresh, Prev{})
	assert.Equal(t, []Command{CmdStart{Station: 2, Cause: CauseRequest}}, cmds)
}

func TestRapidRotationAppliedInOrder(t *testing.T) {
	m := newModel(1)
	m.Volume = 80
	for i := 0; i < 7; i++ {
		mustApply(t, &m, Input{Event: input.Event{Kind: input.RotateUp}})
	}
	assert.Equal(t, 100, m.Volume, "80 + 7*5 clamps to 100")

	for i := 0; i < 3; i++ {
		mustApply(t, &m, Input{Event: input.Event{Kind: input.RotateDown}})
	}
	assert.Equal(t, 85, m.Volume)

	for i := 0; i < 30; i++ {
		mustApply(t, &m, AdjustVolume{Delta: -5})
	}
	assert.Equal(t, 0, m.Volume)
}

func TestKnobModes(t *testing.T) {
	m := newModel(4)
	mustApply(t, &m, SetStation{Index: 0})
	assert.Equal(t, KnobVolume, m.Knob)

	mustApply(t, &m, Input{Event: input.Event{Kind: input.LongPress}})
	assert.Equal(t, KnobBrowse, m.Knob)
	cmds := mustApply(t, &m, Input{Event: input.Event{Kind: input.RotateDown}})
	assert.Equal(t, []Command{CmdStart{Station: 3, Cause: CauseRequest}}, cmds)

	mustApply(t, &m, Input{Event: input.Event{Kind: input.LongPress}})
	assert.Equal(t, KnobAlarm, m.Knob)
	cmds = mustApply(t, &m, Input{Event: input.Event{Kind: input.RotateUp}})
	require.Len(t, cmds, 1)
	save, ok := cmds[0].(CmdSaveAlarms)
	require.True(t, ok)
	require.Len(t, save.Configs, 1)
	assert.Equal(t, "07:05", save.Configs[0].Time)
	assert.Equal(t, 3, save.Configs[0].Station)
	assert.True(t, save.Configs[0].Enabled)

	cmds = mustApply(t, &m, Input{Event: input.Event{Kind: input.RotateDown}})
	assert.Equal(t, "07:00", cmds[0].(CmdSaveAlarms).Configs[0].Time)

	mustApply(t, &m, Input{Event: input.Event{Kind: input.LongPress}})
	assert.Equal(t, KnobVolume, m.Knob)
}

func TestButtonsWhileRinging(t *testing.T) {
	m := ringing(t)
	m.Knob = KnobBrowse

	// Rotation adjusts volume while ringing regardless of knob mode.
	cmds := mustApply(t, &m, Input{Event: input.Event{Kind: input.RotateUp}})
	assert.Equal(t, []Command{CmdSetVolume{Volume: 55}}, cmds)

	cmds = mustApply(t, &m, Input{Event: input.Event{Kind: input.LongPress}})
	assert.Equal(t, []Command{CmdStop{}}, cmds)
	assert.Equal(t, Snoozed, m.Mode)
	assert.Equal(t, KnobBrowse, m.Knob, "long press snoozes instead of changing knob mode")

	cmds = mustApply(t, &m, Input{Event: input.Event{Kind: input.ShortPress}})
	assert.Nil(t, cmds)
	assert.Equal(t, Idle, m.Mode)
}

func TestAlarmButton(t *testing.T) {
	press := Input{Event: input.Event{Kind: input.AlarmPress}}

	m := newModel(2)
	cmds := mustApply(t, &m, press)
	assert.Equal(t, []Command{CmdStart{Station: 0, Cause: CauseRequest}}, cmds)

	cmds = mustApply(t, &m, press)
	assert.Nil(t, cmds, "alarm button does nothing while playing")

	r := ringing(t)
	cmds = mustApply(t, &r, press)
	assert.Equal(t, []Command{CmdStop{}}, cmds)
	assert.Equal(t, Idle, r.Mode)
}

func TestSnoozeReschedulesAndDismissReturnsToIdle(t *testing.T) {
	m := ringing(t)
	at := t0.Add(2 * time.Minute)

	_, err := m.Apply(Snooze{}, at)
	require.NoError(t, err)
	v, ok := m.Alarms.Active()
	require.True(t, ok)
	assert.Equal(t, alarm.Snoozed, v.Runtime.Status)
	assert.Equal(t, at.Add(9*time.Minute), v.Runtime.FiresAt)

	// Snooze expiry rings again on the wake station.
	cmds, err := m.Apply(Tick{Now: at.Add(9 * time.Minute)}, at.Add(9*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []Command{CmdStart{Station: 2, Cause: CauseAlarm}}, cmds)
	assert.Equal(t, Ringing, m.Mode)

	cmds, err = m.Apply(Dismiss{}, at.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []Command{CmdStop{}}, cmds)
	assert.Equal(t, Idle, m.Mode)
	_, ok = m.Alarms.Active()
	assert.False(t, ok)
	v, _ = m.Alarms.Get("wake")
	assert.Equal(t, alarm.Scheduled, v.Runtime.Status)
}

func TestTickWhileRingingDoesNotRestart(t *testing.T) {
	m := newModel(3, wakeAlarm("a", 0), wakeAlarm("b", 1))
	cmds, err := m.Apply(Tick{Now: t0.Add(time.Minute)}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, cmds, 1, "only one alarm rings at a time")
	assert.Equal(t, Ringing, m.Mode)
}

func TestEditingActiveAlarmStopsIt(t *testing.T) {
	m := ringing(t)
	cfg := wakeAlarm("wake", 2)
	cfg.Time = "08:00"

	cmds := mustApply(t, &m, SetAlarm{Config: cfg})
	require.Len(t, cmds, 2)
	assert.IsType(t, CmdSaveAlarms{}, cmds[0])
	assert.Equal(t, CmdStop{}, cmds[1])
	assert.Equal(t, Idle, m.Mode)

	cmds = mustApply(t, &m, DeleteAlarm{ID: "wake"})
	assert.Equal(t, []Command{CmdSaveAlarms{Configs: []alarm.Config{}}}, cmds)
}

func TestRetryPolicy(t *testing.T) {
	m := playingOn(1)(t)
	gen := m.Gen
	failure := errors.New("player exited")

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		cmds := mustApply(t, &m, healthFailed{Err: failure})
		require.Len(t, cmds, 1)
		r, ok := cmds[0].(CmdRetry)
		require.True(t, ok, "expected retry, got %T", cmds[0])
		assert.Equal(t, gen, r.Gen)
		delays = append(delays, r.Delay)
		assert.Equal(t, Playing, m.Mode)

		cmds = mustApply(t, &m, retry{Gen: r.Gen})
		assert.Equal(t, []Command{CmdStart{Station: 1, Cause: CauseRetry}}, cmds)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)

	cmds := mustApply(t, &m, healthFailed{Err: failure})
	assert.Equal(t, []Command{CmdStop{}}, cmds)
	assert.Equal(t, Idle, m.Mode)
	assert.Contains(t, m.LastError, "gave up after 3 retries")
}

func TestStaleRetryIgnored(t *testing.T) {
	m := playingOn(1)(t)
	cmds := mustApply(t, &m, healthFailed{Err: errors.New("exit")})
	r := cmds[0].(CmdRetry)

	mustApply(t, &m, SetStation{Index: 3})
	assert.Nil(t, mustApply(t, &m, retry{Gen: r.Gen}))

	mustApply(t, &m, Stop{})
	assert.Nil(t, mustApply(t, &m, retry{Gen: m.Gen}))
}

func TestPlaylistReloadRepointsStation(t *testing.T) {
	m := playingOn(1)(t)
	gen := m.Gen
	assert.Nil(t, mustApply(t, &m, playlistReloaded{Count: 6, Station: 4}))
	assert.Equal(t, 4, m.Station)
	assert.Equal(t, 6, m.Stations)
	assert.Equal(t, Playing, m.Mode)
	assert.Equal(t, gen, m.Gen, "reload keeps the current stream")

	mustApply(t, &m, playlistReloaded{Count: 2, Station: -1})
	assert.Equal(t, -1, m.Station)
	assert.Equal(t, Playing, m.Mode)
}

func TestStableChildResetsRetryBudget(t *testing.T) {
	m := playingOn(1)(t)
	mustApply(t, &m, healthFailed{Err: errors.New("exit")})
	assert.Equal(t, 1, m.Retries)
	assert.NotEmpty(t, m.LastError)

	mustApply(t, &m, healthStable{})
	assert.Equal(t, 0, m.Retries)
	assert.Empty(t, m.LastError)
}

func TestStartFailure(t *testing.T) {
	m := playingOn(1)(t)
	cmds := mustApply(t, &m, startFailed{Err: errors.New("unreachable")})
	assert.Nil(t, cmds)
	assert.Equal(t, Idle, m.Mode)
	assert.Equal(t, "unreachable", m.LastError)

	r := ringing(t)
	mustApply(t, &r, startFailed{Err: errors.New("unreachable")})
	assert.Equal(t, Idle, r.Mode)
	v, _ := r.Alarms.Get("wake")
	assert.Equal(t, alarm.Scheduled, v.Runtime.Status, "failed alarm start goes back to scheduled")
}

func TestHealthFailureIgnoredWhenNotPlaying(t *testing.T) {
	m := pausedOn(1)(t)
	assert.Nil(t, mustApply(t, &m, healthFailed{Err: errors.New("exit")}))
	assert.Equal(t, Paused, m.Mode)
	assert.Empty(t, m.LastError)
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "ringing", Ringing.String())
	assert.Equal(t, "snoozed", Snoozed.String())
	assert.Equal(t, "browse", KnobBrowse.String())
	assert.Equal(t, "alarm", KnobAlarm.String())
}
