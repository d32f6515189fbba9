package internal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/config"
	"github.com/sweeney/radio-alarm/internal/control"
	"github.com/sweeney/radio-alarm/internal/daemon"
	"github.com/sweeney/radio-alarm/internal/gpio"
	"github.com/sweeney/radio-alarm/internal/input"
	"github.com/sweeney/radio-alarm/internal/mqtt"
	"github.com/sweeney/radio-alarm/internal/player"
	"github.com/sweeney/radio-alarm/internal/playlist"
	"github.com/sweeney/radio-alarm/internal/status"
)

var stations = []playlist.Station{
	{Name: "One", URL: "http://one.example/stream"},
	{Name: "Two", URL: "http://two.example/stream"},
}

func repeat(s gpio.Sample, n int) []gpio.Sample {
	out := make([]gpio.Sample, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// run starts fn in the background and stops it at test cleanup.
func run(t *testing.T, fn func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = fn(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func newMachine(t *testing.T, p daemon.Player, policy daemon.Policy, tracker *status.Tracker) *daemon.Machine {
	t.Helper()
	return daemon.New(daemon.Options{
		Policy:         policy,
		InitialVolume:  50,
		HealthInterval: 20 * time.Millisecond,
		Location:       time.UTC,
		MissedWindow:   2 * time.Minute,
	}, daemon.Deps{
		Player:   p,
		Stations: playlist.NewStatic(stations),
		Store:    alarm.NewFileStore(filepath.Join(t.TempDir(), "alarms.json")),
		Tracker:  tracker,
	})
}

// TestIntegrationAlarmButtonToMQTT drives the alarm button through the
// input driver and checks the state change reaches MQTT.
func TestIntegrationAlarmButtonToMQTT(t *testing.T) {
	rest := gpio.Sample{DT: true, CLK: true}
	pressed := gpio.Sample{DT: true, CLK: true, Alarm: true}
	samples := append(repeat(rest, 30), repeat(pressed, 30)...)
	samples = append(samples, rest)

	reader := gpio.NewFakeReader(samples)
	pub := mqtt.NewFakePublisher()
	fake := player.NewFake()
	tracker := status.NewTracker(time.Now(), status.Config{Broker: "tcp://broker:1883"})
	m := newMachine(t, fake, daemon.Policy{VolumeStep: 5, MaxRetries: 3, RetryBackoff: time.Second}, tracker)

	exec := control.NewExecutor(m, playlist.NewStatic(stations))
	bridge := mqtt.NewBridge(pub, tracker, exec, mqtt.BridgeOptions{MinGap: time.Millisecond, Commands: true})
	m.Subscribe(bridge)

	run(t, m.Run)
	run(t, bridge.Run)
	drv := input.NewDriver(reader, time.Millisecond, input.Options{
		Debounce:       5 * time.Millisecond,
		LongPress:      time.Second,
		StepsPerDetent: 4,
	})
	run(t, func(ctx context.Context) error {
		return drv.Run(ctx, func(ev input.Event) {
			_ = m.Post(ctx, "gpio", daemon.Input{Event: ev})
		})
	})

	require.Eventually(t, func() bool { return fake.State() == player.Playing }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, stations[0].URL, fake.URL())

	require.Eventually(t, func() bool {
		for _, payload := range pub.Statuses() {
			var sj status.StatusJSON
			if json.Unmarshal(payload, &sj) == nil && sj.Mode == "playing" && sj.CurrentStation == 1 {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	// A command arriving over MQTT goes through the same path.
	pub.Deliver([]byte("volume 80"))
	require.Eventually(t, func() bool { return fake.Volume() == 80 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fake.Spawns(), "button press must start exactly one player")
}

func shellPlayer(script string) *player.Controller {
	return player.New(player.Options{
		Command:       []string{"sh", "-c", script, "{url}"},
		PauseMode:     config.PauseStop,
		StopGrace:     500 * time.Millisecond,
		StartupWindow: 50 * time.Millisecond,
	})
}

// TestIntegrationPlayerKilledIsRestarted kills a real child from outside and
// expects the daemon to spawn a replacement.
func TestIntegrationPlayerKilledIsRestarted(t *testing.T) {
	ctrl := shellPlayer("exec sleep 30")
	t.Cleanup(func() { ctrl.Close() })
	m := newMachine(t, ctrl, daemon.Policy{VolumeStep: 5, MaxRetries: 3, RetryBackoff: 20 * time.Millisecond, StableAfter: time.Minute}, nil)
	run(t, m.Run)

	_, err := m.Submit(context.Background(), "test", daemon.Play{})
	require.NoError(t, err)
	first := ctrl.Health().PID
	require.NotZero(t, first)

	require.NoError(t, syscall.Kill(first, syscall.SIGKILL))

	require.Eventually(t, func() bool {
		h := ctrl.Health()
		return h.Running && h.PID != first
	}, 5*time.Second, 10*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, "playing", snap.Radio.Mode)
	assert.NotEmpty(t, snap.Radio.LastError, "the crash is reported")
}

// TestIntegrationCrashingPlayerGivesUp uses a player that keeps dying after
// startup. Retries are bounded and the daemon ends idle with an error.
func TestIntegrationCrashingPlayerGivesUp(t *testing.T) {
	ctrl := shellPlayer("sleep 0.2; exit 3")
	t.Cleanup(func() { ctrl.Close() })
	m := newMachine(t, ctrl, daemon.Policy{VolumeStep: 5, MaxRetries: 2, RetryBackoff: 20 * time.Millisecond, StableAfter: time.Minute}, nil)
	run(t, m.Run)

	_, err := m.Submit(context.Background(), "test", daemon.Play{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Snapshot().Radio.Mode == "idle"
	}, 5*time.Second, 10*time.Millisecond)

	snap := m.Snapshot()
	assert.Contains(t, snap.Radio.LastError, "gave up after 2 retries")
	assert.Equal(t, "stopped", snap.Playback())
	assert.True(t, snap.Degraded())
	assert.False(t, ctrl.Health().Running)
}

// TestIntegrationMissingPlayerExecutable reports the failure to the caller
// without retrying.
func TestIntegrationMissingPlayerExecutable(t *testing.T) {
	ctrl := player.New(player.Options{Command: []string{"/nonexistent/player", "{url}"}})
	m := newMachine(t, ctrl, daemon.Policy{VolumeStep: 5, MaxRetries: 3, RetryBackoff: 20 * time.Millisecond}, nil)
	run(t, m.Run)

	snap, err := m.Submit(context.Background(), "test", daemon.Play{})
	require.Error(t, err)
	assert.True(t, daemon.IsUnavailable(err))
	var pf *player.PlaybackFailure
	assert.True(t, errors.As(err, &pf))
	assert.Equal(t, "idle", snap.Radio.Mode)
}
