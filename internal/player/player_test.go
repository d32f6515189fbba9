package player

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/radio-alarm/internal/config"
	"github.com/sweeney/radio-alarm/internal/playlist"
)

var (
	stationA = playlist.Station{Index: 0, Name: "A", URL: "http://a.example/stream"}
	stationB = playlist.Station{Index: 1, Name: "B", URL: "http://b.example/stream"}
)

func newTestController(t *testing.T, script string, mutate ...func(*Options)) *Controller {
	t.Helper()
	opts := Options{
		Command:       []string{"sh", "-c", script},
		PauseMode:     config.PauseStop,
		StopGrace:     time.Second,
		StartupWindow: 100 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c := New(opts)
	t.Cleanup(c.Stop)
	return c
}

func groupAlive(pid int) bool {
	return syscall.Kill(-pid, 0) == nil
}

func TestExpandCommand(t *testing.T) {
	assert.Equal(t, []string{"mpg123", "-v", "http://x"}, expandCommand([]string{"mpg123", "-v", "{url}"}, "http://x"))
	assert.Equal(t, []string{"mpv", "http://x"}, expandCommand([]string{"mpv"}, "http://x"))
	assert.Equal(t, []string{"p", "--url=http://x"}, expandCommand([]string{"p", "--url={url}"}, "http://x"))
}

func TestStartIsIdempotent(t *testing.T) {
	c := newTestController(t, "sleep 30")
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, stationA))
	first := c.Health()
	require.True(t, first.Running)

	require.NoError(t, c.Start(ctx, stationA))
	second := c.Health()
	assert.Equal(t, first.PID, second.PID, "second start must not spawn a new child")
	assert.Equal(t, Playing, second.State)
}

func TestStartSwitchesStation(t *testing.T) {
	c := newTestController(t, "sleep 30")
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, stationA))
	oldPID := c.Health().PID

	require.NoError(t, c.Start(ctx, stationB))
	h := c.Health()
	assert.NotEqual(t, oldPID, h.PID)
	assert.False(t, groupAlive(oldPID), "previous child must be gone")
	assert.Equal(t, stationB.URL, c.Info().StreamURL)
}

func TestStartFailsWhenChildExitsDuringStartup(t *testing.T) {
	c := newTestController(t, "echo 'cannot resolve host' >&2; exit 3")

	err := c.Start(context.Background(), stationA)
	var pf *PlaybackFailure
	require.True(t, errors.As(err, &pf), "expected PlaybackFailure, got %v", err)
	assert.Equal(t, stationA.URL, pf.URL)
	assert.Contains(t, err.Error(), "cannot resolve host")
	assert.Equal(t, Stopped, c.Health().State)
}

func TestStartMissingExecutable(t *testing.T) {
	c := New(Options{Command: []string{filepath.Join(t.TempDir(), "no-such-player")}})
	err := c.Start(context.Background(), stationA)
	assert.True(t, IsPlaybackFailure(err), "expected PlaybackFailure, got %v", err)
}

func TestExternalKillReportedByHealth(t *testing.T) {
	c := newTestController(t, "sleep 30")
	require.NoError(t, c.Start(context.Background(), stationA))
	pid := c.Health().PID

	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	select {
	case <-c.Exits():
	case <-time.After(2 * time.Second):
		t.Fatal("no exit notification")
	}

	h := c.Health()
	assert.False(t, h.Running)
	assert.Equal(t, Stopped, h.State)
	assert.True(t, IsPlaybackFailure(h.Err), "expected PlaybackFailure, got %v", h.Err)

	// Reported once; the child has been released.
	assert.NoError(t, c.Health().Err)
}

func TestStopKillsWholeGroup(t *testing.T) {
	c := newTestController(t, "sleep 30 & sleep 30")
	require.NoError(t, c.Start(context.Background(), stationA))
	pid := c.Health().PID

	c.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, groupAlive(pid), "process group still alive after Stop")
	assert.Equal(t, Stopped, c.Health().State)

	select {
	case <-c.Exits():
		t.Error("requested stop must not be reported as an exit")
	default:
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	c := newTestController(t, "trap '' TERM; sleep 30", func(o *Options) {
		o.StopGrace = 200 * time.Millisecond
	})
	require.NoError(t, c.Start(context.Background(), stationA))
	pid := c.Health().PID

	start := time.Now()
	c.Stop()
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, groupAlive(pid))
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	c := newTestController(t, "sleep 30")
	c.Stop()
	c.Stop()
	assert.Equal(t, Stopped, c.Health().State)
}

func TestPauseStopModeRestartsOnResume(t *testing.T) {
	c := newTestController(t, "sleep 30")
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, stationA))
	pid := c.Health().PID

	require.NoError(t, c.Pause())
	h := c.Health()
	assert.Equal(t, Paused, h.State)
	assert.False(t, h.Running)

	require.NoError(t, c.Resume(ctx))
	h = c.Health()
	assert.Equal(t, Playing, h.State)
	assert.True(t, h.Running)
	assert.NotEqual(t, pid, h.PID)
	assert.Equal(t, stationA.URL, c.Info().StreamURL)
}

func TestPauseSignalModeKeepsChild(t *testing.T) {
	c := newTestController(t, "sleep 30", func(o *Options) { o.PauseMode = config.PauseSignal })
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, stationA))
	pid := c.Health().PID

	require.NoError(t, c.Pause())
	h := c.Health()
	assert.Equal(t, Paused, h.State)
	assert.Equal(t, pid, h.PID)

	// Start on the same station resumes rather than respawning.
	require.NoError(t, c.Start(ctx, stationA))
	h = c.Health()
	assert.Equal(t, Playing, h.State)
	assert.Equal(t, pid, h.PID)
}

func TestPausedChildKilledRespawnsOnResume(t *testing.T) {
	c := newTestController(t, "sleep 30", func(o *Options) { o.PauseMode = config.PauseSignal })
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, stationA))
	pid := c.Health().PID
	require.NoError(t, c.Pause())

	require.NoError(t, syscall.Kill(-pid, syscall.SIGKILL))
	select {
	case <-c.Exits():
	case <-time.After(2 * time.Second):
		t.Fatal("no exit notification")
	}

	h := c.Health()
	assert.NoError(t, h.Err)
	assert.Equal(t, Paused, h.State)
	assert.False(t, h.Running)

	require.NoError(t, c.Resume(ctx))
	h = c.Health()
	assert.Equal(t, Playing, h.State)
	assert.True(t, h.Running)
	assert.NotEqual(t, pid, h.PID)
}

func TestMetadataParsedAndMirrored(t *testing.T) {
	infoPath := filepath.Join(t.TempDir(), "current_stream.json")
	script := `printf "ICY-NAME: Test FM\nICY-URL: http://testfm.example\nMPEG 1.0 L III cbr128 44100 j-s\nMPEG 1.0 layer III, 128 kbit/s, 44100 Hz joint-stereo\nMPEG 1.0, 128 kbit/s, 44 kHz Stereo\n"; printf "StreamTitle='Artist - Song';\r"; sleep 30`
	c := newTestController(t, script, func(o *Options) { o.InfoPath = infoPath })
	require.NoError(t, c.Start(context.Background(), stationA))

	require.Eventually(t, func() bool {
		return c.Info().Title == "Artist - Song"
	}, 2*time.Second, 10*time.Millisecond)

	info := c.Info()
	assert.Equal(t, "Test FM", info.StationName)
	assert.Equal(t, "http://testfm.example", info.StationURL)
	assert.Equal(t, "128 kbit/s", info.Bitrate)
	assert.Equal(t, "44 kHz", info.Samplerate)
	assert.Equal(t, "Stereo", info.Channels)

	var mirrored StreamInfo
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(infoPath)
		if err != nil || json.Unmarshal(data, &mirrored) != nil {
			return false
		}
		return mirrored.Title == "Artist - Song"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, stationA.URL, mirrored.StreamURL)
}

type recordingMixer struct {
	got []int
	err error
}

func (m *recordingMixer) SetVolume(_ context.Context, v int) error {
	m.got = append(m.got, v)
	return m.err
}

func TestSetVolumeClamps(t *testing.T) {
	mixer := &recordingMixer{}
	c := New(Options{Command: []string{"true"}, Mixer: mixer})
	ctx := context.Background()

	for _, tt := range []struct{ in, want int }{{50, 50}, {-5, 0}, {140, 100}, {0, 0}, {100, 100}} {
		v, err := c.SetVolume(ctx, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v)
	}
	assert.Equal(t, []int{50, 0, 100, 0, 100}, mixer.got)
}

func TestSetVolumeMixerError(t *testing.T) {
	c := New(Options{Command: []string{"true"}, Mixer: &recordingMixer{err: errors.New("no card")}})
	v, err := c.SetVolume(context.Background(), 70)
	assert.Equal(t, 70, v)
	assert.ErrorContains(t, err, "no card")
}

func TestAmixerMixer(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	bin := filepath.Join(dir, "amixer")
	script := "#!/bin/sh\necho \"$@\" > " + out + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	m := AmixerMixer{Control: "Master", Path: bin}
	require.NoError(t, m.SetVolume(context.Background(), 35))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "sset Master 35%\n", string(data))
}

func TestAmixerMixerFailure(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "amixer")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'Unable to find simple control' >&2\nexit 1\n"), 0o755))

	err := AmixerMixer{Control: "PCM", Path: bin}.SetVolume(context.Background(), 10)
	assert.ErrorContains(t, err, "Unable to find simple control")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Player
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, AmixerMixer{Control: "Master"}, opts.Mixer)

	cfg.Mixer = config.MixerNone
	assert.Equal(t, NoopMixer{}, OptionsFromConfig(cfg).Mixer)
}
