package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sweeney/radio-alarm/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingExecutor struct {
	mu    sync.Mutex
	lines []string
}

func (e *recordingExecutor) Execute(_ context.Context, origin, line string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, origin+":"+line)
	if line == "bogus" {
		return "ERROR: unknown command", errors.New("unknown command")
	}
	return "OK", nil
}

func (e *recordingExecutor) Lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.lines...)
}

func runBridge(t *testing.T, b *Bridge) (context.CancelCauseFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel(nil)
		<-done
	})
	return cancel, done
}

func decode(t *testing.T, payload []byte) status.StatusJSON {
	t.Helper()
	var s status.StatusJSON
	require.NoError(t, json.Unmarshal(payload, &s))
	return s
}

func TestBridgeLifecycle(t *testing.T) {
	pub := NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{Broker: "tcp://broker:1883"})
	b := NewBridge(pub, tracker, nil, BridgeOptions{})

	cancel, done := runBridge(t, b)
	require.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, 5*time.Millisecond)

	startup := pub.Events()[0]
	assert.Equal(t, EventStartup, startup.Event)
	assert.True(t, startup.Retained)
	s := decode(t, startup.RawPayload)
	assert.Equal(t, "STARTUP", s.Event)
	assert.True(t, s.MQTT.Connected)

	cancel(errors.New("SIGTERM"))
	require.NoError(t, <-done)
	done <- nil // let cleanup drain

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventShutdown, events[1].Event)
	assert.Equal(t, "SIGTERM", events[1].Reason)
	assert.Equal(t, "SIGTERM", decode(t, events[1].RawPayload).Reason)
}

func TestBridgePublishesLatestStatus(t *testing.T) {
	pub := NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{})
	b := NewBridge(pub, tracker, nil, BridgeOptions{MinGap: time.Millisecond})
	runBridge(t, b)

	for v := 1; v <= 5; v++ {
		b.StatusChanged(status.Snapshot{Radio: status.Radio{Mode: "playing", Volume: v}})
	}

	require.Eventually(t, func() bool {
		st := pub.Statuses()
		if len(st) == 0 {
			return false
		}
		var last status.StatusJSON
		return json.Unmarshal(st[len(st)-1], &last) == nil && last.Volume == 5
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, len(pub.Statuses()), 5)

	last := decode(t, pub.Statuses()[len(pub.Statuses())-1])
	assert.Equal(t, "STATUS", last.Event)
	assert.Equal(t, "playing", last.Mode)
}

func TestBridgeStatusChangedNeverBlocks(t *testing.T) {
	b := NewBridge(NewFakePublisher(), status.NewTracker(time.Now(), status.Config{}), nil, BridgeOptions{})
	for i := 0; i < 100; i++ {
		b.StatusChanged(status.Snapshot{Radio: status.Radio{Volume: i}})
	}
	snap := <-b.updates
	assert.Equal(t, 99, snap.Radio.Volume)
}

func TestBridgeCommands(t *testing.T) {
	pub := NewFakePublisher()
	exec := &recordingExecutor{}
	b := NewBridge(pub, status.NewTracker(time.Now(), status.Config{}), exec, BridgeOptions{Commands: true})
	runBridge(t, b)

	require.Eventually(t, func() bool { return pub.Deliver([]byte("volume +5")) }, time.Second, 5*time.Millisecond)
	pub.Deliver([]byte("bogus"))

	assert.Equal(t, []string{"mqtt:volume +5", "mqtt:bogus"}, exec.Lines())
}

func TestBridgeCommandsDisabled(t *testing.T) {
	pub := NewFakePublisher()
	b := NewBridge(pub, status.NewTracker(time.Now(), status.Config{}), &recordingExecutor{}, BridgeOptions{})
	runBridge(t, b)

	require.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, pub.Deliver([]byte("play")))
}

func TestBridgeHeartbeat(t *testing.T) {
	pub := NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{})
	b := NewBridge(pub, tracker, nil, BridgeOptions{Heartbeat: 10 * time.Millisecond})
	runBridge(t, b)

	require.Eventually(t, func() bool {
		for _, e := range pub.Events() {
			if e.Event == EventHeartbeat {
				return !e.Retained
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeTracksConnection(t *testing.T) {
	pub := NewFakePublisher()
	pub.Connected = false
	tracker := status.NewTracker(time.Now(), status.Config{})
	b := NewBridge(pub, tracker, nil, BridgeOptions{})
	runBridge(t, b)

	require.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, tracker.Snapshot().MQTTConnected)
	assert.False(t, decode(t, pub.Events()[0].RawPayload).MQTT.Connected)
}

func TestBridgePublishErrorsAreContained(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	pub.PublishSystemError = errors.New("broker down")
	b := NewBridge(pub, status.NewTracker(time.Now(), status.Config{}), nil, BridgeOptions{MinGap: time.Millisecond})
	cancel, done := runBridge(t, b)

	b.StatusChanged(status.Snapshot{})
	time.Sleep(20 * time.Millisecond)
	cancel(nil)
	assert.NoError(t, <-done)
	done <- nil
	assert.Empty(t, pub.Statuses())
}
