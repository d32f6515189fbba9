package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/player"
	"github.com/sweeney/radio-alarm/internal/playlist"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{HTTPAddr: ":8080", Broker: "tcp://localhost:1883"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Radio.Mode != "idle" {
		t.Errorf("Mode: got %q, want idle", snap.Radio.Mode)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Degraded() {
		t.Error("expected not degraded initially")
	}
}

func TestSetRadioAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	st := playlist.Station{Index: 2, Name: "Jazz", URL: "http://jazz"}

	tr.SetRadio(Radio{Mode: "playing", Station: &st, StationCount: 5, Volume: 40})

	snap := tr.Snapshot()
	if snap.Radio.Mode != "playing" || snap.Playback() != "playing" {
		t.Errorf("mode: got %q/%q", snap.Radio.Mode, snap.Playback())
	}
	if snap.Radio.Station.ID() != 3 {
		t.Errorf("station id: got %d, want 3", snap.Radio.Station.ID())
	}
	if snap.Radio.Volume != 40 {
		t.Errorf("volume: got %d, want 40", snap.Radio.Volume)
	}
}

func TestPlaybackMapping(t *testing.T) {
	for mode, want := range map[string]string{
		"idle": "stopped", "playing": "playing", "paused": "paused", "ringing": "playing", "snoozed": "stopped",
	} {
		snap := Snapshot{Radio: Radio{Mode: mode}}
		if got := snap.Playback(); got != want {
			t.Errorf("%s: got %q, want %q", mode, got, want)
		}
	}
}

func TestSetInputDegrades(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetInput(true, nil)
	if tr.Snapshot().Degraded() {
		t.Error("expected healthy input")
	}

	tr.SetInput(false, errors.New("gpio read lines: device busy"))
	snap := tr.Snapshot()
	if snap.InputEnabled || !snap.Degraded() {
		t.Errorf("expected disabled and degraded, got %+v", snap)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetRadio(Radio{Mode: "playing", Volume: 10})

	snap := tr.Snapshot()
	tr.SetRadio(Radio{Mode: "idle", Volume: 90})

	if snap.Radio.Mode != "playing" || snap.Radio.Volume != 10 {
		t.Error("snapshot should be independent of later updates")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(v int) {
			defer wg.Done()
			tr.SetRadio(Radio{Mode: "playing", Volume: v})
		}(i)
		go func() {
			defer wg.Done()
			tr.SetMQTTConnected(true)
		}()
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)
	st := playlist.Station{Index: 0, Name: "News", URL: "http://news"}
	active := alarm.View{
		Config:  alarm.Config{ID: "a1", Time: "07:00", Label: "work"},
		Runtime: alarm.Runtime{Status: alarm.Snoozed, SnoozedUntil: start.Add(time.Hour + 9*time.Minute)},
	}
	snap := Snapshot{
		Radio: Radio{
			Mode:         "snoozed",
			KnobMode:     "volume",
			Station:      &st,
			StationCount: 4,
			Volume:       55,
			ActiveAlarm:  &active,
			LastError:    "playback failure",
		},
		Stream:    player.StreamInfo{StreamURL: "http://news", Title: "Headlines"},
		StartTime: start,
		Now:       start.Add(90 * time.Second),
		Config:    Config{Broker: "tcp://b:1883"},
	}

	var got StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Mode != "snoozed" || got.Status != "stopped" {
		t.Errorf("mode/status: got %q/%q", got.Mode, got.Status)
	}
	if got.CurrentStation != 1 || got.Station == nil || got.Station.Index != 0 {
		t.Errorf("station: got %d %+v", got.CurrentStation, got.Station)
	}
	if got.StationName != "News" {
		t.Errorf("station_name should fall back to the playlist name, got %q", got.StationName)
	}
	if got.Title != "Headlines" || got.Volume != 55 || got.TotalStations != 4 {
		t.Errorf("unexpected fields: %+v", got)
	}
	if got.Alarm == nil || got.Alarm.Status != "snoozed" || got.Alarm.SnoozedUntil != "2026-10-14T07:09:00Z" {
		t.Errorf("alarm: got %+v", got.Alarm)
	}
	if got.NextAlarm != nil {
		t.Errorf("expected no next alarm, got %+v", got.NextAlarm)
	}
	if !got.Degraded || got.UptimeSeconds != 90 {
		t.Errorf("degraded/uptime: got %v/%d", got.Degraded, got.UptimeSeconds)
	}
	if got.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("mqtt broker: got %q", got.MQTT.Broker)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{Radio: Radio{Mode: "idle"}, StartTime: time.Now(), Now: time.Now()}
	var got map[string]any
	if err := json.Unmarshal(FormatStatusEvent(snap, "STARTUP", "START"), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["event"] != "STARTUP" || got["reason"] != "START" {
		t.Errorf("event fields: %v", got)
	}
	if got["station"] != nil {
		t.Errorf("expected null station, got %v", got["station"])
	}
}
