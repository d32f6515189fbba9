package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/playlist"
)

// StatusJSON is the JSON representation of a snapshot.
type StatusJSON struct {
	Event          string       `json:"event,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Mode           string       `json:"mode"`
	Status         string       `json:"status"`
	KnobMode       string       `json:"knob_mode"`
	CurrentStation int          `json:"current_station"`
	TotalStations  int          `json:"total_stations"`
	Station        *StationJSON `json:"station"`
	Volume         int          `json:"volume"`
	StationURL     string       `json:"station_url"`
	StationName    string       `json:"station_name"`
	Title          string       `json:"title"`
	Alarm          *AlarmJSON   `json:"alarm"`
	NextAlarm      *AlarmJSON   `json:"next_alarm"`
	LastError      string       `json:"last_error,omitempty"`
	Degraded       bool         `json:"degraded"`
	Input          InputJSON    `json:"input"`
	MQTT           MQTTStatus   `json:"mqtt"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	StartTime      string       `json:"start_time"`
	Timestamp      string       `json:"timestamp"`
}

// StationJSON is a station with its 1-based id.
type StationJSON struct {
	ID    int    `json:"id"`
	Index int    `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// AlarmJSON is a compact alarm view.
type AlarmJSON struct {
	ID           string `json:"id"`
	Label        string `json:"label,omitempty"`
	Time         string `json:"time"`
	Status       string `json:"status"`
	FiresAt      string `json:"fires_at,omitempty"`
	SnoozedUntil string `json:"snoozed_until,omitempty"`
}

// InputJSON reports local input health.
type InputJSON struct {
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// NewStationJSON converts a station.
func NewStationJSON(st playlist.Station) StationJSON {
	return StationJSON{ID: st.ID(), Index: st.Index, Name: st.Name, URL: st.URL}
}

func alarmJSON(v *alarm.View) *AlarmJSON {
	if v == nil {
		return nil
	}
	a := &AlarmJSON{
		ID:     v.ID,
		Label:  v.Label,
		Time:   v.Time,
		Status: v.Runtime.Status.String(),
	}
	if !v.Runtime.FiresAt.IsZero() {
		a.FiresAt = v.Runtime.FiresAt.Format(time.RFC3339)
	}
	if !v.Runtime.SnoozedUntil.IsZero() {
		a.SnoozedUntil = v.Runtime.SnoozedUntil.Format(time.RFC3339)
	}
	return a
}

// Build converts a snapshot to its JSON form.
func Build(snap Snapshot) StatusJSON {
	s := StatusJSON{
		Mode:          snap.Radio.Mode,
		Status:        snap.Playback(),
		KnobMode:      snap.Radio.KnobMode,
		TotalStations: snap.Radio.StationCount,
		Volume:        snap.Radio.Volume,
		StationURL:    snap.Stream.StreamURL,
		StationName:   snap.Stream.StationName,
		Title:         snap.Stream.Title,
		Alarm:         alarmJSON(snap.Radio.ActiveAlarm),
		NextAlarm:     alarmJSON(snap.Radio.NextAlarm),
		LastError:     snap.Radio.LastError,
		Degraded:      snap.Degraded(),
		Input:         InputJSON{Enabled: snap.InputEnabled, Error: snap.InputError},
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
	}
	if st := snap.Radio.Station; st != nil {
		sj := NewStationJSON(*st)
		s.Station = &sj
		s.CurrentStation = st.ID()
		if s.StationName == "" {
			s.StationName = st.Name
		}
	}
	return s
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	s := Build(snap)
	s.Event = event
	s.Reason = reason
	data, _ := json.Marshal(s)
	return data
}
