package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/control"
	"github.com/sweeney/radio-alarm/internal/daemon"
	"github.com/sweeney/radio-alarm/internal/status"
)

const origin = "http"

// submit runs in and writes the resulting status, or the error.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, in daemon.Intent, message func(status.Snapshot) string) {
	snap, err := s.machine.Submit(r.Context(), origin, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionJSON{Message: message(snap), StatusJSON: status.Build(snap)})
}

func fixed(msg string) func(status.Snapshot) string {
	return func(status.Snapshot) string { return msg }
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.Build(s.machine.Snapshot()))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.machine.Snapshot().Stream)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stationsJSON(s.stations.Stations(), s.machine.Snapshot().Radio.Station))
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	alarms := s.machine.Snapshot().Radio.Alarms
	if alarms == nil {
		alarms = []alarm.View{}
	}
	writeJSON(w, http.StatusOK, AlarmsJSON{Alarms: alarms})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.machine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"degraded": snap.Degraded(),
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.Play{}, fixed("playback started"))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.Stop{}, fixed("playback stopped"))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.TogglePause{}, func(snap status.Snapshot) string {
		return snap.Playback()
	})
}

func stationMessage(snap status.Snapshot) string {
	if st := snap.Radio.Station; st != nil {
		return fmt.Sprintf("station %d: %s", st.ID(), st.Name)
	}
	return "no station"
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.Next{}, stationMessage)
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.Prev{}, stationMessage)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	level, ok, err := param(r, "level")
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		s.handleStatus(w, r)
		return
	}
	in, err := control.ParseVolume(level)
	if err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, in, func(snap status.Snapshot) string {
		return fmt.Sprintf("volume %d%%", snap.Radio.Volume)
	})
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	id, ok, err := param(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		s.handleStatus(w, r)
		return
	}
	in, err := control.ParseStation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, in, stationMessage)
}

func (s *Server) handleSetAlarm(w http.ResponseWriter, r *http.Request) {
	// An alarm posted without "enabled" is armed.
	cfg := alarm.Config{Enabled: true}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, &daemon.ValidationError{Intent: "set_alarm", Err: fmt.Errorf("decode alarm: %w", err)})
		return
	}
	cfg = cfg.Normalize()

	prev := s.machine.Snapshot().Radio.Alarms
	snap, err := s.machine.Submit(r.Context(), origin, daemon.SetAlarm{Config: cfg})
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	for _, v := range prev {
		if v.ID == cfg.ID {
			code = http.StatusOK
		}
	}
	for _, v := range snap.Radio.Alarms {
		if v.ID == cfg.ID {
			writeJSON(w, code, v)
			return
		}
	}
	writeError(w, errors.New("alarm not found after save"))
}

func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.submit(w, r, daemon.DeleteAlarm{ID: id}, fixed("alarm "+id+" deleted"))
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.Snooze{}, func(snap status.Snapshot) string {
		if a := snap.Radio.ActiveAlarm; a != nil {
			return "alarm snoozed until " + a.Runtime.SnoozedUntil.Format("15:04")
		}
		return "alarm snoozed"
	})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.Dismiss{}, fixed("alarm dismissed"))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, daemon.ReloadPlaylist{}, func(snap status.Snapshot) string {
		return fmt.Sprintf("%d stations loaded", snap.Radio.StationCount)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.machine.Snapshot())
}

// HelpJSON documents the endpoints.
type HelpJSON struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Examples  []string          `json:"examples"`
}

var help = HelpJSON{
	Name:    "radio-alarm API",
	Version: "2.0",
	Endpoints: map[string]string{
		"GET /api/status":             "current mode, station, volume and alarm state",
		"GET /api/info":               "stream metadata",
		"GET /api/stations":           "configured stations",
		"GET /api/play":               "start or resume playback",
		"GET /api/stop":               "stop playback",
		"GET /api/pause":              "toggle pause",
		"GET /api/next":               "next station",
		"GET /api/prev":               "previous station",
		"GET /api/volume?level=50":    "set volume 0-100, or +n/-n to adjust",
		"GET /api/station?id=3":       "select station 1-N",
		"POST /api/volume":            `set volume (JSON: {"level": 50})`,
		"POST /api/station":           `select station (JSON: {"id": 3})`,
		"GET /api/alarms":             "list alarms",
		"POST /api/alarms":            "create or replace an alarm",
		"DELETE /api/alarms/{id}":     "delete an alarm",
		"GET|POST /api/alarm/snooze":  "snooze the ringing alarm",
		"GET|POST /api/alarm/dismiss": "dismiss the ringing or snoozed alarm",
		"POST /api/reload":            "reload the playlist",
		"GET /healthz":                "liveness",
		"GET /metrics":                "Prometheus metrics",
		"GET /index.html":             "status page",
	},
	Examples: []string{
		"curl http://localhost:8080/api/status",
		"curl http://localhost:8080/api/play",
		`curl -X POST -H 'Content-Type: application/json' -d '{"level":75}' http://localhost:8080/api/volume`,
		`curl -X POST -d '{"time":"06:30","weekdays":["mon","tue","wed","thu","fri"],"enabled":true,"station":0}' http://localhost:8080/api/alarms`,
	},
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, help)
}
