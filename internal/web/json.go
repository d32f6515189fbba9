package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/daemon"
	"github.com/sweeney/radio-alarm/internal/playlist"
	"github.com/sweeney/radio-alarm/internal/status"
)

// ActionJSON is the response to a control request: a message followed by
// the resulting status.
type ActionJSON struct {
	Message string `json:"message"`
	status.StatusJSON
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// StationsJSON lists the playlist.
type StationsJSON struct {
	Stations []StationEntry `json:"stations"`
}

// StationEntry is one playlist entry.
type StationEntry struct {
	status.StationJSON
	Active bool `json:"active"`
}

// AlarmsJSON lists every alarm with its runtime state.
type AlarmsJSON struct {
	Alarms []alarm.View `json:"alarms"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

// writeError maps err onto an HTTP status: 400 for rejected input, 404 for
// unknown alarms, 503 when playback could not be provided, 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	var (
		code = http.StatusInternalServerError
		kind = "internal"
	)
	switch {
	case errors.Is(err, daemon.ErrNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case daemon.IsValidation(err):
		code, kind = http.StatusBadRequest, "invalid_request"
	case daemon.IsUnavailable(err):
		code, kind = http.StatusServiceUnavailable, "playback_failed"
	}
	writeJSON(w, code, ErrorJSON{Error: kind, Detail: err.Error()})
}

func stationsJSON(list []playlist.Station, current *playlist.Station) StationsJSON {
	out := StationsJSON{Stations: make([]StationEntry, len(list))}
	for i, st := range list {
		out.Stations[i] = StationEntry{
			StationJSON: status.NewStationJSON(st),
			Active:      current != nil && current.Index == st.Index,
		}
	}
	return out
}

// param returns a request parameter from the query string or, for POST,
// from a JSON object body. Numbers and strings are both accepted.
func param(r *http.Request, name string) (string, bool, error) {
	if v := r.URL.Query().Get(name); v != "" {
		return v, true, nil
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return "", false, nil
	}
	var body map[string]json.RawMessage
	dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		return "", false, &daemon.ValidationError{Intent: name, Err: fmt.Errorf("decode body: %w", err)}
	}
	raw, ok := body[name]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true, nil
	}
	return strings.TrimSpace(string(raw)), true, nil
}
