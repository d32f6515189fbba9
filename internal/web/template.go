package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/radio-alarm/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"clock":  formatClock,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Radio Alarm</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.playing { color: green; font-weight: bold; }
.paused { color: orange; }
.stopped { color: #888; }
.ringing { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
nav a { margin-right: 1em; }
</style>
</head>
<body>
<h1>Radio Alarm</h1>

<h2>Playback</h2>
<table>
<tr><th>Mode</th><td class="{{if eq .Radio.Mode "ringing"}}ringing{{else}}{{.Playback}}{{end}}">{{.Radio.Mode}}</td></tr>
<tr><th>Station</th><td>{{with .Radio.Station}}{{.ID}}/{{$.Radio.StationCount}} {{.Name}}{{else}}-{{end}}</td></tr>
<tr><th>Title</th><td>{{if .Stream.Title}}{{.Stream.Title}}{{else}}-{{end}}</td></tr>
<tr><th>Volume</th><td>{{.Radio.Volume}}%</td></tr>
<tr><th>Knob</th><td>{{.Radio.KnobMode}}</td></tr>
{{if .Radio.LastError}}<tr><th>Last error</th><td class="error">{{.Radio.LastError}}</td></tr>{{end}}
</table>
<nav>
<a href="/api/play">play</a><a href="/api/pause">pause</a><a href="/api/stop">stop</a><a href="/api/prev">prev</a><a href="/api/next">next</a>
</nav>

<h2>Alarms</h2>
<table>
{{range .Radio.Alarms}}<tr><th>{{.Time}}{{if .Label}} {{.Label}}{{end}}</th><td class="{{if eq .Runtime.Status.String "ringing"}}ringing{{end}}">{{.Runtime.Status}}{{if .Enabled}}, next {{clock .Runtime.FiresAt}}{{else}} (disabled){{end}}</td></tr>
{{else}}<tr><td>no alarms</td></tr>
{{end}}</table>
{{if .Radio.ActiveAlarm}}<nav><a href="/api/alarm/snooze">snooze</a><a href="/api/alarm/dismiss">dismiss</a></nav>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>Input</th><td class="{{if .InputError}}error{{end}}">{{if .InputEnabled}}enabled{{else}}disabled{{end}}{{if .InputError}} ({{.InputError}}){{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Playlist</th><td>{{.Config.Playlist}}</td></tr>
<tr><th>Control socket</th><td>{{if .Config.Socket}}{{.Config.Socket}}{{else}}disabled{{end}}</td></tr>
</table>

<p><a href="/api/status">JSON</a> <a href="/api">API</a> <a href="/metrics">metrics</a></p>
</body>
</html>
`

// formatUptime renders d as "2d 3h 4m 5s", omitting leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	parts := []struct {
		n    int64
		unit string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
		{secs % 60, "s"},
	}
	out := ""
	for i, p := range parts {
		if out == "" && p.n == 0 && i < len(parts)-1 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%d%s", p.n, p.unit)
	}
	return out
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("Mon 15:04")
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// The template reads Uptime as a field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
