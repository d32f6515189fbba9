// Package metrics provides Prometheus metrics for the radio alarm daemon.
// Labels are kept to small fixed sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntentsTotal counts processed intents by intent name and result
	// (ok, invalid, failed).
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_intents_total",
		Help: "Total number of processed intents, by intent and result.",
	}, []string{"intent", "result"})

	// PlayerStartsTotal counts player subprocess starts by cause
	// (request, alarm, retry).
	PlayerStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_player_starts_total",
		Help: "Total number of player subprocess starts, by cause.",
	}, []string{"cause"})

	// PlayerFailuresTotal counts playback failures by stage (start, exit).
	PlayerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_player_failures_total",
		Help: "Total number of playback failures, by stage.",
	}, []string{"stage"})

	// AlarmFiresTotal counts alarm fires by kind (regular, snooze, skipped).
	AlarmFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_alarm_fires_total",
		Help: "Total number of alarm fires, by kind.",
	}, []string{"kind"})

	// InputEventsTotal counts decoded input events by kind.
	InputEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_input_events_total",
		Help: "Total number of decoded input events, by kind.",
	}, []string{"kind"})

	// Volume is the current output volume in percent.
	Volume = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_volume_percent",
		Help: "Current output volume in percent.",
	})

	// Playing is 1 while a stream is playing (including a ringing alarm).
	Playing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_playing",
		Help: "Whether a stream is currently playing (1) or not (0).",
	})

	// MQTTPublishTotal counts MQTT publishes by result (sent, buffered, dropped).
	MQTTPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_mqtt_publish_total",
		Help: "Total number of MQTT publishes, by result.",
	}, []string{"result"})
)

// BoolGauge converts b to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
