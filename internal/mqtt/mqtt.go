// Package mqtt bridges the daemon to a home-automation broker: retained
// status after every state change, lifecycle events, and a command topic
// that accepts the control-socket grammar.
package mqtt

import (
	"encoding/json"
	"time"
)

// Topics are the three topics under the configured prefix.
type Topics struct {
	Status  string // retained status snapshot
	System  string // STARTUP, SHUTDOWN, HEARTBEAT and the LWT
	Command string // incoming command lines
}

// NewTopics derives the topics from prefix, e.g. "home/radio-alarm".
func NewTopics(prefix string) Topics {
	return Topics{
		Status:  prefix + "/status",
		System:  prefix + "/system",
		Command: prefix + "/command",
	}
}

// Publisher publishes daemon state to MQTT.
type Publisher interface {
	// PublishStatus sends a retained status snapshot.
	// Returns error if publishing fails (should not crash the process).
	PublishStatus(payload []byte) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers payloads received on the command topic.
type Subscriber interface {
	SubscribeCommands(handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// System event names.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventHeartbeat = "HEARTBEAT"
	EventOffline   = "OFFLINE"
)

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the payload for events that carry no status snapshot
// (the LWT).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
