// Package config holds the daemon's startup configuration.
//
// The configuration is read once from an optional YAML file, overlaid with
// command-line flags, validated, and then passed by value into each
// component. Nothing mutates it at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default GPIO pin assignment (BCM numbering).
const (
	DefaultPinDT    = 23
	DefaultPinCLK   = 24
	DefaultPinSW    = 22
	DefaultPinAlarm = 27
)

// Config is the complete daemon configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Playlist PlaylistConfig `yaml:"playlist"`
	Alarms   AlarmsConfig   `yaml:"alarms"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	Player   PlayerConfig   `yaml:"player"`
	Control  ControlConfig  `yaml:"control"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig configures the control API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the API
}

// PlaylistConfig locates the station list.
type PlaylistConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // reload automatically when the file changes
}

// AlarmsConfig configures alarm persistence and checking.
type AlarmsConfig struct {
	Path          string        `yaml:"path"`
	CheckInterval time.Duration `yaml:"check_interval"`
	MissedWindow  time.Duration `yaml:"missed_window"`
}

// GPIOConfig holds the pin assignment and input timing.
type GPIOConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Chip           string        `yaml:"chip"`
	PinDT          int           `yaml:"pin_dt"`
	PinCLK         int           `yaml:"pin_clk"`
	PinSW          int           `yaml:"pin_sw"`
	PinAlarm       int           `yaml:"pin_alarm"` // negative disables the alarm button
	Poll           time.Duration `yaml:"poll"`
	Debounce       time.Duration `yaml:"debounce"`
	LongPress      time.Duration `yaml:"long_press"`
	StepsPerDetent int           `yaml:"steps_per_detent"`
}

// PlayerConfig configures the audio subprocess and mixer.
type PlayerConfig struct {
	Command        []string      `yaml:"command"` // argv template, "{url}" is substituted
	PauseMode      string        `yaml:"pause_mode"`
	Mixer          string        `yaml:"mixer"`
	MixerControl   string        `yaml:"mixer_control"`
	InitialVolume  int           `yaml:"initial_volume"`
	VolumeStep     int           `yaml:"volume_step"`
	StopGrace      time.Duration `yaml:"stop_grace"`
	StartupWindow  time.Duration `yaml:"startup_window"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	StableAfter    time.Duration `yaml:"stable_after"`
	HealthInterval time.Duration `yaml:"health_interval"`
	InfoPath       string        `yaml:"info_path"` // optional stream info JSON mirror
}

// ControlConfig locates the local control socket.
type ControlConfig struct {
	Socket string `yaml:"socket"` // empty disables the socket
}

// MQTTConfig configures the home-automation bridge.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"` // empty disables MQTT
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	Commands    bool          `yaml:"commands"` // subscribe to <prefix>/command
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Pause modes.
const (
	PauseStop   = "stop"
	PauseSignal = "signal"
)

// Mixers.
const (
	MixerAmixer = "amixer"
	MixerNone   = "none"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8080"},
		Playlist: PlaylistConfig{Path: "/etc/radio-alarm/radioliste.m3u", Watch: true},
		Alarms: AlarmsConfig{
			Path:          "/var/lib/radio-alarm/alarms.json",
			CheckInterval: 5 * time.Second,
			MissedWindow:  2 * time.Minute,
		},
		GPIO: GPIOConfig{
			Enabled:        true,
			Chip:           "gpiochip0",
			PinDT:          DefaultPinDT,
			PinCLK:         DefaultPinCLK,
			PinSW:          DefaultPinSW,
			PinAlarm:       DefaultPinAlarm,
			Poll:           2 * time.Millisecond,
			Debounce:       5 * time.Millisecond,
			LongPress:      800 * time.Millisecond,
			StepsPerDetent: 4,
		},
		Player: PlayerConfig{
			Command:        []string{"mpg123", "-v", "{url}"},
			PauseMode:      PauseStop,
			Mixer:          MixerAmixer,
			MixerControl:   "Master",
			InitialVolume:  50,
			VolumeStep:     5,
			StopGrace:      2 * time.Second,
			StartupWindow:  300 * time.Millisecond,
			MaxRetries:     3,
			RetryBackoff:   time.Second,
			StableAfter:    30 * time.Second,
			HealthInterval: time.Second,
			InfoPath:       "/tmp/current_stream.json",
		},
		Control: ControlConfig{Socket: "/tmp/radio_control.sock"},
		MQTT: MQTTConfig{
			ClientID:    "radio-alarm",
			TopicPrefix: "home/radio-alarm",
			Heartbeat:   15 * time.Minute,
			Commands:    true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file on top of the defaults. A missing file is an
// error only when required is true.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, &ConfigError{Path: path, Err: fmt.Errorf("read config: %w", err)}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}
	return cfg, nil
}
