package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError reports an invalid or unreadable configuration or playlist.
// It is fatal at startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks every field and returns all problems joined in one ConfigError.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Playlist.Path != "", "playlist.path is required")
	check(c.Alarms.Path != "", "alarms.path is required")
	check(c.Alarms.CheckInterval > 0 && c.Alarms.CheckInterval <= time.Minute,
		"alarms.check_interval must be in (0, 1m], got %v", c.Alarms.CheckInterval)
	check(c.Alarms.MissedWindow >= c.Alarms.CheckInterval,
		"alarms.missed_window must be >= check_interval")

	if c.GPIO.Enabled {
		check(c.GPIO.Chip != "", "gpio.chip is required")
		pins := map[int]string{}
		for name, pin := range map[string]int{"pin_dt": c.GPIO.PinDT, "pin_clk": c.GPIO.PinCLK, "pin_sw": c.GPIO.PinSW} {
			check(pin >= 0, "gpio.%s must be >= 0", name)
			if other, dup := pins[pin]; dup {
				errs = append(errs, fmt.Errorf("gpio.%s and gpio.%s share pin %d", name, other, pin))
			}
			pins[pin] = name
		}
		if c.GPIO.PinAlarm >= 0 {
			_, dup := pins[c.GPIO.PinAlarm]
			check(!dup, "gpio.pin_alarm %d is already assigned", c.GPIO.PinAlarm)
		}
		check(c.GPIO.Poll > 0, "gpio.poll must be > 0")
		check(c.GPIO.Debounce >= 0, "gpio.debounce must be >= 0")
		check(c.GPIO.LongPress > c.GPIO.Debounce, "gpio.long_press must exceed gpio.debounce")
		check(c.GPIO.StepsPerDetent == 1 || c.GPIO.StepsPerDetent == 2 || c.GPIO.StepsPerDetent == 4,
			"gpio.steps_per_detent must be 1, 2 or 4")
	}

	check(len(c.Player.Command) > 0 && c.Player.Command[0] != "", "player.command is required")
	check(c.Player.PauseMode == PauseStop || c.Player.PauseMode == PauseSignal,
		"player.pause_mode must be %q or %q", PauseStop, PauseSignal)
	check(c.Player.Mixer == MixerAmixer || c.Player.Mixer == MixerNone,
		"player.mixer must be %q or %q", MixerAmixer, MixerNone)
	check(c.Player.Mixer != MixerAmixer || c.Player.MixerControl != "", "player.mixer_control is required for amixer")
	check(c.Player.InitialVolume >= 0 && c.Player.InitialVolume <= 100, "player.initial_volume must be 0-100")
	check(c.Player.VolumeStep > 0 && c.Player.VolumeStep <= 100, "player.volume_step must be 1-100")
	check(c.Player.StopGrace > 0, "player.stop_grace must be > 0")
	check(c.Player.StartupWindow >= 0, "player.startup_window must be >= 0")
	check(c.Player.MaxRetries >= 0, "player.max_retries must be >= 0")
	check(c.Player.RetryBackoff > 0, "player.retry_backoff must be > 0")
	check(c.Player.HealthInterval > 0, "player.health_interval must be > 0")

	if c.MQTT.Broker != "" {
		check(c.MQTT.ClientID != "", "mqtt.client_id is required")
		check(c.MQTT.TopicPrefix != "" && !strings.HasSuffix(c.MQTT.TopicPrefix, "/"),
			"mqtt.topic_prefix must be non-empty without trailing slash")
		check(c.MQTT.Heartbeat >= 0, "mqtt.heartbeat must be >= 0")
	}

	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}
