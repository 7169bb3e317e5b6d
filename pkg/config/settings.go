package config

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Settings are the daemon settings. They come from an optional YAML file,
// LOCKBOX_* environment variables and command line flags, in increasing
// priority.
type Settings struct {
	// Socket is the unix socket the HTTP API listens on.
	Socket string `mapstructure:"socket"`
	// State is the path of the persisted lockbox state file.
	State    string `mapstructure:"state"`
	LogLevel string `mapstructure:"log_level"`
	// Lockboxes are the lockbox instances created at startup.
	Lockboxes   []string            `mapstructure:"lockboxes"`
	Device      DeviceSettings      `mapstructure:"device"`
	Calibration CalibrationSettings `mapstructure:"calibration"`
	Relock      RelockSettings      `mapstructure:"relock"`
	MQTT        MQTTSettings        `mapstructure:"mqtt"`
}

// DeviceSettings configure the simulated instrument.
type DeviceSettings struct {
	PIDs int `mapstructure:"pids"`
	// Signals prefill the simulated inputs, keyed by signal name.
	Signals map[string][]float64 `mapstructure:"signals"`
}

// CalibrationSettings configure scheduled calibrations.
type CalibrationSettings struct {
	// Cron is a cron expression (seconds optional, descriptors allowed).
	// Empty disables scheduled calibration.
	Cron    string `mapstructure:"cron"`
	Samples int    `mapstructure:"samples"`
}

// RelockSettings configure the auto-relock loop.
type RelockSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

// MQTTSettings configure the event bridge to an MQTT broker.
type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Socket:    "/var/run/lockbox.sock",
		State:     "/etc/lockbox.yaml",
		LogLevel:  "info",
		Lockboxes: []string{"lockbox"},
		Device: DeviceSettings{
			PIDs: 3,
		},
		Calibration: CalibrationSettings{
			Samples: 1024,
		},
		Relock: RelockSettings{
			Interval: 10 * time.Second,
		},
		MQTT: MQTTSettings{
			Broker:      "tcp://localhost:1883",
			ClientID:    "lockbox",
			TopicPrefix: "lockbox",
			QoS:         1,
		},
	}
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	defaults := DefaultSettings()

	v.SetDefault("socket", defaults.Socket)
	v.SetDefault("state", defaults.State)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("lockboxes", defaults.Lockboxes)

	v.SetDefault("device.pids", defaults.Device.PIDs)

	v.SetDefault("calibration.cron", defaults.Calibration.Cron)
	v.SetDefault("calibration.samples", defaults.Calibration.Samples)

	v.SetDefault("relock.interval", defaults.Relock.Interval)

	v.SetDefault("mqtt.enabled", defaults.MQTT.Enabled)
	v.SetDefault("mqtt.broker", defaults.MQTT.Broker)
	v.SetDefault("mqtt.client_id", defaults.MQTT.ClientID)
	v.SetDefault("mqtt.topic_prefix", defaults.MQTT.TopicPrefix)
	v.SetDefault("mqtt.qos", defaults.MQTT.QoS)
}

// NewViper returns a viper instance with defaults and environment binding.
// If settingsPath is not empty the file must exist.
func NewViper(settingsPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("LOCKBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if settingsPath != "" {
		v.SetConfigFile(settingsPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to read settings file %s", settingsPath)
		}
	}

	return v, nil
}

// LoadSettings decodes v and validates the result.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode settings")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks the settings for values the daemon cannot run with.
func (s *Settings) Validate() error {
	if s.Socket == "" {
		return fmt.Errorf("socket must not be empty")
	}
	if len(s.Lockboxes) == 0 {
		return fmt.Errorf("at least one lockbox must be configured")
	}
	seen := make(map[string]bool)
	for _, name := range s.Lockboxes {
		if name == "" {
			return fmt.Errorf("lockbox names must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate lockbox name %q", name)
		}
		seen[name] = true
	}
	if s.Device.PIDs < 1 {
		return fmt.Errorf("device.pids must be at least 1, got %d", s.Device.PIDs)
	}
	if s.Calibration.Samples < 1 {
		return fmt.Errorf("calibration.samples must be at least 1, got %d", s.Calibration.Samples)
	}
	if s.Relock.Interval <= 0 {
		return fmt.Errorf("relock.interval must be positive, got %s", s.Relock.Interval)
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
	}
	return nil
}
