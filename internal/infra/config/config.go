// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Controls ControlsConfig `yaml:"controls"`
	NFC      NFCConfig      `yaml:"nfc"`
	Messages MessagesConfig `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// DatabaseConfig represents the playlist database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" default:"tagtune.db" validate:"required"`
}

// AudioConfig represents audio output configuration.
type AudioConfig struct {
	Backend       string `yaml:"backend" default:"beep" validate:"oneof=beep"`
	MediaDir      string `yaml:"media_dir" default:"media"`
	InitialVolume int    `yaml:"initial_volume" default:"70" validate:"gte=0,lte=100"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	FinishPollMs     int  `yaml:"finish_poll_ms" default:"200" validate:"gte=10,lte=5000"`
	PresencePollMs   int  `yaml:"presence_poll_ms" default:"200" validate:"gte=10,lte=5000"`
	PauseThresholdMs int  `yaml:"pause_threshold_ms" default:"2000" validate:"gte=100,lte=60000"`
	Loop             bool `yaml:"loop"`
}

// ControlsConfig represents physical control configuration.
type ControlsConfig struct {
	Enabled           bool       `yaml:"enabled"`
	DebounceMs        int        `yaml:"debounce_ms" default:"300" validate:"gte=0,lte=2000"`
	LongPressMs       int        `yaml:"long_press_ms" default:"2000" validate:"gte=200,lte=10000"`
	EncoderDetents    int        `yaml:"encoder_detents" default:"2" validate:"gte=1,lte=4"`
	AccelWindowMs     int        `yaml:"accel_window_ms" default:"250" validate:"gte=0,lte=2000"`
	MaxAccelStep      int        `yaml:"max_accel_step" default:"5" validate:"gte=1,lte=20"`
	VolumeStepPercent int        `yaml:"volume_step_percent" default:"2" validate:"gte=1,lte=25"`
	Pins              PinsConfig `yaml:"pins"`
}

// PinsConfig assigns BCM pin numbers to the physical controls.
type PinsConfig struct {
	PlayPause int `yaml:"play_pause" default:"17"`
	Next      int `yaml:"next" default:"27"`
	Previous  int `yaml:"previous" default:"22"`
	EncoderA  int `yaml:"encoder_a" default:"23"`
	EncoderB  int `yaml:"encoder_b" default:"24"`
}

// NFCConfig represents tag association configuration.
type NFCConfig struct {
	ListenTimeoutMs int `yaml:"listen_timeout_ms" default:"30000" validate:"gte=1000,lte=300000"`
	GraceMs         int `yaml:"grace_ms" default:"2000" validate:"gte=0,lte=60000"`
	SweepMs         int `yaml:"sweep_ms" default:"500" validate:"gte=50,lte=10000"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	DefaultError    string `yaml:"default_error" default:"something went wrong"`
	UnknownTag      string `yaml:"unknown_tag" default:"this tag is not linked to a playlist"`
	NothingPlaying  string `yaml:"nothing_playing" default:"nothing is playing"`
	PlaylistMissing string `yaml:"playlist_missing" default:"playlist not found"`
	PlaylistEmpty   string `yaml:"playlist_empty" default:"playlist has no tracks"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TAGTUNE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TAGTUNE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("TAGTUNE_MEDIA_DIR"); v != "" {
		c.Audio.MediaDir = v
	}
	if v := os.Getenv("TAGTUNE_INITIAL_VOLUME"); v != "" {
		if vol, err := strconv.Atoi(v); err == nil {
			c.Audio.InitialVolume = vol
		}
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "unknown_tag":
		return c.Messages.UnknownTag
	case "nothing_playing":
		return c.Messages.NothingPlaying
	case "playlist_missing":
		return c.Messages.PlaylistMissing
	case "playlist_empty":
		return c.Messages.PlaylistEmpty
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Controls.Enabled {
		if err := c.validatePinAssignments(); err != nil {
			return err
		}
	}

	return nil
}

// validatePinAssignments checks that no two controls share a pin.
func (c *Config) validatePinAssignments() error {
	pins := map[int]string{}
	assign := func(pin int, name string) error {
		if other, taken := pins[pin]; taken {
			return errors.Newf("pin %d assigned to both %s and %s", pin, other, name)
		}
		pins[pin] = name
		return nil
	}

	p := c.Controls.Pins
	for _, entry := range []struct {
		pin  int
		name string
	}{
		{p.PlayPause, "play_pause"},
		{p.Next, "next"},
		{p.Previous, "previous"},
		{p.EncoderA, "encoder_a"},
		{p.EncoderB, "encoder_b"},
	} {
		if err := assign(entry.pin, entry.name); err != nil {
			return err
		}
	}
	return nil
}
