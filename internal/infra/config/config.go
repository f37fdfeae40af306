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
	Server    ServerConfig     `yaml:"server"`
	Speech    SpeechConfig     `yaml:"speech"`
	Liveness  LivenessConfig   `yaml:"liveness"`
	Player    PlayerConfig     `yaml:"player"`
	Tour      TourConfig       `yaml:"tour"`
	Wikipedia WikipediaConfig  `yaml:"wikipedia"`
	Keepalive KeepaliveConfig  `yaml:"keepalive"`
	Providers []ProviderConfig `yaml:"providers"`
	Filters   []FilterConfig   `yaml:"filters"`
	Messages  MessagesConfig   `yaml:"messages"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Port      int    `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"console" validate:"oneof=console json"`
}

// SpeechConfig represents narration session configuration.
type SpeechConfig struct {
	VoiceName     string  `yaml:"voice_name"`
	Lang          string  `yaml:"lang" default:"en"`
	Rate          float64 `yaml:"rate" default:"0.9" validate:"gt=0,lte=2"`
	ChunkChars    int     `yaml:"chunk_chars" default:"200" validate:"gte=40"`
	SettleDelayMS int     `yaml:"settle_delay_ms" default:"250" validate:"gte=0"`
	StartCheckMS  int     `yaml:"start_check_ms" default:"1000" validate:"gte=0"`
	// StrictEndAfterCancel treats end callbacks for canceled utterances
	// as suspicious instead of a known engine quirk.
	StrictEndAfterCancel bool `yaml:"strict_end_after_cancel"`
}

// LivenessConfig tunes the narration liveness monitor.
type LivenessConfig struct {
	PollMS          int `yaml:"poll_ms" default:"2000" validate:"gte=100"`
	GraceMS         int `yaml:"grace_ms" default:"5000" validate:"gte=0"`
	ChunkCooldownMS int `yaml:"chunk_cooldown_ms" default:"1500" validate:"gte=0"`
	WordsPerMinute  int `yaml:"words_per_minute" default:"150" validate:"gte=1"`
}

// PlayerConfig represents transport configuration.
type PlayerConfig struct {
	InterTrackPauseMS int `yaml:"inter_track_pause_ms" default:"2000" validate:"gte=0"`
	EventBuffer       int `yaml:"event_buffer" default:"16" validate:"gte=1"`
}

// TourConfig represents tour building configuration.
type TourConfig struct {
	Count         int `yaml:"count" default:"8" validate:"gte=1,lte=50"`
	RebuildMetres int `yaml:"rebuild_metres" default:"250" validate:"gte=0"`
}

// WikipediaConfig represents the content client configuration.
type WikipediaConfig struct {
	Lang           string `yaml:"lang" default:"en"`
	TimeoutSeconds int    `yaml:"timeout_seconds" default:"15" validate:"gte=1"`
	UserAgent      string `yaml:"user_agent"`
	BaseURL        string `yaml:"base_url"` // override for tests and mirrors
}

// KeepaliveConfig represents the silent-audio keepalive configuration.
type KeepaliveConfig struct {
	Disabled    bool `yaml:"disabled"`
	ClipSeconds int  `yaml:"clip_seconds" default:"1" validate:"gte=1"`
	SampleRate  int  `yaml:"sample_rate" default:"8000" validate:"gte=8000"`
}

// ProviderConfig represents a single place provider configuration.
type ProviderConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents a place filter's configuration.
type FilterConfig struct {
	Name     string         `yaml:"name" validate:"required"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents narrated user-facing messages.
type MessagesConfig struct {
	TourCompleted string `yaml:"tour_completed" default:"Completed tour of all places."`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for selected fields.
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

	// A tour needs at least one way to find places.
	if len(cfg.Providers) == 0 {
		cfg.Providers = []ProviderConfig{{Type: "geosearch"}}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("WIKIPEDIA_USER_AGENT"); v != "" {
		c.Wikipedia.UserAgent = v
	}
}

// GetMessage returns the message for the given key.
func (c *Config) GetMessage(key string) string {
	switch key {
	case "tour_completed":
		return c.Messages.TourCompleted
	default:
		return ""
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
