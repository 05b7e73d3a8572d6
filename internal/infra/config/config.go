// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/livechat-overlay/internal/domain/media"
)

// FileName is the config file name inside the user config directory.
const FileName = "config.yaml"

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Client    ClientConfig      `yaml:"client"`
	Overlay   OverlayConfig     `yaml:"overlay"`
	Playback  PlaybackConfig    `yaml:"playback"`
	Transport TransportConfig   `yaml:"transport"`
	Status    StatusConfig      `yaml:"status"`
	Log       LogConfig         `yaml:"log"`
	Bindings  map[string]string `yaml:"bindings,omitempty"`
}

// ServerConfig represents the overlay server location.
type ServerConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

// ClientConfig holds the credentials issued by pairing.
type ClientConfig struct {
	Token    string `yaml:"token,omitempty"`
	GuildID  string `yaml:"guild_id,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
}

// OverlayConfig represents user-facing overlay settings.
type OverlayConfig struct {
	Enabled  *bool    `yaml:"enabled" default:"true"`
	Volume   *float64 `yaml:"volume" default:"1" validate:"omitempty,gte=0,lte=1"`
	ShowText *bool    `yaml:"show_text" default:"true"`
}

// PlaybackConfig represents countdown and reporting configuration.
type PlaybackConfig struct {
	CountdownTickMs  int `yaml:"countdown_tick_ms" default:"200" validate:"gte=50,lte=1000"`
	ReportIntervalMs int `yaml:"report_interval_ms" default:"1000" validate:"gte=100,lte=60000"`
	AutoClearGraceMs int `yaml:"auto_clear_grace_ms" default:"100" validate:"gte=0,lte=5000"`
}

// TransportConfig represents socket configuration.
type TransportConfig struct {
	Path                 string `yaml:"path" default:"/overlay/socket" validate:"startswith=/"`
	ReconnectDelayMs     int    `yaml:"reconnect_delay_ms" default:"1000" validate:"gte=100"`
	ReconnectDelayMaxMs  int    `yaml:"reconnect_delay_max_ms" default:"3000" validate:"gtefield=ReconnectDelayMs"`
	PingIntervalSec      int    `yaml:"ping_interval_sec" default:"25" validate:"gte=1"`
	WriteTimeoutSec      int    `yaml:"write_timeout_sec" default:"10" validate:"gte=1"`
	HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec" default:"15" validate:"gte=1"`
}

// StatusConfig represents tray status configuration.
type StatusConfig struct {
	ReasonMaxLength int `yaml:"reason_max_length" default:"80" validate:"gte=8"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File   string `yaml:"file,omitempty"`
}

// DefaultPath returns the config path inside the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve user config directory")
	}
	return filepath.Join(dir, "livechat-overlay", FileName), nil
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrap(err, "failed to read config file")
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

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("OVERLAY_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("OVERLAY_CLIENT_TOKEN"); v != "" {
		c.Client.Token = v
	}
	if v := os.Getenv("OVERLAY_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
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

// Paired reports whether pairing credentials are present.
func (c *Config) Paired() bool {
	return strings.TrimSpace(c.Server.URL) != "" && strings.TrimSpace(c.Client.Token) != ""
}

// SetPairing stores credentials issued by the server.
func (c *Config) SetPairing(serverURL, token, guildID, clientID string) {
	c.Server.URL = serverURL
	c.Client = ClientConfig{Token: token, GuildID: guildID, ClientID: clientID}
}

// ClearPairing removes stored credentials. The server URL is kept.
func (c *Config) ClearPairing() {
	c.Client = ClientConfig{}
}

// Enabled reports whether the overlay is enabled.
func (c *Config) Enabled() bool {
	return c.Overlay.Enabled == nil || *c.Overlay.Enabled
}

// SetEnabled stores the enabled flag.
func (c *Config) SetEnabled(enabled bool) {
	c.Overlay.Enabled = &enabled
}

// Settings returns the overlay render settings.
func (c *Config) Settings() media.Settings {
	s := media.DefaultSettings()
	if c.Overlay.Volume != nil {
		s.Volume = *c.Overlay.Volume
	}
	if c.Overlay.ShowText != nil {
		s.ShowText = *c.Overlay.ShowText
	}
	return s
}

// SetSettings stores the overlay render settings.
func (c *Config) SetSettings(s media.Settings) {
	volume := s.Volume
	showText := s.ShowText
	c.Overlay.Volume = &volume
	c.Overlay.ShowText = &showText
}

// TickInterval returns the countdown tick interval.
func (p PlaybackConfig) TickInterval() time.Duration {
	return time.Duration(p.CountdownTickMs) * time.Millisecond
}

// ReportInterval returns the playback-state heartbeat interval.
func (p PlaybackConfig) ReportInterval() time.Duration {
	return time.Duration(p.ReportIntervalMs) * time.Millisecond
}

// AutoClearGrace returns the delay added to the duration before auto clear.
func (p PlaybackConfig) AutoClearGrace() time.Duration {
	return time.Duration(p.AutoClearGraceMs) * time.Millisecond
}

// ReconnectDelay returns the initial reconnect delay.
func (t TransportConfig) ReconnectDelay() time.Duration {
	return time.Duration(t.ReconnectDelayMs) * time.Millisecond
}

// ReconnectDelayMax returns the reconnect delay cap.
func (t TransportConfig) ReconnectDelayMax() time.Duration {
	return time.Duration(t.ReconnectDelayMaxMs) * time.Millisecond
}

// PingInterval returns the keepalive ping interval.
func (t TransportConfig) PingInterval() time.Duration {
	return time.Duration(t.PingIntervalSec) * time.Second
}

// WriteTimeout returns the per-message write deadline.
func (t TransportConfig) WriteTimeout() time.Duration {
	return time.Duration(t.WriteTimeoutSec) * time.Second
}

// HeartbeatInterval returns the overlay heartbeat interval.
func (t TransportConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalSec) * time.Second
}
