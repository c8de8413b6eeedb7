/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package config loads device settings from defaults, an optional YAML file,
// LOQA_DISPLAY_* environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "LOQA_DISPLAY"
	FileName  = "loqa-display"
)

// EnvKeyReplacer maps config keys to environment variable suffixes.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Field is one configuration key with its default.
type Field struct {
	Key         string
	Value       any
	Description string
	// Flag is the command-line flag bound to the key, if any.
	Flag string
}

// Env returns the environment variable that overrides the field.
func (f Field) Env() string {
	return EnvPrefix + "_" + strings.ToUpper(EnvKeyReplacer.Replace(f.Key))
}

// Fields lists every key in display order. display.id defaults to the host
// name at load time.
var Fields = []Field{
	{Key: "display.id", Value: "", Description: "device id used for subjects, client info and mDNS", Flag: "id"},
	{Key: "display.width", Value: 64, Description: "panel width in pixels", Flag: "width"},
	{Key: "display.height", Value: 32, Description: "panel height in pixels", Flag: "height"},
	{Key: "display.brightness", Value: 30, Description: "initial brightness 0..100", Flag: "brightness"},
	{Key: "display.preview", Value: true, Description: "draw frames in the terminal", Flag: "preview"},
	{Key: "display.skip_version", Value: false, Description: "skip the boot version screen", Flag: "skip-version"},
	{Key: "source.url", Value: "", Description: "http(s):// polls, ws(s):// and nats:// receive pushes", Flag: "url"},
	{Key: "playback.dwell_secs", Value: 10, Description: "default dwell in seconds", Flag: "dwell"},
	{Key: "fetch.max_size", Value: 512000, Description: "largest accepted image in bytes"},
	{Key: "fetch.initial_size", Value: 65536, Description: "initial read buffer in bytes"},
	{Key: "fetch.timeout", Value: 20 * time.Second, Description: "HTTP request timeout"},
	{Key: "scheduler.prefetch_lead", Value: 2 * time.Second, Description: "prefetch this long before the dwell ends"},
	{Key: "scheduler.retry_delay", Value: 5 * time.Second, Description: "wait after a failed fetch"},
	{Key: "transport.reconnect_delay", Value: 5 * time.Second, Description: "wait before reconnecting a push session"},
	{Key: "transport.health_interval", Value: 30 * time.Second, Description: "health check period"},
	{Key: "transport.max_health_failures", Value: 10, Description: "failed health checks before a restart"},
	{Key: "update.staging_dir", Value: filepath.Join(os.TempDir(), "loqa-display"), Description: "firmware staging directory"},
	{Key: "mdns.enabled", Value: true, Description: "advertise the display over mDNS", Flag: "mdns"},
	{Key: "mdns.port", Value: 80, Description: "port announced over mDNS"},
	{Key: "log.level", Value: "info", Description: "log level", Flag: "log-level"},
	{Key: "log.json", Value: false, Description: "log as JSON", Flag: "log-json"},
}

type DisplayConfig struct {
	ID          string `mapstructure:"id"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	Brightness  int    `mapstructure:"brightness"`
	Preview     bool   `mapstructure:"preview"`
	SkipVersion bool   `mapstructure:"skip_version"`
}

type SourceConfig struct {
	URL string `mapstructure:"url"`
}

type PlaybackConfig struct {
	DwellSecs int `mapstructure:"dwell_secs"`
}

type FetchConfig struct {
	MaxSize     int           `mapstructure:"max_size"`
	InitialSize int           `mapstructure:"initial_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	PrefetchLead time.Duration `mapstructure:"prefetch_lead"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type TransportConfig struct {
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	MaxHealthFailures int           `mapstructure:"max_health_failures"`
}

type UpdateConfig struct {
	StagingDir string `mapstructure:"staging_dir"`
}

type MDNSConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Config is the fully resolved configuration.
type Config struct {
	Display   DisplayConfig   `mapstructure:"display"`
	Source    SourceConfig    `mapstructure:"source"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Transport TransportConfig `mapstructure:"transport"`
	Update    UpdateConfig    `mapstructure:"update"`
	MDNS      MDNSConfig      `mapstructure:"mdns"`
	Log       LogConfig       `mapstructure:"log"`
}

// SourceKind is how content reaches the display.
type SourceKind string

const (
	SourceNone      SourceKind = ""
	SourcePoll      SourceKind = "poll"
	SourceWebsocket SourceKind = "websocket"
	SourceNATS      SourceKind = "nats"
)

// ErrUnsupportedSource is returned for URL schemes the display cannot use.
var ErrUnsupportedSource = errors.New("unsupported source url")

// Kind derives the source kind from the URL scheme.
func (s SourceConfig) Kind() (SourceKind, error) {
	if strings.TrimSpace(s.URL) == "" {
		return SourceNone, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return SourceNone, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return SourcePoll, nil
	case "ws", "wss":
		return SourceWebsocket, nil
	case "nats", "tls":
		return SourceNATS, nil
	default:
		return SourceNone, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, u.Scheme)
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height))
	}
	if c.Fetch.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_size must be positive, got %d", c.Fetch.MaxSize))
	}
	if c.Fetch.InitialSize <= 0 || c.Fetch.InitialSize > c.Fetch.MaxSize {
		errs = append(errs, fmt.Errorf("fetch.initial_size must be in 1..%d, got %d", c.Fetch.MaxSize, c.Fetch.InitialSize))
	}
	if _, err := c.Source.Kind(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Loader resolves a Config with its own viper instance.
type Loader struct {
	v    *viper.Viper
	fs   afero.Fs
	file string
}

// NewLoader creates a loader that reads config files from fs.
func NewLoader(fs afero.Fs) *Loader {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join("/etc", FileName))
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", FileName))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()

	v.SetTypeByDefaultValue(true)
	for _, f := range Fields {
		v.SetDefault(f.Key, f.Value)
	}
	if host, err := os.Hostname(); err == nil {
		v.SetDefault("display.id", host)
	}

	return &Loader{v: v, fs: fs}
}

// SetConfigFile reads path instead of searching the default locations.
func (l *Loader) SetConfigFile(path string) {
	l.file = path
	if path != "" {
		l.v.SetConfigFile(path)
	}
}

// RegisterFlags defines the command-line flags for keys that have one.
func RegisterFlags(flags *pflag.FlagSet) {
	for _, f := range Fields {
		if f.Flag == "" {
			continue
		}
		switch v := f.Value.(type) {
		case string:
			flags.String(f.Flag, v, f.Description)
		case int:
			flags.Int(f.Flag, v, f.Description)
		case bool:
			flags.Bool(f.Flag, v, f.Description)
		case time.Duration:
			flags.Duration(f.Flag, v, f.Description)
		}
	}
}

// BindFlags makes flags that were set on the command line override the
// other sources.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	for _, f := range Fields {
		if f.Flag == "" {
			continue
		}
		pf := flags.Lookup(f.Flag)
		if pf == nil {
			continue
		}
		if err := l.v.BindPFlag(f.Key, pf); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", f.Flag, err)
		}
	}
	return nil
}

// Load reads the config file, if any, and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Display.ID == "" {
		cfg.Display.ID = "loqa-display"
	}
	cfg.Display.Brightness = lo.Clamp(cfg.Display.Brightness, 0, 100)
	cfg.Playback.DwellSecs = ClampDwell(cfg.Playback.DwellSecs)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}
