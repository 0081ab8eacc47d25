package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Stream StreamConfig `yaml:"stream"`
	Ingest IngestConfig `yaml:"ingest"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxConnections caps concurrent websocket clients; 0 means unlimited.
	MaxConnections  int           `yaml:"max_connections"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StreamConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	TickInterval time.Duration `yaml:"tick_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	// ControlRate limits inbound control messages per session, per second.
	ControlRate  float64 `yaml:"control_rate"`
	ControlBurst int     `yaml:"control_burst"`
}

type IngestConfig struct {
	// Source is one of "mock", "websocket", "http" or "file".
	Source  string            `yaml:"source"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Mock    MockConfig        `yaml:"mock"`
	File    FileConfig        `yaml:"file"`
}

type FileConfig struct {
	Path      string        `yaml:"path"`
	FromStart bool          `yaml:"from_start"`
	Poll      time.Duration `yaml:"poll"`
}

type MockConfig struct {
	Rate        float64       `yaml:"rate"`
	Burst       int           `yaml:"burst"`
	SurgePeriod time.Duration `yaml:"surge_period"`
	Vocabulary  []string      `yaml:"vocabulary"`
	Seed        int64         `yaml:"seed"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "127.0.0.1",
			ShutdownTimeout: 5 * time.Second,
		},
		Stream: StreamConfig{
			QueueSize:    256,
			TickInterval: time.Second,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
			ControlRate:  5,
			ControlBurst: 10,
		},
		Ingest: IngestConfig{
			Source: "mock",
			Mock: MockConfig{
				Rate:        40,
				Burst:       5,
				SurgePeriod: 30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PULSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PULSE_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("PULSE_UPSTREAM_URL"); v != "" {
		c.Ingest.URL = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("server.max_connections must not be negative"))
	}
	if c.Stream.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("stream.queue_size must be positive"))
	}
	if c.Stream.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("stream.tick_interval must be positive"))
	}
	switch c.Ingest.Source {
	case "mock":
	case "websocket", "http":
		if c.Ingest.URL == "" {
			errs = append(errs, fmt.Errorf("ingest.url is required for source %q", c.Ingest.Source))
		}
	case "file":
		if c.Ingest.File.Path == "" {
			errs = append(errs, fmt.Errorf("ingest.file.path is required for source \"file\""))
		}
	default:
		errs = append(errs, fmt.Errorf("ingest.source %q: want mock, websocket, http or file", c.Ingest.Source))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Diff describes the differences between two configs in the fields that
// can be applied without a restart.
func Diff(old, new *Config) []string {
	var changes []string
	if old.Stream.QueueSize != new.Stream.QueueSize {
		changes = append(changes, fmt.Sprintf("stream.queue_size: %d → %d", old.Stream.QueueSize, new.Stream.QueueSize))
	}
	if old.Server.MaxConnections != new.Server.MaxConnections {
		changes = append(changes, fmt.Sprintf("server.max_connections: %d → %d", old.Server.MaxConnections, new.Server.MaxConnections))
	}
	if !strings.EqualFold(old.Log.Level, new.Log.Level) {
		changes = append(changes, fmt.Sprintf("log.level: %s → %s", old.Log.Level, new.Log.Level))
	}
	return changes
}

// ApplyLive returns a copy of cur with the live-reloadable fields taken
// from next. Everything else keeps its running value until a restart.
func ApplyLive(cur, next *Config) *Config {
	merged := *cur
	merged.Stream.QueueSize = next.Stream.QueueSize
	merged.Server.MaxConnections = next.Server.MaxConnections
	merged.Log.Level = next.Log.Level
	return &merged
}

// GenerateToken returns a random 32 character hex token suitable for
// server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
