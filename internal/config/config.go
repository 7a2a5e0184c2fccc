// Package config handles loading, defaulting, and validation of the pikka
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server   ServerConfig   `toml:"server"   json:"server"`
	Relay    RelayConfig    `toml:"relay"    json:"relay"`
	Viewer   ViewerConfig   `toml:"viewer"   json:"viewer"`
	Producer ProducerConfig `toml:"producer" json:"producer"`
	Logging  LoggingConfig  `toml:"logging"  json:"logging"`
	Demo     DemoConfig     `toml:"demo"     json:"demo"`
}

// ServerConfig is where the relay listens and whether to open the viewer in
// a browser at startup.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
	Open bool   `toml:"open" json:"open"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RelayURL is the websocket endpoint producers and consumers dial.
func (s ServerConfig) RelayURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(s.Port)), Path: "/monitor"}
	return u.String()
}

type RelayConfig struct {
	HeartbeatSeconds int   `toml:"heartbeat_seconds" json:"heartbeat_seconds"`
	MaxMissed        int   `toml:"max_missed"        json:"max_missed"`
	ReadLimitBytes   int64 `toml:"read_limit_bytes"  json:"read_limit_bytes"`
}

func (r RelayConfig) Heartbeat() time.Duration {
	return time.Duration(r.HeartbeatSeconds) * time.Second
}

// ViewerConfig controls the built-in viewer. Source picks how the viewer's
// consumer receives events: "relay" dials the daemon's own relay endpoint,
// "broadcast" listens on the in-process channel the demo page uses.
type ViewerConfig struct {
	Enabled     bool   `toml:"enabled"      json:"enabled"`
	Source      string `toml:"source"       json:"source"`
	Channel     string `toml:"channel"      json:"channel"`
	BucketLimit int    `toml:"bucket_limit" json:"bucket_limit"`
	Dedup       bool   `toml:"dedup"        json:"dedup"`
}

type ProducerConfig struct {
	QueueCap         int `toml:"queue_cap"          json:"queue_cap"`
	MinBackoffMillis int `toml:"min_backoff_millis" json:"min_backoff_millis"`
	MaxBackoffMillis int `toml:"max_backoff_millis" json:"max_backoff_millis"`
}

func (p ProducerConfig) MinBackoff() time.Duration {
	return time.Duration(p.MinBackoffMillis) * time.Millisecond
}

func (p ProducerConfig) MaxBackoff() time.Duration {
	return time.Duration(p.MaxBackoffMillis) * time.Millisecond
}

type LoggingConfig struct {
	Level  string `toml:"level"  json:"level"`
	Format string `toml:"format" json:"format"`
}

// Pretty reports whether the human console format was selected.
func (l LoggingConfig) Pretty() bool { return l.Format != "json" }

type DemoConfig struct {
	Enabled         bool   `toml:"enabled"          json:"enabled"`
	IntervalSeconds int    `toml:"interval_seconds" json:"interval_seconds"`
	PageURL         string `toml:"page_url"         json:"page_url"`
}

const (
	SourceRelay     = "relay"
	SourceBroadcast = "broadcast"
)

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8992,
			Open: false,
		},
		Relay: RelayConfig{
			HeartbeatSeconds: 30,
			MaxMissed:        3,
			ReadLimitBytes:   1 << 20,
		},
		Viewer: ViewerConfig{
			Enabled:     true,
			Source:      SourceRelay,
			Channel:     "pikka-console",
			BucketLimit: 5000,
		},
		Producer: ProducerConfig{
			QueueCap:         1000,
			MinBackoffMillis: 250,
			MaxBackoffMillis: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Demo: DemoConfig{
			Enabled:         false,
			IntervalSeconds: 1,
			PageURL:         "http://localhost:5173/demo",
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks every constraint. Callers that change a loaded config
// (command-line overrides) should validate again.
func (cfg Config) Validate() error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return errors.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Relay.HeartbeatSeconds < 1 {
		return errors.New("relay.heartbeat_seconds must be >= 1")
	}
	if cfg.Relay.MaxMissed < 1 {
		return errors.New("relay.max_missed must be >= 1")
	}
	if cfg.Relay.ReadLimitBytes < 1024 {
		return errors.New("relay.read_limit_bytes must be >= 1024")
	}
	switch cfg.Viewer.Source {
	case SourceRelay, SourceBroadcast:
	default:
		return errors.Errorf("viewer.source must be %q or %q, got %q", SourceRelay, SourceBroadcast, cfg.Viewer.Source)
	}
	if cfg.Viewer.Source == SourceBroadcast && cfg.Viewer.Channel == "" {
		return errors.New("viewer.channel must not be empty when viewer.source is broadcast")
	}
	if cfg.Viewer.BucketLimit < 0 {
		return errors.New("viewer.bucket_limit must be >= 0")
	}
	if cfg.Producer.QueueCap < 1 {
		return errors.New("producer.queue_cap must be >= 1")
	}
	if cfg.Producer.MinBackoffMillis < 1 || cfg.Producer.MaxBackoffMillis < cfg.Producer.MinBackoffMillis {
		return errors.New("producer backoff must satisfy 1 <= min_backoff_millis <= max_backoff_millis")
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return errors.Errorf("logging.format must be console or json, got %q", cfg.Logging.Format)
	}
	if cfg.Demo.IntervalSeconds < 0 {
		return errors.New("demo.interval_seconds must be >= 0")
	}
	if cfg.Demo.Enabled {
		u, err := url.Parse(cfg.Demo.PageURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Errorf("demo.page_url must be an absolute URL, got %q", cfg.Demo.PageURL)
		}
	}
	return nil
}
