// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration: YAML file, optional .env file, COWBOY_* environment
// overrides, human readable sizes.

package control

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig covers the listener and the HTTP/1.x connection loop.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ServerName      string   `yaml:"server_name"`
	MaxHeaderSize   ByteSize `yaml:"max_header_size"`
	BodyChunkSize   ByteSize `yaml:"body_chunk_size"`
	DrainLimit      ByteSize `yaml:"drain_limit"`
	MaxKeepAlive    int      `yaml:"max_keepalive"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AcceptRate      float64  `yaml:"accept_rate"`
	AcceptBurst     int      `yaml:"accept_burst"`
	ReusePort       bool     `yaml:"reuse_port"`
	Compress        bool     `yaml:"compress"`
	CompressMinSize ByteSize `yaml:"compress_min_size"`
}

// WebSocketConfig covers upgraded connections.
type WebSocketConfig struct {
	IdleTimeout  Duration `yaml:"idle_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	MaxFrameSize ByteSize `yaml:"max_frame_size"`
}

// LoggingConfig selects level and sink ("stdout", "stderr" or "file:<path>").
type LoggingConfig struct {
	Level string `yaml:"level"`
	Sink  string `yaml:"sink"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ServerName:      "cowboy",
			MaxHeaderSize:   8 * humanize.KiByte,
			BodyChunkSize:   64 * humanize.KiByte,
			DrainLimit:      humanize.MiByte,
			MaxKeepAlive:    100,
			RequestTimeout:  Duration(5 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			AcceptBurst:     16,
			CompressMinSize: humanize.KiByte,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: Duration(30 * time.Second),
			MaxFrameSize: humanize.MiByte,
		},
		Logging: LoggingConfig{Level: "info", Sink: "stdout"},
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. An empty path skips the file. A .env file in the working
// directory is loaded first if present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies COWBOY_* overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("COWBOY_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := getenv("COWBOY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("COWBOY_LOG_SINK"); v != "" {
		c.Logging.Sink = v
	}
	if v := getenv("COWBOY_METRICS_ADDRESS"); v != "" {
		c.Metrics.Address = v
	}
	if v := getenv("COWBOY_IDLE_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("COWBOY_IDLE_TIMEOUT: %w", err)
		}
		c.WebSocket.IdleTimeout = Duration(d)
	}
	if v := getenv("COWBOY_WRITE_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("COWBOY_WRITE_TIMEOUT: %w", err)
		}
		c.Server.WriteTimeout = Duration(d)
		c.WebSocket.WriteTimeout = Duration(d)
	}
	if v := getenv("COWBOY_MAX_FRAME_SIZE"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("COWBOY_MAX_FRAME_SIZE: %w", err)
		}
		c.WebSocket.MaxFrameSize = ByteSize(n)
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is empty"))
	}
	if c.Server.MaxHeaderSize < 256 {
		errs = append(errs, fmt.Errorf("server.max_header_size %s is too small", c.Server.MaxHeaderSize))
	}
	if c.Server.BodyChunkSize <= 0 {
		errs = append(errs, errors.New("server.body_chunk_size must be positive"))
	}
	if c.Server.MaxKeepAlive < 1 {
		errs = append(errs, errors.New("server.max_keepalive must be at least 1"))
	}
	if c.Server.AcceptRate < 0 {
		errs = append(errs, errors.New("server.accept_rate must not be negative"))
	}
	if c.Server.WriteTimeout < 0 || c.WebSocket.WriteTimeout < 0 {
		errs = append(errs, errors.New("write_timeout must not be negative"))
	}
	if c.WebSocket.IdleTimeout < 0 {
		errs = append(errs, errors.New("websocket.idle_timeout must not be negative"))
	}
	if c.WebSocket.MaxFrameSize <= 0 {
		errs = append(errs, errors.New("websocket.max_frame_size must be positive"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is unknown", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// ByteSize is a byte count read from strings such as "64KiB" or "1MB".
type ByteSize int64

func (s *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = ByteSize(i)
		return nil
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size value: %q", node.Value)
	}
	*s = ByteSize(v)
	return nil
}

func (s ByteSize) Int64() int64 { return int64(s) }

func (s ByteSize) Int() int { return int(s) }

func (s ByteSize) String() string { return humanize.IBytes(uint64(s)) }

// Duration reads "100ms" style strings or plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	td, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return td, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
