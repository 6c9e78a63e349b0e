// Package config loads the dronepath configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and environment variables. The env names are
//
//	PLANNER_ADDR, PLANNER_OBSTACLES_DIR, PLANNER_BUILDINGS_FILE,
//	PLANNER_CACHE_FILE, LOG_LEVEL, LOG_FORMAT, PLANNER_TRACING_ENABLED,
//	PLANNER_TRACING_EXPORTER, PLANNER_TRACING_ENDPOINT,
//	PLANNER_TRACING_SERVICE_NAME, PLANNER_TRACING_SAMPLE_RATIO.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cbs-motion-planner/internal/cbs"
	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/observability"
	"cbs-motion-planner/internal/planner"
	"cbs-motion-planner/internal/search"
)

// Config is the complete dronepath configuration.
type Config struct {
	Server   Server                      `yaml:"server"`
	Data     Data                        `yaml:"data"`
	Search   Search                      `yaml:"search"`
	CBS      cbs.Options                 `yaml:"cbs"`
	Altitude endpoint.AltitudePolicy     `yaml:"altitude"`
	Logging  Logging                     `yaml:"logging"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // per planning request
	AllowedOrigin  string        `yaml:"allowed_origin"`  // CORS, "*" for any
}

// Data points at the input files.
type Data struct {
	ObstaclesDir  string `yaml:"obstacles_dir"`
	BuildingsFile string `yaml:"buildings_file"`
	CacheFile     string `yaml:"cache_file"`
}

// Search is the single-agent search tuning plus the default ceiling.
type Search struct {
	search.Config `yaml:",inline"`
	MaxAltitude   float64 `yaml:"max_altitude"`
}

// Logging selects the log handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   120 * time.Second,
			RequestTimeout: 90 * time.Second,
			AllowedOrigin:  "*",
		},
		Data: Data{
			ObstaclesDir:  "data/nfz",
			BuildingsFile: "data/buildings.yaml",
			CacheFile:     "data/paths.json",
		},
		Search:   Search{Config: search.DefaultConfig(), MaxAltitude: 200},
		CBS:      cbs.DefaultOptions(),
		Altitude: endpoint.DefaultAltitudePolicy(),
		Logging:  Logging{Level: "info", Format: "text"},
		Tracing:  observability.DefaultTracingConfig(),
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays the environment variables named in the package doc.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PLANNER_ADDR", &c.Server.Addr)
	str("PLANNER_OBSTACLES_DIR", &c.Data.ObstaclesDir)
	str("PLANNER_BUILDINGS_FILE", &c.Data.BuildingsFile)
	str("PLANNER_CACHE_FILE", &c.Data.CacheFile)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("PLANNER_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("PLANNER_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	str("PLANNER_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)

	if v, ok := lookup("PLANNER_TRACING_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PLANNER_TRACING_ENABLED: %w", err)
		}
		c.Tracing.Enabled = enabled
	}
	if v, ok := lookup("PLANNER_TRACING_SAMPLE_RATIO"); ok && v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PLANNER_TRACING_SAMPLE_RATIO: %w", err)
		}
		c.Tracing.SampleRatio = ratio
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Server.RequestTimeout < 0 {
		return errors.New("config: server.request_timeout must not be negative")
	}
	if err := c.Search.Config.Validate(); err != nil {
		return fmt.Errorf("config: search: %w", err)
	}
	if !(c.Search.MaxAltitude > 0) {
		return fmt.Errorf("config: search.max_altitude %v must be positive", c.Search.MaxAltitude)
	}
	if err := c.CBS.Validate(); err != nil {
		return fmt.Errorf("config: cbs: %w", err)
	}
	if c.Altitude.Clearance < 0 || c.Altitude.Fallback < 0 {
		return errors.New("config: altitude clearance and fallback must not be negative")
	}
	if c.Altitude.Fallback > c.Search.MaxAltitude {
		return fmt.Errorf("config: altitude.fallback %v above search.max_altitude %v", c.Altitude.Fallback, c.Search.MaxAltitude)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logging.format %q must be text or json", c.Logging.Format)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// PlannerConfig converts the planning sections for planner.New.
func (c Config) PlannerConfig() planner.Config {
	return planner.Config{
		Search:      c.Search.Config,
		CBS:         c.CBS,
		Altitude:    c.Altitude,
		MaxAltitude: c.Search.MaxAltitude,
	}
}

// LoggerConfig converts the logging section for logging.New.
func (c Config) LoggerConfig(out io.Writer) logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format, Output: out}
}
