// Package config loads the host application's YAML configuration file
// and translates it into the typed structures the dispatcher, sinks, and
// ambient stack (logging, metrics, health, tracing, profiling, fault
// persistence) actually consume. This is the "host application's own
// configuration source" spec.md places out of scope as far as its
// *contents* go; the loader mechanics (YAML plus environment-variable
// expansion, defaulting, validation) follow the same shape as every
// other config surface in this codebase's lineage.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/internal/dispatcher"
	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/internal/sinks"
	"github.com/loomhq/actlog/pkg/entry"
)

// Config is the root of the YAML document a host application supplies.
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Handlers   []HandlerConfig  `yaml:"handlers"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics,omitempty"`
	Health     HealthConfig     `yaml:"health,omitempty"`
	Tracing    TracingConfig    `yaml:"tracing,omitempty"`
	Profiling  ProfilingConfig  `yaml:"profiling,omitempty"`
	FaultLog   FaultLogConfig   `yaml:"fault_log,omitempty"`
}

// DispatcherConfig maps directly to the configuration surface's
// enumerated options (spec.md §6): timer periods and the two filter
// thresholds. Handlers are configured separately, in Handlers below,
// because each descriptor needs its own typed options.
type DispatcherConfig struct {
	TimerDuration          time.Duration `yaml:"timer_duration,omitempty"`
	ExternalTimerDuration  time.Duration `yaml:"external_timer_duration,omitempty"`
	MinimalFilter          FilterConfig  `yaml:"minimal_filter,omitempty"`
	ExternalLogLevelFilter string        `yaml:"external_log_level_filter,omitempty"`
	CriticalErrorRate      float64       `yaml:"critical_error_rate,omitempty"`
	CriticalErrorBurst     int           `yaml:"critical_error_burst,omitempty"`
}

// FilterConfig is the YAML shape of a GroupFilter's two thresholds.
type FilterConfig struct {
	Group string `yaml:"group,omitempty"`
	Line  string `yaml:"line,omitempty"`
}

// HandlerConfig is one entry in the ordered handler list. Kind selects
// which of the four registered sink kinds this entry builds; the other
// fields are interpreted according to Kind and left zero otherwise.
type HandlerConfig struct {
	Kind string `yaml:"kind"`

	// text-file / binary-file
	Path        string `yaml:"path,omitempty"`
	RotateBytes int64  `yaml:"rotate_bytes,omitempty"`

	// binary-file
	UseGzipCompression bool   `yaml:"use_gzip_compression,omitempty"`
	Compression        string `yaml:"compression,omitempty"`

	// console
	Stderr     bool `yaml:"stderr,omitempty"`
	ForceColor bool `yaml:"force_color,omitempty"`
	NoColor    bool `yaml:"no_color,omitempty"`

	// pipe
	SocketPath string `yaml:"socket_path,omitempty"`
}

// LoggingConfig configures the worker's own zerolog-backed diagnostic
// logger (internal/logging), independent of the entries flowing through
// the dispatcher itself.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures the Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig configures the liveness/readiness HTTP endpoints.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address,omitempty"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig configures the OpenTelemetry span exporter wrapping
// worker-loop dispatch batches and sink calls.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty"`
	EnableStdout bool    `yaml:"enable_stdout,omitempty"`
}

// ProfilingConfig configures the pprof HTTP endpoint and goroutine
// monitor.
type ProfilingConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address,omitempty"`
	CPUProfilePath     string `yaml:"cpu_profile,omitempty"`
	MemProfilePath     string `yaml:"mem_profile,omitempty"`
	BlockProfile       bool   `yaml:"block_profile,omitempty"`
	MutexProfile       bool   `yaml:"mutex_profile,omitempty"`
	GoroutineThreshold int    `yaml:"goroutine_threshold,omitempty"`
}

// FaultLogConfig configures the rotating on-disk critical-error record
// (SPEC_FULL.md §7's error-persistence supplement).
type FaultLogConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir,omitempty"`
	SegmentSize  int64         `yaml:"segment_size,omitempty"`
	MaxSegments  int           `yaml:"max_segments,omitempty"`
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"`
}

// Default values applied where the YAML document leaves a field zero.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Load reads path, expands ${VAR}-style environment references, parses
// it as YAML, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path, falling back to DefaultConfig on any error —
// useful for a host that wants to keep running with sane defaults rather
// than fail hard on a missing or malformed config file.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Dispatcher.TimerDuration == 0 {
		c.Dispatcher.TimerDuration = dispatcher.DefaultTimerDuration
	}
	if c.Dispatcher.ExternalTimerDuration == 0 {
		c.Dispatcher.ExternalTimerDuration = dispatcher.DefaultExternalTimerDuration
	}
	if len(c.Handlers) == 0 {
		c.Handlers = []HandlerConfig{{Kind: sinks.KindConsole}}
	}
}

// Validate rejects a configuration this loader cannot translate into a
// running dispatcher: an unknown handler kind, or a level name that
// doesn't parse.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	for i, h := range c.Handlers {
		switch h.Kind {
		case sinks.KindTextFile, sinks.KindBinaryFile, sinks.KindConsole, sinks.KindPipe:
		default:
			return fmt.Errorf("handler %d: unknown kind %q", i, h.Kind)
		}
		if (h.Kind == sinks.KindTextFile || h.Kind == sinks.KindBinaryFile) && h.Path == "" {
			return fmt.Errorf("handler %d: kind %s requires a path", i, h.Kind)
		}
		if h.Kind == sinks.KindPipe && h.SocketPath == "" {
			return fmt.Errorf("handler %d: kind pipe requires a socket_path", i)
		}
	}

	if _, err := parseLevel(c.Dispatcher.MinimalFilter.Group, entry.Debug); err != nil {
		return fmt.Errorf("dispatcher.minimal_filter.group: %w", err)
	}
	if _, err := parseLevel(c.Dispatcher.MinimalFilter.Line, entry.Debug); err != nil {
		return fmt.Errorf("dispatcher.minimal_filter.line: %w", err)
	}
	if c.Dispatcher.ExternalLogLevelFilter != "" {
		if _, err := parseLevel(c.Dispatcher.ExternalLogLevelFilter, entry.Info); err != nil {
			return fmt.Errorf("dispatcher.external_log_level_filter: %w", err)
		}
	}

	return nil
}

// DefaultConfig returns a minimal, always-valid configuration: console
// output only, no metrics/health/tracing/profiling/fault-log surfaces.
func DefaultConfig() *Config {
	cfg := &Config{
		Dispatcher: DispatcherConfig{
			TimerDuration:         dispatcher.DefaultTimerDuration,
			ExternalTimerDuration: dispatcher.DefaultExternalTimerDuration,
		},
		Handlers: []HandlerConfig{{Kind: sinks.KindConsole}},
		Logging:  LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
	return cfg
}

// ToDispatcherConfig translates the loaded document into a
// dispatcher.Config ready for ApplyConfig, resolving each HandlerConfig
// to a concrete sink.Descriptor.
func (c *Config) ToDispatcherConfig() (*dispatcher.Config, error) {
	groupFilter, err := parseLevel(c.Dispatcher.MinimalFilter.Group, entry.Debug)
	if err != nil {
		return nil, err
	}
	lineFilter, err := parseLevel(c.Dispatcher.MinimalFilter.Line, entry.Debug)
	if err != nil {
		return nil, err
	}

	var externalFilter *entry.Value
	if c.Dispatcher.ExternalLogLevelFilter != "" {
		v, err := parseLevel(c.Dispatcher.ExternalLogLevelFilter, entry.Info)
		if err != nil {
			return nil, err
		}
		externalFilter = &v
	}

	handlers := make([]sink.Descriptor, 0, len(c.Handlers))
	for i, h := range c.Handlers {
		desc, err := h.descriptor()
		if err != nil {
			return nil, fmt.Errorf("handler %d: %w", i, err)
		}
		handlers = append(handlers, desc)
	}

	return &dispatcher.Config{
		TimerDuration:          c.Dispatcher.TimerDuration,
		ExternalTimerDuration:  c.Dispatcher.ExternalTimerDuration,
		MinimalFilter:          entry.GroupFilter{Group: groupFilter, Line: lineFilter},
		ExternalLogLevelFilter: externalFilter,
		Handlers:               handlers,
		InternalClone:          true,
	}, nil
}

func (h HandlerConfig) descriptor() (sink.Descriptor, error) {
	switch h.Kind {
	case sinks.KindTextFile:
		return &sinks.TextFileDescriptor{Path: h.Path, RotateBytes: h.RotateBytes}, nil
	case sinks.KindBinaryFile:
		desc := &sinks.BinaryFileDescriptor{
			Path:               h.Path,
			UseGzipCompression: h.UseGzipCompression,
			RotateBytes:        h.RotateBytes,
		}
		if h.Compression != "" {
			c, err := parseCodec(h.Compression)
			if err != nil {
				return nil, err
			}
			desc.Compression = c
		}
		return desc, nil
	case sinks.KindConsole:
		return &sinks.ConsoleDescriptor{Stderr: h.Stderr, ForceColor: h.ForceColor, NoColor: h.NoColor}, nil
	case sinks.KindPipe:
		return &sinks.PipeDescriptor{SocketPath: h.SocketPath}, nil
	default:
		return nil, fmt.Errorf("unknown handler kind %q", h.Kind)
	}
}

func parseCodec(name string) (codec.Codec, error) {
	switch name {
	case "gzip":
		return codec.CodecGzip, nil
	case "snappy":
		return codec.CodecSnappy, nil
	case "none", "":
		return codec.CodecNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

func parseLevel(name string, fallback entry.Value) (entry.Value, error) {
	switch name {
	case "":
		return fallback, nil
	case "debug":
		return entry.Debug, nil
	case "trace":
		return entry.Trace, nil
	case "info":
		return entry.Info, nil
	case "warn":
		return entry.Warn, nil
	case "error":
		return entry.Error, nil
	case "fatal":
		return entry.Fatal, nil
	default:
		return 0, fmt.Errorf("unknown level %q", name)
	}
}
