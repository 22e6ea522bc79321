package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/actlog/internal/sinks"
	"github.com/loomhq/actlog/pkg/entry"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
dispatcher:
  timer_duration: 250ms
  minimal_filter:
    group: info
    line: debug

handlers:
  - kind: console
  - kind: text-file
    path: /var/log/app.log
    rotate_bytes: 1048576

logging:
  level: debug
  format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(cfg.Handlers))
	}
	if cfg.Handlers[1].Path != "/var/log/app.log" {
		t.Errorf("expected path /var/log/app.log, got %s", cfg.Handlers[1].Path)
	}
	if cfg.Dispatcher.TimerDuration != 250*time.Millisecond {
		t.Errorf("expected timer duration 250ms, got %v", cfg.Dispatcher.TimerDuration)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	dc, err := cfg.ToDispatcherConfig()
	if err != nil {
		t.Fatalf("ToDispatcherConfig() error = %v", err)
	}
	if len(dc.Handlers) != 2 {
		t.Fatalf("expected 2 resolved descriptors, got %d", len(dc.Handlers))
	}
	if dc.Handlers[0].Kind() != sinks.KindConsole {
		t.Errorf("expected first descriptor kind console, got %s", dc.Handlers[0].Kind())
	}
	if dc.MinimalFilter.Group != entry.Info || dc.MinimalFilter.Line != entry.Debug {
		t.Errorf("unexpected minimal filter: %+v", dc.MinimalFilter)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	os.Setenv("ACTLOG_TEST_LOG_LEVEL", "warn")
	defer os.Unsetenv("ACTLOG_TEST_LOG_LEVEL")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
handlers:
  - kind: console

logging:
  level: ${ACTLOG_TEST_LOG_LEVEL}
  format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn (from env var), got %s", cfg.Logging.Level)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Handlers: []HandlerConfig{{Kind: sinks.KindConsole}},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: false,
		},
		{
			name: "unknown handler kind",
			config: &Config{
				Handlers: []HandlerConfig{{Kind: "carrier-pigeon"}},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "text-file handler missing path",
			config: &Config{
				Handlers: []HandlerConfig{{Kind: sinks.KindTextFile}},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "pipe handler missing socket path",
			config: &Config{
				Handlers: []HandlerConfig{{Kind: sinks.KindPipe}},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: &Config{
				Handlers: []HandlerConfig{{Kind: sinks.KindConsole}},
				Logging:  LoggingConfig{Level: "invalid", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			config: &Config{
				Handlers: []HandlerConfig{{Kind: sinks.KindConsole}},
				Logging:  LoggingConfig{Level: "info", Format: "invalid"},
			},
			wantErr: true,
		},
		{
			name: "invalid minimal filter level",
			config: &Config{
				Handlers:   []HandlerConfig{{Kind: sinks.KindConsole}},
				Logging:    LoggingConfig{Level: "info", Format: "json"},
				Dispatcher: DispatcherConfig{MinimalFilter: FilterConfig{Group: "loud"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.applyDefaults()
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("expected default log level %s, got %s", DefaultLogLevel, cfg.Logging.Level)
	}
	if len(cfg.Handlers) != 1 || cfg.Handlers[0].Kind != sinks.KindConsole {
		t.Errorf("expected default single console handler, got %+v", cfg.Handlers)
	}

	if _, err := cfg.ToDispatcherConfig(); err != nil {
		t.Errorf("ToDispatcherConfig() on default config error = %v", err)
	}
}

func TestLoadOrDefaultFallsBackOnMissingFile(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err := cfg.Validate(); err != nil {
		t.Errorf("fallback config should be valid: %v", err)
	}
}
