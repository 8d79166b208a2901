package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/insurepredict/internal/schema"
)

type Config struct {
	Server  ServerConfig
	Ingest  IngestConfig
	Predict PredictConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
}

type IngestConfig struct {
	Schema         string
	MaxPreviewRows int
	MaxUploadBytes int
}

type PredictConfig struct {
	Mode         string // "stub" or "remote"
	BaseURL      string
	Timeout      string
	StubResponse string // "binary" or "continuous"
}

// TimeoutDuration returns the parsed request timeout. Load has already
// rejected unparseable values.
func (p PredictConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

type LogConfig struct {
	Level string
}

const (
	ModeStub   = "stub"
	ModeRemote = "remote"

	StubBinary     = "binary"
	StubContinuous = "continuous"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           3000,
			MaxConnections: 64,
		},
		Ingest: IngestConfig{
			Schema:         schema.Insurance.Name,
			MaxPreviewRows: 10000,
			MaxUploadBytes: 256 << 20,
		},
		Predict: PredictConfig{
			Mode:         ModeStub,
			BaseURL:      "http://localhost:8000",
			Timeout:      "60s",
			StubResponse: StubBinary,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration without consulting the
// backend or the environment.
func Default() Config {
	return defaults()
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/insurepredict/config.yaml, then applies INSUREPREDICT_*
// environment overrides, then validates the result.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("invalid config: server.max_connections must be positive")
	}
	if _, err := schema.Lookup(c.Ingest.Schema); err != nil {
		return fmt.Errorf("invalid config: ingest.schema: %w", err)
	}
	if c.Ingest.MaxPreviewRows <= 0 {
		return fmt.Errorf("invalid config: ingest.max_preview_rows must be positive")
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid config: ingest.max_upload_bytes must be positive")
	}
	switch strings.ToLower(c.Predict.Mode) {
	case ModeStub, ModeRemote:
	default:
		return fmt.Errorf("invalid config: predict.mode %q (want %s or %s)", c.Predict.Mode, ModeStub, ModeRemote)
	}
	if c.Predict.BaseURL == "" && strings.EqualFold(c.Predict.Mode, ModeRemote) {
		return fmt.Errorf("missing required config: predict.base_url. " +
			"Set it via environment variable INSUREPREDICT_PREDICT_BASE_URL")
	}
	if d, err := time.ParseDuration(c.Predict.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid config: predict.timeout %q", c.Predict.Timeout)
	}
	switch strings.ToLower(c.Predict.StubResponse) {
	case StubBinary, StubContinuous:
	default:
		return fmt.Errorf("invalid config: predict.stub_response %q (want %s or %s)", c.Predict.StubResponse, StubBinary, StubContinuous)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: log.level %q", c.Log.Level)
	}
	return nil
}
