package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INSUREPREDICT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "INSUREPREDICT_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "ingest.schema", typ: kString, env: "INSUREPREDICT_INGEST_SCHEMA",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Schema = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Schema },
	},
	{
		key: "ingest.max_preview_rows", typ: kInt, env: "INSUREPREDICT_INGEST_MAX_PREVIEW_ROWS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxPreviewRows = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxPreviewRows },
	},
	{
		key: "ingest.max_upload_bytes", typ: kInt, env: "INSUREPREDICT_INGEST_MAX_UPLOAD_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxUploadBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxUploadBytes },
	},
	{
		key: "predict.mode", typ: kString, env: "INSUREPREDICT_PREDICT_MODE",
		apply:   func(cfg *Config, v any) { cfg.Predict.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Predict.Mode },
	},
	{
		key: "predict.base_url", typ: kString, env: "INSUREPREDICT_PREDICT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Predict.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Predict.BaseURL },
	},
	{
		key: "predict.timeout", typ: kString, env: "INSUREPREDICT_PREDICT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Predict.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Predict.Timeout },
	},
	{
		key: "predict.stub_response", typ: kString, env: "INSUREPREDICT_PREDICT_STUB_RESPONSE",
		apply:   func(cfg *Config, v any) { cfg.Predict.StubResponse = v.(string) },
		extract: func(cfg Config) any { return cfg.Predict.StubResponse },
	},
	{
		key: "log.level", typ: kString, env: "INSUREPREDICT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
