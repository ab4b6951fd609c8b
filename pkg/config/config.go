// Package config loads the engine's tunables from defaults, environment
// variables, and an optional struct overlay, validating the result. It is
// modeled on the teacher's koanf-based config loader (cli/config.go,
// cli/cmd/config/config.go) and the RegisterValidation pattern from
// cli/helpers/workflow.go.
package config

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds the engine tunables (spec §5 Concurrency & Resource Model).
type Config struct {
	MaxDepth           int     `koanf:"max_depth"            validate:"min=1,max=64"`
	DefaultConcurrency int     `koanf:"default_concurrency"  validate:"min=1"`
	DefaultTimeoutMs   int64   `koanf:"default_timeout_ms"   validate:"min=0"`
	RetryMaxAttempts   int     `koanf:"retry_max_attempts"    validate:"min=0"`
	RetryBaseDelayMs   int64   `koanf:"retry_base_delay_ms"   validate:"min=0"`
	DecomposeThreshold float64 `koanf:"decompose_threshold"   validate:"min=0,max=1"`
	DecompositionCache int     `koanf:"decomposition_cache"   validate:"min=1"`
	StateStoreRoot     string  `koanf:"state_store_root"      validate:"required"`
}

// Default returns the configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		MaxDepth:           5,
		DefaultConcurrency: 4,
		DefaultTimeoutMs:   30000,
		RetryMaxAttempts:   3,
		RetryBaseDelayMs:   200,
		DecomposeThreshold: 0.6,
		DecompositionCache: 256,
		StateStoreRoot:     "./.taskengine/state",
	}
}

// EnvPrefix is the prefix Load strips from TASKENGINE_-namespaced
// environment variables (e.g. TASKENGINE_MAX_DEPTH -> max_depth).
const EnvPrefix = "TASKENGINE_"

// Load builds a Config by layering, in order: Default(), the process
// environment (TASKENGINE_* vars), then overrides (may be nil), and
// validates the result with go-playground/validator.
func Load(overrides *Config) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return normalizeEnvKey(key), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}
	if overrides != nil {
		if err := k.Load(structs.Provider(*overrides, "koanf"), nil); err != nil {
			return Config{}, fmt.Errorf("config: load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func normalizeEnvKey(key string) string {
	if len(key) >= len(EnvPrefix) && key[:len(EnvPrefix)] == EnvPrefix {
		key = key[len(EnvPrefix):]
	}
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out)
}

type ctxKey string

const configCtxKey ctxKey = "taskengine_config"

// ContextWithConfig returns a copy of ctx carrying cfg.
func ContextWithConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configCtxKey, cfg)
}

// FromContext retrieves the Config stored on ctx, falling back to
// Default() when absent.
func FromContext(ctx context.Context) Config {
	if ctx == nil {
		return Default()
	}
	if cfg, ok := ctx.Value(configCtxKey).(Config); ok {
		return cfg
	}
	return Default()
}
