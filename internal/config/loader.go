package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/readtutor/internal/assess"
	"github.com/MrWong99/readtutor/internal/batch"
	"github.com/MrWong99/readtutor/pkg/types"
)

// EnvOpenAIKey overrides decoder.api_key when set.
const EnvOpenAIKey = "READTUTOR_OPENAI_API_KEY"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"decoder":    {"whisper-native", "whisper", "openai"},
	"phonemizer": {"espeak"},
}

// Default returns the configuration used when no file is given: a
// whisper.cpp server on localhost, espeak-ng and the calibrated match
// defaults.
func Default() *Config {
	cfg := defaults()
	cfg.Decoder = ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080", PoolSize: 1}
	return cfg
}

// defaults returns the values a document is decoded over. Keys absent from
// the YAML keep them.
func defaults() *Config {
	return &Config{
		Server:     ServerConfig{LogLevel: LogInfo},
		Decoder:    ProviderEntry{PoolSize: 1},
		Phonemizer: PhonemizerConfig{Name: "espeak"},
		Match:      types.DefaultMatchConfig(),
		Timeouts:   assess.DefaultTimeouts(),
		Batch:      BatchConfig{Concurrency: batch.DefaultConcurrency},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults, applies
// environment overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.ConfigError("decode yaml", err)
	}
	if s, err := types.ParseStrategy(string(cfg.Match.Strategy)); err == nil {
		cfg.Match.Strategy = s
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv(EnvOpenAIKey); key != "" {
		cfg.Decoder.APIKey = key
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; the
// result matches [types.ErrConfig].
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("decoder", cfg.Decoder.Name)
	validateProviderName("phonemizer", cfg.Phonemizer.Name)

	d := cfg.Decoder
	switch d.Name {
	case "":
		errs = append(errs, errors.New("decoder.name is required"))
	case "whisper-native":
		if d.Model == "" {
			errs = append(errs, errors.New("decoder.model is required for whisper-native (path to a ggml model file)"))
		}
	case "whisper":
		if d.BaseURL == "" {
			errs = append(errs, errors.New("decoder.base_url is required for whisper"))
		}
	case "openai":
		if d.APIKey == "" {
			errs = append(errs, fmt.Errorf("decoder.api_key (or %s) is required for openai", EnvOpenAIKey))
		}
	}
	if d.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("decoder.pool_size %d must be at least 1", d.PoolSize))
	}
	if d.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("decoder.circuit_breaker.max_failures %d must not be negative", d.CircuitBreaker.MaxFailures))
	}
	if d.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("decoder.circuit_breaker.reset_timeout %v must not be negative", d.CircuitBreaker.ResetTimeout))
	}

	if cfg.Phonemizer.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("phonemizer.cache_size %d must not be negative", cfg.Phonemizer.CacheSize))
	}
	if lang := types.CanonicalDialect(cfg.Match.Language); lang != "" && len(cfg.Phonemizer.Dialects) > 0 &&
		!slices.ContainsFunc(cfg.Phonemizer.Dialects, func(d string) bool { return types.CanonicalDialect(d) == lang }) {
		errs = append(errs, fmt.Errorf("match.language %q is not in phonemizer.dialects %v", lang, cfg.Phonemizer.Dialects))
	}

	if err := cfg.Match.Validate(); err != nil {
		var se *types.StageError
		if errors.As(err, &se) && se.Err != nil {
			err = se.Err
		}
		errs = append(errs, fmt.Errorf("match: %w", err))
	}

	t := cfg.Timeouts
	for _, st := range []struct {
		name string
		d    time.Duration
	}{
		{"transcode", t.Transcode},
		{"decode", t.Decode},
		{"phonemize", t.Phonemize},
		{"score", t.Score},
	} {
		if st.d < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s %v must not be negative", st.name, st.d))
		}
	}

	if cfg.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency %d must be at least 1", cfg.Batch.Concurrency))
	}

	if len(errs) == 0 {
		return nil
	}
	return types.ConfigError("invalid configuration", errors.Join(errs...))
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
