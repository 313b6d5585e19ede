// Package config provides the configuration schema, loader, and provider
// registry for the readtutor command.
package config

import (
	"time"

	"github.com/MrWong99/readtutor/internal/assess"
	"github.com/MrWong99/readtutor/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Decoder    ProviderEntry     `yaml:"decoder"`
	Transcoder TranscoderConfig  `yaml:"transcoder"`
	Phonemizer PhonemizerConfig  `yaml:"phonemizer"`
	Match      types.MatchConfig `yaml:"match"`
	Timeouts   assess.Timeouts   `yaml:"timeouts"`
	Batch      BatchConfig       `yaml:"batch"`
}

// ServerConfig holds logging and the optional metrics listener.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderEntry configures the speech-to-text decoder. The Name field is
// used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered decoder (e.g., "whisper-native", "whisper", "openai").
	Name string `yaml:"name"`

	// Model is the model file for local decoders or the model ID for remote
	// ones (e.g., "whisper-1").
	Model string `yaml:"model"`

	// BaseURL is the server address for HTTP decoders.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against hosted APIs. May be supplied through the
	// READTUTOR_OPENAI_API_KEY environment variable instead.
	APIKey string `yaml:"api_key"`

	// Language is the decoder's language hint (e.g., "en").
	Language string `yaml:"language"`

	// PoolSize bounds concurrent inferences of a local model. Default: 1.
	PoolSize int `yaml:"pool_size"`

	// Options holds decoder-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// CircuitBreaker guards remote decoders. Ignored for local models.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breaker around a remote decoder. Zero values
// take the breaker's defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TranscoderConfig selects how input audio is brought to 16 kHz mono PCM.
type TranscoderConfig struct {
	// FFmpegPath is the ffmpeg executable used for containers without a
	// native decoder. Default: "ffmpeg" on PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Native enables in-process decoding of WAV, raw PCM and Ogg/Opus.
	// Default: true.
	Native *bool `yaml:"native"`
}

// NativeEnabled reports whether native decoding is on.
func (t TranscoderConfig) NativeEnabled() bool {
	return t.Native == nil || *t.Native
}

// PhonemizerConfig configures the grapheme-to-phoneme backend.
type PhonemizerConfig struct {
	// Name selects the registered phonemizer. Default: "espeak".
	Name string `yaml:"name"`

	// EspeakPath is the espeak-ng executable. Default: "espeak-ng" on PATH.
	EspeakPath string `yaml:"espeak_path"`

	// Dialects replaces the accepted dialect set.
	Dialects []string `yaml:"dialects"`

	// CacheSize is the phoneme cache budget in bytes. 0 disables caching.
	CacheSize int64 `yaml:"cache_size"`
}

// BatchConfig configures manifest runs.
type BatchConfig struct {
	// Concurrency bounds assessments in flight. Default: 4.
	Concurrency int `yaml:"concurrency"`
}
