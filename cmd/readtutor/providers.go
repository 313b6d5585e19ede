package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/readtutor/internal/config"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer/espeak"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
	oaistt "github.com/MrWong99/readtutor/pkg/provider/stt/openai"
	"github.com/MrWong99/readtutor/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config section and constructs the provider from
// the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Decoders ──────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{whisper.WithPoolSize(entry.PoolSize)}
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		if rms, ok := config.OptFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithNativeSilenceRMS(rms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if rms, ok := config.OptFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithSilenceRMS(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oaistt.WithLanguage(entry.Language))
		}
		if rms, ok := config.OptFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, oaistt.WithSilenceRMS(rms))
		}
		if n, ok := config.OptFloat(entry.Options, "max_retries"); ok {
			opts = append(opts, oaistt.WithMaxRetries(int(n)))
		}
		if s := config.OptString(entry.Options, "request_timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("decoder.options.request_timeout: %w", err)
			}
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Phonemizers ───────────────────────────────────────────────────────────

	reg.RegisterPhonemizer("espeak", func(cfg config.PhonemizerConfig) (phonemizer.Provider, error) {
		return espeak.New(
			espeak.WithBinary(cfg.EspeakPath),
			espeak.WithDialects(cfg.Dialects...),
		), nil
	})

	for kind, names := range reg.Names() {
		slog.Debug("providers registered", "kind", kind, "names", names)
	}
}

// buildProviders instantiates the decoder and phonemizer named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (stt.Provider, phonemizer.Provider, error) {
	dec, err := reg.CreateSTT(cfg.Decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("create decoder %q: %w", cfg.Decoder.Name, err)
	}
	slog.Info("provider created", "kind", "decoder", "name", cfg.Decoder.Name)

	ph, err := reg.CreatePhonemizer(cfg.Phonemizer)
	if err != nil {
		if c, ok := dec.(interface{ Close() error }); ok {
			err = errors.Join(err, c.Close())
		}
		return nil, nil, fmt.Errorf("create phonemizer %q: %w", cfg.Phonemizer.Name, err)
	}
	slog.Info("provider created", "kind", "phonemizer", "name", cfg.Phonemizer.Name)
	return dec, ph, nil
}
