// Package openai provides a speech decoder backed by the OpenAI audio
// transcription API, or any server that speaks the same protocol.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
	"github.com/MrWong99/readtutor/pkg/types"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	language   string
	silenceRMS float64
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	silenceRMS float64
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 language hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithSilenceRMS sets the energy below which a waveform is answered with an
// empty transcript without calling the API. 0 disables the check.
func WithSilenceRMS(rms float64) Option {
	return func(c *config) {
		c.silenceRMS = rms
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Defaults to 0.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{language: "en", silenceRMS: stt.DefaultSilenceRMS}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		language:   cfg.language,
		silenceRMS: cfg.silenceRMS,
	}, nil
}

// ModelID returns the transcription model requests are sent to.
func (p *Provider) ModelID() string { return p.model }

// Transcribe implements stt.Provider. The waveform is uploaded as a WAV file.
func (p *Provider) Transcribe(ctx context.Context, w audio.Waveform) (stt.Transcript, error) {
	if err := stt.CheckFormat(w); err != nil {
		return stt.Transcript{}, types.DecodeError("", err)
	}
	out := stt.Transcript{Language: p.language, Duration: w.Duration()}
	if stt.IsSilent(w, p.silenceRMS) {
		return out, nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeWAV(w)), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", ctxErr)
		}
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return stt.Transcript{}, types.DecodeError(apiErr.Message,
				fmt.Errorf("openai stt: server returned HTTP %d", apiErr.StatusCode))
		}
		return stt.Transcript{}, types.DecodeError("", fmt.Errorf("openai stt: transcribe: %w", err))
	}
	out.Text = strings.TrimSpace(resp.Text)
	return out, nil
}
