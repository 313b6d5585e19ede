// Package whisper provides whisper.cpp-backed speech decoders.
//
// [Provider] talks to a running whisper-server binary over its REST API at
// POST /inference. [NativeProvider] links whisper.cpp directly through its
// CGO bindings and keeps one model in memory for the life of the process.
//
// Both are batch engines: each call submits one complete utterance and
// returns its transcription.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, waveform)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
	"github.com/MrWong99/readtutor/pkg/types"
)

const (
	defaultLanguage = "en"

	// maxDiagnosticBytes caps how much of an error response body is kept.
	maxDiagnosticBytes = 4096
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithSilenceRMS sets the energy below which a waveform is answered with an
// empty transcript without contacting the server. 0 disables the check.
// Defaults to [stt.DefaultSilenceRMS].
func WithSilenceRMS(rms float64) Option {
	return func(p *Provider) {
		p.silenceRMS = rms
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server. It
// holds no per-request state and is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	silenceRMS float64
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: stt.DefaultSilenceRMS,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ServerURL returns the base URL requests are sent to.
func (p *Provider) ServerURL() string { return p.serverURL }

// Transcribe encodes w as a WAV file and POSTs it to the /inference endpoint
// as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, w audio.Waveform) (stt.Transcript, error) {
	if err := stt.CheckFormat(w); err != nil {
		return stt.Transcript{}, types.DecodeError("", err)
	}
	out := stt.Transcript{Language: p.language, Duration: w.Duration()}
	if stt.IsSilent(w, p.silenceRMS) {
		return out, nil
	}

	body, contentType, err := p.form(audio.EncodeWAV(w))
	if err != nil {
		return stt.Transcript{}, types.DecodeError("", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return stt.Transcript{}, types.DecodeError("", fmt.Errorf("whisper: create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", ctxErr)
		}
		return stt.Transcript{}, types.DecodeError("", fmt.Errorf("whisper: http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBytes))
		return stt.Transcript{}, types.DecodeError(strings.TrimSpace(string(diag)),
			fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, types.DecodeError("", fmt.Errorf("whisper: parse JSON response: %w", err))
	}
	out.Text = strings.TrimSpace(result.Text)
	return out, nil
}

func (p *Provider) form(wav []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields.
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return nil, "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("whisper: write response_format field: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
