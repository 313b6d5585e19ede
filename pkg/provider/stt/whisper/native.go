// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
	"github.com/MrWong99/readtutor/pkg/types"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

const defaultPoolSize = 1

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared by every request.
//
// At most PoolSize inferences run at a time; further requests wait for a
// free slot or for their context to end. A request whose context ends while
// its inference is running returns immediately, and the slot stays occupied
// until whisper.cpp notices the abort at its next encoder step.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	silenceRMS float64
	poolSize   int
	sem        *semaphore.Weighted
	inUse      chan struct{}
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithPoolSize bounds the number of concurrent inferences. Defaults to 1.
func WithPoolSize(n int) NativeOption {
	return func(p *NativeProvider) { p.poolSize = n }
}

// WithNativeSilenceRMS sets the energy below which a waveform is answered
// with an empty transcript without running the model. 0 disables the check.
func WithNativeSilenceRMS(rms float64) NativeOption {
	return func(p *NativeProvider) { p.silenceRMS = rms }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}

	p := &NativeProvider{
		language:   defaultLanguage,
		silenceRMS: stt.DefaultSilenceRMS,
		poolSize:   defaultPoolSize,
	}
	for _, o := range opts {
		o(p)
	}
	if p.poolSize < 1 {
		return nil, fmt.Errorf("whisper: pool size must be at least 1, got %d", p.poolSize)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p.model = model
	p.sem = semaphore.NewWeighted(int64(p.poolSize))
	p.inUse = make(chan struct{}, p.poolSize)
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed and no inference is running.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// PoolSize returns the configured number of inference slots.
func (p *NativeProvider) PoolSize() int { return p.poolSize }

// InUse returns the number of inference slots currently occupied.
func (p *NativeProvider) InUse() int { return len(p.inUse) }

type inferResult struct {
	text string
	err  error
}

// Transcribe runs whisper.cpp over w using a fresh context from the shared
// model.
func (p *NativeProvider) Transcribe(ctx context.Context, w audio.Waveform) (stt.Transcript, error) {
	if err := stt.CheckFormat(w); err != nil {
		return stt.Transcript{}, types.DecodeError("", err)
	}
	out := stt.Transcript{Language: p.language, Duration: w.Duration()}
	if stt.IsSilent(w, p.silenceRMS) {
		return out, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: wait for inference slot: %w", err)
	}
	p.inUse <- struct{}{}

	samples := w.Float32()
	done := make(chan inferResult, 1)
	go func() {
		defer func() {
			<-p.inUse
			p.sem.Release(1)
		}()
		text, err := p.infer(ctx, samples)
		done <- inferResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stt.Transcript{}, fmt.Errorf("whisper: inference: %w", ctxErr)
			}
			return stt.Transcript{}, types.DecodeError("", r.err)
		}
		out.Text = r.text
		return out, nil
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("whisper: inference: %w", ctx.Err())
	}
}

// infer runs whisper.cpp inference using a fresh context and returns the
// concatenated segment text.
func (p *NativeProvider) infer(ctx context.Context, samples []float32) (string, error) {
	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	// Returning false from the encoder callback aborts the run.
	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, proceed, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
