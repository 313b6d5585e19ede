package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
	"github.com/MrWong99/readtutor/pkg/types"
)

// STTBreaker implements [stt.Provider] by forwarding to a wrapped decoder
// through a [CircuitBreaker]. While the breaker is open, Transcribe fails
// immediately with a decode error wrapping [ErrCircuitOpen].
type STTBreaker struct {
	next    stt.Provider
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTBreaker)(nil)

// NewSTTBreaker wraps next. A nil cfg.IsFailure counts every error except a
// cancelled context; a decoder that keeps running into the caller's deadline
// is treated as failing.
func NewSTTBreaker(next stt.Provider, cfg CircuitBreakerConfig) *STTBreaker {
	return &STTBreaker{next: next, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the underlying breaker for health reporting.
func (b *STTBreaker) Breaker() *CircuitBreaker { return b.breaker }

// Transcribe forwards to the wrapped decoder unless the breaker is open.
func (b *STTBreaker) Transcribe(ctx context.Context, w audio.Waveform) (stt.Transcript, error) {
	var out stt.Transcript
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.next.Transcribe(ctx, w)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return stt.Transcript{}, types.DecodeError("decoder unavailable",
			fmt.Errorf("resilience: %s: %w", b.breaker.Name(), err))
	}
	return out, err
}
