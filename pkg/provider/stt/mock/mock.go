// Package mock provides a test double for the stt.Provider interface.
//
// Text is what the mock "hears". Err simulates a backend failure, and Block
// holds a call until the test releases it.
//
// Example:
//
//	p := &mock.Provider{Text: "the cat sat"}
//	tr, _ := p.Transcribe(ctx, waveform)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcription when Err is nil.
	Text string

	// Language is copied into every returned Transcript.
	Language string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or ctx is
	// done. A done ctx yields ctx.Err().
	Block <-chan struct{}

	// Calls records every waveform passed to Transcribe.
	Calls []audio.Waveform
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, w audio.Waveform) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, w)
	text, lang, err, block := p.Text, p.Language, p.Err, p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: lang, Duration: w.Duration()}, nil
}

// SetText changes the transcription returned by later calls. Thread-safe.
func (p *Provider) SetText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Text = text
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
