// Package mock provides a test double for [audio.Transcoder].
//
// The mock records every call so that tests can assert that no transcoding
// (and therefore no decoding) happened for rejected input.
//
// Typical usage:
//
//	tr := &mock.Transcoder{
//	    Result: audio.Waveform{PCM: pcm, SampleRate: 16000, Channels: 1},
//	}
//	w, err := tr.Transcode(ctx, utterance)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/types"
)

// Transcoder is a mock implementation of [audio.Transcoder].
type Transcoder struct {
	mu sync.Mutex

	// Result is returned by Transcode when Err is nil.
	Result audio.Waveform

	// Err, if non-nil, is returned by Transcode.
	Err error

	// RejectEmpty makes Transcode fail like a real transcoder on a zero-byte
	// utterance. Default: true via [New]; the zero value accepts anything.
	RejectEmpty bool

	// Block, if non-nil, makes Transcode wait until it is closed or ctx is
	// done.
	Block <-chan struct{}

	// Calls records the utterances passed to Transcode.
	Calls []types.Utterance
}

var _ audio.Transcoder = (*Transcoder)(nil)

// New returns a Transcoder that yields result and rejects empty input.
func New(result audio.Waveform) *Transcoder {
	return &Transcoder{Result: result, RejectEmpty: true}
}

// Transcode records the call and returns Result, Err.
func (t *Transcoder) Transcode(ctx context.Context, u types.Utterance) (audio.Waveform, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, u)
	res, err, block, reject := t.Result, t.Err, t.Block, t.RejectEmpty
	t.mu.Unlock()

	if reject && len(u.Data) == 0 {
		return audio.Waveform{}, types.TranscodeError("", errors.New("mock: empty buffer"))
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return audio.Waveform{}, ctx.Err()
		}
	}
	if err != nil {
		return audio.Waveform{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcode calls. Thread-safe.
func (t *Transcoder) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
