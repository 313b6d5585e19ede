package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/readtutor/pkg/types"
)

// ChainOption is a functional option for configuring a [Chain].
type ChainOption func(*Chain)

// WithFallback sets the transcoder used for containers without a native
// decoder and for native decode failures. Without a fallback those inputs
// fail with [types.ErrTranscode].
func WithFallback(t Transcoder) ChainOption {
	return func(c *Chain) {
		c.fallback = t
	}
}

// WithNative enables or disables the in-process decoders. When disabled
// every utterance except raw PCM goes to the fallback. Default: enabled.
func WithNative(enabled bool) ChainOption {
	return func(c *Chain) {
		c.native = enabled
	}
}

// Chain is the default [Transcoder]. It tries the cheapest path first:
//
//  1. 16 kHz mono WAV or PCM passes through unchanged.
//  2. Other WAV and PCM input is down-mixed and resampled in process.
//  3. Ogg/Opus is demuxed and decoded in process.
//  4. Everything else, and any native failure, goes to the fallback.
//
// Chain holds no mutable state and is safe for concurrent use.
type Chain struct {
	fallback Transcoder
	native   bool
}

var _ Transcoder = (*Chain)(nil)

// NewChain returns a [Chain] configured with opts.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{native: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

var errNoNativeDecoder = errors.New("no native decoder")

// Transcode implements [Transcoder].
func (c *Chain) Transcode(ctx context.Context, u types.Utterance) (Waveform, error) {
	if len(u.Data) == 0 {
		return Waveform{}, types.TranscodeError("", errors.New("audio: empty buffer"))
	}
	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}

	enc := u.ResolvedEncoding()
	if !enc.IsValid() {
		return Waveform{}, types.TranscodeError("", fmt.Errorf("audio: unknown encoding %q", enc))
	}
	if enc == types.EncodingPCM {
		// Raw PCM has no header a fallback tool could probe.
		return c.rawPCM(u)
	}

	w, err := c.decodeNative(enc, u.Data)
	if err == nil {
		w, err = ToSpeechFormat(w)
	}
	if err == nil && w.Frames() == 0 {
		err = errors.New("audio: zero-duration audio")
	}
	if err == nil {
		return w, nil
	}

	if c.fallback == nil {
		return Waveform{}, types.TranscodeError("", fmt.Errorf("audio: %s: %w", encodingName(enc), err))
	}
	if !errors.Is(err, errNoNativeDecoder) {
		slog.Debug("audio: native decode failed, using fallback transcoder",
			"encoding", encodingName(enc),
			"err", err,
		)
	}
	return c.fallback.Transcode(ctx, u)
}

func (c *Chain) decodeNative(enc types.Encoding, data []byte) (Waveform, error) {
	if !c.native {
		return Waveform{}, errNoNativeDecoder
	}
	switch enc {
	case types.EncodingWAV:
		return ParseWAV(data)
	case types.EncodingOggOpus:
		return DecodeOggOpus(data)
	}
	return Waveform{}, errNoNativeDecoder
}

func (c *Chain) rawPCM(u types.Utterance) (Waveform, error) {
	if u.SampleRate <= 0 {
		return Waveform{}, types.TranscodeError("", errors.New("audio: raw PCM requires a sample rate"))
	}
	ch := max(u.Channels, 1)
	if len(u.Data)%(2*ch) != 0 {
		return Waveform{}, types.TranscodeError("",
			fmt.Errorf("audio: raw PCM length %d is not a multiple of the %d-byte frame", len(u.Data), 2*ch))
	}
	w, err := ToSpeechFormat(Waveform{PCM: u.Data, SampleRate: u.SampleRate, Channels: ch})
	if err != nil {
		return Waveform{}, types.TranscodeError("", err)
	}
	if w.Frames() == 0 {
		return Waveform{}, types.TranscodeError("", errors.New("audio: zero-duration audio"))
	}
	return w, nil
}

func encodingName(e types.Encoding) string {
	if e == types.EncodingUnknown {
		return "unknown"
	}
	return string(e)
}
