// Package audio converts spoken attempts into the waveform the speech
// decoders consume: 16 kHz, mono, 16-bit signed little-endian PCM.
//
// Common inputs (WAV, raw PCM and Ogg/Opus voice messages) are handled in
// process. Everything else goes through an external transcoder such as
// [github.com/MrWong99/readtutor/pkg/audio/ffmpeg].
package audio

import (
	"context"
	"time"

	"github.com/MrWong99/readtutor/pkg/types"
)

// Speech format expected by every decoder.
const (
	SpeechSampleRate = 16000
	SpeechChannels   = 1
)

// Waveform is decoded PCM audio.
type Waveform struct {
	// PCM holds 16-bit signed little-endian samples, interleaved when
	// Channels > 1.
	PCM []byte

	// SampleRate in Hz (16000 for decoder input).
	SampleRate int

	// Channels: 1 for mono.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (w Waveform) Frames() int {
	ch := max(w.Channels, 1)
	return len(w.PCM) / (2 * ch)
}

// Duration returns the playback length of w.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(w.Frames()) * time.Second / time.Duration(w.SampleRate)
}

// IsSpeechFormat reports whether w is already 16 kHz mono.
func (w Waveform) IsSpeechFormat() bool {
	return w.SampleRate == SpeechSampleRate && w.Channels == SpeechChannels
}

// Float32 returns w as mono float32 samples in [-1, 1], averaging channels.
func (w Waveform) Float32() []float32 {
	return PCMToFloat32Mono(w.PCM, w.Channels)
}

// Transcoder turns an [types.Utterance] into a 16 kHz mono [Waveform].
//
// Implementations return an error matching [types.ErrTranscode] for empty,
// corrupt or unsupported input, and for a missing or crashing external
// tool. A zero-byte utterance must be rejected before any decoding work.
// Implementations must be safe for concurrent use.
type Transcoder interface {
	Transcode(ctx context.Context, u types.Utterance) (Waveform, error)
}
