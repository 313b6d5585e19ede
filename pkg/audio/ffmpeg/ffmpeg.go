// Package ffmpeg implements [audio.Transcoder] by piping the utterance
// through the ffmpeg command-line tool.
//
// The argument vector is fixed; the input goes to stdin and raw 16 kHz mono
// PCM is read from stdout. No shell is involved. stderr is captured and
// attached to errors as the diagnostic.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/types"
)

const defaultBinary = "ffmpeg"

// outputArgs select 16-bit little-endian mono PCM at 16 kHz on stdout.
var outputArgs = []string{
	"-vn",
	"-ac", strconv.Itoa(audio.SpeechChannels),
	"-ar", strconv.Itoa(audio.SpeechSampleRate),
	"-f", "s16le",
	"-acodec", "pcm_s16le",
	"pipe:1",
}

// Option is a functional option for configuring a [Transcoder].
type Option func(*Transcoder)

// WithBinary sets the ffmpeg executable. Default: "ffmpeg" looked up on PATH.
func WithBinary(path string) Option {
	return func(t *Transcoder) {
		if path != "" {
			t.binary = path
		}
	}
}

// Transcoder runs one ffmpeg process per utterance. It is safe for
// concurrent use.
type Transcoder struct {
	binary string
}

var _ audio.Transcoder = (*Transcoder)(nil)

// New returns an ffmpeg [Transcoder].
func New(opts ...Option) *Transcoder {
	t := &Transcoder{binary: defaultBinary}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Binary returns the configured executable.
func (t *Transcoder) Binary() string { return t.binary }

// Args returns the argument vector (without the binary) used for u.
func (t *Transcoder) Args(u types.Utterance) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if u.ResolvedEncoding() == types.EncodingPCM {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(u.SampleRate),
			"-ac", strconv.Itoa(max(u.Channels, 1)),
		)
	}
	args = append(args, "-i", "pipe:0")
	return append(args, outputArgs...)
}

// Transcode implements [audio.Transcoder].
func (t *Transcoder) Transcode(ctx context.Context, u types.Utterance) (audio.Waveform, error) {
	if len(u.Data) == 0 {
		return audio.Waveform{}, types.TranscodeError("", errors.New("ffmpeg: empty buffer"))
	}
	if u.ResolvedEncoding() == types.EncodingPCM && u.SampleRate <= 0 {
		return audio.Waveform{}, types.TranscodeError("", errors.New("ffmpeg: raw PCM requires a sample rate"))
	}

	cmd := exec.CommandContext(ctx, t.binary, t.Args(u)...)
	cmd.Stdin = bytes.NewReader(u.Data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return audio.Waveform{}, fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		return audio.Waveform{}, types.TranscodeError(
			strings.TrimSpace(stderr.String()), fmt.Errorf("ffmpeg: run %s: %w", t.binary, err))
	}

	pcm := stdout.Bytes()
	pcm = pcm[:len(pcm)/2*2]
	if len(pcm) == 0 {
		return audio.Waveform{}, types.TranscodeError(
			strings.TrimSpace(stderr.String()), errors.New("ffmpeg: zero-duration output"))
	}
	return audio.Waveform{
		PCM:        pcm,
		SampleRate: audio.SpeechSampleRate,
		Channels:   audio.SpeechChannels,
	}, nil
}

// Available reports whether the configured binary can be found.
func (t *Transcoder) Available() error {
	if _, err := exec.LookPath(t.binary); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
