package stt

import (
	"fmt"
	"time"

	"github.com/MrWong99/readtutor/pkg/audio"
)

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the transcribed speech. Empty means no speech was detected.
	Text string

	// Language is the language the backend recognised or was told to use.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// DefaultSilenceRMS is the root-mean-square energy (in 16-bit PCM units)
// below which a waveform is treated as silence. The maximum possible value is
// 32 767; 300 corresponds to near-silence.
const DefaultSilenceRMS = 300.0

// IsSilent reports whether w is below the threshold RMS energy. Whisper models
// tend to hallucinate text on silent input, so providers skip inference for
// silent waveforms and return an empty transcript instead. A threshold of 0
// disables the check.
func IsSilent(w audio.Waveform, threshold float64) bool {
	return threshold > 0 && audio.RMS(w.PCM) < threshold
}

// CheckFormat returns an error unless w is 16 kHz mono.
func CheckFormat(w audio.Waveform) error {
	if !w.IsSpeechFormat() {
		return fmt.Errorf("stt: waveform is %d Hz x%d, want %d Hz mono",
			w.SampleRate, w.Channels, audio.SpeechSampleRate)
	}
	return nil
}
