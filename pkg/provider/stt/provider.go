// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns one complete utterance (16 kHz mono PCM) into its
// best-guess transcription. Backends are batch engines such as a local
// whisper.cpp model, a whisper-server instance, or a hosted transcription
// API.
//
// An empty transcription is a valid result meaning "no speech detected". It
// is not an error: it flows downstream and scores as a strong mismatch.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/readtutor/pkg/audio"
)

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe returns the transcription of w, which must be in the speech
	// format (see [audio.Waveform.IsSpeechFormat]).
	//
	// Backend failures return an error matching [types.ErrDecode] that
	// carries the backend's diagnostic. Context expiry returns the context
	// error unchanged so callers can tell a timeout from a failure.
	Transcribe(ctx context.Context, w audio.Waveform) (Transcript, error)
}
