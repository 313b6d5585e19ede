// Package phonemizer defines the Provider interface for grapheme-to-phoneme
// backends.
//
// A phonemizer turns written text into a sequence of IPA symbols for one
// dialect. The assessor uses a single provider and a single dialect for both
// the target text and the transcription so that the two sequences are
// comparable.
//
// Implementations must be deterministic (the same text and dialect always
// yield the same sequence) and safe for concurrent use.
package phonemizer

import (
	"context"

	"github.com/MrWong99/readtutor/pkg/types"
)

// Provider is the abstraction over any grapheme-to-phoneme backend.
type Provider interface {
	// Phonemize converts text to IPA symbols using dialect (e.g. "en-us").
	// The returned sequence is not normalized yet.
	//
	// Empty or whitespace-only text yields an empty sequence and no error.
	// An unsupported dialect, a missing backend or a backend crash returns an
	// error matching [types.ErrPhonemize].
	Phonemize(ctx context.Context, text, dialect string) (types.PhonemeSequence, error)

	// Supports reports whether dialect can be used with Phonemize.
	Supports(dialect string) bool
}

// VoiceLister is implemented by providers that can enumerate the dialects
// installed on the host. It backs the readiness check.
type VoiceLister interface {
	Voices(ctx context.Context) ([]string, error)
}
