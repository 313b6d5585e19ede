package types

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the assessor matches exactly one of
// these via [errors.Is]. A failure is never a mismatch: callers must render
// the two outcomes differently.
var (
	// ErrTranscode: bad or corrupt audio, or the transcoder is missing/crashed.
	ErrTranscode = errors.New("transcode failed")

	// ErrDecode: the speech-to-text engine failed. "No speech" is not an error.
	ErrDecode = errors.New("decode failed")

	// ErrPhonemize: unsupported dialect, missing phonemizer, phonemizer crash.
	ErrPhonemize = errors.New("phonemization failed")

	// ErrConfig: invalid strategy, threshold, tolerance or language.
	ErrConfig = errors.New("invalid configuration")

	// ErrTimeout: a pipeline stage exceeded its deadline.
	ErrTimeout = errors.New("stage timed out")
)

// Stage names used in [StageError].
const (
	StageConfig    = "config"
	StageTranscode = "transcode"
	StageDecode    = "decode"
	StagePhonemize = "phonemize"
	StageNormalize = "normalize"
	StageScore     = "score"
)

// StageError carries the stage that failed, the error kind, the underlying
// tool's diagnostic output (stderr, HTTP body) and the cause.
type StageError struct {
	// Stage is the pipeline step, e.g. [StageTranscode].
	Stage string

	// Kind is one of the Err* sentinels of this package.
	Kind error

	// Diagnostic is the captured output of the external tool, if any.
	Diagnostic string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements error.
func (e *StageError) Error() string {
	msg := e.Stage + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += " (diagnostic: " + e.Diagnostic + ")"
	}
	return msg
}

// Unwrap exposes both the kind and the cause to [errors.Is] and [errors.As].
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TranscodeError returns an [ErrTranscode] error with the tool's diagnostic.
func TranscodeError(diagnostic string, err error) error {
	return &StageError{Stage: StageTranscode, Kind: ErrTranscode, Diagnostic: diagnostic, Err: err}
}

// DecodeError returns an [ErrDecode] error.
func DecodeError(diagnostic string, err error) error {
	return &StageError{Stage: StageDecode, Kind: ErrDecode, Diagnostic: diagnostic, Err: err}
}

// PhonemizationError returns an [ErrPhonemize] error.
func PhonemizationError(diagnostic string, err error) error {
	return &StageError{Stage: StagePhonemize, Kind: ErrPhonemize, Diagnostic: diagnostic, Err: err}
}

// ConfigError returns an [ErrConfig] error describing msg.
func ConfigError(msg string, err error) error {
	if err == nil {
		err = errors.New(msg)
	} else {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	return &StageError{Stage: StageConfig, Kind: ErrConfig, Err: err}
}

// TimeoutError returns an [ErrTimeout] error for stage. err is usually
// [context.DeadlineExceeded] and stays reachable through [errors.Is].
func TimeoutError(stage string, err error) error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return &StageError{Stage: stage, Kind: ErrTimeout, Err: err}
}

// KindOf returns the taxonomy name of err ("transcode", "decode",
// "phonemize", "config", "timeout") or "internal" when err is outside it.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrTranscode):
		return "transcode"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrPhonemize):
		return "phonemize"
	}
	return "internal"
}

// StageOf returns the stage recorded in err, or "" when err carries none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
