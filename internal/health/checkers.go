package health

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/MrWong99/readtutor/internal/resilience"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
)

// Binary checks that the executable at path (or named path, looked up on
// PATH) is present.
func Binary(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		},
	}
}

// Voice checks that the phonemizer accepts dialect and, when it can list its
// installed voices, that one of them is dialect.
func Voice(p phonemizer.Provider, dialect string) Checker {
	return Checker{
		Name: "voice:" + dialect,
		Check: func(ctx context.Context) error {
			if !p.Supports(dialect) {
				return fmt.Errorf("dialect %q is not enabled", dialect)
			}
			vl, ok := p.(phonemizer.VoiceLister)
			if !ok {
				return nil
			}
			voices, err := vl.Voices(ctx)
			if err != nil {
				return err
			}
			if !slices.Contains(voices, strings.ToLower(dialect)) {
				return fmt.Errorf("no installed voice for dialect %q", dialect)
			}
			return nil
		},
	}
}

// Decoder checks that a decoder was constructed. Local models are loaded at
// construction, so a non-nil provider is a loaded one.
func Decoder(p stt.Provider) Checker {
	return Checker{
		Name: "decoder",
		Check: func(context.Context) error {
			if p == nil {
				return errors.New("decoder not loaded")
			}
			return nil
		},
	}
}

// Breaker fails while cb is open.
func Breaker(cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "decoder:circuit",
		Check: func(context.Context) error {
			if s := cb.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit %s after %d consecutive failures", s, cb.Failures())
			}
			return nil
		},
	}
}
