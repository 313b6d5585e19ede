// Package espeak implements [phonemizer.Provider] on top of the espeak-ng
// command-line tool.
//
// Every call spawns one espeak-ng process with a fixed argument vector:
//
//	espeak-ng -v<dialect> --ipa=1 -q <text>
//
// The text is passed as a single argument, never through a shell, so reader
// input cannot inject flags or commands. stdout carries the IPA
// transcription; stderr is captured and attached to errors.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode"

	"github.com/MrWong99/readtutor/pkg/phoneme"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/types"
)

const defaultBinary = "espeak-ng"

// DefaultDialects is the supported set used when none is configured. Every
// entry is an English voice shipped with espeak-ng.
var DefaultDialects = []string{"en", "en-us", "en-gb", "en-gb-x-rp", "en-gb-scotland", "en-029"}

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithBinary sets the espeak-ng executable. Default: "espeak-ng" looked up
// on PATH.
func WithBinary(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.binary = path
		}
	}
}

// WithDialects replaces the supported dialect set. Dialects are compared
// case-insensitively.
func WithDialects(dialects ...string) Option {
	return func(p *Provider) {
		if len(dialects) == 0 {
			return
		}
		p.dialects = make(map[string]struct{}, len(dialects))
		for _, d := range dialects {
			p.dialects[types.CanonicalDialect(d)] = struct{}{}
		}
	}
}

// Provider runs espeak-ng as a subprocess. It holds no mutable state and is
// safe for concurrent use.
type Provider struct {
	binary   string
	dialects map[string]struct{}
}

var (
	_ phonemizer.Provider    = (*Provider)(nil)
	_ phonemizer.VoiceLister = (*Provider)(nil)
)

// New returns an espeak-ng [Provider].
func New(opts ...Option) *Provider {
	p := &Provider{binary: defaultBinary}
	WithDialects(DefaultDialects...)(p)
	for _, o := range opts {
		o(p)
	}
	return p
}

// Binary returns the configured executable.
func (p *Provider) Binary() string { return p.binary }

// Supports reports whether dialect is in the configured set.
func (p *Provider) Supports(dialect string) bool {
	_, ok := p.dialects[types.CanonicalDialect(dialect)]
	return ok
}

// Phonemize implements [phonemizer.Provider].
func (p *Provider) Phonemize(ctx context.Context, text, dialect string) (types.PhonemeSequence, error) {
	if !p.Supports(dialect) {
		return types.PhonemeSequence{}, types.PhonemizationError("", fmt.Errorf("espeak: unsupported dialect %q", dialect))
	}
	dialect = types.CanonicalDialect(dialect)

	arg := sanitize(text)
	if strings.TrimSpace(arg) == "" {
		// espeak-ng would fall back to reading stdin.
		return types.PhonemeSequence{Dialect: dialect}, nil
	}

	cmd := exec.CommandContext(ctx, p.binary, "-v"+dialect, "--ipa=1", "-q", arg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.PhonemeSequence{}, fmt.Errorf("espeak: %w", ctxErr)
		}
		return types.PhonemeSequence{}, types.PhonemizationError(
			strings.TrimSpace(stderr.String()), fmt.Errorf("espeak: run %s: %w", p.binary, err))
	}
	// espeak-ng reports unknown voices on stderr but still exits 0.
	if stdout.Len() == 0 && stderr.Len() > 0 {
		return types.PhonemeSequence{}, types.PhonemizationError(
			strings.TrimSpace(stderr.String()), errors.New("espeak: no output"))
	}

	return phoneme.Parse(dialect, stdout.String()), nil
}

// Voices lists the language codes of the voices installed for the
// configured binary (espeak-ng --voices).
func (p *Provider) Voices(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, p.binary, "--voices")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, types.PhonemizationError(strings.TrimSpace(stderr.String()),
			fmt.Errorf("espeak: list voices: %w", err))
	}
	return parseVoices(stdout.String()), nil
}

// parseVoices extracts the language column from the voices table.
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US
func parseVoices(out string) []string {
	var voices []string
	sc := bufio.NewScanner(strings.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, strings.ToLower(fields[1]))
	}
	return voices
}

// sanitize removes control characters and keeps text from being read as a
// command-line flag.
func sanitize(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	if strings.HasPrefix(strings.TrimLeftFunc(text, unicode.IsSpace), "-") {
		text = " " + strings.TrimLeftFunc(text, unicode.IsSpace)
	}
	return text
}
