// Package mock provides a test double for the phonemizer package.
//
// Provider looks the text up in Table and segments the IPA it finds there,
// so tests can use realistic espeak-ng output without the binary.
//
// Example:
//
//	p := &mock.Provider{
//	    Table: map[string]string{"cat": "kˈæt"},
//	}
//	seq, _ := p.Phonemize(ctx, "cat", "en-us")
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/readtutor/pkg/phoneme"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/types"
)

// PhonemizeCall records a single invocation of Provider.Phonemize.
type PhonemizeCall struct {
	Text    string
	Dialect string
}

// Provider is a mock implementation of phonemizer.Provider.
type Provider struct {
	mu sync.Mutex

	// Table maps input text to the IPA string returned for it. Unknown text
	// is returned as-is, which keeps test tables short.
	Table map[string]string

	// Dialects is the supported set. Empty means only "en-us".
	Dialects []string

	// Err, if non-nil, is returned from every Phonemize call on a supported
	// dialect.
	Err error

	// Delay, if set, blocks each call until it elapses or ctx is done.
	Delay <-chan struct{}

	// Calls records every call to Phonemize.
	Calls []PhonemizeCall
}

var _ phonemizer.Provider = (*Provider)(nil)

// Phonemize records the call and returns the table entry for text.
func (p *Provider) Phonemize(ctx context.Context, text, dialect string) (types.PhonemeSequence, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, PhonemizeCall{Text: text, Dialect: dialect})
	err, delay := p.Err, p.Delay
	ipa, ok := p.Table[text]
	p.mu.Unlock()

	if !p.Supports(dialect) {
		return types.PhonemeSequence{}, types.PhonemizationError("", fmt.Errorf("mock: unsupported dialect %q", dialect))
	}
	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return types.PhonemeSequence{}, ctx.Err()
		}
	}
	if err != nil {
		return types.PhonemeSequence{}, err
	}
	if !ok {
		ipa = text
	}
	if strings.TrimSpace(ipa) == "" {
		return types.PhonemeSequence{Dialect: dialect}, nil
	}
	return phoneme.Parse(dialect, ipa), nil
}

// Supports reports whether dialect is in Dialects.
func (p *Provider) Supports(dialect string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Dialects) == 0 {
		return dialect == types.DefaultLanguage
	}
	for _, d := range p.Dialects {
		if d == dialect {
			return true
		}
	}
	return false
}

// CallCount returns the number of Phonemize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
