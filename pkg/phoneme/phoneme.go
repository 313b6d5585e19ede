// Package phoneme turns raw IPA text into comparable symbol sequences.
//
// Segmentation works on Unicode grapheme clusters (so combining diacritics
// stay with their base letter) and then applies IPA joining rules:
//
//   - A tie bar (U+0361, U+035C) joins its cluster with the next one, so an
//     affricate written "t͡ʃ" is one symbol.
//   - Length marks and spacing modifier letters (ː, ʰ, ʲ, ʷ, ˞ ...) attach to
//     the preceding symbol.
//   - Primary and secondary stress marks (ˈ, ˌ) stay separate symbols.
//   - Every whitespace cluster is its own symbol.
//
// [Normalize] then canonicalizes separators and spacing without touching the
// phonetic symbols themselves.
package phoneme

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"

	"github.com/MrWong99/readtutor/pkg/types"
)

// Parse segments raw phonemizer output into an unnormalized sequence.
func Parse(dialect, raw string) types.PhonemeSequence {
	return types.PhonemeSequence{
		Dialect: dialect,
		Symbols: Segment(raw),
	}
}

// Segment splits s into IPA symbols. It returns nil for an empty string.
// Joining the result with "" always reproduces s.
func Segment(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	joinNext := false
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		c := g.Str()
		last := len(out) - 1
		switch {
		case last >= 0 && joinNext && !isSpace(c):
			out[last] += c
		case last >= 0 && attaches(c) && !isSpace(out[last]):
			out[last] += c
		default:
			out = append(out, c)
		}
		joinNext = endsWithTie(out[len(out)-1])
	}
	return out
}

// Normalize canonicalizes seq. Rules, in order:
//
//  1. word-boundary markers collapse to [types.WordSeparator];
//  2. runs of whitespace collapse to one separator;
//  3. leading and trailing whitespace is stripped.
//
// Normalize is pure and idempotent.
func Normalize(seq types.PhonemeSequence) types.PhonemeSequence {
	text := strings.Map(func(r rune) rune {
		if isBoundaryMarker(r) {
			return ' '
		}
		return r
	}, seq.String())
	text = strings.Join(strings.Fields(text), types.WordSeparator)

	return types.PhonemeSequence{
		Dialect:    seq.Dialect,
		Symbols:    Segment(text),
		Normalized: true,
	}
}

// Words splits a normalized sequence into per-word symbol slices.
func Words(seq types.PhonemeSequence) [][]string {
	var (
		words [][]string
		cur   []string
	)
	for _, sym := range seq.Symbols {
		if sym == types.WordSeparator {
			if len(cur) > 0 {
				words = append(words, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, sym)
	}
	if len(cur) > 0 {
		words = append(words, cur)
	}
	return words
}

// isBoundaryMarker reports word and prosodic-group boundary markers emitted
// by phonemizers, plus the whitespace variants strings.Fields might keep.
func isBoundaryMarker(r rune) bool {
	switch r {
	case '_', '|', '#', '\u2016', '\u00a0', '\u200b', '\u2060':
		return true
	}
	return false
}

// attaches reports whether cluster c modifies the preceding symbol.
func attaches(c string) bool {
	r := []rune(c)[0]
	switch r {
	case 'ˈ', 'ˌ':
		return false
	case 'ː', 'ˑ':
		return true
	}
	switch {
	case r >= 0x02B0 && r <= 0x02FF: // spacing modifier letters
		return true
	case r >= 0x1D2C && r <= 0x1D6A: // superscript modifier letters
		return true
	case r == 0x207F: // ⁿ
		return true
	}
	return unicode.Is(unicode.Mn, r)
}

func endsWithTie(c string) bool {
	return strings.HasSuffix(c, "\u0361") || strings.HasSuffix(c, "\u035c")
}

func isSpace(c string) bool {
	for _, r := range c {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return c != ""
}
