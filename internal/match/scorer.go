// Package match compares two normalized phoneme sequences and decides
// whether a spoken attempt matches its target.
//
// Three strategies are available (see [types.Strategy]):
//
//   - exact: the sequences must be identical symbol for symbol.
//   - sequence_similarity: the Ratcliff/Obershelp block-matching ratio
//     2·M/T, where M counts symbols in matching blocks and T is the sum of
//     both lengths.
//   - edit_distance: 1 − D/max(len), where D is the Levenshtein distance
//     over symbols.
//
// All strategies are symmetric, deterministic and return a similarity in
// [0, 1]. Two empty sequences match perfectly; an empty sequence against a
// non-empty one scores 0.
package match

import (
	"fmt"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/MrWong99/readtutor/pkg/types"
)

// Scorer implements the match strategies. It holds no state and is safe for
// concurrent use.
type Scorer struct{}

// New returns a [Scorer].
func New() *Scorer { return &Scorer{} }

// Score compares spoken against target under cfg.
//
// Both sequences must be normalized and share a dialect; otherwise Score
// returns an [types.ErrConfig] error, as it does for an invalid cfg. Score
// never returns an error for a mismatch: a mismatch is a result with
// Passed == false.
func (s *Scorer) Score(spoken, target types.PhonemeSequence, cfg types.MatchConfig) (types.MatchResult, error) {
	if err := cfg.Validate(); err != nil {
		return types.MatchResult{}, err
	}
	if !spoken.Normalized || !target.Normalized {
		return types.MatchResult{}, types.ConfigError("match: sequences must be normalized before scoring", nil)
	}
	if spoken.Dialect != target.Dialect {
		return types.MatchResult{}, types.ConfigError(
			fmt.Sprintf("match: dialect mismatch: spoken %q, target %q", spoken.Dialect, target.Dialect), nil)
	}

	sim := Similarity(cfg.Strategy, spoken.Symbols, target.Symbols)
	return types.MatchResult{
		Similarity: sim,
		Passed:     passes(cfg, spoken.Symbols, target.Symbols, sim),
		Strategy:   cfg.Strategy,
		Threshold:  cfg.PassBar(),
		Spoken:     spoken,
		Target:     target,
	}, nil
}

// Similarity returns the similarity of a and b under strategy. An unknown
// strategy scores as sequence similarity.
func Similarity(strategy types.Strategy, a, b []string) float64 {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 1
	case len(a) == 0 || len(b) == 0:
		return 0
	}

	switch strategy {
	case types.StrategyExact:
		if slices.Equal(a, b) {
			return 1
		}
		return 0
	case types.StrategyEditDistance:
		return 1 - float64(Distance(a, b))/float64(max(len(a), len(b)))
	default:
		return Ratio(a, b)
	}
}

// Ratio is the block-matching similarity 2·M/T of a and b. The pair is put
// in a canonical order first: the longest-match search breaks ties by
// position, so comparing (a, b) and (b, a) could otherwise differ.
func Ratio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if slices.Compare(a, b) > 0 {
		a, b = b, a
	}
	return difflib.NewMatcherWithJunk(a, b, false, nil).Ratio()
}

// Distance is the Levenshtein distance between a and b counted in symbols,
// not bytes or runes.
func Distance(a, b []string) int {
	ra, rb := encode(a, b)
	return matchr.Levenshtein(ra, rb)
}

// passes applies the strategy's decision rule.
func passes(cfg types.MatchConfig, a, b []string, sim float64) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) == 0 || len(b) == 0:
		return false
	}
	switch cfg.Strategy {
	case types.StrategyExact:
		return sim == 1
	case types.StrategyEditDistance:
		// Compare on the distance ratio so 1 − tolerance rounding cannot
		// flip a boundary case.
		return float64(Distance(a, b)) <= cfg.Tolerance*float64(max(len(a), len(b)))
	default:
		return sim >= cfg.Threshold
	}
}

// privateUse is the first rune of the Unicode Private Use Area.
const privateUse = 0xE000

// encode maps every distinct symbol of a and b to one rune so that
// rune-based distance functions count whole IPA symbols.
func encode(a, b []string) (string, string) {
	ids := make(map[string]rune, len(a)+len(b))
	enc := func(seq []string) string {
		var sb strings.Builder
		for _, sym := range seq {
			r, ok := ids[sym]
			if !ok {
				r = rune(privateUse + len(ids))
				ids[sym] = r
			}
			sb.WriteRune(r)
		}
		return sb.String()
	}
	return enc(a), enc(b)
}
