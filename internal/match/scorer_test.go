package match_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/readtutor/internal/match"
	"github.com/MrWong99/readtutor/pkg/phoneme"
	"github.com/MrWong99/readtutor/pkg/types"
)

// IPA as produced by espeak-ng for en-us.
const (
	ipaCat       = "kˈæt"
	ipaQuickFox  = "ðə kwˈɪk bɹˈaʊn fˈɑːks dʒˈʌmps ˌoʊvɚ ðə lˈeɪzi dˈɑːɡ"
	ipaQuickFog  = "ðə kwˈɪk bɹˈaʊn fˈɑːɡ dʒˈʌmps ˌoʊvɚ ðə lˈeɪzi dˈɑːɡ"
	ipaCatSat    = "ðə kˈæt sˈæt ˌɑːn ðə mˈæt"
	ipaHelloWrld = "həlˈoʊ wˈɜːld"
)

func seq(ipa string) types.PhonemeSequence {
	return phoneme.Normalize(phoneme.Parse("en-us", ipa))
}

func cfg(strategy types.Strategy) types.MatchConfig {
	c := types.DefaultMatchConfig()
	c.Strategy = strategy
	return c
}

var allStrategies = []types.Strategy{
	types.StrategyExact,
	types.StrategySequenceSimilarity,
	types.StrategyEditDistance,
}

func TestScore_ExactSameWord(t *testing.T) {
	t.Parallel()

	res, err := match.New().Score(seq(ipaCat), seq(ipaCat), cfg(types.StrategyExact))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !res.Passed || res.Similarity != 1 {
		t.Errorf("got similarity=%v passed=%v, want 1/true", res.Similarity, res.Passed)
	}
	if res.Threshold != 1 {
		t.Errorf("Threshold = %v, want 1", res.Threshold)
	}
}

func TestScore_SingleWordSubstitution(t *testing.T) {
	t.Parallel()

	s := match.New()
	spoken, target := seq(ipaQuickFog), seq(ipaQuickFox)

	res, err := s.Score(spoken, target, cfg(types.StrategySequenceSimilarity))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !res.Passed {
		t.Errorf("sequence_similarity: passed=false at similarity %.3f, want pass at 0.75", res.Similarity)
	}
	if res.Similarity >= 1 || res.Similarity < 0.75 {
		t.Errorf("sequence_similarity: similarity = %.3f, want in [0.75, 1)", res.Similarity)
	}

	res, err = s.Score(spoken, target, cfg(types.StrategyExact))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Passed || res.Similarity != 0 {
		t.Errorf("exact: got similarity=%v passed=%v, want 0/false", res.Similarity, res.Passed)
	}
}

func TestScore_UnrelatedText(t *testing.T) {
	t.Parallel()

	res, err := match.New().Score(seq(ipaHelloWrld), seq(ipaCatSat), cfg(types.StrategyEditDistance))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Passed {
		t.Errorf("edit_distance: passed=true at similarity %.3f, want false", res.Similarity)
	}
	if res.Threshold != 0.8 {
		t.Errorf("Threshold = %v, want 0.8", res.Threshold)
	}
}

func TestScore_Boundaries(t *testing.T) {
	t.Parallel()

	s := match.New()
	empty := seq("")
	full := seq(ipaCat)

	for _, st := range allStrategies {
		t.Run(string(st), func(t *testing.T) {
			t.Parallel()

			res, err := s.Score(empty, empty, cfg(st))
			if err != nil {
				t.Fatalf("Score(empty, empty): %v", err)
			}
			if res.Similarity != 1 || !res.Passed {
				t.Errorf("empty/empty: similarity=%v passed=%v, want 1/true", res.Similarity, res.Passed)
			}

			for _, pair := range [][2]types.PhonemeSequence{{empty, full}, {full, empty}} {
				res, err := s.Score(pair[0], pair[1], cfg(st))
				if err != nil {
					t.Fatalf("Score: %v", err)
				}
				if res.Similarity != 0 || res.Passed {
					t.Errorf("empty/non-empty: similarity=%v passed=%v, want 0/false", res.Similarity, res.Passed)
				}
			}
		})
	}
}

func TestScore_Symmetry(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{ipaQuickFox, ipaQuickFog},
		{ipaCatSat, ipaHelloWrld},
		{ipaCat, "kˈæts"},
		{"ababab", "bababa"},
		{"aab", "abb"},
	}
	s := match.New()
	for _, st := range []types.Strategy{types.StrategySequenceSimilarity, types.StrategyEditDistance} {
		for _, p := range pairs {
			ab, err := s.Score(seq(p[0]), seq(p[1]), cfg(st))
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			ba, err := s.Score(seq(p[1]), seq(p[0]), cfg(st))
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if ab.Similarity != ba.Similarity || ab.Passed != ba.Passed {
				t.Errorf("%s: score(%q, %q)=%v but reversed=%v", st, p[0], p[1], ab.Similarity, ba.Similarity)
			}
		}
	}
}

func TestScore_ThresholdMonotonic(t *testing.T) {
	t.Parallel()

	s := match.New()
	spoken, target := seq(ipaQuickFog), seq(ipaQuickFox)

	failed := false
	for i := 0; i <= 20; i++ {
		th := float64(i) / 20
		c := cfg(types.StrategySequenceSimilarity)
		c.Threshold = th
		res, err := s.Score(spoken, target, c)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if failed && res.Passed {
			t.Fatalf("threshold %.2f passes after a lower threshold failed", th)
		}
		if !res.Passed {
			failed = true
		}
	}
	if !failed {
		t.Error("expected some threshold below 1 to fail a non-identical pair")
	}
}

func TestScore_EditDistanceToleranceBoundary(t *testing.T) {
	t.Parallel()

	// Five symbols, one substitution: D/len = 0.2 exactly.
	spoken, target := seq("abcde"), seq("abcdx")

	c := cfg(types.StrategyEditDistance)
	c.Tolerance = 0.2
	res, err := match.New().Score(spoken, target, c)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !res.Passed {
		t.Errorf("D/len == tolerance should pass, similarity %.3f", res.Similarity)
	}

	c.Tolerance = 0.19
	res, err = match.New().Score(spoken, target, c)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Passed {
		t.Error("D/len above tolerance should fail")
	}
}

func TestScore_Preconditions(t *testing.T) {
	t.Parallel()

	s := match.New()
	tests := []struct {
		name   string
		spoken types.PhonemeSequence
		target types.PhonemeSequence
		cfg    types.MatchConfig
	}{
		{
			name:   "unnormalized input",
			spoken: phoneme.Parse("en-us", ipaCat),
			target: seq(ipaCat),
			cfg:    cfg(types.StrategyExact),
		},
		{
			name:   "dialect mismatch",
			spoken: phoneme.Normalize(phoneme.Parse("en-gb", ipaCat)),
			target: seq(ipaCat),
			cfg:    cfg(types.StrategyExact),
		},
		{
			name:   "threshold out of range",
			spoken: seq(ipaCat),
			target: seq(ipaCat),
			cfg:    types.MatchConfig{Strategy: types.StrategySequenceSimilarity, Threshold: 1.2, Language: "en-us"},
		},
		{
			name:   "unknown strategy",
			spoken: seq(ipaCat),
			target: seq(ipaCat),
			cfg:    types.MatchConfig{Strategy: "cosine", Threshold: 0.5, Language: "en-us"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Score(tc.spoken, tc.target, tc.cfg)
			if !errors.Is(err, types.ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestSimilarity_CountsSymbolsNotRunes(t *testing.T) {
	t.Parallel()

	// "t͡ʃ" is one symbol made of three runes; swapping it for "k" is a
	// single substitution.
	a := phoneme.Segment("t͡ʃˈɪn")
	b := phoneme.Segment("kˈɪn")
	if d := match.Distance(a, b); d != 1 {
		t.Errorf("Distance = %d, want 1", d)
	}
	if got := match.Similarity(types.StrategyEditDistance, a, b); got != 0.75 {
		t.Errorf("edit similarity = %v, want 0.75", got)
	}
}

func TestRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b []string
		want float64
	}{
		{nil, nil, 1},
		{[]string{"a", "b", "c", "d"}, []string{"a", "b", "c", "d"}, 1},
		{[]string{"a", "b", "c", "d"}, []string{"a", "b", "x", "d"}, 0.75},
		{[]string{"a", "b"}, []string{"c", "d"}, 0},
	}
	for _, tc := range tests {
		if got := match.Ratio(tc.a, tc.b); got != tc.want {
			t.Errorf("Ratio(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	s := match.New()
	for _, st := range allStrategies {
		first, err := s.Score(seq(ipaQuickFog), seq(ipaQuickFox), cfg(st))
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		for range 5 {
			again, _ := s.Score(seq(ipaQuickFog), seq(ipaQuickFox), cfg(st))
			if again.Similarity != first.Similarity || again.Passed != first.Passed {
				t.Fatalf("%s: non-deterministic score %v vs %v", st, again.Similarity, first.Similarity)
			}
		}
	}
}
