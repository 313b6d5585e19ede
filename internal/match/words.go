package match

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/MrWong99/readtutor/pkg/types"
)

const defaultCloseThreshold = 0.70

// AlignerOption is a functional option for configuring an [Aligner].
type AlignerOption func(*Aligner)

// WithCloseThreshold sets the minimum Jaro-Winkler score for a substituted
// word that sounds alike (shared Double Metaphone code) to be reported as
// [types.WordClose]. Default: 0.70.
func WithCloseThreshold(threshold float64) AlignerOption {
	return func(a *Aligner) {
		a.closeThreshold = threshold
	}
}

// Aligner produces per-word feedback by aligning the words of the target
// text with the words of the transcript.
//
// The alignment uses the same block-matching algorithm as the
// sequence_similarity strategy, applied to words instead of symbols. Inside
// a replaced block words are paired left to right; surplus target words are
// missed and surplus spoken words are inserted. A substituted pair whose
// Double Metaphone codes overlap and whose Jaro-Winkler similarity reaches
// the close threshold is reported as close.
//
// Feedback is informational. It never changes the match decision.
// An Aligner is read-only after construction and safe for concurrent use.
type Aligner struct {
	closeThreshold float64
}

// NewAligner returns an [Aligner] configured with opts.
func NewAligner(opts ...AlignerOption) *Aligner {
	a := &Aligner{closeThreshold: defaultCloseThreshold}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Align returns one entry per target word, in order, with inserted spoken
// words placed where they occurred.
func (a *Aligner) Align(target, spoken string) []types.WordFeedback {
	tw, sw := Tokenize(target), Tokenize(spoken)
	if len(tw) == 0 && len(sw) == 0 {
		return nil
	}

	out := make([]types.WordFeedback, 0, max(len(tw), len(sw)))
	m := difflib.NewMatcherWithJunk(tw, sw, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				out = append(out, types.WordFeedback{Target: tw[i], Spoken: tw[i], Status: types.WordCorrect, Similarity: 1})
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				out = append(out, types.WordFeedback{Target: tw[i], Status: types.WordMissed})
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				out = append(out, types.WordFeedback{Spoken: sw[j], Status: types.WordInserted})
			}
		case 'r':
			n := min(op.I2-op.I1, op.J2-op.J1)
			for k := range n {
				out = append(out, a.compare(tw[op.I1+k], sw[op.J1+k]))
			}
			for i := op.I1 + n; i < op.I2; i++ {
				out = append(out, types.WordFeedback{Target: tw[i], Status: types.WordMissed})
			}
			for j := op.J1 + n; j < op.J2; j++ {
				out = append(out, types.WordFeedback{Spoken: sw[j], Status: types.WordInserted})
			}
		}
	}
	return out
}

func (a *Aligner) compare(target, spoken string) types.WordFeedback {
	sim := matchr.JaroWinkler(target, spoken, false)
	status := types.WordSubstituted
	if sim >= a.closeThreshold && soundAlike(target, spoken) {
		status = types.WordClose
	}
	return types.WordFeedback{Target: target, Spoken: spoken, Status: status, Similarity: sim}
}

// soundAlike reports whether the Double Metaphone codes of a and b overlap.
func soundAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

// Tokenize splits text into lower-case words. Letters, digits and inner
// apostrophes are kept; everything else separates words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'’")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
