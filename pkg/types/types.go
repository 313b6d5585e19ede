// Package types defines the shared types used across the readtutor packages.
//
// These types form the lingua franca between the audio transcoder, the
// speech-to-text decoders, the phonemizer, the scorer and the assessor. Each
// package keeps its own domain types, but data that crosses package borders
// lives here to avoid circular imports.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encoding identifies the container/codec of an audio buffer.
type Encoding string

const (
	// EncodingUnknown asks the transcoder to sniff the container from the
	// buffer's magic bytes.
	EncodingUnknown Encoding = ""

	// EncodingWAV is a RIFF/WAVE container holding 16-bit PCM.
	EncodingWAV Encoding = "wav"

	// EncodingPCM is headerless 16-bit signed little-endian PCM. The sample
	// rate must be declared on the [Utterance].
	EncodingPCM Encoding = "pcm_s16le"

	// EncodingOggOpus is an Ogg container with an Opus stream (voice messages).
	EncodingOggOpus Encoding = "ogg_opus"

	EncodingMP3  Encoding = "mp3"
	EncodingM4A  Encoding = "m4a"
	EncodingWebM Encoding = "webm"
	EncodingFLAC Encoding = "flac"
)

// IsValid reports whether e is a recognised encoding. [EncodingUnknown] is
// valid: it means "detect for me".
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingUnknown, EncodingWAV, EncodingPCM, EncodingOggOpus,
		EncodingMP3, EncodingM4A, EncodingWebM, EncodingFLAC:
		return true
	}
	return false
}

// Sniff detects the container of data from its leading bytes. It returns
// [EncodingUnknown] when no signature matches.
func Sniff(data []byte) Encoding {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return EncodingWAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return EncodingOggOpus
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return EncodingFLAC
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return EncodingMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return EncodingMP3
	case len(data) >= 12 && string(data[4:8]) == "ftyp":
		return EncodingM4A
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return EncodingWebM
	}
	return EncodingUnknown
}

// Utterance is one spoken attempt as received from the caller. It is created
// per match request, owned by that request and never persisted.
type Utterance struct {
	// Data is the raw audio buffer. Callers must not mutate it after handing
	// the Utterance to the assessor.
	Data []byte

	// Encoding is the declared container/codec. Leave empty to sniff.
	Encoding Encoding

	// SampleRate in Hz. Required for [EncodingPCM]; informational otherwise.
	SampleRate int

	// Channels of headerless PCM input. Zero means mono.
	Channels int
}

// ResolvedEncoding returns the declared encoding, or the sniffed one when
// the declaration is empty.
func (u Utterance) ResolvedEncoding() Encoding {
	if u.Encoding != EncodingUnknown {
		return u.Encoding
	}
	return Sniff(u.Data)
}

// WordSeparator is the single symbol that separates words in a normalized
// [PhonemeSequence].
const WordSeparator = " "

// PhonemeSequence is an ordered sequence of IPA symbols produced for one
// dialect. Two sequences are only comparable when they share a dialect.
type PhonemeSequence struct {
	// Dialect is the phonemizer voice used to produce the sequence (e.g. "en-us").
	Dialect string

	// Symbols holds one IPA segment per element. After normalization word
	// boundaries are represented by [WordSeparator].
	Symbols []string

	// Normalized is true once the sequence went through the normalizer.
	Normalized bool
}

// CanonicalDialect returns the form dialect names are compared and tagged
// in: trimmed and lower-cased, so "EN-US" and "en-us" name the same voice.
func CanonicalDialect(d string) string { return strings.ToLower(strings.TrimSpace(d)) }

// String renders the sequence as a single IPA string.
func (s PhonemeSequence) String() string { return strings.Join(s.Symbols, "") }

// Len returns the number of symbols.
func (s PhonemeSequence) Len() int { return len(s.Symbols) }

// IsEmpty reports whether the sequence has no symbols.
func (s PhonemeSequence) IsEmpty() bool { return len(s.Symbols) == 0 }

// Strategy selects how two phoneme sequences are compared.
type Strategy string

const (
	// StrategyExact passes only symbol-for-symbol identical sequences.
	StrategyExact Strategy = "exact"

	// StrategySequenceSimilarity scores with the block-matching ratio 2·M/T.
	StrategySequenceSimilarity Strategy = "sequence_similarity"

	// StrategyEditDistance scores with 1 − levenshtein/max(len).
	StrategyEditDistance Strategy = "edit_distance"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyExact, StrategySequenceSimilarity, StrategyEditDistance:
		return true
	}
	return false
}

// ParseStrategy converts a config or CLI string into a [Strategy]. A few
// spellings used by older tooling are accepted.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact", "exact_equal", "exactequal":
		return StrategyExact, nil
	case "sequence_similarity", "sequencesimilarity", "ratio", "similarity":
		return StrategySequenceSimilarity, nil
	case "edit_distance", "editdistance", "edit_distance_tolerance", "levenshtein":
		return StrategyEditDistance, nil
	}
	return "", ConfigError(fmt.Sprintf("unknown strategy %q; valid values: exact, sequence_similarity, edit_distance", s), nil)
}

// Defaults used by [DefaultMatchConfig].
const (
	DefaultThreshold = 0.75
	DefaultTolerance = 0.2
	DefaultLanguage  = "en-us"
)

// MatchConfig is the complete set of options for one match request. A
// request is bound to exactly one MatchConfig for its full lifetime.
type MatchConfig struct {
	// Strategy selects the comparison algorithm.
	Strategy Strategy `yaml:"strategy" json:"strategy"`

	// Threshold is the minimum similarity for [StrategySequenceSimilarity].
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Tolerance is the maximum normalized edit distance accepted by
	// [StrategyEditDistance]; the pass bar is 1 − Tolerance.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`

	// Language is the phonemizer dialect used for both sides (e.g. "en-us").
	Language string `yaml:"language" json:"language"`
}

// DefaultMatchConfig returns the calibrated guidance values: sequence
// similarity at 0.75, edit-distance tolerance 0.2, dialect en-us.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Strategy:  StrategySequenceSimilarity,
		Threshold: DefaultThreshold,
		Tolerance: DefaultTolerance,
		Language:  DefaultLanguage,
	}
}

// Validate checks that c is usable. Problems are reported as a single
// [ErrConfig] error.
func (c MatchConfig) Validate() error {
	var problems []string
	if !c.Strategy.IsValid() {
		problems = append(problems, fmt.Sprintf("strategy %q is invalid; valid values: exact, sequence_similarity, edit_distance", c.Strategy))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("threshold %.3f is out of range [0, 1]", c.Threshold))
	}
	if c.Tolerance < 0 || c.Tolerance > 1 {
		problems = append(problems, fmt.Sprintf("tolerance %.3f is out of range [0, 1]", c.Tolerance))
	}
	if strings.TrimSpace(c.Language) == "" {
		problems = append(problems, "language is required")
	}
	if len(problems) > 0 {
		return ConfigError(strings.Join(problems, "; "), nil)
	}
	return nil
}

// PassBar returns the minimum similarity that counts as a pass under c.
func (c MatchConfig) PassBar() float64 {
	switch c.Strategy {
	case StrategyExact:
		return 1
	case StrategyEditDistance:
		return 1 - c.Tolerance
	default:
		return c.Threshold
	}
}

// WordStatus classifies one target word in [WordFeedback].
type WordStatus string

const (
	WordCorrect     WordStatus = "correct"
	WordClose       WordStatus = "close"
	WordSubstituted WordStatus = "substituted"
	WordMissed      WordStatus = "missed"
	WordInserted    WordStatus = "inserted"
)

// WordFeedback describes how one word of the target was read. It is
// informational and never changes the overall decision.
type WordFeedback struct {
	// Target is the word from the target text. Empty for inserted words.
	Target string `json:"target,omitempty"`

	// Spoken is the aligned transcribed word. Empty for missed words.
	Spoken string `json:"spoken,omitempty"`

	Status WordStatus `json:"status"`

	// Similarity is the spelling similarity (Jaro-Winkler) of the aligned
	// pair. Missed and inserted words score 0.
	Similarity float64 `json:"similarity"`
}

// MatchResult is the outcome of one assessment. The compared sequences are
// retained for explainability only.
type MatchResult struct {
	// ID identifies the assessment in logs and traces.
	ID string `json:"id,omitempty"`

	// TraceID is the OpenTelemetry trace the assessment ran under, if any.
	TraceID string `json:"trace_id,omitempty"`

	// Similarity is the graded score in [0, 1].
	Similarity float64 `json:"similarity"`

	// Passed is the decision: Similarity >= Threshold.
	Passed bool `json:"passed"`

	Strategy Strategy `json:"strategy"`

	// Threshold is the effective pass bar used for the decision.
	Threshold float64 `json:"threshold"`

	// Transcript is the decoder output the spoken sequence was derived from.
	Transcript string `json:"transcript"`

	// Spoken and Target are the normalized sequences that were compared.
	// JSON carries them as IPA strings (spoken_ipa, target_ipa).
	Spoken PhonemeSequence `json:"-"`
	Target PhonemeSequence `json:"-"`

	// Words holds per-word feedback when enabled.
	Words []WordFeedback `json:"words,omitempty"`
}

// MarshalJSON adds the compared sequences as IPA strings.
func (r MatchResult) MarshalJSON() ([]byte, error) {
	type plain MatchResult
	return json.Marshal(struct {
		plain
		SpokenIPA string `json:"spoken_ipa"`
		TargetIPA string `json:"target_ipa"`
	}{plain(r), r.Spoken.String(), r.Target.String()})
}
