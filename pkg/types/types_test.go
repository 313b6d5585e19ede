package types_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/readtutor/pkg/types"
)

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want types.Encoding
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), types.EncodingWAV},
		{"ogg", []byte("OggS\x00\x02"), types.EncodingOggOpus},
		{"flac", []byte("fLaC\x00\x00"), types.EncodingFLAC},
		{"mp3 id3", []byte("ID3\x04\x00"), types.EncodingMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, types.EncodingMP3},
		{"m4a", []byte("\x00\x00\x00\x20ftypM4A "), types.EncodingM4A},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, types.EncodingWebM},
		{"garbage", []byte("hello world"), types.EncodingUnknown},
		{"empty", nil, types.EncodingUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := types.Sniff(tc.data); got != tc.want {
				t.Errorf("Sniff = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUtterance_ResolvedEncoding(t *testing.T) {
	t.Parallel()

	u := types.Utterance{Data: []byte("OggS....")}
	if got := u.ResolvedEncoding(); got != types.EncodingOggOpus {
		t.Errorf("sniffed = %q, want ogg_opus", got)
	}
	u.Encoding = types.EncodingWebM
	if got := u.ResolvedEncoding(); got != types.EncodingWebM {
		t.Errorf("declared = %q, want webm", got)
	}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    types.Strategy
		wantErr bool
	}{
		{"exact", types.StrategyExact, false},
		{"  EXACT ", types.StrategyExact, false},
		{"sequence_similarity", types.StrategySequenceSimilarity, false},
		{"ratio", types.StrategySequenceSimilarity, false},
		{"edit_distance", types.StrategyEditDistance, false},
		{"levenshtein", types.StrategyEditDistance, false},
		{"cosine", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := types.ParseStrategy(tc.in)
			if tc.wantErr {
				if !errors.Is(err, types.ErrConfig) {
					t.Fatalf("err = %v, want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMatchConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*types.MatchConfig)
		wantErr string
	}{
		{name: "defaults valid", mutate: func(*types.MatchConfig) {}},
		{name: "threshold zero valid", mutate: func(c *types.MatchConfig) { c.Threshold = 0 }},
		{name: "threshold one valid", mutate: func(c *types.MatchConfig) { c.Threshold = 1 }},
		{name: "unknown strategy", mutate: func(c *types.MatchConfig) { c.Strategy = "cosine" }, wantErr: "strategy"},
		{name: "threshold above one", mutate: func(c *types.MatchConfig) { c.Threshold = 1.5 }, wantErr: "threshold"},
		{name: "negative threshold", mutate: func(c *types.MatchConfig) { c.Threshold = -0.1 }, wantErr: "threshold"},
		{name: "tolerance above one", mutate: func(c *types.MatchConfig) { c.Tolerance = 2 }, wantErr: "tolerance"},
		{name: "missing language", mutate: func(c *types.MatchConfig) { c.Language = " " }, wantErr: "language"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := types.DefaultMatchConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, types.ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestMatchConfig_PassBar(t *testing.T) {
	t.Parallel()

	cfg := types.MatchConfig{Threshold: 0.75, Tolerance: 0.2, Language: "en-us"}

	cfg.Strategy = types.StrategyExact
	if got := cfg.PassBar(); got != 1 {
		t.Errorf("exact pass bar = %v, want 1", got)
	}
	cfg.Strategy = types.StrategySequenceSimilarity
	if got := cfg.PassBar(); got != 0.75 {
		t.Errorf("similarity pass bar = %v, want 0.75", got)
	}
	cfg.Strategy = types.StrategyEditDistance
	if got := cfg.PassBar(); got != 0.8 {
		t.Errorf("edit distance pass bar = %v, want 0.8", got)
	}
}

func TestPhonemeSequence(t *testing.T) {
	t.Parallel()

	seq := types.PhonemeSequence{Dialect: "en-us", Symbols: []string{"k", "ˈ", "æ", "t"}}
	if seq.String() != "kˈæt" {
		t.Errorf("String = %q", seq.String())
	}
	if seq.Len() != 4 || seq.IsEmpty() {
		t.Errorf("Len = %d, IsEmpty = %v", seq.Len(), seq.IsEmpty())
	}
	if !(types.PhonemeSequence{}).IsEmpty() {
		t.Error("zero sequence should be empty")
	}
}

func TestCanonicalDialect(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"en-us", "EN-US", " En-Us\t"} {
		if got := types.CanonicalDialect(in); got != "en-us" {
			t.Errorf("CanonicalDialect(%q) = %q, want en-us", in, got)
		}
	}
}

func TestMatchResult_JSONCarriesSequences(t *testing.T) {
	t.Parallel()

	res := types.MatchResult{
		Similarity: 0.5,
		Strategy:   types.StrategyExact,
		Transcript: "cap",
		Spoken:     types.PhonemeSequence{Dialect: "en-us", Symbols: []string{"k", "ˈ", "æ", "p"}},
		Target:     types.PhonemeSequence{Dialect: "en-us", Symbols: []string{"k", "ˈ", "æ", "t"}},
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["spoken_ipa"] != "kˈæp" || got["target_ipa"] != "kˈæt" {
		t.Errorf("sequences = %v / %v, want kˈæp / kˈæt", got["spoken_ipa"], got["target_ipa"])
	}
	if got["transcript"] != "cap" || got["strategy"] != "exact" {
		t.Errorf("plain fields lost: %s", b)
	}
	if _, ok := got["Spoken"]; ok {
		t.Errorf("raw sequence struct leaked into JSON: %s", b)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	tests := []struct {
		name  string
		err   error
		kind  error
		label string
		stage string
	}{
		{"transcode", types.TranscodeError("invalid data found", cause), types.ErrTranscode, "transcode", types.StageTranscode},
		{"decode", types.DecodeError("", cause), types.ErrDecode, "decode", types.StageDecode},
		{"phonemize", types.PhonemizationError("unknown voice", nil), types.ErrPhonemize, "phonemize", types.StagePhonemize},
		{"config", types.ConfigError("bad threshold", nil), types.ErrConfig, "config", types.StageConfig},
		{"timeout", types.TimeoutError(types.StageDecode, nil), types.ErrTimeout, "timeout", types.StageDecode},
		{"wrapped", fmt.Errorf("assess: %w", types.DecodeError("", cause)), types.ErrDecode, "decode", types.StageDecode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tc.err, tc.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tc.err, tc.kind)
			}
			if got := types.KindOf(tc.err); got != tc.label {
				t.Errorf("KindOf = %q, want %q", got, tc.label)
			}
			if got := types.StageOf(tc.err); got != tc.stage {
				t.Errorf("StageOf = %q, want %q", got, tc.stage)
			}
		})
	}
}

func TestStageError_KeepsCauseAndDiagnostic(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")
	err := types.TranscodeError("moov atom not found", cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Errorf("diagnostic missing from %q", err)
	}

	var se *types.StageError
	if !errors.As(err, &se) {
		t.Fatal("errors.As failed")
	}
	if se.Diagnostic != "moov atom not found" {
		t.Errorf("Diagnostic = %q", se.Diagnostic)
	}
}

func TestTimeoutError_WrapsDeadline(t *testing.T) {
	t.Parallel()

	err := types.TimeoutError(types.StageTranscode, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("timeout should wrap context.DeadlineExceeded")
	}
	if errors.Is(err, types.ErrTranscode) {
		t.Error("timeout must not also be a transcode error")
	}
}

func TestKindOf_Internal(t *testing.T) {
	t.Parallel()

	if got := types.KindOf(errors.New("other")); got != "internal" {
		t.Errorf("KindOf = %q, want internal", got)
	}
	if got := types.KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}
