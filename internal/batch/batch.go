// Package batch runs many assessments from a YAML manifest and streams one
// JSON line per item.
//
// A manifest lists recordings and the text each one should match:
//
//	defaults:
//	  strategy: edit_distance
//	  tolerance: 0.25
//	items:
//	  - id: lesson-1
//	    audio: recordings/lesson-1.ogg
//	    text: The fox was quick.
//	    encoding: ogg_opus
//	  - id: lesson-2
//	    audio: recordings/lesson-2.wav
//	    text: Did it jump?
//	    config:
//	      threshold: 0.9
//
// Relative audio paths resolve against the manifest's directory. Item
// configs override the defaults field by field.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/readtutor/pkg/types"
)

// Status values written to each output line.
const (
	StatusPass  = "pass"
	StatusFail  = "fail"
	StatusError = "error"
)

// DefaultConcurrency is used when the runner is built without [WithConcurrency].
const DefaultConcurrency = 4

// Assessor is the part of the assessment pipeline the runner needs.
type Assessor interface {
	Assess(ctx context.Context, u types.Utterance, targetText string, cfg types.MatchConfig) (types.MatchResult, error)
}

// ConfigOverride is a partial [types.MatchConfig]. Nil fields keep the
// value inherited from the manifest defaults.
type ConfigOverride struct {
	Strategy  *string  `yaml:"strategy"`
	Threshold *float64 `yaml:"threshold"`
	Tolerance *float64 `yaml:"tolerance"`
	Language  *string  `yaml:"language"`
}

// Apply returns base with every non-nil field of o applied.
func (o *ConfigOverride) Apply(base types.MatchConfig) (types.MatchConfig, error) {
	if o == nil {
		return base, nil
	}
	if o.Strategy != nil {
		s, err := types.ParseStrategy(*o.Strategy)
		if err != nil {
			return base, err
		}
		base.Strategy = s
	}
	if o.Threshold != nil {
		base.Threshold = *o.Threshold
	}
	if o.Tolerance != nil {
		base.Tolerance = *o.Tolerance
	}
	if o.Language != nil {
		base.Language = *o.Language
	}
	return base, nil
}

// Item is one manifest entry.
type Item struct {
	ID       string          `yaml:"id"`
	Audio    string          `yaml:"audio"`
	Text     string          `yaml:"text"`
	Encoding types.Encoding  `yaml:"encoding"`
	Config   *ConfigOverride `yaml:"config"`

	// SampleRate and Channels describe headerless PCM input.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// Manifest is the parsed batch file.
type Manifest struct {
	Defaults *ConfigOverride `yaml:"defaults"`
	Items    []Item          `yaml:"items"`

	// Dir is the directory relative audio paths resolve against.
	Dir string `yaml:"-"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batch: open manifest: %w", err)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("batch: %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes a manifest from r. Unknown keys are rejected.
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports every structural problem in m at once.
func (m *Manifest) Validate() error {
	var errs []error
	if len(m.Items) == 0 {
		errs = append(errs, errors.New("items: at least one item is required"))
	}
	seen := make(map[string]int, len(m.Items))
	for i, it := range m.Items {
		prefix := fmt.Sprintf("items[%d]", i)
		if it.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if j, dup := seen[it.ID]; dup {
			errs = append(errs, fmt.Errorf("%s.id %q duplicates items[%d]", prefix, it.ID, j))
		} else {
			seen[it.ID] = i
		}
		if it.Audio == "" {
			errs = append(errs, fmt.Errorf("%s.audio is required", prefix))
		}
		if !it.Encoding.IsValid() {
			errs = append(errs, fmt.Errorf("%s.encoding %q is not supported", prefix, it.Encoding))
		}
	}
	return errors.Join(errs...)
}

// Line is one JSON output record.
type Line struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	// Result is set for pass and fail lines.
	Result *types.MatchResult `json:"result,omitempty"`

	// Error is set for error lines.
	Error *LineError `json:"error,omitempty"`
}

// LineError describes a failed item.
type LineError struct {
	Kind       string `json:"kind"`
	Stage      string `json:"stage,omitempty"`
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func errorLine(id string, err error) Line {
	le := &LineError{
		Kind:    types.KindOf(err),
		Stage:   types.StageOf(err),
		Message: err.Error(),
	}
	var se *types.StageError
	if errors.As(err, &se) {
		le.Diagnostic = se.Diagnostic
	}
	return Line{ID: id, Status: StatusError, Error: le}
}

// Summary counts item outcomes.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// Option configures a [Runner].
type Option func(*Runner)

// WithConcurrency bounds the number of assessments in flight.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDefaults sets the base config items inherit before manifest defaults
// and item overrides are applied.
func WithDefaults(cfg types.MatchConfig) Option {
	return func(r *Runner) { r.base = cfg }
}

// WithReadFile replaces the function used to load audio files.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(r *Runner) { r.readFile = fn }
}

// Runner executes manifests against an [Assessor].
type Runner struct {
	assessor    Assessor
	concurrency int
	base        types.MatchConfig
	readFile    func(string) ([]byte, error)
}

// NewRunner returns a Runner using a.
func NewRunner(a Assessor, opts ...Option) *Runner {
	r := &Runner{
		assessor:    a,
		concurrency: DefaultConcurrency,
		base:        types.DefaultMatchConfig(),
		readFile:    os.ReadFile,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run assesses every item of m and writes one JSON line per item to w, in
// manifest order. A failing item never cancels the others. Cancelling ctx
// or failing to write a line cancels every item still pending; the error
// is returned once in-flight items have returned.
func (r *Runner) Run(ctx context.Context, m *Manifest, w io.Writer) (Summary, error) {
	defaults, err := m.Defaults.Apply(r.base)
	if err != nil {
		return Summary{}, fmt.Errorf("batch: defaults: %w", err)
	}

	n := len(m.Items)
	done := make([]chan Line, n)
	for i := range done {
		done[i] = make(chan Line, 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(r.concurrency)

	var wg sync.WaitGroup
	wg.Go(func() {
		for i, it := range m.Items {
			if gctx.Err() != nil {
				done[i] <- errorLine(it.ID, fmt.Errorf("batch: not started: %w", gctx.Err()))
				continue
			}
			g.Go(func() error {
				done[i] <- r.runItem(gctx, m.Dir, it, defaults)
				return nil
			})
		}
	})

	var (
		sum      Summary
		writeErr error
	)
	enc := json.NewEncoder(w)
	for i := range n {
		line := <-done[i]
		sum.add(line.Status)
		if writeErr == nil {
			if err := enc.Encode(line); err != nil {
				writeErr = fmt.Errorf("batch: write result %q: %w", line.ID, err)
				cancel()
			}
		}
	}
	wg.Wait()
	_ = g.Wait()

	if writeErr != nil {
		return sum, writeErr
	}
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("batch: %w", err)
	}
	return sum, nil
}

func (s *Summary) add(status string) {
	s.Total++
	switch status {
	case StatusPass:
		s.Passed++
	case StatusFail:
		s.Failed++
	default:
		s.Errors++
	}
}

func (r *Runner) runItem(ctx context.Context, dir string, it Item, defaults types.MatchConfig) Line {
	cfg, err := it.Config.Apply(defaults)
	if err != nil {
		return errorLine(it.ID, err)
	}

	path := it.Audio
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	data, err := r.readFile(path)
	if err != nil {
		slog.Warn("batch: read audio", "id", it.ID, "path", path, "err", err)
		return errorLine(it.ID, fmt.Errorf("batch: read audio: %w", err))
	}

	u := types.Utterance{
		Data:       data,
		Encoding:   it.Encoding,
		SampleRate: it.SampleRate,
		Channels:   it.Channels,
	}
	if u.Encoding == types.EncodingUnknown {
		u.Encoding = encodingFromExt(path)
	}

	res, err := r.assessor.Assess(ctx, u, it.Text, cfg)
	if err != nil {
		return errorLine(it.ID, err)
	}
	status := StatusFail
	if res.Passed {
		status = StatusPass
	}
	return Line{ID: it.ID, Status: status, Result: &res}
}

// encodingFromExt guesses the encoding from a file extension. Unknown
// extensions leave detection to the transcoder.
func encodingFromExt(path string) types.Encoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return types.EncodingWAV
	case ".ogg", ".opus", ".oga":
		return types.EncodingOggOpus
	case ".mp3":
		return types.EncodingMP3
	case ".m4a", ".mp4", ".aac":
		return types.EncodingM4A
	case ".webm":
		return types.EncodingWebM
	case ".flac":
		return types.EncodingFLAC
	case ".pcm", ".raw":
		return types.EncodingPCM
	}
	return types.EncodingUnknown
}
