// Package assess implements the pronunciation assessor: the single entry
// point that turns a recorded utterance and the text the reader was asked to
// read into a pass/fail decision with a graded similarity.
//
// # Pipeline
//
//  1. Validate the [types.MatchConfig].
//  2. Phonemize the target text. An unsupported dialect fails here, before
//     any audio work is spent.
//  3. Transcode the utterance to 16 kHz mono PCM.
//  4. Decode the waveform to a transcript (speech-to-text).
//  5. Phonemize the transcript with the same dialect.
//  6. Normalize both sequences.
//  7. Score them with the configured strategy.
//  8. Optionally align the words of target and transcript for feedback.
//
// Every stage runs under its own deadline. A failure at any stage is returned
// as an error from the [types] taxonomy carrying the stage name; it is never
// reported as a mismatch. Nothing is retried.
//
// An Assessor holds no per-request state and is safe for concurrent use.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/readtutor/internal/match"
	"github.com/MrWong99/readtutor/internal/observe"
	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/phoneme"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
	"github.com/MrWong99/readtutor/pkg/types"
)

// Timeouts bounds each pipeline stage. A zero value disables the deadline for
// that stage; the caller's context still applies.
type Timeouts struct {
	Transcode time.Duration `yaml:"transcode"`
	Decode    time.Duration `yaml:"decode"`
	Phonemize time.Duration `yaml:"phonemize"`
	Score     time.Duration `yaml:"score"`
}

// DefaultTimeouts returns the stage deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcode: 5 * time.Second,
		Decode:    10 * time.Second,
		Phonemize: 500 * time.Millisecond,
		Score:     500 * time.Millisecond,
	}
}

// Option is a functional option for configuring an [Assessor].
type Option func(*Assessor)

// WithTimeouts replaces the stage deadlines.
func WithTimeouts(t Timeouts) Option {
	return func(a *Assessor) { a.timeouts = t }
}

// WithMetrics records stage latencies, outcomes and failures to m. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assessor) { a.metrics = m }
}

// WithWordFeedback enables per-word feedback using al. A nil al disables it,
// which is the default.
func WithWordFeedback(al *match.Aligner) Option {
	return func(a *Assessor) { a.aligner = al }
}

// WithIDGenerator replaces the function that names each assessment. Defaults
// to random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(a *Assessor) { a.newID = fn }
}

// Assessor chains transcoder, decoder, phonemizer, normalizer and scorer.
type Assessor struct {
	transcoder audio.Transcoder
	decoder    stt.Provider
	phonemizer phonemizer.Provider
	scorer     *match.Scorer

	aligner  *match.Aligner
	timeouts Timeouts
	metrics  *observe.Metrics
	newID    func() string
}

// New constructs an Assessor from its collaborators. All four are required.
func New(tr audio.Transcoder, dec stt.Provider, ph phonemizer.Provider, sc *match.Scorer, opts ...Option) (*Assessor, error) {
	var missing []error
	if tr == nil {
		missing = append(missing, errors.New("transcoder is required"))
	}
	if dec == nil {
		missing = append(missing, errors.New("decoder is required"))
	}
	if ph == nil {
		missing = append(missing, errors.New("phonemizer is required"))
	}
	if sc == nil {
		missing = append(missing, errors.New("scorer is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("assess: %w", err)
	}

	a := &Assessor{
		transcoder: tr,
		decoder:    dec,
		phonemizer: ph,
		scorer:     sc,
		timeouts:   DefaultTimeouts(),
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// Assess decides whether u is a faithful reading of targetText under cfg.
//
// A mismatch is a result with Passed == false and a nil error. Any error
// matches exactly one of [types.ErrTranscode], [types.ErrDecode],
// [types.ErrPhonemize], [types.ErrConfig] or [types.ErrTimeout], and
// [types.StageOf] names the failing stage. Cancelling ctx aborts the
// request with the context's error.
func (a *Assessor) Assess(ctx context.Context, u types.Utterance, targetText string, cfg types.MatchConfig) (res types.MatchResult, err error) {
	cfg.Language = types.CanonicalDialect(cfg.Language)
	ctx, done := a.begin(ctx, "assess", cfg)
	defer func() { done(&res, &err) }()

	if err := a.validate(ctx, cfg); err != nil {
		return types.MatchResult{}, err
	}

	target, err := a.phonemize(ctx, targetText, cfg.Language)
	if err != nil {
		return types.MatchResult{}, err
	}

	wave, err := runStage(ctx, a, types.StageTranscode, a.timeouts.Transcode, func(ctx context.Context) (audio.Waveform, error) {
		return a.transcoder.Transcode(ctx, u)
	})
	if err != nil {
		return types.MatchResult{}, err
	}

	transcript, err := runStage(ctx, a, types.StageDecode, a.timeouts.Decode, func(ctx context.Context) (stt.Transcript, error) {
		return a.decoder.Transcribe(ctx, wave)
	})
	if err != nil {
		return types.MatchResult{}, err
	}
	observe.Logger(ctx).Debug("utterance decoded",
		"duration", wave.Duration(),
		"transcript", transcript.Text,
	)

	return a.compare(ctx, transcript.Text, targetText, target, cfg)
}

// AssessText runs the text half of the pipeline: spoken is treated as an
// already decoded transcript and compared against targetText. The error
// contract is that of [Assessor.Assess].
func (a *Assessor) AssessText(ctx context.Context, spoken, targetText string, cfg types.MatchConfig) (res types.MatchResult, err error) {
	cfg.Language = types.CanonicalDialect(cfg.Language)
	ctx, done := a.begin(ctx, "assess_text", cfg)
	defer func() { done(&res, &err) }()

	if err := a.validate(ctx, cfg); err != nil {
		return types.MatchResult{}, err
	}
	target, err := a.phonemize(ctx, targetText, cfg.Language)
	if err != nil {
		return types.MatchResult{}, err
	}
	return a.compare(ctx, spoken, targetText, target, cfg)
}

// begin opens the request span and returns the function that closes it.
func (a *Assessor) begin(ctx context.Context, name string, cfg types.MatchConfig) (context.Context, func(*types.MatchResult, *error)) {
	start := time.Now()
	id := a.newID()
	ctx, span := observe.StartSpan(ctx, name, trace.WithAttributes(
		attribute.String("assessment.id", id),
		attribute.String("match.strategy", string(cfg.Strategy)),
		attribute.String("match.language", cfg.Language),
	))
	a.metrics.ActiveAssessments.Add(ctx, 1)

	return ctx, func(res *types.MatchResult, errp *error) {
		a.metrics.ActiveAssessments.Add(ctx, -1)
		elapsed := time.Since(start)
		a.metrics.RecordStage(ctx, "assess", elapsed)
		log := observe.Logger(ctx).With("assessment_id", id, "strategy", cfg.Strategy)

		if err := *errp; err != nil {
			a.metrics.RecordAssessment(ctx, string(cfg.Strategy), observe.OutcomeError)
			log.Warn("assessment failed",
				"stage", types.StageOf(err),
				"kind", types.KindOf(err),
				"elapsed", elapsed,
				"error", err,
			)
			observe.EndSpan(span, err)
			return
		}

		res.ID = id
		res.TraceID = observe.TraceID(ctx)
		outcome := observe.OutcomeFail
		if res.Passed {
			outcome = observe.OutcomePass
		}
		a.metrics.RecordAssessment(ctx, string(cfg.Strategy), outcome)
		span.SetAttributes(
			attribute.Float64("match.similarity", res.Similarity),
			attribute.Bool("match.passed", res.Passed),
		)
		log.Info("assessment finished",
			"similarity", res.Similarity,
			"passed", res.Passed,
			"threshold", res.Threshold,
			"elapsed", elapsed,
		)
		observe.EndSpan(span, nil)
	}
}

func (a *Assessor) validate(ctx context.Context, cfg types.MatchConfig) error {
	if err := cfg.Validate(); err != nil {
		a.metrics.RecordStageError(ctx, types.StageConfig, types.KindOf(err))
		return err
	}
	return nil
}

func (a *Assessor) phonemize(ctx context.Context, text, dialect string) (types.PhonemeSequence, error) {
	return runStage(ctx, a, types.StagePhonemize, a.timeouts.Phonemize, func(ctx context.Context) (types.PhonemeSequence, error) {
		return a.phonemizer.Phonemize(ctx, text, dialect)
	})
}

// compare phonemizes the transcript, normalizes both sides and scores them.
func (a *Assessor) compare(ctx context.Context, transcript, targetText string, target types.PhonemeSequence, cfg types.MatchConfig) (types.MatchResult, error) {
	spoken, err := a.phonemize(ctx, transcript, cfg.Language)
	if err != nil {
		return types.MatchResult{}, err
	}

	spoken, target = phoneme.Normalize(spoken), phoneme.Normalize(target)

	res, err := runStage(ctx, a, types.StageScore, a.timeouts.Score, func(context.Context) (types.MatchResult, error) {
		return a.scorer.Score(spoken, target, cfg)
	})
	if err != nil {
		return types.MatchResult{}, err
	}
	res.Transcript = transcript

	if a.aligner != nil {
		res.Words = a.aligner.Align(targetText, transcript)
	}

	observe.Logger(ctx).Debug("sequences scored",
		"spoken", spoken.String(),
		"target", target.String(),
		"similarity", res.Similarity,
	)
	return res, nil
}

// runStage runs fn under the stage deadline and maps its failure into the
// error taxonomy. A stage that returns after its deadline has expired is a
// timeout even if fn itself reported success.
func runStage[T any](ctx context.Context, a *Assessor, stage string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observe.StartSpan(ctx, "assess."+stage)
	sctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(sctx)
	if err == nil {
		err = sctx.Err()
	}
	a.metrics.RecordStage(ctx, stage, time.Since(start))

	if err != nil {
		err = classify(stage, err, sctx.Err())
		a.metrics.RecordStageError(ctx, stage, types.KindOf(err))
		observe.EndSpan(span, err)
		var zero T
		return zero, err
	}
	observe.EndSpan(span, nil)
	return v, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify maps err from stage into the taxonomy. ctxErr is the state of the
// stage context when fn returned; an expired deadline wins over whatever
// fn reported, since a killed tool fails in tool-specific ways.
func classify(stage string, err, ctxErr error) error {
	switch {
	case errors.Is(err, types.ErrTimeout):
		return err
	case errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		if types.KindOf(err) != "internal" {
			// Keep exactly one kind in the chain.
			return types.TimeoutError(stage, fmt.Errorf("%w: %s", context.DeadlineExceeded, err.Error()))
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return types.TimeoutError(stage, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("assess: %s: %w", stage, err)
	case types.KindOf(err) != "internal":
		return err
	}

	switch stage {
	case types.StageTranscode:
		return types.TranscodeError("", err)
	case types.StageDecode:
		return types.DecodeError("", err)
	case types.StagePhonemize:
		return types.PhonemizationError("", err)
	case types.StageScore:
		return types.ConfigError("score", err)
	}
	slog.Warn("assess: error from unknown stage", "stage", stage, "error", err)
	return err
}
