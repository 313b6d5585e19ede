// Command readtutor checks whether a reader pronounced a target text.
//
// Usage:
//
//	readtutor [-config FILE] [-env-file FILE] [-log-level LEVEL] [-metrics-addr ADDR] <command> [flags]
//
// Commands:
//
//	assess   assess one recording and print the JSON result
//	batch    assess every item of a YAML manifest, one JSON line per item
//	doctor   check that the decoder, ffmpeg and espeak-ng are usable
//
// assess exits 0 on a pass, 2 on a mismatch and 1 on an error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/readtutor/internal/app"
	"github.com/MrWong99/readtutor/internal/assess"
	"github.com/MrWong99/readtutor/internal/batch"
	"github.com/MrWong99/readtutor/internal/config"
	"github.com/MrWong99/readtutor/internal/health"
	"github.com/MrWong99/readtutor/internal/observe"
	"github.com/MrWong99/readtutor/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitPass     = 0
	exitError    = 1
	exitMismatch = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── Global flags ──────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("readtutor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration file (default: built-in defaults)")
	logLevel := fs.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	metricsAddr := fs.String("metrics-addr", "", "override server.metrics_addr, e.g. :9090")
	envFile := fs.String("env-file", ".env", "dotenv file with secrets such as "+config.EnvOpenAIKey+"; ignored when absent")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: readtutor [flags] assess|batch|doctor [command flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitError
	}
	command, cmdArgs := fs.Arg(0), fs.Args()[1:]

	// ── Load configuration ────────────────────────────────────────────────────
	// Variables already set in the environment win over the dotenv file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "readtutor: load %s: %v\n", *envFile, err)
		return exitError
	}
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(stderr, "readtutor: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(stderr, "readtutor: %v\n", err)
			}
			return exitError
		}
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "readtutor: %v\n", err)
		return exitError
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(stderr, cfg.Server.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registry:       promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	dec, ph, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitError
	}

	application, err := app.New(cfg, app.Providers{Decoder: dec, Phonemizer: ph},
		app.WithPrometheusRegistry(promReg),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if _, err := application.Serve(); err != nil {
		slog.Error("failed to start metrics listener", "err", err)
		return exitError
	}

	slog.Debug("readtutor starting",
		"version", version,
		"command", command,
		"decoder", cfg.Decoder.Name,
		"strategy", cfg.Match.Strategy,
		"dialect", cfg.Match.Language,
	)

	switch command {
	case "assess":
		return runAssess(ctx, application, cfg, cmdArgs, stdout, stderr)
	case "batch":
		return runBatch(ctx, application, cmdArgs, stdout, stderr)
	case "doctor":
		return runDoctor(ctx, application.Health(), stdout)
	default:
		fmt.Fprintf(stderr, "readtutor: unknown command %q\n", command)
		fs.Usage()
		return exitError
	}
}

// ── assess ────────────────────────────────────────────────────────────────────

func runAssess(ctx context.Context, application *app.App, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("assess", flag.ContinueOnError)
	fs.SetOutput(stderr)
	audioPath := fs.String("audio", "", "recording to assess (required)")
	text := fs.String("text", "", "text the reader was asked to read (required)")
	encoding := fs.String("encoding", "", "audio encoding: wav, pcm_s16le, ogg_opus, mp3, m4a, webm, flac (default: detect)")
	sampleRate := fs.Int("sample-rate", 0, "sample rate of pcm_s16le input")
	channels := fs.Int("channels", 1, "channel count of pcm_s16le input")
	strategy := fs.String("strategy", string(cfg.Match.Strategy), "exact, sequence_similarity or edit_distance")
	threshold := fs.Float64("threshold", cfg.Match.Threshold, "minimum similarity for sequence_similarity")
	tolerance := fs.Float64("tolerance", cfg.Match.Tolerance, "maximum normalized edit distance for edit_distance")
	dialect := fs.String("dialect", cfg.Match.Language, "phonemizer dialect for both sides")
	progress := fs.Float64("progress", -1, "treat -text as a story and assess the sentence at this reading progress (0..1)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *audioPath == "" || *text == "" {
		fmt.Fprintln(stderr, "readtutor assess: -audio and -text are required")
		fs.Usage()
		return exitError
	}

	target := *text
	if *progress >= 0 {
		target, _ = assess.NextSentence(assess.RemainingText(*text, *progress))
	}

	strat, err := types.ParseStrategy(*strategy)
	if err != nil {
		return reportError(stdout, "", err)
	}
	mc := types.MatchConfig{Strategy: strat, Threshold: *threshold, Tolerance: *tolerance, Language: *dialect}

	data, err := os.ReadFile(*audioPath)
	if err != nil {
		return reportError(stdout, "", fmt.Errorf("read audio: %w", err))
	}
	u := types.Utterance{
		Data:       data,
		Encoding:   types.Encoding(*encoding),
		SampleRate: *sampleRate,
		Channels:   *channels,
	}

	res, err := application.Assessor().Assess(ctx, u, target, mc)
	if err != nil {
		return reportError(stdout, *audioPath, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		slog.Error("write result", "err", err)
		return exitError
	}
	if !res.Passed {
		return exitMismatch
	}
	return exitPass
}

// reportError prints an error line in the batch output format so callers
// can parse both commands the same way.
func reportError(w io.Writer, id string, err error) int {
	line := batch.Line{
		ID:     id,
		Status: batch.StatusError,
		Error: &batch.LineError{
			Kind:    types.KindOf(err),
			Stage:   types.StageOf(err),
			Message: err.Error(),
		},
	}
	var se *types.StageError
	if errors.As(err, &se) {
		line.Error.Diagnostic = se.Diagnostic
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(line)
	slog.Error("assessment failed", "kind", line.Error.Kind, "stage", line.Error.Stage, "err", err)
	return exitError
}

// ── batch ─────────────────────────────────────────────────────────────────────

func runBatch(ctx context.Context, application *app.App, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestPath := fs.String("manifest", "", "YAML manifest of recordings (required)")
	outPath := fs.String("out", "", "write JSON lines to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *manifestPath == "" {
		fmt.Fprintln(stderr, "readtutor batch: -manifest is required")
		fs.Usage()
		return exitError
	}

	m, err := batch.LoadManifest(*manifestPath)
	if err != nil {
		slog.Error("invalid manifest", "err", err)
		return exitError
	}

	out := stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			slog.Error("open output", "err", err)
			return exitError
		}
		defer f.Close()
		out = f
	}

	sum, err := application.BatchRunner().Run(ctx, m, out)
	slog.Info("batch finished",
		"total", sum.Total,
		"passed", sum.Passed,
		"failed", sum.Failed,
		"errors", sum.Errors,
	)
	switch {
	case err != nil:
		slog.Error("batch aborted", "err", err)
		return exitError
	case sum.Errors > 0:
		return exitError
	case sum.Failed > 0:
		return exitMismatch
	}
	return exitPass
}

// ── doctor ────────────────────────────────────────────────────────────────────

func runDoctor(ctx context.Context, h *health.Handler, stdout io.Writer) int {
	reports := h.Run(ctx)
	for _, r := range reports {
		status := "ok"
		if r.Err != nil {
			status = "FAIL: " + r.Err.Error()
		}
		fmt.Fprintf(stdout, "%-18s %s (%s)\n", r.Name, status, r.Duration.Round(time.Millisecond))
	}
	if !health.Healthy(reports) {
		return exitError
	}
	return exitPass
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
