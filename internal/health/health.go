// Package health checks that the pipeline's external dependencies are usable:
// the decoder, the ffmpeg binary and the espeak-ng voice for the configured
// dialect.
//
// One [Checker] list backs both `readtutor doctor` (through [Handler.Run])
// and the probes on the metrics listener. /healthz always answers 200;
// /readyz answers 200 only when every check passes and 503 otherwise, with
// a JSON body such as
//
//	{"status":"fail","checks":{"ffmpeg":"ok","voice:en-gb":"fail: ..."}}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds each check. Listing espeak-ng voices spawns a process.
const checkTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil when the
// dependency is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the outcome of one [Checker].
type Report struct {
	Name     string
	Err      error
	Duration time.Duration
}

// OK reports whether the check passed.
func (r Report) OK() bool { return r.Err == nil }

// Healthy reports whether every report passed. An empty list is healthy.
func Healthy(reports []Report) bool {
	for _, r := range reports {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Handler runs a fixed list of checkers. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler over a copy of checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Run evaluates all checkers concurrently, each under its own
// [checkTimeout] derived from ctx. Reports come back in checker order.
func (h *Handler) Run(ctx context.Context) []Report {
	reports := make([]Report, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			reports[i] = Report{Name: c.Name, Err: err, Duration: time.Since(start)}
		})
	}
	wg.Wait()
	return reports
}

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, body{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	reports := h.Run(r.Context())
	b := body{Status: "ok", Checks: make(map[string]string, len(reports))}
	code := http.StatusOK
	for _, rep := range reports {
		if rep.OK() {
			b.Checks[rep.Name] = "ok"
			continue
		}
		b.Checks[rep.Name] = "fail: " + rep.Err.Error()
		b.Status, code = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, code, b)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
