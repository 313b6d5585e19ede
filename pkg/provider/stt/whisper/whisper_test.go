package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/provider/stt/whisper"
	"github.com/MrWong99/readtutor/pkg/types"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// speech returns a 16 kHz mono 440 Hz sine whose RMS (about 7071) is well
// above the silence threshold.
func speech(d time.Duration) audio.Waveform {
	const amplitude = 10_000.0
	samples := int(d.Seconds() * 16000)
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return audio.Waveform{PCM: buf, SampleRate: 16000, Channels: 1}
}

func silence(d time.Duration) audio.Waveform {
	return audio.Waveform{PCM: make([]byte, int(d.Seconds()*16000)*2), SampleRate: 16000, Channels: 1}
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080/", whisper.WithModel("small"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.ServerURL(); got != "http://localhost:8080" {
		t.Errorf("ServerURL = %q", got)
	}
}

// ---- transcription ------------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, " the quick brown fox\n", &calls)
	p, _ := whisper.New(srv.URL)

	got, err := p.Transcribe(context.Background(), speech(500*time.Millisecond))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "the quick brown fox" {
		t.Errorf("Text = %q, want trimmed server text", got.Text)
	}
	if got.Language != "en" {
		t.Errorf("Language = %q, want en", got.Language)
	}
	if got.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got.Duration)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_SendsMultipartForm(t *testing.T) {
	t.Parallel()

	type form struct {
		language, model, format string
		wav                     []byte
	}
	got := make(chan form, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		got <- form{
			language: r.FormValue("language"),
			model:    r.FormValue("model"),
			format:   r.FormValue("response_format"),
			wav:      data,
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"), whisper.WithModel("base.en"))
	in := speech(100 * time.Millisecond)
	if _, err := p.Transcribe(context.Background(), in); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	f := <-got
	if f.language != "de" || f.model != "base.en" || f.format != "json" {
		t.Errorf("fields = %q/%q/%q", f.language, f.model, f.format)
	}
	w, err := audio.ParseWAV(f.wav)
	if err != nil {
		t.Fatalf("uploaded file is not a WAV: %v", err)
	}
	if w.Frames() != in.Frames() || !w.IsSpeechFormat() {
		t.Errorf("uploaded %d frames at %d Hz x%d", w.Frames(), w.SampleRate, w.Channels)
	}
}

func TestTranscribe_SilenceSkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "hallucinated text", &calls)
	p, _ := whisper.New(srv.URL)

	got, err := p.Transcribe(context.Background(), silence(time.Second))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "" {
		t.Errorf("Text = %q, want empty for silence", got.Text)
	}
	if calls.Load() != 0 {
		t.Errorf("server contacted %d times for silence", calls.Load())
	}

	// With the check disabled the server is asked.
	p, _ = whisper.New(srv.URL, whisper.WithSilenceRMS(0))
	if _, err := p.Transcribe(context.Background(), silence(time.Second)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_EmptyTextIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "", nil)
	p, _ := whisper.New(srv.URL)
	got, err := p.Transcribe(context.Background(), speech(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "" {
		t.Errorf("Text = %q, want empty", got.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "failed to read WAV file", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), speech(100*time.Millisecond))
	if !errors.Is(err, types.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	var se *types.StageError
	if !errors.As(err, &se) || se.Diagnostic != "failed to read WAV file" {
		t.Errorf("diagnostic = %v", err)
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speech(100*time.Millisecond)); !errors.Is(err, types.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestTranscribe_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := whisper.New(url)
	if _, err := p.Transcribe(context.Background(), speech(100*time.Millisecond)); !errors.Is(err, types.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestTranscribe_RejectsWrongFormat(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls)
	p, _ := whisper.New(srv.URL)

	w := speech(100 * time.Millisecond)
	w.SampleRate = 44100
	if _, err := p.Transcribe(context.Background(), w); !errors.Is(err, types.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if calls.Load() != 0 {
		t.Error("server contacted for a non-speech-format waveform")
	}
}

func TestTranscribe_DeadlineIsNotDecodeError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Transcribe(ctx, speech(100*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if errors.Is(err, types.ErrDecode) {
		t.Error("deadline reported as a decode failure")
	}
}
