package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/audio/mock"
	"github.com/MrWong99/readtutor/pkg/types"
)

func speechWaveform() audio.Waveform {
	return audio.Waveform{PCM: sine(16000, 200*time.Millisecond, 300), SampleRate: 16000, Channels: 1}
}

func TestChain_EmptyBufferFailsBeforeFallback(t *testing.T) {
	t.Parallel()

	fb := mock.New(speechWaveform())
	c := audio.NewChain(audio.WithFallback(fb))

	for _, enc := range []types.Encoding{types.EncodingUnknown, types.EncodingWAV, types.EncodingMP3} {
		_, err := c.Transcode(context.Background(), types.Utterance{Encoding: enc})
		if !errors.Is(err, types.ErrTranscode) {
			t.Errorf("%q: err = %v, want ErrTranscode", enc, err)
		}
	}
	if n := fb.CallCount(); n != 0 {
		t.Errorf("fallback called %d times for empty input", n)
	}
}

func TestChain_SpeechWAVPassesThrough(t *testing.T) {
	t.Parallel()

	fb := mock.New(audio.Waveform{})
	c := audio.NewChain(audio.WithFallback(fb))

	in := speechWaveform()
	w, err := c.Transcode(context.Background(), types.Utterance{Data: audio.EncodeWAV(in)})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if !w.IsSpeechFormat() || w.Frames() != in.Frames() {
		t.Errorf("got %d frames at %d Hz x%d, want passthrough", w.Frames(), w.SampleRate, w.Channels)
	}
	if fb.CallCount() != 0 {
		t.Error("fallback used for a native WAV")
	}
}

func TestChain_ResamplesStereoWAV(t *testing.T) {
	t.Parallel()

	mono := sine(48000, 500*time.Millisecond, 300)
	stereo := make([]byte, 0, len(mono)*2)
	for i := 0; i+1 < len(mono); i += 2 {
		stereo = append(stereo, mono[i], mono[i+1], mono[i], mono[i+1])
	}
	wav := audio.EncodeWAV(audio.Waveform{PCM: stereo, SampleRate: 48000, Channels: 2})

	w, err := audio.NewChain().Transcode(context.Background(), types.Utterance{Data: wav, Encoding: types.EncodingWAV})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if !w.IsSpeechFormat() {
		t.Errorf("format = %d Hz x%d, want 16 kHz mono", w.SampleRate, w.Channels)
	}
	if d := w.Duration(); d < 400*time.Millisecond || d > 600*time.Millisecond {
		t.Errorf("duration = %v, want ~500ms", d)
	}
}

func TestChain_RawPCM(t *testing.T) {
	t.Parallel()

	c := audio.NewChain()
	pcm := sine(16000, 100*time.Millisecond, 300)

	w, err := c.Transcode(context.Background(), types.Utterance{Data: pcm, Encoding: types.EncodingPCM, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if len(w.PCM) != len(pcm) {
		t.Errorf("PCM length = %d, want %d", len(w.PCM), len(pcm))
	}

	_, err = c.Transcode(context.Background(), types.Utterance{Data: pcm, Encoding: types.EncodingPCM})
	if !errors.Is(err, types.ErrTranscode) {
		t.Errorf("missing sample rate: err = %v, want ErrTranscode", err)
	}

	_, err = c.Transcode(context.Background(), types.Utterance{Data: pcm[:3], Encoding: types.EncodingPCM, SampleRate: 16000})
	if !errors.Is(err, types.ErrTranscode) {
		t.Errorf("odd length: err = %v, want ErrTranscode", err)
	}
}

func TestChain_OtherContainersUseFallback(t *testing.T) {
	t.Parallel()

	want := speechWaveform()
	fb := mock.New(want)
	c := audio.NewChain(audio.WithFallback(fb))

	mp3 := []byte("ID3\x04\x00\x00\x00\x00\x00\x00 fake mp3 payload")
	w, err := c.Transcode(context.Background(), types.Utterance{Data: mp3})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if w.Frames() != want.Frames() {
		t.Errorf("Frames = %d, want %d from fallback", w.Frames(), want.Frames())
	}
	if fb.CallCount() != 1 {
		t.Errorf("fallback calls = %d, want 1", fb.CallCount())
	}
}

func TestChain_CorruptWAVFallsBack(t *testing.T) {
	t.Parallel()

	fb := mock.New(speechWaveform())
	c := audio.NewChain(audio.WithFallback(fb))

	corrupt := []byte("RIFF\x00\x00\x00\x00WAVEjunkjunkjunk")
	if _, err := c.Transcode(context.Background(), types.Utterance{Data: corrupt}); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if fb.CallCount() != 1 {
		t.Errorf("fallback calls = %d, want 1", fb.CallCount())
	}
}

func TestChain_NoFallback(t *testing.T) {
	t.Parallel()

	c := audio.NewChain()
	_, err := c.Transcode(context.Background(), types.Utterance{Data: []byte("fLaC\x00\x00\x00\x22")})
	if !errors.Is(err, types.ErrTranscode) {
		t.Errorf("err = %v, want ErrTranscode", err)
	}
}

func TestChain_FallbackErrorPropagates(t *testing.T) {
	t.Parallel()

	fbErr := types.TranscodeError("Invalid data found when processing input", errors.New("exit status 1"))
	fb := &mock.Transcoder{Err: fbErr}
	c := audio.NewChain(audio.WithFallback(fb))

	_, err := c.Transcode(context.Background(), types.Utterance{Data: []byte("garbage bytes")})
	if !errors.Is(err, types.ErrTranscode) {
		t.Fatalf("err = %v, want ErrTranscode", err)
	}
	var se *types.StageError
	if !errors.As(err, &se) || se.Diagnostic == "" {
		t.Errorf("diagnostic lost: %v", err)
	}
}

func TestChain_NativeDisabled(t *testing.T) {
	t.Parallel()

	fb := mock.New(speechWaveform())
	c := audio.NewChain(audio.WithFallback(fb), audio.WithNative(false))

	if _, err := c.Transcode(context.Background(), types.Utterance{Data: audio.EncodeWAV(speechWaveform())}); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if fb.CallCount() != 1 {
		t.Errorf("fallback calls = %d, want 1", fb.CallCount())
	}
}
