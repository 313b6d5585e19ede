package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// PCMToFloat32Mono down-mixes 16-bit PCM to mono float32 by averaging all
// channels per frame. A trailing partial frame is ignored.
func PCMToFloat32Mono(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:idx+2]))) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Downmix averages interleaved 16-bit PCM with the given channel count to
// mono. Uses int32 arithmetic to prevent overflow. Mono input is returned
// unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[idx : idx+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Resample converts 16-bit mono PCM from srcRate to dstRate. Equal rates
// return the input unchanged.
func Resample(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	n := len(pcm) / 2
	in := make([]float64, n)
	for i := range n {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	outF, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", srcRate, dstRate, err)
	}
	// The filter holds back its tail until flushed.
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: flush resampler: %w", err)
	}
	outF = append(outF, tail...)

	out := make([]byte, len(outF)*2)
	for i, s := range outF {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out, nil
}

// ToSpeechFormat down-mixes and resamples w to 16 kHz mono. A waveform that
// is already in that format is returned as is.
func ToSpeechFormat(w Waveform) (Waveform, error) {
	if w.IsSpeechFormat() {
		return w, nil
	}
	pcm := Downmix(w.PCM, w.Channels)
	pcm, err := Resample(pcm, w.SampleRate, SpeechSampleRate)
	if err != nil {
		return Waveform{}, err
	}
	return Waveform{PCM: pcm, SampleRate: SpeechSampleRate, Channels: SpeechChannels}, nil
}

func floatToInt16(s float64) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	}
	return int16(s * 32767.0)
}

// RMS returns the root-mean-square energy of 16-bit PCM in sample units
// (0 to 32767). Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
