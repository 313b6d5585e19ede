package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
	bitsPerSample       = 16
)

// ErrUnsupportedWAV is returned by [ParseWAV] for well-formed files whose
// sample format is not 16-bit integer PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV sample format")

// ParseWAV reads a RIFF/WAVE buffer holding 16-bit integer PCM. Unknown
// chunks are skipped. A data chunk whose declared size runs past the end of
// the buffer (common for streamed recordings) is truncated to what is
// present.
func ParseWAV(data []byte) (Waveform, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Waveform{}, errors.New("audio: not a RIFF/WAVE buffer")
	}

	var (
		w       Waveform
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Waveform{}, errors.New("audio: WAV fmt chunk too short")
			}
			f := data[body:end]
			format := binary.LittleEndian.Uint16(f[0:2])
			w.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			bits := binary.LittleEndian.Uint16(f[14:16])
			if format == wavFormatExtensible && len(f) >= 26 {
				format = binary.LittleEndian.Uint16(f[24:26])
			}
			if format != wavFormatPCM || bits != bitsPerSample {
				return Waveform{}, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedWAV, format, bits)
			}
			if w.Channels < 1 || w.SampleRate < 1 {
				return Waveform{}, fmt.Errorf("audio: invalid WAV header: %d channels at %d Hz", w.Channels, w.SampleRate)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Waveform{}, errors.New("audio: WAV data chunk before fmt chunk")
			}
			pcm := data[body:end]
			frame := 2 * w.Channels
			w.PCM = pcm[:len(pcm)/frame*frame]
			return w, nil
		}

		// Chunks are word aligned.
		off = end + size%2
	}
	return Waveform{}, errors.New("audio: WAV has no data chunk")
}

// EncodeWAV wraps w in a 44-byte canonical RIFF/WAVE header.
func EncodeWAV(w Waveform) []byte {
	channels := max(w.Channels, 1)
	byteRate := w.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(w.PCM)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(w.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], w.PCM)

	return buf
}
