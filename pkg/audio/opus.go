package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Opus always decodes at 48 kHz. 120 ms is the longest legal packet.
const (
	opusSampleRate   = 48000
	opusMaxFrameSize = opusSampleRate * 120 / 1000 // 5760
)

// DecodeOggOpus decodes an Ogg/Opus buffer (the format of most chat voice
// messages) to 48 kHz mono PCM. The encoder pre-skip is dropped.
func DecodeOggOpus(data []byte) (Waveform, error) {
	packets, err := oggPackets(data)
	if err != nil {
		return Waveform{}, err
	}
	if len(packets) == 0 || !bytes.HasPrefix(packets[0], []byte("OpusHead")) || len(packets[0]) < 19 {
		return Waveform{}, errors.New("audio: opus: missing OpusHead")
	}
	head := packets[0]
	channels := int(head[9])
	preSkip := int(binary.LittleEndian.Uint16(head[10:12]))
	if channels < 1 || channels > 2 {
		return Waveform{}, fmt.Errorf("audio: opus: unsupported channel count %d", channels)
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: opus: create decoder: %w", err)
	}

	var pcm []byte
	for _, pkt := range packets[1:] {
		if bytes.HasPrefix(pkt, []byte("OpusTags")) || len(pkt) == 0 {
			continue
		}
		samples, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			return Waveform{}, fmt.Errorf("audio: opus: decode: %w", err)
		}
		pcm = append(pcm, int16sToBytes(samples)...)
	}

	skip := preSkip * channels * 2
	if skip >= len(pcm) {
		pcm = nil
	} else {
		pcm = pcm[skip:]
	}
	return Waveform{
		PCM:        Downmix(pcm, channels),
		SampleRate: opusSampleRate,
		Channels:   1,
	}, nil
}

func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
