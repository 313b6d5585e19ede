package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const oggHeaderLen = 27

// oggCRCTable is the lookup table for the Ogg page checksum: CRC-32 with
// polynomial 0x04C11DB7, no reflection, zero initial value.
var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^v]
	}
	return crc
}

// oggPackets demultiplexes the first logical stream of an Ogg buffer into
// its packets. Pages of other streams are ignored. A corrupt page header or
// checksum fails the whole buffer.
func oggPackets(data []byte) ([][]byte, error) {
	var (
		packets [][]byte
		partial []byte
		serial  uint32
		started bool
	)
	off := 0
	for off < len(data) {
		if len(data)-off < oggHeaderLen || string(data[off:off+4]) != "OggS" {
			return nil, fmt.Errorf("audio: ogg: bad page header at offset %d", off)
		}
		if data[off+4] != 0 {
			return nil, fmt.Errorf("audio: ogg: unsupported version %d", data[off+4])
		}
		nsegs := int(data[off+26])
		segStart := off + oggHeaderLen
		if segStart+nsegs > len(data) {
			return nil, errors.New("audio: ogg: truncated segment table")
		}
		lacing := data[segStart : segStart+nsegs]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		body := segStart + nsegs
		end := body + bodyLen
		if end > len(data) {
			return nil, errors.New("audio: ogg: truncated page body")
		}

		page := data[off:end]
		want := binary.LittleEndian.Uint32(page[22:26])
		check := make([]byte, len(page))
		copy(check, page)
		clear(check[22:26])
		if got := oggCRC(check); got != want {
			return nil, fmt.Errorf("audio: ogg: checksum mismatch at offset %d", off)
		}

		pageSerial := binary.LittleEndian.Uint32(page[14:18])
		if !started {
			serial, started = pageSerial, true
		}
		if pageSerial == serial {
			pos := body
			for _, l := range lacing {
				partial = append(partial, data[pos:pos+int(l)]...)
				pos += int(l)
				if l < 255 {
					packets = append(packets, partial)
					partial = nil
				}
			}
		}
		off = end
	}
	if !started {
		return nil, errors.New("audio: ogg: no pages")
	}
	return packets, nil
}
