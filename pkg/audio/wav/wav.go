// Package wav frames raw PCM in a minimal canonical WAV container so it can be
// handed to any standard decoder, and parses such containers back.
//
// Only the canonical 44-byte layout (RIFF, WAVE, "fmt " with 16 bytes of
// PCM format data, then "data") is produced and accepted.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the canonical WAV header.
const HeaderSize = 44

const (
	fmtChunkSize = 16
	formatPCM    = 1
)

// ErrInvalid is wrapped by every [Parse] error.
var ErrInvalid = errors.New("wav: invalid container")

// Header is the format information carried by a canonical WAV header.
type Header struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	ByteRate      int
	BlockAlign    int
	DataSize      int
}

// Wrap prepends a canonical WAV header to pcm. The payload is copied; pcm is
// not retained. Channels and bitsPerSample of zero default to 1 and 16.
func Wrap(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if bitsPerSample <= 0 {
		bitsPerSample = 16
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], fmtChunkSize)
	le.PutUint16(out[20:22], formatPCM)
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(byteRate))
	le.PutUint16(out[32:34], uint16(blockAlign))
	le.PutUint16(out[34:36], uint16(bitsPerSample))

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))

	copy(out[HeaderSize:], pcm)
	return out
}

// WrapMono16 is [Wrap] for mono 16-bit PCM, the only format voxlink transports.
func WrapMono16(pcm []byte, sampleRate int) []byte {
	return Wrap(pcm, sampleRate, 1, 16)
}

// Parse validates a canonical WAV container and returns its header and the
// PCM payload (a sub-slice of data).
func Parse(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalid, len(data), HeaderSize)
	}
	le := binary.LittleEndian

	switch {
	case string(data[0:4]) != "RIFF":
		return Header{}, nil, fmt.Errorf("%w: missing RIFF tag", ErrInvalid)
	case string(data[8:12]) != "WAVE":
		return Header{}, nil, fmt.Errorf("%w: missing WAVE tag", ErrInvalid)
	case string(data[12:16]) != "fmt ":
		return Header{}, nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalid)
	case string(data[36:40]) != "data":
		return Header{}, nil, fmt.Errorf("%w: missing data chunk", ErrInvalid)
	}
	if size := le.Uint32(data[16:20]); size != fmtChunkSize {
		return Header{}, nil, fmt.Errorf("%w: fmt chunk size %d", ErrInvalid, size)
	}
	if format := le.Uint16(data[20:22]); format != formatPCM {
		return Header{}, nil, fmt.Errorf("%w: audio format %d is not PCM", ErrInvalid, format)
	}

	h := Header{
		Channels:      int(le.Uint16(data[22:24])),
		SampleRate:    int(le.Uint32(data[24:28])),
		ByteRate:      int(le.Uint32(data[28:32])),
		BlockAlign:    int(le.Uint16(data[32:34])),
		BitsPerSample: int(le.Uint16(data[34:36])),
		DataSize:      int(le.Uint32(data[40:44])),
	}
	if h.Channels == 0 || h.SampleRate == 0 || h.BitsPerSample == 0 {
		return Header{}, nil, fmt.Errorf("%w: zero channels, rate or bit depth", ErrInvalid)
	}
	if h.BlockAlign == 0 || h.BlockAlign != h.Channels*h.BitsPerSample/8 || h.ByteRate != h.SampleRate*h.BlockAlign {
		return Header{}, nil, fmt.Errorf("%w: inconsistent block align or byte rate", ErrInvalid)
	}
	if h.DataSize > len(data)-HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: data chunk declares %d bytes, %d present", ErrInvalid, h.DataSize, len(data)-HeaderSize)
	}
	if h.DataSize%h.BlockAlign != 0 {
		return Header{}, nil, fmt.Errorf("%w: data size %d is not a multiple of block align %d", ErrInvalid, h.DataSize, h.BlockAlign)
	}
	return h, data[HeaderSize : HeaderSize+h.DataSize], nil
}
