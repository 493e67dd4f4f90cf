// Package codec converts captured float frames to and from the wire formats
// used by voxlink: little-endian PCM16, its text-safe Base64 form, and Opus.
//
// All functions are pure and safe for concurrent use. The Opus encoder and
// decoder carry codec state and must be used by one goroutine at a time.
package codec

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrOddLength is returned when a PCM16 payload does not contain a whole
// number of samples.
var ErrOddLength = errors.New("codec: pcm16 payload has odd length")

const (
	negScale = 0x8000
	posScale = 0x7FFF
)

// EncodePCM16 quantises samples to little-endian 16-bit PCM. Samples are
// clamped to [-1, 1]; negative values scale by 0x8000 and the rest by 0x7FFF,
// so -1 and 1 map onto the full int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

// EncodeFrame encodes frame into an [audio.EncodedChunk].
func EncodeFrame(frame audio.AudioFrame) audio.EncodedChunk {
	return audio.EncodedChunk{
		Data:       EncodePCM16(frame.Samples),
		SampleRate: frame.SampleRate,
		Seq:        frame.Seq,
	}
}

// DecodePCM16 converts little-endian 16-bit PCM back to float samples using
// the inverse of the [EncodePCM16] scaling.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = dequantize(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out, nil
}

// Int16ToBytes converts int16 PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// BytesToInt16 converts little-endian bytes to int16 PCM samples. A trailing
// odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}

func quantize(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s <= -1:
		return math.MinInt16
	case s >= 1:
		return math.MaxInt16
	case s < 0:
		return int16(math.Round(float64(s) * negScale))
	default:
		return int16(math.Round(float64(s) * posScale))
	}
}

func dequantize(v int16) float32 {
	if v < 0 {
		return float32(v) / negScale
	}
	return float32(v) / posScale
}
