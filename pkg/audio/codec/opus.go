package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"layeh.com/gopus"
)

// Opus packets carry 20 ms of mono audio each. A capture frame is split into
// as many packets as needed; the final packet is zero-padded.
const (
	opusChannels    = 1
	opusFrameSizeMs = 20

	// opusMaxPacket bounds one encoded packet; 4000 bytes is the size
	// libopus recommends for the output buffer.
	opusMaxPacket = 4000

	// opusMaxPrealloc caps the capacity trusted from a payload's declared
	// sample count.
	opusMaxPrealloc = 1 << 16
)

// ErrOpusRate is returned for sample rates Opus does not support.
var ErrOpusRate = errors.New("codec: opus supports 8000, 12000, 16000, 24000 and 48000 Hz only")

// ErrOpusPayload is returned when an opus payload is malformed.
var ErrOpusPayload = errors.New("codec: malformed opus payload")

var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// OpusSupported reports whether Opus can run at rate.
func OpusSupported(rate int) bool {
	return slices.Contains(opusRates, rate)
}

// NearestOpusRate returns the smallest Opus rate at or above rate, or 48000
// for anything higher.
func NearestOpusRate(rate int) int {
	for _, r := range opusRates {
		if r >= rate {
			return r
		}
	}
	return opusRates[len(opusRates)-1]
}

// OpusEncoder turns PCM16 frames into length-prefixed Opus packet sequences.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int
}

// NewOpusEncoder creates a mono voice encoder at sampleRate.
func NewOpusEncoder(sampleRate int) (*OpusEncoder, error) {
	if !OpusSupported(sampleRate) {
		return nil, fmt.Errorf("%w: got %d", ErrOpusRate, sampleRate)
	}
	enc, err := gopus.NewEncoder(sampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, frameSize: sampleRate * opusFrameSizeMs / 1000}, nil
}

// Encode encodes little-endian PCM16 into a payload of the form
// [uint32 sample count] then repeated [uint16 length][packet].
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := BytesToInt16(pcm)
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(samples)))

	block := make([]int16, e.frameSize)
	for off := 0; off < len(samples); off += e.frameSize {
		n := copy(block, samples[off:])
		clear(block[n:])
		pkt, err := e.enc.Encode(block, e.frameSize, opusMaxPacket)
		if err != nil {
			return nil, fmt.Errorf("codec: opus encode: %w", err)
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(len(pkt)))
		out = append(out, pkt...)
	}
	return out, nil
}

// OpusDecoder reverses [OpusEncoder.Encode]. One decoder serves one inbound
// stream so that decoder state carries across consecutive packets.
type OpusDecoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewOpusDecoder creates a mono decoder at sampleRate.
func NewOpusDecoder(sampleRate int) (*OpusDecoder, error) {
	if !OpusSupported(sampleRate) {
		return nil, fmt.Errorf("%w: got %d", ErrOpusRate, sampleRate)
	}
	dec, err := gopus.NewDecoder(sampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, frameSize: sampleRate * opusFrameSizeMs / 1000}, nil
}

// Decode returns the PCM16 bytes carried by payload, trimmed to the sample
// count recorded by the encoder.
func (d *OpusDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, ErrOpusPayload
	}
	want := int(binary.LittleEndian.Uint32(payload))
	payload = payload[4:]

	pcm := make([]int16, 0, min(want, opusMaxPrealloc))
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, ErrOpusPayload
		}
		n := int(binary.LittleEndian.Uint16(payload))
		payload = payload[2:]
		if n > len(payload) {
			return nil, ErrOpusPayload
		}
		block, err := d.dec.Decode(payload[:n], d.frameSize, false)
		if err != nil {
			return nil, fmt.Errorf("codec: opus decode: %w", err)
		}
		pcm = append(pcm, block...)
		payload = payload[n:]
	}
	if len(pcm) < want {
		return nil, fmt.Errorf("%w: %d samples decoded, %d declared", ErrOpusPayload, len(pcm), want)
	}
	return Int16ToBytes(pcm[:want]), nil
}
