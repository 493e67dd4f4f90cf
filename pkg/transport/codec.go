package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/codec"
)

// Codec converts [audio.EncodedChunk] values to wire frames and wire frames
// back to playback packets. Opus state is kept per sample rate, so one Codec
// must serve exactly one connection.
//
// A Codec is safe for concurrent use; encode and decode state are guarded
// separately so sending never waits on receiving.
type Codec struct {
	enc Encoding

	encMu    sync.Mutex
	opusEncs map[int]*codec.OpusEncoder

	decMu    sync.Mutex
	opusDecs map[int]*codec.OpusDecoder
}

// NewCodec creates a codec that encodes outbound audio with enc.
func NewCodec(enc Encoding) (*Codec, error) {
	if _, err := ParseEncoding(string(enc)); err != nil {
		return nil, err
	}
	if enc == "" {
		enc = EncodingRaw
	}
	return &Codec{
		enc:      enc,
		opusEncs: make(map[int]*codec.OpusEncoder),
		opusDecs: make(map[int]*codec.OpusDecoder),
	}, nil
}

// Encoding returns the outbound encoding.
func (c *Codec) Encoding() Encoding { return c.enc }

// Encode frames chunk for the wire.
func (c *Codec) Encode(chunk audio.EncodedChunk) (Frame, error) {
	switch c.enc {
	case EncodingBase64:
		data, err := json.Marshal(audioMessage{
			Type:       TypeAudio,
			SampleRate: chunk.SampleRate,
			Seq:        chunk.Seq,
			Data:       codec.EncodeBase64(chunk.Data),
		})
		if err != nil {
			return Frame{}, fmt.Errorf("transport: marshal audio: %w", err)
		}
		return Frame{Text: true, Data: data}, nil

	case EncodingOpus:
		rate, pcm := chunk.SampleRate, chunk.Data
		if !codec.OpusSupported(rate) && rate > 0 {
			rate = codec.NearestOpusRate(rate)
			pcm = audio.ResampleMono16(pcm, chunk.SampleRate, rate)
		}
		c.encMu.Lock()
		defer c.encMu.Unlock()
		enc, ok := c.opusEncs[rate]
		if !ok {
			var err error
			if enc, err = codec.NewOpusEncoder(rate); err != nil {
				return Frame{}, fmt.Errorf("transport: %w", err)
			}
			c.opusEncs[rate] = enc
		}
		payload, err := enc.Encode(pcm)
		if err != nil {
			return Frame{}, fmt.Errorf("transport: %w", err)
		}
		return Frame{Data: appendBinary(kindOpus, rate, chunk.Seq, payload)}, nil

	default:
		return Frame{Data: appendBinary(kindPCM16, chunk.SampleRate, chunk.Seq, chunk.Data)}, nil
	}
}

// EncodeControl marshals a control message of type typ. fields are merged
// into the object next to "type"; fields may be nil.
func EncodeControl(typ string, fields map[string]any) (Frame, error) {
	obj := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		obj[k] = v
	}
	obj["type"] = typ
	data, err := json.Marshal(obj)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: marshal %s: %w", typ, err)
	}
	return Frame{Text: true, Data: data}, nil
}

// Decode parses one inbound frame. Audio is returned as mono PCM16.
func (c *Codec) Decode(f Frame) (Inbound, error) {
	if f.Text {
		return decodeText(f.Data)
	}
	return c.decodeBinary(f.Data)
}

func decodeText(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if head.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if head.Type != TypeAudio {
		return Inbound{Kind: InboundControl, Control: Control{Type: head.Type, Raw: json.RawMessage(data)}}, nil
	}

	var msg audioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	pcm, err := codec.DecodeBase64(msg.Data)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Inbound{Kind: InboundAudio, Packet: audio.PlaybackPacket{
		Data:       pcm,
		SampleRate: msg.SampleRate,
		Channels:   1,
		Seq:        msg.Seq,
	}}, nil
}

func (c *Codec) decodeBinary(data []byte) (Inbound, error) {
	if len(data) < binaryHeaderSize {
		return Inbound{}, fmt.Errorf("%w: binary frame of %d bytes", ErrMalformed, len(data))
	}
	kind := data[0]
	rate := int(binary.LittleEndian.Uint32(data[1:5]))
	seq := binary.LittleEndian.Uint64(data[5:13])
	payload := data[binaryHeaderSize:]

	switch kind {
	case kindPCM16:
	case kindOpus:
		c.decMu.Lock()
		dec, ok := c.opusDecs[rate]
		if !ok {
			var err error
			if dec, err = codec.NewOpusDecoder(rate); err != nil {
				c.decMu.Unlock()
				return Inbound{}, fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			c.opusDecs[rate] = dec
		}
		pcm, err := dec.Decode(payload)
		c.decMu.Unlock()
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		payload = pcm
	default:
		return Inbound{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	return Inbound{Kind: InboundAudio, Packet: audio.PlaybackPacket{
		Data:       payload,
		SampleRate: rate,
		Channels:   1,
		Seq:        seq,
	}}, nil
}

func appendBinary(kind byte, rate int, seq uint64, payload []byte) []byte {
	out := make([]byte, binaryHeaderSize, binaryHeaderSize+len(payload))
	out[0] = kind
	binary.LittleEndian.PutUint32(out[1:5], uint32(rate))
	binary.LittleEndian.PutUint64(out[5:13], seq)
	return append(out, payload...)
}
