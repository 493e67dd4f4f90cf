// Package transport frames audio chunks and control messages for a
// bidirectional socket and provides a WebSocket connection built on
// github.com/coder/websocket.
//
// Two wire shapes are understood on receive regardless of the configured
// outbound encoding:
//
//   - Binary frames: [kind:1][sample rate:uint32 LE][seq:uint64 LE][payload].
//     Kind 1 carries PCM16, kind 2 an Opus packet sequence.
//   - Text frames: JSON objects with a "type" field. Type "audio" carries
//     base64 PCM16 in "data"; every other type is a control message.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Encoding selects how outbound audio is put on the wire.
type Encoding string

const (
	// EncodingRaw sends PCM16 in binary frames.
	EncodingRaw Encoding = "raw"

	// EncodingBase64 sends PCM16 as base64 inside JSON text frames, for
	// peers that only accept text.
	EncodingBase64 Encoding = "base64"

	// EncodingOpus sends Opus packets in binary frames.
	EncodingOpus Encoding = "opus"
)

// ParseEncoding validates s. The empty string selects [EncodingRaw].
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case "":
		return EncodingRaw, nil
	case EncodingRaw, EncodingBase64, EncodingOpus:
		return e, nil
	default:
		return "", fmt.Errorf("transport: unknown encoding %q (want raw, base64 or opus)", s)
	}
}

// Message types used in JSON text frames.
const (
	TypeAudio     = "audio"
	TypeInterrupt = "interrupt"
)

// Binary frame kinds.
const (
	kindPCM16 byte = 1
	kindOpus  byte = 2

	binaryHeaderSize = 13
)

var (
	// ErrMalformed is returned for frames that cannot be parsed.
	ErrMalformed = errors.New("transport: malformed message")

	// ErrUnknownKind is returned for binary frames with an unknown kind byte.
	ErrUnknownKind = errors.New("transport: unknown binary frame kind")
)

// Frame is one socket message.
type Frame struct {
	// Text marks a UTF-8 text frame; otherwise the frame is binary.
	Text bool
	Data []byte
}

// audioMessage is the JSON shape of a base64 audio frame.
type audioMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Seq        uint64 `json:"seq"`
	Data       string `json:"data"`
}

// Control is a non-audio JSON message. Raw holds the complete object.
type Control struct {
	Type string
	Raw  json.RawMessage
}

// InboundKind says what an [Inbound] carries.
type InboundKind int

const (
	InboundAudio InboundKind = iota
	InboundControl
)

// Inbound is a decoded socket message.
type Inbound struct {
	Kind    InboundKind
	Packet  audio.PlaybackPacket
	Control Control
}
