package audio

import (
	"math"
	"time"
)

// AudioFrame is one fixed-length block of mono float samples produced by a
// capture engine. Samples are in the range [-1.0, 1.0].
//
// A frame is created on each completed accumulation cycle and handed to the
// registered consumer exactly once. The Samples slice is freshly allocated per
// frame; the consumer may keep or mutate it.
type AudioFrame struct {
	// Samples holds exactly DeviceConfig.FrameSize values.
	Samples []float32

	// SampleRate in Hz at which the frame was captured.
	SampleRate int

	// Seq is the zero-based position of this frame within its capture session.
	Seq uint64

	// Timestamp marks the start of the frame relative to the start of capture.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// EncodedChunk is one frame's worth of little-endian 16-bit PCM, ready to be
// handed to a transport.
type EncodedChunk struct {
	Data       []byte
	SampleRate int
	Seq        uint64
}

// PlaybackPacket is a raw PCM16 buffer received from the remote side and
// queued for playback.
type PlaybackPacket struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate of Data in Hz. Zero means "same as the output".
	SampleRate int

	// Channels of Data. Zero is treated as mono.
	Channels int

	// Seq is the sender's sequence number, used for logging only.
	Seq uint64
}

// DeviceConfig is the negotiated capture format. It is computed once per
// capture session and never changes afterwards.
type DeviceConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

// FrameDuration returns the audio length of one frame.
func (c DeviceConfig) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

// Buffer is decoded, playable audio: mono float samples at SampleRate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// ClampVolume limits v to [0, 1]. NaN maps to 0.
func ClampVolume(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
