package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// PacketConverter normalises received packets to the mono PCM16 format an
// output path runs at. It logs a warning on the first format mismatch.
// Create one per playback queue; not designed for shared use across goroutines.
type PacketConverter struct {
	// TargetRate is the output sample rate in Hz.
	TargetRate int

	warnedMismatch sync.Once
}

// MaxChannels bounds the channel count a playback packet may declare.
const MaxChannels = 8

// ErrPacketFormat is returned for packets whose payload does not hold whole
// PCM16 frames for their declared channel count. It wraps [ErrDecodeFailure].
var ErrPacketFormat = fmt.Errorf("%w: malformed playback packet", ErrDecodeFailure)

// Convert returns the PCM payload of pkt as mono at TargetRate. Packets
// already in the target format are returned unchanged (zero allocation).
// Payloads that are not a whole number of frames, or that declare more than
// [MaxChannels] channels, are rejected with [ErrPacketFormat].
func (c *PacketConverter) Convert(pkt PlaybackPacket) ([]byte, error) {
	pcm := pkt.Data
	channels := max(pkt.Channels, 1)
	if channels > MaxChannels {
		return nil, fmt.Errorf("%w: %d channels (max %d)", ErrPacketFormat, channels, MaxChannels)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrPacketFormat, len(pcm), channels)
	}
	rate := pkt.SampleRate
	if rate <= 0 {
		rate = c.TargetRate
	}

	if rate == c.TargetRate && channels == 1 {
		return pcm, nil
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio: playback format mismatch, converting",
			"from", formatString(rate, channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	// Downmix first so only one channel is resampled.
	if channels > 1 {
		pcm = DownmixToMono(pcm, channels)
	}
	if rate != c.TargetRate {
		pcm = ResampleMono16(pcm, rate, c.TargetRate)
	}
	return pcm, nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	return DownmixToMono(pcm, 2)
}

// DownmixToMono averages the channels of each interleaved PCM16 frame. A
// trailing partial frame is discarded. Uses int32 arithmetic to prevent overflow.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := 2 * channels
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// formatString returns a human-readable format, e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
