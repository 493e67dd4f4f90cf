package playback

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/codec"
	"github.com/MrWong99/voxlink/pkg/audio/wav"
)

// Decoder turns a WAV container into a playable buffer. Implementations may
// take time and must return promptly once ctx is cancelled.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (audio.Buffer, error)
}

// WAVDecoder decodes canonical mono 16-bit PCM WAV data.
type WAVDecoder struct{}

var _ Decoder = WAVDecoder{}

// Decode implements [Decoder]. Every failure wraps [audio.ErrDecodeFailure].
func (WAVDecoder) Decode(ctx context.Context, data []byte) (audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	hdr, pcm, err := wav.Parse(data)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %w", audio.ErrDecodeFailure, err)
	}
	if hdr.BitsPerSample != 16 || hdr.Channels != 1 {
		return audio.Buffer{}, fmt.Errorf("%w: unsupported layout %d-bit/%dch",
			audio.ErrDecodeFailure, hdr.BitsPerSample, hdr.Channels)
	}
	samples, err := codec.DecodePCM16(pcm)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %w", audio.ErrDecodeFailure, err)
	}
	return audio.Buffer{Samples: samples, SampleRate: hdr.SampleRate}, nil
}
