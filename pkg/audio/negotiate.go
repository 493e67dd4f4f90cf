package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Negotiation defaults. 24 kHz keeps bandwidth low and matches what common
// real-time speech models expect.
const (
	DefaultMinSampleRate      = 8000
	DefaultMaxSampleRate      = 48000
	DefaultFallbackSampleRate = 24000
	DefaultMinFrameSize       = 512
	DefaultMaxFrameSize       = 8192
	DefaultFrameDuration      = 100 * time.Millisecond
)

// FormatLimits bounds the capture format a [Negotiate] call may choose.
type FormatLimits struct {
	MinSampleRate      int
	MaxSampleRate      int
	FallbackSampleRate int
	MinFrameSize       int
	MaxFrameSize       int

	// FrameDuration is the target amount of audio per frame.
	FrameDuration time.Duration

	// AcceptRate, when set, narrows the band to the rates a downstream
	// encoder can run at. A device rate it rejects falls back.
	AcceptRate func(rate int) bool
}

func (l FormatLimits) accepts(rate int) bool {
	return rate >= l.MinSampleRate && rate <= l.MaxSampleRate &&
		(l.AcceptRate == nil || l.AcceptRate(rate))
}

// DefaultFormatLimits returns the limits used when none are configured.
func DefaultFormatLimits() FormatLimits {
	return FormatLimits{
		MinSampleRate:      DefaultMinSampleRate,
		MaxSampleRate:      DefaultMaxSampleRate,
		FallbackSampleRate: DefaultFallbackSampleRate,
		MinFrameSize:       DefaultMinFrameSize,
		MaxFrameSize:       DefaultMaxFrameSize,
		FrameDuration:      DefaultFrameDuration,
	}
}

// withDefaults fills zero fields from [DefaultFormatLimits].
func (l FormatLimits) withDefaults() FormatLimits {
	d := DefaultFormatLimits()
	if l.MinSampleRate <= 0 {
		l.MinSampleRate = d.MinSampleRate
	}
	if l.MaxSampleRate <= 0 {
		l.MaxSampleRate = d.MaxSampleRate
	}
	if l.FallbackSampleRate <= 0 {
		l.FallbackSampleRate = d.FallbackSampleRate
	}
	if l.MinFrameSize <= 0 {
		l.MinFrameSize = d.MinFrameSize
	}
	if l.MaxFrameSize <= 0 {
		l.MaxFrameSize = d.MaxFrameSize
	}
	if l.FrameDuration <= 0 {
		l.FrameDuration = d.FrameDuration
	}
	return l
}

// Validate reports inconsistent limits. Zero fields are valid (they take defaults).
func (l FormatLimits) Validate() error {
	l = l.withDefaults()
	var errs []error
	if l.MinSampleRate > l.MaxSampleRate {
		errs = append(errs, fmt.Errorf("min sample rate %d exceeds max %d", l.MinSampleRate, l.MaxSampleRate))
	}
	if l.FallbackSampleRate < l.MinSampleRate || l.FallbackSampleRate > l.MaxSampleRate {
		errs = append(errs, fmt.Errorf("fallback sample rate %d outside [%d, %d]", l.FallbackSampleRate, l.MinSampleRate, l.MaxSampleRate))
	} else if !l.accepts(l.FallbackSampleRate) {
		errs = append(errs, fmt.Errorf("fallback sample rate %d is not usable by the encoder", l.FallbackSampleRate))
	}
	if l.MinFrameSize > l.MaxFrameSize {
		errs = append(errs, fmt.Errorf("min frame size %d exceeds max %d", l.MinFrameSize, l.MaxFrameSize))
	}
	return errors.Join(errs...)
}

// Negotiate chooses a capture format compatible with the host device and limits.
//
// The device default rate is used when it lies within the supported band and
// passes AcceptRate. Otherwise, or when the rate query fails, the fallback
// rate is used. Query failures never propagate: negotiation must not block
// capture startup.
func Negotiate(ctx context.Context, p RateQuerier, limits FormatLimits) DeviceConfig {
	limits = limits.withDefaults()

	rate := limits.FallbackSampleRate
	detected, err := p.NativeSampleRate(ctx)
	switch {
	case err != nil:
		slog.Debug("audio: native rate query failed, using fallback", "err", err, "sample_rate", rate)
	case limits.accepts(detected):
		rate = detected
	default:
		slog.Debug("audio: device rate not supported, using fallback",
			"device_rate", detected, "sample_rate", rate)
	}

	return DeviceConfig{
		SampleRate: rate,
		Channels:   1,
		FrameSize:  FrameSizeFor(rate, limits),
	}
}

// FrameSizeFor returns the frame size for rate under limits: the target
// duration's worth of samples, clamped to the configured range and capped at
// rate/6 to bound per-callback latency. The minimum always wins so the
// result satisfies MinFrameSize <= size <= MaxFrameSize.
func FrameSizeFor(rate int, limits FormatLimits) int {
	limits = limits.withDefaults()

	size := int(int64(rate) * int64(limits.FrameDuration) / int64(time.Second))
	size = min(max(size, limits.MinFrameSize), limits.MaxFrameSize)
	size = min(size, rate/6)
	return max(size, limits.MinFrameSize)
}
