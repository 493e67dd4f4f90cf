package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

type querierFunc func(ctx context.Context) (int, error)

func (f querierFunc) NativeSampleRate(ctx context.Context) (int, error) { return f(ctx) }

func fixedRate(rate int) audio.RateQuerier {
	return querierFunc(func(context.Context) (int, error) { return rate, nil })
}

func TestNegotiate_SampleRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		querier audio.RateQuerier
		want   int
	}{
		{"in band 48k", fixedRate(48000), 48000},
		{"in band 16k", fixedRate(16000), 16000},
		{"lower edge", fixedRate(8000), 8000},
		{"below band", fixedRate(4000), 24000},
		{"above band", fixedRate(96000), 24000},
		{"query error", querierFunc(func(context.Context) (int, error) { return 0, errors.New("no host") }), 24000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := audio.Negotiate(context.Background(), tt.querier, audio.DefaultFormatLimits())
			if cfg.SampleRate != tt.want {
				t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, tt.want)
			}
			if cfg.Channels != 1 {
				t.Errorf("Channels = %d, want 1", cfg.Channels)
			}
		})
	}
}

func TestNegotiate_AcceptRate(t *testing.T) {
	t.Parallel()

	opusRates := func(rate int) bool {
		switch rate {
		case 8000, 12000, 16000, 24000, 48000:
			return true
		}
		return false
	}
	tests := []struct {
		name   string
		detected int
		accept func(int) bool
		want   int
	}{
		{"44.1k kept without predicate", 44100, nil, 44100},
		{"44.1k rejected falls back", 44100, opusRates, 24000},
		{"48k accepted", 48000, opusRates, 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			limits := audio.DefaultFormatLimits()
			limits.AcceptRate = tt.accept
			cfg := audio.Negotiate(context.Background(), fixedRate(tt.detected), limits)
			if cfg.SampleRate != tt.want {
				t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, tt.want)
			}
			if cfg.FrameSize != audio.FrameSizeFor(tt.want, limits) {
				t.Errorf("FrameSize = %d, want %d", cfg.FrameSize, audio.FrameSizeFor(tt.want, limits))
			}
		})
	}
}

func TestNegotiate_ZeroLimitsUseDefaults(t *testing.T) {
	t.Parallel()

	cfg := audio.Negotiate(context.Background(), fixedRate(24000), audio.FormatLimits{})
	if cfg.FrameSize != 2400 {
		t.Errorf("FrameSize = %d, want 2400 (100ms at 24kHz)", cfg.FrameSize)
	}
}

func TestFrameSizeFor(t *testing.T) {
	t.Parallel()

	limits := audio.DefaultFormatLimits()
	tests := []struct {
		name   string
		rate   int
		limits audio.FormatLimits
		want   int
	}{
		{"24k target", 24000, limits, 2400},
		{"48k target", 48000, limits, 4800},
		{"8k target", 8000, limits, 800},
		{"capped at rate/6", 24000, audio.FormatLimits{FrameDuration: 500 * time.Millisecond}, 4000},
		{"clamped to max", 48000, audio.FormatLimits{MaxFrameSize: 2048}, 2048},
		{"floored at min", 8000, audio.FormatLimits{FrameDuration: 10 * time.Millisecond}, 512},
		{"min wins over rate/6", 8000, audio.FormatLimits{MinFrameSize: 2000, FrameDuration: time.Second}, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.FrameSizeFor(tt.rate, tt.limits); got != tt.want {
				t.Errorf("FrameSizeFor(%d) = %d, want %d", tt.rate, got, tt.want)
			}
		})
	}
}

func TestNegotiate_Invariants(t *testing.T) {
	t.Parallel()

	limits := audio.DefaultFormatLimits()
	for rate := 1000; rate <= 200000; rate += 1000 {
		cfg := audio.Negotiate(context.Background(), fixedRate(rate), limits)
		if cfg.SampleRate < limits.MinSampleRate || cfg.SampleRate > limits.MaxSampleRate {
			t.Fatalf("rate %d: negotiated SampleRate %d out of band", rate, cfg.SampleRate)
		}
		if cfg.FrameSize < limits.MinFrameSize || cfg.FrameSize > limits.MaxFrameSize {
			t.Fatalf("rate %d: negotiated FrameSize %d out of range", rate, cfg.FrameSize)
		}
	}
}

func TestFormatLimits_Validate(t *testing.T) {
	t.Parallel()

	if err := audio.DefaultFormatLimits().Validate(); err != nil {
		t.Errorf("default limits invalid: %v", err)
	}
	if err := (audio.FormatLimits{}).Validate(); err != nil {
		t.Errorf("zero limits invalid: %v", err)
	}
	bad := audio.FormatLimits{MinSampleRate: 48000, MaxSampleRate: 8000, MinFrameSize: 4096, MaxFrameSize: 512}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for inverted limits")
	}
	if err := (audio.FormatLimits{FallbackSampleRate: 96000}).Validate(); err == nil {
		t.Error("expected error for fallback rate outside band")
	}
	only48k := func(rate int) bool { return rate == 48000 }
	if err := (audio.FormatLimits{FallbackSampleRate: 44100, AcceptRate: only48k}).Validate(); err == nil {
		t.Error("expected error for fallback rate rejected by AcceptRate")
	}
}
