// Package config provides the configuration schema, loader, hot-reload
// watcher, and audio backend registry for voxlink.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/codec"
	"github.com/MrWong99/voxlink/pkg/transport"
)

// LogLevel controls log verbosity for the voxlink process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TransportMode selects whether voxlink dials a peer or waits for one.
type TransportMode string

const (
	// ModeDial connects out to Transport.URL and redials on loss.
	ModeDial TransportMode = "dial"

	// ModeListen accepts one websocket session at a time on Transport.Path.
	ModeListen TransportMode = "listen"
)

// IsValid reports whether m is a recognised transport mode.
func (m TransportMode) IsValid() bool {
	return m == ModeDial || m == ModeListen
}

// Config is the root configuration structure for voxlink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Transport TransportConfig `yaml:"transport"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the ops HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	// It serves health, metrics, and, in listen mode, the websocket endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the host audio backend and capture parameters.
type AudioConfig struct {
	// Backend names a factory in the [Registry] (e.g., "portaudio").
	Backend string `yaml:"backend"`

	// InputDevice and OutputDevice select devices by name substring.
	// Empty selects the host default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// Limits bound format negotiation. Zero fields take defaults.
	Limits LimitsConfig `yaml:"limits"`

	// EchoCancellation and NoiseSuppression request host processing. Both
	// default to true; backends without the feature ignore them.
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`

	// FrameBuffer is the number of captured frames that may wait for the
	// transport before new frames are dropped.
	FrameBuffer int `yaml:"frame_buffer"`
}

// LimitsConfig mirrors [audio.FormatLimits] in YAML form.
type LimitsConfig struct {
	MinSampleRate      int           `yaml:"min_sample_rate"`
	MaxSampleRate      int           `yaml:"max_sample_rate"`
	FallbackSampleRate int           `yaml:"fallback_sample_rate"`
	MinFrameSize       int           `yaml:"min_frame_size"`
	MaxFrameSize       int           `yaml:"max_frame_size"`
	FrameDuration      time.Duration `yaml:"frame_duration"`
}

// FormatLimits converts the YAML limits to [audio.FormatLimits].
func (l LimitsConfig) FormatLimits() audio.FormatLimits {
	return audio.FormatLimits{
		MinSampleRate:      l.MinSampleRate,
		MaxSampleRate:      l.MaxSampleRate,
		FallbackSampleRate: l.FallbackSampleRate,
		MinFrameSize:       l.MinFrameSize,
		MaxFrameSize:       l.MaxFrameSize,
		FrameDuration:      l.FrameDuration,
	}
}

// CaptureLimits returns the negotiation limits for the microphone. With opus
// encoding, device rates Opus cannot run at fall back instead of being kept.
func (c *Config) CaptureLimits() audio.FormatLimits {
	limits := c.Audio.Limits.FormatLimits()
	if enc, err := transport.ParseEncoding(c.Transport.Encoding); err == nil && enc == transport.EncodingOpus {
		limits.AcceptRate = codec.OpusSupported
	}
	return limits
}

// PlaybackConfig tunes the playback queue and output path.
type PlaybackConfig struct {
	// Volume in [0, 1]. Nil means 1.0. Hot-reloadable.
	Volume *float64 `yaml:"volume"`

	// SampleRate of the output path. Zero uses the device default.
	SampleRate int `yaml:"sample_rate"`

	// MaxPending bounds the pending packet list; the oldest packet is dropped
	// when it is full. Zero means the queue default.
	MaxPending int `yaml:"max_pending"`

	// WarnPending logs a warning once the pending list reaches this depth.
	WarnPending int `yaml:"warn_pending"`
}

// TransportConfig selects how audio reaches the remote peer.
type TransportConfig struct {
	// Mode is "dial" or "listen". Defaults to "dial" when URL is set.
	Mode TransportMode `yaml:"mode"`

	// URL is the websocket endpoint dialled in dial mode (ws:// or wss://).
	URL string `yaml:"url"`

	// Path is the HTTP path served in listen mode. Defaults to "/ws".
	Path string `yaml:"path"`

	// Encoding of outbound audio: "raw", "base64", or "opus".
	Encoding string `yaml:"encoding"`

	// Reconnect tunes redialling in dial mode.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Breaker tunes the circuit breaker guarding sends.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ReconnectConfig tunes exponential-backoff redialling.
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// BreakerConfig tunes the transport circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// ServiceName is reported in the OTel resource. Defaults to "voxlink".
	ServiceName string `yaml:"service_name"`

	// MetricsPath is the HTTP path of the Prometheus endpoint. Defaults to "/metrics".
	MetricsPath string `yaml:"metrics_path"`

	// TraceSampleRatio is the fraction of traces kept, in [0, 1]. Zero keeps all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultBackend     = "portaudio"
	DefaultWSPath      = "/ws"
	DefaultEncoding    = "raw"
	DefaultMetricsPath = "/metrics"
	DefaultServiceName = "voxlink"
)

// ApplyDefaults fills unset fields in cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultBackend
	}
	if cfg.Transport.Mode == "" {
		if cfg.Transport.URL != "" {
			cfg.Transport.Mode = ModeDial
		} else {
			cfg.Transport.Mode = ModeListen
		}
	}
	if cfg.Transport.Path == "" {
		cfg.Transport.Path = DefaultWSPath
	}
	if cfg.Transport.Encoding == "" {
		cfg.Transport.Encoding = DefaultEncoding
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// EchoCancellationEnabled reports the effective echo cancellation setting.
func (a AudioConfig) EchoCancellationEnabled() bool {
	return a.EchoCancellation == nil || *a.EchoCancellation
}

// NoiseSuppressionEnabled reports the effective noise suppression setting.
func (a AudioConfig) NoiseSuppressionEnabled() bool {
	return a.NoiseSuppression == nil || *a.NoiseSuppression
}

// EffectiveVolume returns the configured volume, or 1.0 when unset.
func (p PlaybackConfig) EffectiveVolume() float32 {
	if p.Volume == nil {
		return 1
	}
	return float32(*p.Volume)
}

// SlogLevel maps l to the equivalent [slog.Level]. Unknown or empty levels
// map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
