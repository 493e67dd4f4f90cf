package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxlink/pkg/transport"
)

// KnownBackends lists the audio backend names shipped with voxlink.
// Used by [Validate] to warn about unrecognised backend names.
var KnownBackends = []string{"portaudio"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
// An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	validateBackendName(cfg.Audio.Backend)
	if err := cfg.CaptureLimits().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio.limits: %w", err))
	}
	if cfg.Audio.Limits.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.limits.frame_duration %v must not be negative", cfg.Audio.Limits.FrameDuration))
	}
	if cfg.Audio.FrameBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_buffer %d must not be negative", cfg.Audio.FrameBuffer))
	}

	// Playback
	if v := cfg.Playback.Volume; v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", *v))
	}
	if sr := cfg.Playback.SampleRate; sr != 0 && (sr < 8000 || sr > 192000) {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d is out of range [8000, 192000]", sr))
	}
	if cfg.Playback.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("playback.max_pending %d must not be negative", cfg.Playback.MaxPending))
	}
	if cfg.Playback.WarnPending < 0 {
		errs = append(errs, fmt.Errorf("playback.warn_pending %d must not be negative", cfg.Playback.WarnPending))
	}
	if cfg.Playback.MaxPending > 0 && cfg.Playback.WarnPending > cfg.Playback.MaxPending {
		slog.Warn("playback.warn_pending exceeds playback.max_pending; the backlog warning will never fire",
			"warn_pending", cfg.Playback.WarnPending,
			"max_pending", cfg.Playback.MaxPending,
		)
	}

	// Transport
	t := cfg.Transport
	if t.Mode != "" && !t.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("transport.mode %q is invalid; valid values: dial, listen", t.Mode))
	}
	if t.Mode == ModeDial {
		if t.URL == "" {
			errs = append(errs, errors.New("transport.url is required when transport.mode is dial"))
		} else if u, err := url.Parse(t.URL); err != nil {
			errs = append(errs, fmt.Errorf("transport.url: %w", err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("transport.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
		}
	}
	if t.Mode == ModeListen && !strings.HasPrefix(t.Path, "/") {
		errs = append(errs, fmt.Errorf("transport.path %q must start with /", t.Path))
	}
	if _, err := transport.ParseEncoding(t.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("transport.encoding: %w", err))
	}
	if t.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect.max_retries %d must not be negative", t.Reconnect.MaxRetries))
	}
	if t.Reconnect.Backoff < 0 || t.Reconnect.MaxBackoff < 0 {
		errs = append(errs, errors.New("transport.reconnect backoff durations must not be negative"))
	}
	if t.Reconnect.Backoff > 0 && t.Reconnect.MaxBackoff > 0 && t.Reconnect.MaxBackoff < t.Reconnect.Backoff {
		errs = append(errs, fmt.Errorf("transport.reconnect.max_backoff %v is shorter than backoff %v", t.Reconnect.MaxBackoff, t.Reconnect.Backoff))
	}
	if t.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transport.breaker.max_failures %d must not be negative", t.Breaker.MaxFailures))
	}
	if t.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.breaker.reset_timeout %v must not be negative", t.Breaker.ResetTimeout))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
		}
		if t.Mode == ModeListen && p == t.Path {
			errs = append(errs, fmt.Errorf("telemetry.metrics_path %q collides with transport.path", p))
		}
	}
	if r := cfg.Telemetry.TraceSampleRatio; math.IsNaN(r) || r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not one of
// [KnownBackends].
func validateBackendName(name string) {
	if name == "" || slices.Contains(KnownBackends, name) {
		return
	}
	slog.Warn("unknown audio backend; it must be registered before startup",
		"name", name,
		"known", KnownBackends,
	)
}
