package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxlink/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string // substrings expected in the joined error
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "inconsistent limits",
			yaml: "audio:\n  limits:\n    min_sample_rate: 48000\n    max_sample_rate: 16000\n",
			want: []string{"audio.limits", "exceeds max"},
		},
		{
			name: "opus with unusable fallback rate",
			yaml: "audio:\n  limits:\n    fallback_sample_rate: 44100\ntransport:\n  encoding: opus\n",
			want: []string{"audio.limits", "not usable"},
		},
		{
			name: "trace sample ratio above one",
			yaml: "telemetry:\n  trace_sample_ratio: 1.5\n",
			want: []string{"telemetry.trace_sample_ratio"},
		},
		{
			name: "negative frame buffer",
			yaml: "audio:\n  frame_buffer: -1\n",
			want: []string{"audio.frame_buffer"},
		},
		{
			name: "volume out of range",
			yaml: "playback:\n  volume: 1.5\n",
			want: []string{"playback.volume"},
		},
		{
			name: "sample rate out of range",
			yaml: "playback:\n  sample_rate: 4000\n",
			want: []string{"playback.sample_rate"},
		},
		{
			name: "negative pending bounds",
			yaml: "playback:\n  max_pending: -1\n  warn_pending: -2\n",
			want: []string{"playback.max_pending", "playback.warn_pending"},
		},
		{
			name: "bad mode",
			yaml: "transport:\n  mode: carrier-pigeon\n",
			want: []string{"transport.mode"},
		},
		{
			name: "dial without url",
			yaml: "transport:\n  mode: dial\n",
			want: []string{"transport.url is required"},
		},
		{
			name: "http url",
			yaml: "transport:\n  url: http://peer/voice\n",
			want: []string{"transport.url scheme"},
		},
		{
			name: "listen path without slash",
			yaml: "transport:\n  mode: listen\n  path: ws\n",
			want: []string{"transport.path"},
		},
		{
			name: "unknown encoding",
			yaml: "transport:\n  encoding: mp3\n",
			want: []string{"transport.encoding"},
		},
		{
			name: "backoff ordering",
			yaml: "transport:\n  reconnect:\n    backoff: 2s\n    max_backoff: 1s\n",
			want: []string{"max_backoff"},
		},
		{
			name: "negative breaker",
			yaml: "transport:\n  breaker:\n    max_failures: -1\n    reset_timeout: -1s\n",
			want: []string{"breaker.max_failures", "breaker.reset_timeout"},
		},
		{
			name: "metrics path collides",
			yaml: "transport:\n  mode: listen\n  path: /metrics\n",
			want: []string{"collides"},
		},
		{
			name: "several at once",
			yaml: "server:\n  log_level: loud\nplayback:\n  volume: -1\n",
			want: []string{"server.log_level", "playback.volume"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestValidate_UnknownBackendIsWarningOnly(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("audio:\n  backend: jack\n")); err != nil {
		t.Fatalf("unknown backend should only warn, got %v", err)
	}
}

func TestValidate_DirectConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}
