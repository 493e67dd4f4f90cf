// Package portaudio is the host audio backend built on PortAudio. It
// implements [audio.DeviceContext] with a callback-driven input stream for
// capture and a pull-model output stream that renders one voice at a time.
//
// PortAudio reference-counts Initialize/Terminate, so each [Context] and
// every rate query hold their own reference and release it independently.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

var _ audio.DeviceContext = (*Context)(nil)

var errNoDevice = errors.New("portaudio: no matching device")

// Context is a per-session handle to the PortAudio host subsystem.
type Context struct {
	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio and returns a handle that must be released with
// [Context.Close].
func New() (*Context, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classify("initialize", "", err)
	}
	return &Context{}, nil
}

// NativeSampleRate opens a throwaway host context, reads the default input
// device's sample rate, and terminates the throwaway context before returning.
func (c *Context) NativeSampleRate(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := portaudio.Initialize(); err != nil {
		return 0, classify("query rate", "", err)
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Debug("portaudio: terminate rate query context", "err", err)
		}
	}()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return 0, classify("query rate", "default", err)
	}
	return int(dev.DefaultSampleRate), nil
}

// OpenInput implements [audio.DeviceContext]. Echo cancellation and noise
// suppression are not available through PortAudio and are ignored.
func (c *Context) OpenInput(ctx context.Context, cons audio.InputConstraints, process audio.ProcessFunc) (audio.InputStream, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	dev, err := findDevice(cons.Device, true)
	if err != nil {
		return nil, classify("open input", cons.Device, err)
	}
	if cons.EchoCancellation || cons.NoiseSuppression {
		slog.Debug("portaudio: input processing constraints not supported by host backend, ignoring",
			"echo_cancellation", cons.EchoCancellation,
			"noise_suppression", cons.NoiseSuppression,
		)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cons.SampleRate),
		FramesPerBuffer: cons.FramesPerBuffer,
	}

	in := &inputStream{process: process, device: dev.Name}
	stream, err := portaudio.OpenStream(params, in.callback)
	if err != nil {
		return nil, classify("open input", dev.Name, err)
	}
	in.stream = stream

	slog.Debug("portaudio: input opened", "device", dev.Name, "sample_rate", cons.SampleRate)
	return in, nil
}

// OpenOutput implements [audio.DeviceContext]. The output stream starts
// immediately and renders silence until a voice is played.
func (c *Context) OpenOutput(ctx context.Context, cfg audio.OutputConfig) (audio.Sink, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	dev, err := findDevice(cfg.Device, false)
	if err != nil {
		return nil, classify("open output", cfg.Device, err)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	s := &sink{rate: rate}
	stream, err := portaudio.OpenStream(params, s.render)
	if err != nil {
		return nil, classify("open output", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classify("start output", dev.Name, err)
	}
	s.stream = stream

	slog.Debug("portaudio: output opened", "device", dev.Name, "sample_rate", rate)
	return s, nil
}

// Close terminates this handle's PortAudio reference. Streams opened from it
// must be closed first. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

func (c *Context) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.NewDeviceError(audio.ErrUnsupportedPlatform, "open", "", errors.New("portaudio: context closed"))
	}
	return nil
}

// findDevice returns the default device for the direction when name is
// empty, otherwise the first device whose name contains name
// (case-insensitive) and has channels in that direction.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		channels := d.MaxOutputChannels
		if input {
			channels = d.MaxInputChannels
		}
		if channels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errNoDevice, name)
}
