// Package audio defines the data types, device abstractions, and format
// negotiation shared by the voxlink capture and playback pipeline.
//
// The host audio subsystem is reached only through an explicitly passed
// [DeviceContext]; there is no package-level device state. Each session owns
// one DeviceContext handle, which makes it straightforward to substitute a
// fake device in tests (see audio/mock).
//
// The primary abstractions are:
//
//   - [DeviceContext]: queries the host, opens the microphone, and opens an
//     output path.
//   - [InputStream]: an acquired microphone whose host callback feeds a
//     caller-supplied processor.
//   - [Sink] and [Voice]: an output path and one playing buffer on it.
//
// Concrete implementations live in audio/portaudio (real hardware) and
// audio/mock (tests).
package audio

import "context"

// RateQuerier reports the host device's default sample rate. Implementations
// open a throwaway host context and release it fully before returning.
type RateQuerier interface {
	NativeSampleRate(ctx context.Context) (int, error)
}

// InputConstraints are the capture parameters requested from the host.
type InputConstraints struct {
	// Device selects an input device by (case-insensitive) name substring.
	// Empty selects the host default.
	Device string

	SampleRate int
	Channels   int

	// FramesPerBuffer is a hint for the host callback block size. The host may
	// deliver blocks of any size; the capture engine re-frames them.
	FramesPerBuffer int

	// EchoCancellation and NoiseSuppression are advisory; backends without
	// such processing ignore them.
	EchoCancellation bool
	NoiseSuppression bool
}

// ProcessFunc receives one block of captured mono samples on the host's
// real-time audio thread. It must not block and must not retain block after
// returning.
type ProcessFunc func(block []float32)

// InputStream is an acquired microphone. It starts suspended.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Resume starts (or restarts) delivering blocks to the processor.
	Resume() error

	// Suspend stops delivering blocks without releasing the device.
	Suspend() error

	// Close disconnects the processor and releases the device. After Close
	// returns the processor is never called again. Close is idempotent.
	Close() error
}

// OutputConfig selects the playback path.
type OutputConfig struct {
	// Device selects an output device by name substring. Empty selects the
	// host default.
	Device string

	// SampleRate the output path runs at.
	SampleRate int
}

// Gain is the read side of a volume control. The playback graph reads it
// for every block it renders.
type Gain interface {
	Level() float32
}

// Voice is one buffer playing on a [Sink].
type Voice interface {
	// Done is closed when playback ends, either naturally or through Stop.
	Done() <-chan struct{}

	// Err reports a playback failure after Done is closed. It is nil for
	// natural completion and for Stop.
	Err() error

	// Stop ends playback immediately and disconnects the voice. Idempotent.
	Stop()
}

// Sink is an output path. Only one Voice should be live on a Sink at a time;
// the playback queue guarantees this.
type Sink interface {
	// SampleRate returns the rate the output runs at.
	SampleRate() int

	// Play starts buf at time zero relative to the output clock, scaled by
	// gain, and returns immediately.
	Play(buf Buffer, gain Gain) (Voice, error)

	// Close releases the output device.
	Close() error
}

// DeviceContext is the per-session handle to the host audio subsystem.
//
// Implementations must be safe for concurrent use.
type DeviceContext interface {
	RateQuerier

	// OpenInput acquires the microphone with the given constraints and
	// installs process as the frame processor. The returned stream is
	// suspended. On error, nothing remains acquired.
	OpenInput(ctx context.Context, c InputConstraints, process ProcessFunc) (InputStream, error)

	// OpenOutput opens a playback path.
	OpenOutput(ctx context.Context, c OutputConfig) (Sink, error)

	// Close releases the host context. Streams opened from it must be closed first.
	Close() error
}
