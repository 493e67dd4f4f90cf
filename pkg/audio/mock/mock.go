// Package mock provides in-memory implementations of the [audio.DeviceContext],
// [audio.InputStream], [audio.Sink], and [audio.Voice] interfaces, plus a
// scriptable playback decoder, for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{NativeRate: 48000}
//	eng := capture.New(dev)
//	_ = eng.Start(ctx)
//	dev.LastInput().Push(make([]float32, 4800))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.DeviceContext].
type Device struct {
	mu sync.Mutex

	// NativeRate is returned by NativeSampleRate.
	NativeRate int

	// NativeRateError is returned by NativeSampleRate when non-nil.
	NativeRateError error

	// OpenInputError is returned by OpenInput when non-nil. No stream is
	// created in that case.
	OpenInputError error

	// OpenInputGate, when non-nil, makes OpenInput block until it is closed.
	// Use it to hold an initialisation in flight.
	OpenInputGate chan struct{}

	// OpenInputStarted, when non-nil, receives a value each time OpenInput is
	// entered, before waiting on OpenInputGate.
	OpenInputStarted chan struct{}

	// OpenOutputError is returned by OpenOutput when non-nil.
	OpenOutputError error

	// SinkResult is returned by OpenOutput. If nil, a fresh [Sink] running at
	// the requested rate is created.
	SinkResult *Sink

	// CloseError is returned by Close.
	CloseError error

	// CallCountNativeRate records how many times NativeSampleRate was called.
	CallCountNativeRate int

	// OpenInputCalls records the constraints of every OpenInput call.
	OpenInputCalls []audio.InputConstraints

	// OpenOutputCalls records the config of every OpenOutput call.
	OpenOutputCalls []audio.OutputConfig

	// CallCountClose records how many times Close was called.
	CallCountClose int

	inputs []*Input
}

// NativeSampleRate implements [audio.RateQuerier].
func (d *Device) NativeSampleRate(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountNativeRate++
	return d.NativeRate, d.NativeRateError
}

// OpenInput implements [audio.DeviceContext]. It records c and, unless
// OpenInputError is set, returns a new suspended [Input] bound to process.
func (d *Device) OpenInput(ctx context.Context, c audio.InputConstraints, process audio.ProcessFunc) (audio.InputStream, error) {
	d.mu.Lock()
	d.OpenInputCalls = append(d.OpenInputCalls, c)
	started, gate := d.OpenInputStarted, d.OpenInputGate
	d.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	in := &Input{process: process, Constraints: c}
	d.inputs = append(d.inputs, in)
	return in, nil
}

// OpenOutput implements [audio.DeviceContext].
func (d *Device) OpenOutput(_ context.Context, c audio.OutputConfig) (audio.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenOutputCalls = append(d.OpenOutputCalls, c)
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	if d.SinkResult != nil {
		return d.SinkResult, nil
	}
	return &Sink{Rate: c.SampleRate}, nil
}

// Close implements [audio.DeviceContext].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseError
}

// Inputs returns every stream OpenInput has created, in creation order.
func (d *Device) Inputs() []*Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Input, len(d.inputs))
	copy(out, d.inputs)
	return out
}

// LastInput returns the most recently opened stream, or nil.
func (d *Device) LastInput() *Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inputs) == 0 {
		return nil
	}
	return d.inputs[len(d.inputs)-1]
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [audio.InputStream]. Drive it with
// [Input.Push] to simulate host callbacks.
type Input struct {
	mu      sync.Mutex
	process audio.ProcessFunc
	running bool
	closed  bool

	// Constraints are the constraints the stream was opened with.
	Constraints audio.InputConstraints

	// ResumeError is returned by Resume when non-nil.
	ResumeError error

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountSuspend records how many times Suspend was called.
	CallCountSuspend int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Resume implements [audio.InputStream].
func (in *Input) Resume() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountResume++
	if in.ResumeError != nil {
		return in.ResumeError
	}
	if !in.closed {
		in.running = true
	}
	return nil
}

// Suspend implements [audio.InputStream].
func (in *Input) Suspend() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountSuspend++
	in.running = false
	return nil
}

// Close implements [audio.InputStream]. After Close returns, Push never
// reaches the processor.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountClose++
	in.closed = true
	in.running = false
	return nil
}

// Closed reports whether Close has been called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Push simulates one host callback carrying block. It reports whether the
// processor was invoked, which requires the stream to be resumed and open.
// Pushes are serialised as a real host serialises callbacks.
func (in *Input) Push(block []float32) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running || in.closed {
		return false
	}
	in.process(block)
	return true
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Sink.Play] invocation.
type PlayCall struct {
	Buffer audio.Buffer
	Gain   audio.Gain
}

// Sink is a mock implementation of [audio.Sink]. Voices it creates stay
// playing until the test finishes them, unless AutoFinish is set.
type Sink struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// PlayError is returned by Play when non-nil.
	PlayError error

	// AutoFinish completes every voice as soon as it starts.
	AutoFinish bool

	// Started, when non-nil, receives each voice as Play creates it.
	Started chan *Voice

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	voices []*Voice
}

// SampleRate implements [audio.Sink].
func (s *Sink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Play implements [audio.Sink].
func (s *Sink) Play(buf audio.Buffer, gain audio.Gain) (audio.Voice, error) {
	s.mu.Lock()
	s.PlayCalls = append(s.PlayCalls, PlayCall{Buffer: buf, Gain: gain})
	if s.PlayError != nil {
		err := s.PlayError
		s.mu.Unlock()
		return nil, err
	}
	v := NewVoice(buf)
	s.voices = append(s.voices, v)
	auto, started := s.AutoFinish, s.Started
	s.mu.Unlock()

	if started != nil {
		started <- v
	}
	if auto {
		v.Finish(nil)
	}
	return v, nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Voices returns every voice Play has created, in order.
func (s *Sink) Voices() []*Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// Calls returns a copy of PlayCalls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// ─── Voice ────────────────────────────────────────────────────────────────────

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	// Buffer is the buffer the voice was started with.
	Buffer audio.Buffer

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	err     error
	stopped bool
}

// NewVoice returns a playing voice for buf.
func NewVoice(buf audio.Buffer) *Voice {
	return &Voice{Buffer: buf, done: make(chan struct{})}
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Err implements [audio.Voice].
func (v *Voice) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.once.Do(func() { close(v.done) })
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// Finish ends the voice as if playback completed, with err as its result.
func (v *Voice) Finish(err error) {
	v.once.Do(func() {
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		close(v.done)
	})
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a scriptable playback decoder. It satisfies the playback
// package's Decoder interface.
type Decoder struct {
	mu sync.Mutex

	// DecodeFunc, when set, produces the result for each call.
	// Otherwise Decode returns a silent buffer of len(data)/2 samples at Rate.
	DecodeFunc func(ctx context.Context, data []byte) (audio.Buffer, error)

	// Rate is the sample rate of default results. Zero means 24000.
	Rate int

	// Calls records the data of every Decode call.
	Calls [][]byte
}

// Decode records data and returns the scripted result.
func (d *Decoder) Decode(ctx context.Context, data []byte) (audio.Buffer, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, data)
	fn, rate := d.DecodeFunc, d.Rate
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	if rate == 0 {
		rate = 24000
	}
	return audio.Buffer{Samples: make([]float32, len(data)/2), SampleRate: rate}, nil
}

// CallCount returns how many times Decode was called.
func (d *Decoder) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
