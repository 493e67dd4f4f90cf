// Package capture owns the microphone for one session: it negotiates a
// format, acquires the input device, re-frames host callback blocks into
// fixed-size [audio.AudioFrame] values, and delivers them in order to a
// registered consumer on a dedicated goroutine.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrStopped is returned by operations on an engine that has been stopped,
// including an Initialize whose result was discarded by a concurrent Stop.
var ErrStopped = errors.New("capture: engine stopped")

// defaultFrameBuffer is how many completed frames may wait for the consumer
// before new frames are dropped.
const defaultFrameBuffer = 32

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRecording
	// StateStopped is terminal; a new Engine is needed to capture again.
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithFormatLimits overrides the negotiation limits.
func WithFormatLimits(l audio.FormatLimits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithDevice selects the input device by name substring.
func WithDevice(name string) Option {
	return func(e *Engine) { e.device = name }
}

// WithProcessing toggles the advisory echo cancellation and noise
// suppression constraints. Both default to on.
func WithProcessing(echoCancellation, noiseSuppression bool) Option {
	return func(e *Engine) {
		e.echoCancellation = echoCancellation
		e.noiseSuppression = noiseSuppression
	}
}

// WithFrameBuffer sets how many frames may queue for the consumer.
func WithFrameBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.frameBuffer = n
		}
	}
}

// WithDropHandler registers fn to be called (on the host audio thread) for
// every frame dropped because the consumer fell behind. fn must not block.
func WithDropHandler(fn func(seq uint64)) Option {
	return func(e *Engine) { e.onDrop = fn }
}

// Engine is the microphone producer for a single capture session.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	dev              audio.DeviceContext
	limits           audio.FormatLimits
	device           string
	echoCancellation bool
	noiseSuppression bool
	frameBuffer      int
	onDrop           func(uint64)

	mu            sync.Mutex
	state         State
	cfg           audio.DeviceConfig
	input         audio.InputStream
	initDone      chan struct{} // closed when the in-flight Initialize settles
	initErr       error
	stopRequested bool
	quit          chan struct{} // closed by Stop to end delivery
	delivered     chan struct{} // closed when the delivery goroutine exits

	onFrame atomic.Pointer[func(audio.AudioFrame)]
	deliver atomic.Bool
	dropped atomic.Uint64
	frames  chan audio.AudioFrame
}

// New creates an engine bound to dev. Nothing is acquired until
// [Engine.Initialize] or [Engine.Start].
func New(dev audio.DeviceContext, opts ...Option) *Engine {
	e := &Engine{
		dev:              dev,
		limits:           audio.DefaultFormatLimits(),
		echoCancellation: true,
		noiseSuppression: true,
		frameBuffer:      defaultFrameBuffer,
	}
	for _, o := range opts {
		o(e)
	}
	e.deliver.Store(true)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns the negotiated format. It is the zero value before
// initialisation completes.
func (e *Engine) Config() audio.DeviceConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Dropped returns how many frames were dropped because the consumer fell behind.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

// OnFrame registers fn as the frame consumer, replacing any previous one.
// fn runs on the engine's delivery goroutine, once per frame, in capture order.
func (e *Engine) OnFrame(fn func(audio.AudioFrame)) {
	if fn == nil {
		e.onFrame.Store(nil)
		return
	}
	e.onFrame.Store(&fn)
}

// SetDelivery enables or disables frame delivery. Frames captured while
// delivery is disabled are discarded. Delivery is enabled by default; muting
// is the caller's concern and does not require disabling it.
func (e *Engine) SetDelivery(enabled bool) {
	e.deliver.Store(enabled)
}

// Initialize negotiates the capture format and acquires the microphone. The
// stream is left suspended; call [Engine.Start] to begin recording.
//
// Device errors are classified with the audio.Err* sentinels. On failure
// nothing remains acquired and the engine returns to StateUninitialized, so
// the caller may retry after user intervention. If [Engine.Stop] is called
// while Initialize is in flight, the acquired device is released as soon as
// it is available and Initialize returns [ErrStopped].
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateStopped:
		e.mu.Unlock()
		return ErrStopped
	case StateReady, StateRecording:
		e.mu.Unlock()
		return nil
	case StateInitializing:
		done := e.initDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.initErr
	}
	e.state = StateInitializing
	e.initDone = make(chan struct{})
	e.mu.Unlock()

	cfg := audio.Negotiate(ctx, e.dev, e.limits)
	frames := make(chan audio.AudioFrame, e.frameBuffer)
	quit := make(chan struct{})
	acc := newAccumulator(cfg, func(f audio.AudioFrame) { e.enqueue(frames, quit, f) })

	input, err := e.dev.OpenInput(ctx, audio.InputConstraints{
		Device:           e.device,
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		FramesPerBuffer:  cfg.FrameSize,
		EchoCancellation: e.echoCancellation,
		NoiseSuppression: e.noiseSuppression,
	}, acc.process)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer close(e.initDone)

	if err != nil {
		// The backend contract guarantees nothing stays acquired on error.
		if e.stopRequested {
			e.state = StateStopped
		} else {
			e.state = StateUninitialized
		}
		e.initErr = fmt.Errorf("capture: initialize: %w", err)
		return e.initErr
	}

	if e.stopRequested {
		if cerr := input.Close(); cerr != nil {
			slog.Warn("capture: release after cancelled initialize failed", "err", cerr)
		}
		e.state = StateStopped
		e.initErr = ErrStopped
		return ErrStopped
	}

	e.cfg = cfg
	e.input = input
	e.frames = frames
	e.quit = quit
	e.delivered = make(chan struct{})
	e.state = StateReady
	e.initErr = nil
	go e.deliverLoop(frames, quit, e.delivered)

	slog.Info("capture: initialized",
		"sample_rate", cfg.SampleRate,
		"frame_size", cfg.FrameSize,
		"frame_duration", cfg.FrameDuration(),
	)
	return nil
}

// Start initialises the engine if necessary and resumes the input stream.
// It is a no-op while already recording.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateRecording:
		return nil
	case StateStopped:
		return ErrStopped
	case StateUninitialized, StateInitializing:
		if err := e.Initialize(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	switch e.state {
	case StateRecording:
		e.mu.Unlock()
		return nil
	case StateStopped:
		e.mu.Unlock()
		return ErrStopped
	case StateReady:
	default:
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("capture: start in state %s", st)
	}
	err := e.input.Resume()
	if err == nil {
		e.state = StateRecording
		e.mu.Unlock()
		return nil
	}

	// The stream could not start; release it so a retry starts from scratch.
	input, quit, delivered := e.input, e.quit, e.delivered
	e.input, e.quit, e.delivered, e.frames = nil, nil, nil, nil
	e.cfg = audio.DeviceConfig{}
	e.state = StateUninitialized
	e.mu.Unlock()

	if cerr := input.Close(); cerr != nil {
		slog.Warn("capture: release after failed start", "err", cerr)
	}
	close(quit)
	<-delivered
	return fmt.Errorf("capture: resume: %w", err)
}

// Stop releases the input stream and ends frame delivery. It is idempotent
// and safe to call from any state. A Stop during initialisation takes effect
// when that initialisation settles.
//
// Stop waits for an in-flight frame callback to return, so no frame is
// delivered after Stop returns. It must not be called from the frame
// consumer itself.
func (e *Engine) Stop() error {
	e.mu.Lock()
	var (
		input     audio.InputStream
		quit      chan struct{}
		delivered chan struct{}
	)
	switch e.state {
	case StateStopped:
		e.mu.Unlock()
		return nil
	case StateInitializing:
		e.stopRequested = true
		e.mu.Unlock()
		return nil
	case StateUninitialized:
		e.state = StateStopped
		e.mu.Unlock()
		return nil
	}
	input, quit, delivered = e.input, e.quit, e.delivered
	e.input = nil
	e.state = StateStopped
	e.mu.Unlock()

	// Close first so the host callback can no longer enqueue frames.
	err := input.Close()
	close(quit)

	<-delivered
	if err != nil {
		return fmt.Errorf("capture: release input: %w", err)
	}
	slog.Debug("capture: stopped", "dropped_frames", e.dropped.Load())
	return nil
}

// enqueue hands a completed frame to the delivery goroutine. It runs on the
// host audio thread and never blocks.
func (e *Engine) enqueue(frames chan<- audio.AudioFrame, quit <-chan struct{}, f audio.AudioFrame) {
	select {
	case <-quit:
		return
	default:
	}
	if !e.deliver.Load() {
		return
	}
	select {
	case frames <- f:
	default:
		e.dropped.Add(1)
		if e.onDrop != nil {
			e.onDrop(f.Seq)
		}
	}
}

func (e *Engine) deliverLoop(frames <-chan audio.AudioFrame, quit <-chan struct{}, delivered chan<- struct{}) {
	defer close(delivered)
	for {
		select {
		case <-quit:
			return
		case f := <-frames:
			select {
			case <-quit:
				return
			default:
			}
			fn := e.onFrame.Load()
			if fn == nil || !e.deliver.Load() {
				continue
			}
			(*fn)(f)
		}
	}
}
