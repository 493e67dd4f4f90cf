// Package session pairs one capture engine with one playback queue and wires
// them to a transport link.
//
// Captured frames flow out through the link's Send method behind a circuit
// breaker; inbound audio is queued for playback and an "interrupt" control
// message hard-stops whatever is playing. A [Reconnector] keeps the link alive
// in dial mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/audio/codec"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/transport"
)

var (
	// ErrClosed is returned by [Session.Serve] and [Session.Start] after Close.
	ErrClosed = errors.New("session: closed")

	// ErrCapture wraps microphone failures. The [Reconnector] does not redial
	// after one.
	ErrCapture = errors.New("session: capture failed")
)

// SendFunc writes one encoded chunk to the remote peer.
type SendFunc func(ctx context.Context, chunk audio.EncodedChunk) error

// Link is the transport side of a session. *transport.Conn implements it.
type Link interface {
	Send(ctx context.Context, chunk audio.EncodedChunk) error
	ReadLoop(ctx context.Context, handle func(transport.Inbound)) error
	Close(reason string) error
}

// Config holds the dependencies of a [Session].
type Config struct {
	// ID labels log lines. Optional.
	ID string

	// Device is the host audio context. Required. The session does not close it.
	Device audio.DeviceContext

	// Output selects the playback path.
	Output audio.OutputConfig

	// Encoding names the wire encoding in metrics. Optional.
	Encoding string

	// Metrics receives session instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Breaker tunes the circuit breaker guarding Send.
	Breaker resilience.CircuitBreakerConfig

	// OnControl receives control messages other than "interrupt". May be nil.
	OnControl func(transport.Control)

	CaptureOptions  []capture.Option
	PlaybackOptions []playback.Option
}

// Session owns the capture engine, playback queue, and output sink of one
// voice conversation. All methods are safe for concurrent use.
type Session struct {
	id        string
	encoding  string
	metrics   *observe.Metrics
	onControl func(transport.Control)

	engine  *capture.Engine
	queue   *playback.Queue
	sink    audio.Sink
	breaker *resilience.CircuitBreaker

	send atomic.Pointer[SendFunc]

	ctx    context.Context // lifetime of the session; cancelled by Close
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New opens the output path and prepares the capture engine. The microphone
// is not acquired until [Session.Start] or [Session.Serve].
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Device == nil {
		return nil, errors.New("session: device is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "transport-send"
	}

	sink, err := cfg.Device.OpenOutput(ctx, cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("session: open output: %w", err)
	}

	s := &Session{
		id:        cfg.ID,
		encoding:  cfg.Encoding,
		metrics:   cfg.Metrics,
		onControl: cfg.OnControl,
		sink:      sink,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	userHook := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(from, to resilience.State) {
		slog.Info("session: transport circuit changed", "session_id", s.id, "from", from, "to", to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	s.breaker = resilience.NewCircuitBreaker(cfg.Breaker)

	popts := append([]playback.Option{}, cfg.PlaybackOptions...)
	popts = append(popts, playback.WithObserver(s.observePlayback))
	s.queue = playback.New(sink, popts...)

	copts := append([]capture.Option{}, cfg.CaptureOptions...)
	copts = append(copts, capture.WithDropHandler(func(uint64) {
		s.metrics.RecordFrameDropped(s.ctx, "consumer_slow")
	}))
	s.engine = capture.New(cfg.Device, copts...)
	s.engine.OnFrame(s.forward)

	s.metrics.ActiveSessions.Add(ctx, 1)
	return s, nil
}

// Start acquires the microphone and begins forwarding frames. It is a no-op
// while already recording.
func (s *Session) Start(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, span := observe.StartSpan(ctx, "session.capture.start")
	err := s.engine.Start(ctx)
	observe.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, capture.ErrStopped) {
			return ErrClosed
		}
		s.metrics.RecordCaptureInitFailure(ctx, audio.KindName(err))
		observe.Logger(ctx).Error("session: capture failed to start",
			"session_id", s.id,
			"err", err,
			"hint", audio.UserMessage(err),
		)
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	cfg := s.engine.Config()
	observe.Logger(ctx).Info("session: capturing",
		"session_id", s.id,
		"sample_rate", cfg.SampleRate,
		"frame_size", cfg.FrameSize,
		"frame_duration", cfg.FrameDuration(),
	)
	return nil
}

// Serve attaches link to the session and runs until the link's read loop
// ends, ctx is cancelled, or capture fails. Capture keeps running after Serve
// returns so a replacement link can be attached without re-acquiring the
// microphone.
func (s *Session) Serve(ctx context.Context, link Link) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	s.SetSend(link.Send)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Start(gctx)
	})
	g.Go(func() error {
		return link.ReadLoop(gctx, s.HandleMessage)
	})
	err := g.Wait()

	// Frames captured while no link is attached are dropped.
	s.SetSend(nil)
	return err
}

// SetSend replaces the outbound function and closes the circuit. A nil fn
// detaches the session; frames are dropped until a new one is set.
func (s *Session) SetSend(fn SendFunc) {
	if fn == nil {
		s.send.Store(nil)
		return
	}
	s.send.Store(&fn)
	s.breaker.Reset()
}

// HandleMessage dispatches one inbound transport message.
func (s *Session) HandleMessage(in transport.Inbound) {
	switch in.Kind {
	case transport.InboundAudio:
		s.queue.Enqueue(in.Packet)
	case transport.InboundControl:
		if in.Control.Type == transport.TypeInterrupt {
			slog.Debug("session: interrupt received", "session_id", s.id)
			s.queue.Stop()
			return
		}
		if s.onControl != nil {
			s.onControl(in.Control)
		}
	}
}

// SetVolume sets the playback volume and returns the clamped value.
func (s *Session) SetVolume(v float32) float32 {
	return s.queue.SetVolume(v)
}

// Volume returns the playback volume.
func (s *Session) Volume() float32 {
	return s.queue.Volume()
}

// Mute suspends or resumes frame forwarding without releasing the microphone.
func (s *Session) Mute(muted bool) {
	s.engine.SetDelivery(!muted)
}

// Interrupt hard-stops local playback.
func (s *Session) Interrupt() {
	s.queue.Stop()
}

// CaptureState reports the capture engine's lifecycle state.
func (s *Session) CaptureState() capture.State {
	return s.engine.State()
}

// Close stops capture, then playback, then releases the output. It is
// idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		var errs []error
		if err := s.engine.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := s.queue.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close output: %w", err))
		}
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// forward runs on the capture delivery goroutine.
func (s *Session) forward(frame audio.AudioFrame) {
	ctx := s.ctx
	s.metrics.FramesCaptured.Add(ctx, 1)

	p := s.send.Load()
	if p == nil {
		s.metrics.RecordFrameDropped(ctx, "detached")
		return
	}
	send := *p
	chunk := codec.EncodeFrame(frame)

	err := s.breaker.Execute(func() error {
		return send(ctx, chunk)
	})
	switch {
	case err == nil:
		s.metrics.RecordChunkSent(ctx, s.encoding)
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.metrics.RecordFrameDropped(ctx, "circuit_open")
		slog.Debug("session: circuit open, dropping frame", "session_id", s.id, "seq", frame.Seq)
	default:
		s.metrics.SendErrors.Add(ctx, 1)
		slog.Debug("session: send failed", "session_id", s.id, "seq", frame.Seq, "err", err)
	}
}

// observePlayback maps queue events to metrics. It may run under the queue's
// lock, so it must not call back into the queue.
func (s *Session) observePlayback(ev playback.Event) {
	ctx := s.ctx
	switch ev.Kind {
	case playback.EventEnqueued:
		s.metrics.PacketsEnqueued.Add(ctx, 1)
	case playback.EventDropped:
		s.metrics.PacketsDropped.Add(ctx, 1)
	case playback.EventPlaying:
		s.metrics.DecodeDuration.Record(ctx, ev.DecodeTime.Seconds())
	case playback.EventFinished:
		s.metrics.PacketsPlayed.Add(ctx, 1)
	case playback.EventFailed:
		s.metrics.PacketsFailed.Add(ctx, 1)
	}
	s.metrics.PendingPackets.Record(ctx, int64(ev.Pending))
}

