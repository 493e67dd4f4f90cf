package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/observe"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// ErrRetriesExhausted is returned by [Reconnector.Run] when every redial
// attempt in a cycle failed.
var ErrRetriesExhausted = errors.New("session: reconnect retries exhausted")

// DialFunc opens a new transport link.
type DialFunc func(ctx context.Context) (Link, error)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dial opens a link to the peer. Required.
	Dial DialFunc

	// MaxRetries is the number of consecutive failed dials per cycle before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up to
	// MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Defaults to 10s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called with each replacement link. May be nil.
	OnReconnect func(Link)

	// Metrics records redial outcomes. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Reconnector keeps a transport link alive for a session in dial mode.
//
// [Reconnector.Run] serves the current link until it drops, then redials with
// exponential backoff and serves the replacement. The capture engine keeps
// running across redials, so frames captured while disconnected are dropped
// rather than buffered.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dial        DialFunc
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(Link)
	metrics     *observe.Metrics

	mu       sync.Mutex
	link     Link
	done     chan struct{}
	stopOnce sync.Once
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Reconnector{
		dial:        cfg.Dial,
		maxRetries:  maxRetries,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onReconnect: cfg.OnReconnect,
		metrics:     metrics,
		done:        make(chan struct{}),
	}
}

// Connect performs the initial dial.
func (r *Reconnector) Connect(ctx context.Context) (Link, error) {
	link, err := r.dialOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect: %w", err)
	}
	r.mu.Lock()
	r.link = link
	r.mu.Unlock()
	return link, nil
}

// Run serves links until ctx is cancelled, Stop is called, serve reports a
// non-transport failure, or a redial cycle is exhausted. It dials first if
// [Reconnector.Connect] has not been called. A clean shutdown returns nil.
func (r *Reconnector) Run(ctx context.Context, serve func(context.Context, Link) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	link := r.Connection()
	if link == nil {
		var err error
		if link, err = r.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	for {
		err := serve(ctx, link)
		if ctx.Err() != nil || r.stopped() {
			return nil
		}
		if errors.Is(err, ErrCapture) || errors.Is(err, ErrClosed) {
			return err
		}
		slog.Warn("reconnector: link lost", "err", err)

		link, err = r.redial(ctx)
		if err != nil {
			if ctx.Err() != nil || r.stopped() {
				return nil
			}
			return err
		}
	}
}

// Stop ends Run and closes the current link. Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	link := r.link
	r.link = nil
	r.mu.Unlock()

	if link != nil {
		return link.Close("shutdown")
	}
	return nil
}

func (r *Reconnector) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Connection returns the current link. May return nil during a redial.
func (r *Reconnector) Connection() Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}

func (r *Reconnector) dialOnce(ctx context.Context) (Link, error) {
	ctx, span := observe.StartSpan(ctx, "transport.dial")
	link, err := r.dial(ctx)
	observe.EndSpan(span, err)
	return link, err
}

// redial releases the failed link and dials with exponential backoff.
func (r *Reconnector) redial(ctx context.Context) (Link, error) {
	r.mu.Lock()
	old := r.link
	r.link = nil
	r.mu.Unlock()
	if old != nil {
		_ = old.Close("reconnecting")
	}

	currentBackoff := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(currentBackoff):
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		link, err := r.dialOnce(ctx)
		if err == nil {
			r.metrics.RecordReconnect(ctx, "success")
			r.mu.Lock()
			if r.stopped() {
				r.mu.Unlock()
				_ = link.Close("shutdown")
				return nil, context.Canceled
			}
			r.link = link
			r.mu.Unlock()

			slog.Info("reconnection successful", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(link)
			}
			return link, nil
		}

		r.metrics.RecordReconnect(ctx, "failure")
		lastErr = err
		slog.Warn("reconnection attempt failed", "attempt", attempt, "error", err)

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("reconnection failed after max retries", "max_retries", r.maxRetries)
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}
