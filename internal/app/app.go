// Package app wires all voxlink subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the codec, session
// manager, and HTTP surface from the config, Run serves HTTP and (in dial
// mode) keeps a voice session connected to the configured peer, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithDialer,
// WithMetrics, etc.).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/transport"
)

// shutdownTimeout bounds the HTTP drain when Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	reg      *config.Registry
	metrics  *observe.Metrics
	codec    *transport.Codec
	sessions *SessionManager
	logLevel *slog.LevelVar
	dial     session.DialFunc

	handler http.Handler
	server  *http.Server

	connected atomic.Bool

	// ctx is cancelled by Shutdown to end websocket sessions, which outlive
	// their hijacked HTTP requests.
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce    sync.Once
	shutdownErr error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics replaces the global metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] adjust the log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithDialer replaces the websocket dialer used in dial mode.
func WithDialer(d session.DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from a validated config. Audio devices are opened per
// session through reg; nothing is acquired until a session starts.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	// ── 1. Wire codec ────────────────────────────────────────────────────
	enc, err := transport.ParseEncoding(cfg.Transport.Encoding)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.codec, err = transport.NewCodec(enc)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.dial == nil {
		a.dial = a.dialWebsocket
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		NewDevice: func() (audio.DeviceContext, error) {
			return reg.CreateDevice(cfg.Audio)
		},
		Session: a.sessionTemplate(enc),
		Volume:  cfg.Playback.EffectiveVolume(),
	})

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(
		health.Checker{Name: "audio_backend", Check: a.checkBackend},
		health.Checker{Name: "transport", Check: a.checkTransport},
	).Register(mux)
	mux.Handle("GET "+cfg.Telemetry.MetricsPath, promhttp.Handler())
	mux.HandleFunc("GET /session", a.handleSessionInfo)
	if cfg.Transport.Mode == config.ModeListen {
		mux.HandleFunc("GET "+cfg.Transport.Path, a.handleWebsocket)
	}
	a.handler = observe.Middleware(a.metrics,
		observe.WithQuietPaths("/healthz", "/readyz", cfg.Telemetry.MetricsPath),
	)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// sessionTemplate translates the audio, playback, and transport config into
// a session template.
func (a *App) sessionTemplate(enc transport.Encoding) session.Config {
	cfg := a.cfg
	copts := []capture.Option{
		capture.WithFormatLimits(cfg.CaptureLimits()),
		capture.WithDevice(cfg.Audio.InputDevice),
		capture.WithProcessing(cfg.Audio.EchoCancellationEnabled(), cfg.Audio.NoiseSuppressionEnabled()),
	}
	if cfg.Audio.FrameBuffer > 0 {
		copts = append(copts, capture.WithFrameBuffer(cfg.Audio.FrameBuffer))
	}
	var popts []playback.Option
	if cfg.Playback.MaxPending > 0 {
		popts = append(popts, playback.WithMaxPending(cfg.Playback.MaxPending))
	}
	if cfg.Playback.WarnPending > 0 {
		popts = append(popts, playback.WithWarnPending(cfg.Playback.WarnPending))
	}

	return session.Config{
		Output: audio.OutputConfig{
			Device:     cfg.Audio.OutputDevice,
			SampleRate: cfg.Playback.SampleRate,
		},
		Encoding: string(enc),
		Metrics:  a.metrics,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Transport.Breaker.MaxFailures,
			ResetTimeout: cfg.Transport.Breaker.ResetTimeout,
		},
		OnControl: func(c transport.Control) {
			slog.Debug("control message ignored", "type", c.Type)
		},
		CaptureOptions:  copts,
		PlaybackOptions: popts,
	}
}

// Handler returns the instrumented HTTP handler (health, metrics, session
// info and, in listen mode, the websocket endpoint).
func (a *App) Handler() http.Handler {
	return a.handler
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and, in dial mode, keeps a voice
// session connected to the peer. It blocks until ctx is cancelled or a
// subsystem fails, then shuts down. When ctx is cancelled Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It takes ownership of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "mode", a.cfg.Transport.Mode)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	if a.cfg.Transport.Mode == config.ModeDial {
		g.Go(func() error {
			return a.runDial(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// runDial starts one session and keeps it connected until ctx ends or the
// session fails permanently.
func (a *App) runDial(ctx context.Context) error {
	s, err := a.sessions.Start(ctx, a.cfg.Transport.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.sessions.Stop(); err != nil {
			slog.Warn("session close error", "err", err)
		}
	}()

	rc := a.cfg.Transport.Reconnect
	r := session.NewReconnector(session.ReconnectorConfig{
		Dial:       a.dial,
		MaxRetries: rc.MaxRetries,
		Backoff:    rc.Backoff,
		MaxBackoff: rc.MaxBackoff,
		Metrics:    a.metrics,
	})
	defer func() { _ = r.Stop() }()

	err = r.Run(ctx, func(ctx context.Context, link session.Link) error {
		a.connected.Store(true)
		defer a.connected.Store(false)
		return s.Serve(ctx, link)
	})
	if err != nil {
		return fmt.Errorf("app: dial session: %w", err)
	}
	return nil
}

func (a *App) dialWebsocket(ctx context.Context) (session.Link, error) {
	conn, err := transport.Dial(ctx, a.cfg.Transport.URL, a.codec)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ─── HTTP handlers ───────────────────────────────────────────────────────────

// handleWebsocket accepts a peer in listen mode and runs a session for the
// lifetime of the connection.
func (a *App) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Start(r.Context(), r.RemoteAddr)
	if errors.Is(err, ErrSessionActive) {
		http.Error(w, "a voice session is already active", http.StatusConflict)
		return
	}
	if err != nil {
		slog.Error("failed to start session", "remote", r.RemoteAddr, "err", err)
		http.Error(w, audio.UserMessage(err), http.StatusServiceUnavailable)
		return
	}
	defer func() {
		if err := a.sessions.Stop(); err != nil {
			slog.Warn("session close error", "err", err)
		}
	}()

	conn, err := transport.Accept(w, r, a.codec)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	a.connected.Store(true)
	err = s.Serve(ctx, conn)
	a.connected.Store(false)

	reason := "session ended"
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, session.ErrCapture):
		reason = "microphone unavailable"
		slog.Error("session ended: capture failed", "remote", r.RemoteAddr, "err", err)
	default:
		slog.Warn("session ended with error", "remote", r.RemoteAddr, "err", err)
	}
	_ = conn.Close(reason)
}

// sessionInfo is the JSON body of GET /session.
type sessionInfo struct {
	Active    bool      `json:"active"`
	SessionID string    `json:"session_id,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Connected bool      `json:"connected"`
}

func (a *App) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	info := a.sessions.Info()
	body := sessionInfo{
		Active:    info.SessionID != "",
		SessionID: info.SessionID,
		Remote:    info.Remote,
		StartedAt: info.StartedAt,
		Connected: a.connected.Load(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write session info", "err", err)
	}
}

// ─── Health ──────────────────────────────────────────────────────────────────

func (a *App) checkBackend(context.Context) error {
	if !slices.Contains(a.reg.Backends(), a.cfg.Audio.Backend) {
		return fmt.Errorf("audio backend %q is not registered", a.cfg.Audio.Backend)
	}
	return nil
}

func (a *App) checkTransport(context.Context) error {
	if a.cfg.Transport.Mode == config.ModeDial && !a.connected.Load() {
		return errors.New("not connected to peer")
	}
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// shaped to be passed directly to [config.NewWatcher].
func (a *App) ApplyConfig(_, updated *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(updated.Server.LogLevel.SlogLevel())
		slog.Info("log level changed", "level", updated.Server.LogLevel)
	}
	if d.VolumeChanged {
		v := a.sessions.SetVolume(d.NewVolume)
		slog.Info("playback volume changed", "volume", v)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends active sessions and drains the HTTP server. It is
// idempotent; later calls return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("app shutting down")
		a.cancel()

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		if err := a.sessions.Stop(); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}
