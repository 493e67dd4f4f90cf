package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrSessionActive is returned by [SessionManager.Start] while another
// session holds the audio devices.
var ErrSessionActive = errors.New("app: a session is already active")

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Remote identifies the peer (dial URL or client address).
	Remote string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// NewDevice opens a fresh host audio context for each session. Required.
	NewDevice func() (audio.DeviceContext, error)

	// Session is the template for every session. Its Device field is ignored.
	Session session.Config

	// Volume is the initial playback volume.
	Volume float32
}

// SessionManager manages the lifecycle of voice sessions.
// Only one session can be active at a time because it holds the microphone.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	newDevice func() (audio.DeviceContext, error)
	template  session.Config

	mu     sync.Mutex
	active *session.Session
	dev    audio.DeviceContext
	info   SessionInfo
	volume float32
	seq    uint64
}

// NewSessionManager creates a [SessionManager] with no active session.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		newDevice: cfg.NewDevice,
		template:  cfg.Session,
		volume:    audio.ClampVolume(cfg.Volume),
	}
}

// Start opens the audio device and creates a new session for remote. The
// microphone is acquired when the caller serves a link on the session.
//
// Returns [ErrSessionActive] if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, remote string) (*session.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.info.SessionID)
	}

	now := time.Now().UTC()
	sm.seq++
	sessionID := fmt.Sprintf("session-%s-%d", now.Format("20060102T150405Z"), sm.seq)

	dev, err := sm.newDevice()
	if err != nil {
		return nil, fmt.Errorf("app: open audio backend: %w", err)
	}

	cfg := sm.template
	cfg.ID = sessionID
	cfg.Device = dev
	s, err := session.New(ctx, cfg)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	s.SetVolume(sm.volume)

	sm.active = s
	sm.dev = dev
	sm.info = SessionInfo{
		SessionID: sessionID,
		Remote:    remote,
		StartedAt: now,
	}

	slog.Info("session started", "session_id", sessionID, "remote", remote)
	return s, nil
}

// Stop closes the active session and its audio device. It is a no-op when no
// session is active.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	s, dev, info := sm.active, sm.dev, sm.info
	sm.active, sm.dev, sm.info = nil, nil, SessionInfo{}
	sm.mu.Unlock()

	if s == nil {
		return nil
	}

	var errs []error
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: close audio backend: %w", err))
	}

	slog.Info("session stopped",
		"session_id", info.SessionID,
		"duration", time.Since(info.StartedAt).Round(time.Second),
	)
	return errors.Join(errs...)
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session. The zero value is returned
// when no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// SetVolume records v for future sessions and applies it to the active one.
// It returns the effective volume, clamped to [0, 1].
func (sm *SessionManager) SetVolume(v float32) float32 {
	v = audio.ClampVolume(v)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.volume = v
	if sm.active != nil {
		return sm.active.SetVolume(v)
	}
	return v
}
