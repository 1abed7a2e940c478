package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"presence-bridge/internal/presence"
)

var (
	ErrServiceInit  = errors.New("session: presence service init failed")
	ErrNoCredential = errors.New("session: client id must not be empty")
	ErrNoTarget     = errors.New("session: device address must not be empty")
)

// SinkFactory creates and initialises the presence service handle for one
// session.
type SinkFactory func(ctx context.Context, clientID string) (presence.Sink, error)

// Request starts a session.
type Request struct {
	ClientID string
	Config   Config
}

// Manager owns the single active Session. Connect while a session is running
// fully stops the old one first.
type Manager struct {
	deps    Deps
	newSink SinkFactory

	mu      sync.Mutex
	current *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager uses deps as the template for every session; deps.Sink is
// replaced by the factory result.
func NewManager(deps Deps, newSink SinkFactory) *Manager {
	return &Manager{deps: deps, newSink: newSink}
}

// Connect validates req, initialises the sink, and starts the loop in the
// background. The session outlives ctx; stop it with Disconnect.
func (m *Manager) Connect(ctx context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	if strings.TrimSpace(req.ClientID) == "" {
		return ErrNoCredential
	}
	t := req.Config.Target
	if !t.IsHardware() && !t.IP.IsValid() {
		return ErrNoTarget
	}

	sink, err := m.newSink(ctx, req.ClientID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceInit, err)
	}

	deps := m.deps
	deps.Sink = sink
	s := New(req.Config, deps)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("session ended", "err", err)
		}
	}()

	m.current = s
	m.cancel = cancel
	m.done = done
	slog.Info("session started", "target", t.String())
	return nil
}

// Disconnect cancels the active session and waits for its teardown. It
// reports whether a session was running.
func (m *Manager) Disconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Manager) stopLocked() bool {
	if m.current == nil {
		return false
	}
	m.cancel()
	<-m.done
	m.current = nil
	m.cancel = nil
	m.done = nil
	return true
}

// Refresh republishes the current title on the next frame.
func (m *Manager) Refresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	m.current.Refresh()
	return true
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Phase of the active session, or PhaseIdle.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return PhaseIdle
	}
	return m.current.Phase()
}
