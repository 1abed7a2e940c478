package state

import (
	"sync"
	"time"
)

const maxHistory = 32

// Status is the last state reported by the session loop.
type Status struct {
	Phase     string    `json:"phase"`
	Connected bool      `json:"connected"`
	Message   string    `json:"message"`
	Title     string    `json:"title,omitempty"`
	ProgramID uint64    `json:"program_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one status message with the time it was reported.
type Event struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// StatusStore is written by the session goroutine and read by the control
// surface. Readers only see copies.
type StatusStore struct {
	mu      sync.RWMutex
	status  Status
	history []Event
	now     func() time.Time

	// OnStatus, when set, is called with every status message outside the lock.
	OnStatus func(msg string)
}

func NewStatusStore() *StatusStore {
	return &StatusStore{
		status: Status{Phase: "idle", Message: "Disconnected"},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *StatusStore) SetStatus(msg string) {
	s.mu.Lock()
	now := s.now()
	s.status.Message = msg
	s.status.UpdatedAt = now
	s.history = append(s.history, Event{At: now, Message: msg})
	if len(s.history) > maxHistory {
		s.history = append(s.history[:0:0], s.history[len(s.history)-maxHistory:]...)
	}
	cb := s.OnStatus
	s.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (s *StatusStore) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Phase = phase
	s.status.UpdatedAt = s.now()
}

func (s *StatusStore) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Connected = connected
	if !connected {
		s.status.Title = ""
		s.status.ProgramID = 0
	}
	s.status.UpdatedAt = s.now()
}

func (s *StatusStore) SetTitle(name string, programID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Title = name
	s.status.ProgramID = programID
	s.status.UpdatedAt = s.now()
}

func (s *StatusStore) SetTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Target = target
}

func (s *StatusStore) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// History returns up to n most recent status events, oldest first. A
// negative n returns everything kept.
func (s *StatusStore) History(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Event, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}
