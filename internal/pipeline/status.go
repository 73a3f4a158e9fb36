package pipeline

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	ParamsHash string    `json:"params_hash"`
	Phase      Phase     `json:"phase"`
	Windows    int       `json:"windows"`
	Exported   int       `json:"exported"`
	Skipped    int       `json:"skipped"`
	Current    string    `json:"current_window,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Status is shared between the running pipeline and the status server.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStatus() *Status {
	return &Status{snap: Snapshot{Phase: PhaseIdle, UpdatedAt: time.Now()}}
}

func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Status) update(f func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.snap)
	s.snap.UpdatedAt = time.Now()
}

// Ready reports whether a run has started and not failed.
func (s *Status) Ready() bool {
	p := s.Snapshot().Phase
	return p == PhaseRunning || p == PhaseDone
}
