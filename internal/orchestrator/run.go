package orchestrator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// Run is the state of one execution: its identity, current phase and the
// phases it went through. It is safe for concurrent readers.
type Run struct {
	ID        string
	StartedAt time.Time

	mu      sync.RWMutex
	phase   protocol.Phase
	history []protocol.Phase
	err     error
}

func NewRun() *Run {
	return &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		phase:     protocol.PhaseBootstrapping,
		history:   []protocol.Phase{protocol.PhaseBootstrapping},
	}
}

func (r *Run) Phase() protocol.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// History lists every phase entered, in order.
func (r *Run) History() []protocol.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.Phase(nil), r.history...)
}

func (r *Run) advance(next protocol.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.phase.CanTransition(next) {
		return fmt.Errorf("illegal phase transition %s -> %s", r.phase, next)
	}
	log.Printf("[Sequencer] run %s: %s -> %s", r.ID, r.phase, next)
	r.phase = next
	r.history = append(r.history, next)
	return nil
}

// fail moves the run to FAILED and returns the error annotated with the
// phase it failed in.
func (r *Run) fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	failed := &protocol.PhaseError{Phase: r.phase, Err: err}
	if !r.phase.Terminal() {
		log.Printf("[Sequencer] run %s: %s -> %s: %v", r.ID, r.phase, protocol.PhaseFailed, err)
		r.phase = protocol.PhaseFailed
		r.history = append(r.history, protocol.PhaseFailed)
	}
	r.err = failed
	return failed
}
