package monitor

import (
	"sync"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

// Signal is a minimal synchronous broadcast: slots connected to it are
// invoked, in connection order, on every Emit. Emit runs slots on the
// caller's goroutine, matching the supervisor/worker threads firing the
// orchestrator's pause and resume handlers directly.
type Signal struct {
	mu    sync.Mutex
	slots []func()
}

// Connect registers a slot. Slots cannot be disconnected; they live as
// long as the monitor.
func (s *Signal) Connect(slot func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = append(s.slots, slot)
}

// Emit invokes every connected slot.
func (s *Signal) Emit() {
	s.mu.Lock()
	slots := make([]func(), len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, slot := range slots {
		slot()
	}
}

// UsageSignal broadcasts account space-usage snapshots from the
// connection supervisor's probe.
type UsageSignal struct {
	mu    sync.Mutex
	slots []func(*remote.SpaceUsage)
}

// Connect registers a slot.
func (s *UsageSignal) Connect(slot func(*remote.SpaceUsage)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = append(s.slots, slot)
}

// Emit invokes every connected slot with the snapshot.
func (s *UsageSignal) Emit(usage *remote.SpaceUsage) {
	s.mu.Lock()
	slots := make([]func(*remote.SpaceUsage), len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, slot := range slots {
		slot(usage)
	}
}
