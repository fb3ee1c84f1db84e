package monitor

import "sync"

// User-visible sync phases.
const (
	StatusUpToDate   = "Up to date"
	StatusSyncing    = "Syncing..."
	StatusIndexing   = "Indexing..."
	StatusConnecting = "Connecting..."
	StatusPaused     = "Paused"
	StatusStopped    = "Stopped"
)

// StatusTracker holds the current user-visible phase string. Workers update
// it at phase boundaries; the CLI reads it.
type StatusTracker struct {
	mu   sync.Mutex
	text string
}

// Set replaces the current status text.
func (s *StatusTracker) Set(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// Get returns the current status text.
func (s *StatusTracker) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.text
}
