// Package monitor implements the bidirectional sync core: local filesystem
// event ingestion and coalescing, the debounced upload worker, the remote
// long-poll download worker, the connection supervisor, and the orchestrator
// state machine that ties pause, resume, and connection events together.
package monitor

import "fmt"

// EventType discriminates the four local filesystem event variants.
type EventType int

const (
	EventCreated EventType = iota
	EventDeleted
	EventModified
	EventMoved
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventModified:
		return "modified"
	case EventMoved:
		return "moved"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// FileEvent is one observed local filesystem change. Events compare by
// identity — the pipeline always passes *FileEvent, and two events with the
// same fields are still distinct batch members.
type FileEvent struct {
	Type        EventType
	SrcPath     string // absolute local path
	DestPath    string // absolute local destination, EventMoved only
	IsDirectory bool
}

func (e *FileEvent) String() string {
	if e.Type == EventMoved {
		return fmt.Sprintf("%s %s -> %s", e.Type, e.SrcPath, e.DestPath)
	}

	return fmt.Sprintf("%s %s", e.Type, e.SrcPath)
}
