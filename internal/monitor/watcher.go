package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	// rawBufferSize is the raw watch channel depth. Event storms beyond it
	// are dropped by the notify backend; offline reconciliation catches up.
	rawBufferSize = 512

	// movePairWindow bounds how long a move-from waits for its matching
	// move-to. Unpaired moves (the item left the tree) become deletions.
	movePairWindow = 500 * time.Millisecond
)

// rawKind classifies a platform watch event into the shapes the translator
// understands. classify, moveCookie, and watchEvents are per-platform
// (watcher_linux.go, watcher_other.go).
type rawKind int

const (
	rawIgnore rawKind = iota
	rawCreate
	rawRemove
	rawWrite
	rawMoveFrom
	rawMoveTo
)

// pendingMove is a move-from waiting for its matching move-to.
type pendingMove struct {
	path  string
	isDir bool
	seen  time.Time
}

// FileEventSource watches the local tree rooted at root recursively and
// translates platform-native watch events into FileEvents on the queue.
// The active gate controls ingestion: while cleared, observed events are
// logged and discarded.
type FileEventSource struct {
	root   string
	queue  *TimedQueue
	active *Gate
	logger *slog.Logger

	raw     chan notify.EventInfo
	done    chan struct{}
	wg      sync.WaitGroup
	pending map[uint32]pendingMove // move cookie → unmatched move-from
}

// NewFileEventSource creates a source for root. Start begins watching.
func NewFileEventSource(root string, queue *TimedQueue, active *Gate, logger *slog.Logger) *FileEventSource {
	return &FileEventSource{
		root:    root,
		queue:   queue,
		active:  active,
		logger:  logger,
		pending: make(map[uint32]pendingMove),
	}
}

// Start establishes the recursive watch and begins translating events.
func (s *FileEventSource) Start() error {
	s.raw = make(chan notify.EventInfo, rawBufferSize)
	s.done = make(chan struct{})

	if err := notify.Watch(filepath.Join(s.root, "..."), s.raw, watchEvents...); err != nil {
		return fmt.Errorf("monitor: watching %s: %w", s.root, err)
	}

	s.wg.Add(1)

	go s.loop()

	s.logger.Info("file event source started", slog.String("root", s.root))

	return nil
}

// Stop tears down the watch and joins the translator goroutine.
func (s *FileEventSource) Stop() {
	notify.Stop(s.raw)
	close(s.done)
	s.wg.Wait()

	s.logger.Info("file event source stopped")
}

func (s *FileEventSource) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(movePairWindow)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.flushPending(time.Time{})
			return
		case ei := <-s.raw:
			s.translate(ei)
		case <-ticker.C:
			s.flushPending(time.Now().Add(-movePairWindow))
		}
	}
}

// translate maps one raw watch event onto the four FileEvent variants,
// pairing move-from/move-to by cookie where the platform provides one.
func (s *FileEventSource) translate(ei notify.EventInfo) {
	switch classify(ei.Event()) {
	case rawCreate:
		s.emit(&FileEvent{Type: EventCreated, SrcPath: ei.Path(), IsDirectory: eventIsDir(ei)})

	case rawRemove:
		s.emit(&FileEvent{Type: EventDeleted, SrcPath: ei.Path(), IsDirectory: eventIsDir(ei)})

	case rawWrite:
		s.emit(&FileEvent{Type: EventModified, SrcPath: ei.Path(), IsDirectory: eventIsDir(ei)})

	case rawMoveFrom:
		cookie := moveCookie(ei)
		if cookie == 0 {
			// No pairing support on this platform. A rename of a path that
			// still exists is the destination half; one that is gone left
			// the tree.
			if pathExists(ei.Path()) {
				s.emit(&FileEvent{Type: EventCreated, SrcPath: ei.Path(), IsDirectory: eventIsDir(ei)})
			} else {
				s.emit(&FileEvent{Type: EventDeleted, SrcPath: ei.Path(), IsDirectory: eventIsDir(ei)})
			}

			return
		}

		s.pending[cookie] = pendingMove{path: ei.Path(), isDir: eventIsDir(ei), seen: time.Now()}

	case rawMoveTo:
		cookie := moveCookie(ei)
		if from, ok := s.pending[cookie]; ok && cookie != 0 {
			delete(s.pending, cookie)
			s.emit(&FileEvent{
				Type:        EventMoved,
				SrcPath:     from.path,
				DestPath:    ei.Path(),
				IsDirectory: from.isDir || eventIsDir(ei),
			})

			return
		}

		// Moved in from outside the tree — a creation from our perspective.
		s.emit(&FileEvent{Type: EventCreated, SrcPath: ei.Path(), IsDirectory: eventIsDir(ei)})

	case rawIgnore:
	}
}

// flushPending emits unmatched move-from entries observed before cutoff as
// deletions. The zero cutoff flushes everything.
func (s *FileEventSource) flushPending(cutoff time.Time) {
	for cookie, from := range s.pending {
		if !cutoff.IsZero() && from.seen.After(cutoff) {
			continue
		}

		delete(s.pending, cookie)
		s.emit(&FileEvent{Type: EventDeleted, SrcPath: from.path, IsDirectory: from.isDir})
	}
}

// emit hands an event to the queue, or discards it while the source is
// inactive.
func (s *FileEventSource) emit(ev *FileEvent) {
	if !s.active.IsSet() {
		s.logger.Debug("watcher inactive, discarding event", slog.String("event", ev.String()))
		return
	}

	s.logger.Debug("local change detected", slog.String("event", ev.String()))
	s.queue.Put(ev)
}

// pathExists reports whether the path currently exists, following symlinks
// the way the watcher does.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// statIsDir reports whether the path currently exists and is a directory.
// Used by platforms whose raw events carry no directory bit.
func statIsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
