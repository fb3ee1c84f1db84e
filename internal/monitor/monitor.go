package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/dropsync-go/internal/config"
	"github.com/tonimelisma/dropsync-go/internal/notify"
	"github.com/tonimelisma/dropsync-go/internal/remote"
)

// SyncState is the orchestrator's externally-visible state.
type SyncState int

const (
	StateStopped SyncState = iota
	StatePausedByUser
	StatePausedDisconnected
	StateRunning
)

func (s SyncState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePausedByUser:
		return "paused by user"
	case StatePausedDisconnected:
		return "paused (disconnected)"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Monitor owns the sync pipeline: it constructs the queue, gates, signals,
// watcher, and workers, runs the pause/resume/connection state machine, and
// performs offline reconciliation on every transition into Running.
type Monitor struct {
	client   remote.Client
	cfg      *config.Store
	notifier notify.Notifier
	logger   *slog.Logger

	queue         *TimedQueue
	running       *Gate
	connected     *Gate
	watcherActive *Gate
	lock          sync.Mutex // the sync lock (I1)

	connectedSig    Signal
	disconnectedSig Signal
	usageSig        UsageSignal

	status StatusTracker

	upload   *UploadWorker
	download *DownloadWorker

	mu           sync.Mutex // guards the lifecycle fields below
	started      bool
	pausedByUser bool
	watcher      *FileEventSource
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup
}

// New constructs a Monitor and wires the connection signals to the pause
// and resume transitions. The supervisor is started by Run.
func New(client remote.Client, cfg *config.Store, notifier notify.Notifier, logger *slog.Logger) *Monitor {
	m := &Monitor{
		client:        client,
		cfg:           cfg,
		notifier:      notifier,
		logger:        logger,
		queue:         NewTimedQueue(),
		running:       NewGate(false),
		connected:     NewGate(false),
		watcherActive: NewGate(false),
	}

	m.status.Set(StatusStopped)

	m.upload = NewUploadWorker(
		client, m.queue, m.running, &m.lock, cfg, &m.disconnectedSig, &m.status, logger)
	m.download = NewDownloadWorker(
		client, m.running, m.watcherActive, &m.lock, &m.disconnectedSig, &m.status, logger)

	m.connectedSig.Connect(m.onConnected)
	m.disconnectedSig.Connect(m.onDisconnected)

	return m
}

// Signals exposes the connection and usage signals so external observers
// (tray UI, tests) can attach slots.
func (m *Monitor) Signals() (connected, disconnected *Signal, usage *UsageSignal) {
	return &m.connectedSig, &m.disconnectedSig, &m.usageSig
}

// Status returns the user-visible phase string.
func (m *Monitor) Status() string {
	return m.status.Get()
}

// State computes the current orchestrator state.
func (m *Monitor) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.started:
		return StateStopped
	case m.pausedByUser:
		return StatePausedByUser
	case m.running.IsSet():
		return StateRunning
	default:
		return StatePausedDisconnected
	}
}

// Run starts the connection supervisor, starts syncing, and blocks until
// the context is canceled, then stops everything. This is the daemon entry
// point; Start/Stop/Pause/Resume remain available for finer control.
func (m *Monitor) Run(ctx context.Context) error {
	supervisor := NewConnectionSupervisor(
		m.client, m.running, m.connected,
		&m.connectedSig, &m.disconnectedSig, &m.usageSig,
		&m.status, m.logger)

	supDone := make(chan error, 1)

	go func() {
		supDone <- supervisor.Run(ctx)
	}()

	if err := m.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	m.Stop()

	return <-supDone
}

// Start spawns the watcher and workers, reconciles offline changes, and
// opens the gates. A no-op while already started or paused by the user.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.pausedByUser {
		return nil
	}

	watcher := NewFileEventSource(m.client.Root(), m.queue, m.watcherActive, m.logger)
	if err := watcher.Start(); err != nil {
		return err
	}

	m.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	m.workerCancel = cancel

	m.startWorker(ctx, "upload", m.upload.Run)
	m.startWorker(ctx, "download", m.download.Run)

	m.started = true

	m.reconcileOffline()

	m.running.Set()
	m.watcherActive.Set()

	m.logger.Info("sync started")

	return nil
}

// startWorker runs a worker loop in a goroutine, logging any unexpected
// error it surfaces.
func (m *Monitor) startWorker(ctx context.Context, name string, run func(context.Context) error) {
	m.workerWG.Add(1)

	go func() {
		defer m.workerWG.Done()

		if err := run(ctx); err != nil {
			m.logger.Error("worker failed",
				slog.String("worker", name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Stop halts syncing and tears down the watcher and workers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	m.running.Clear()
	m.watcherActive.Clear()

	m.workerCancel()
	m.workerWG.Wait()
	m.watcher.Stop()

	m.watcher = nil
	m.started = false
	m.status.Set(StatusStopped)

	m.logger.Info("sync stopped")
}

// Pause suspends syncing on user request. PausedByUser is sticky: a
// reconnect never resumes it, only Resume does.
func (m *Monitor) Pause() {
	m.mu.Lock()
	m.pausedByUser = true
	m.mu.Unlock()

	m.running.Clear()
	m.watcherActive.Clear()
	m.status.Set(StatusPaused)

	m.logger.Info("sync paused by user")
}

// Resume clears the user pause, reconciles changes accumulated while
// paused, and reopens the gates.
func (m *Monitor) Resume() {
	m.mu.Lock()

	if !m.started {
		m.pausedByUser = false
		m.mu.Unlock()

		// Resuming from Stopped is a start.
		if err := m.Start(); err != nil {
			m.logger.Error("resume failed", slog.String("error", err.Error()))
		}

		return
	}

	if !m.pausedByUser || m.running.IsSet() {
		m.mu.Unlock()
		return
	}

	m.pausedByUser = false

	m.reconcileOffline()

	m.running.Set()
	m.watcherActive.Set()
	m.mu.Unlock()

	m.logger.Info("sync resumed by user")
}

// onConnected handles the supervisor's connected signal: resume syncing
// unless the user paused, which is sticky.
func (m *Monitor) onConnected() {
	m.notifier.Send("dropsync", "Connected")

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.pausedByUser || m.running.IsSet() {
		return
	}

	m.reconcileOffline()

	m.running.Set()
	m.watcherActive.Set()

	m.logger.Info("connection restored, sync resumed")
}

// onDisconnected handles the disconnected signal from any component.
func (m *Monitor) onDisconnected() {
	m.notifier.Send("dropsync", "Connection lost")

	m.running.Clear()
	m.watcherActive.Clear()
}

// reconcileOffline synthesizes events for everything that changed while
// the daemon was not watching and enqueues them for the upload worker.
// Callers hold m.mu; the sync lock is taken here because the workers are
// already running and the walk reads the revision index (I2).
func (m *Monitor) reconcileOffline() {
	m.status.Set(StatusIndexing)
	m.logger.Info("indexing local changes")

	m.lock.Lock()
	events, err := m.localChangesSinceLastSync()
	m.lock.Unlock()

	if err != nil {
		m.logger.Error("offline reconciliation failed", slog.String("error", err.Error()))
		return
	}

	for _, ev := range events {
		m.queue.Put(ev)
	}

	m.logger.Info("indexing complete", slog.Int("changes", len(events)))
}

// localChangesSinceLastSync diffs a snapshot of the local tree against
// lastsync and the revision index:
//
//   - entries touched after lastsync become Modified (tracked) or Created
//     (untracked) events;
//   - index entries with no on-disk counterpart become Deleted events.
//
// The two sides are disjoint by construction: a path on disk can only
// produce a Created when it is absent from the index, and a Deleted only
// when it is absent from disk.
func (m *Monitor) localChangesSinceLastSync() ([]*FileEvent, error) {
	snap, err := TakeDirectorySnapshot(m.client.Root())
	if err != nil {
		return nil, err
	}

	lastSync := m.cfg.Float(lastSyncSection, lastSyncKey, 0)
	revs := m.client.Revisions()

	var events []*FileEvent

	for _, path := range snap.Paths() {
		info, ok := snap.StatInfo(path)
		if !ok {
			continue
		}

		if max(info.Ctime, info.Mtime) <= lastSync {
			continue
		}

		key := remote.NormalizePath(m.client.RemotePath(path))

		t := EventCreated
		if _, tracked := revs[key]; tracked {
			t = EventModified
		}

		events = append(events, &FileEvent{Type: t, SrcPath: path, IsDirectory: info.IsDir})
	}

	for remotePath, rev := range revs {
		localPath := m.client.LocalPath(remotePath)
		if snap.Contains(localPath) {
			continue
		}

		events = append(events, &FileEvent{
			Type:        EventDeleted,
			SrcPath:     localPath,
			IsDirectory: rev == remote.FolderRev,
		})
	}

	return events, nil
}

// LastSync returns the persisted lastsync timestamp.
func (m *Monitor) LastSync() time.Time {
	seconds := m.cfg.Float(lastSyncSection, lastSyncKey, 0)
	if seconds == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(seconds*1e9))
}
