package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropsync-go/internal/config"
	"github.com/tonimelisma/dropsync-go/internal/notify"
	"github.com/tonimelisma/dropsync-go/internal/remote"
)

func newTestMonitor(t *testing.T) (*Monitor, *mockClient, *config.Store) {
	t.Helper()

	client := newMockClient(t.TempDir())

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	m := New(client, cfg, notify.Discard{}, testLogger(t))

	return m, client, cfg
}

func TestMonitorInitialState(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, StatusStopped, m.Status())
}

func TestMonitorStartStop(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	assert.Equal(t, StateRunning, m.State())

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
}

// Pause by the user is sticky: a reconnect (connected signal) never
// resumes; only an explicit Resume does.
func TestMonitorPauseByUserIsSticky(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	m.Pause()
	assert.Equal(t, StatePausedByUser, m.State())
	assert.False(t, m.running.IsSet())
	assert.False(t, m.watcherActive.IsSet())

	// Simulate the supervisor losing and regaining the connection.
	m.disconnectedSig.Emit()
	m.connectedSig.Emit()

	assert.Equal(t, StatePausedByUser, m.State())
	assert.False(t, m.running.IsSet())

	m.Resume()
	assert.Equal(t, StateRunning, m.State())
	assert.True(t, m.running.IsSet())
	assert.True(t, m.watcherActive.IsSet())
}

// A disconnect parks the monitor in PausedDisconnected; the connected
// signal brings it back to Running.
func TestMonitorDisconnectReconnect(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	m.disconnectedSig.Emit()
	assert.Equal(t, StatePausedDisconnected, m.State())
	assert.False(t, m.running.IsSet())

	m.connectedSig.Emit()
	assert.Equal(t, StateRunning, m.State())
	assert.True(t, m.running.IsSet())
}

// After Pause, the watcher discards events instead of enqueuing them.
func TestMonitorPauseStopsEnqueue(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	m.Pause()

	// The watcher consults the active gate on every event.
	m.watcher.emit(&FileEvent{Type: EventCreated, SrcPath: "/x"})
	assert.Equal(t, 0, m.queue.Len())
}

// Start while paused by the user is a no-op.
func TestMonitorStartRespectsUserPause(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	m.Pause()
	require.NoError(t, m.Start())

	// Start must not have spawned anything or opened the gates.
	assert.False(t, m.running.IsSet())
	assert.False(t, m.watcherActive.IsSet())

	m.mu.Lock()
	assert.False(t, m.started)
	m.mu.Unlock()
}

// --- Offline reconciliation ---

// Files touched after lastsync synthesize Created (untracked) or Modified
// (tracked) events; index entries with no on-disk counterpart synthesize
// Deleted events. No path gets both a Created and a Deleted.
func TestReconcileOfflineClassification(t *testing.T) {
	m, client, cfg := newTestMonitor(t)
	root := client.Root()

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "known.txt"), []byte("k"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "newdir"), 0o755))

	client.SetLocalRev("/known.txt", "rev-1")
	client.SetLocalRev("/gone.txt", "rev-2")
	client.SetLocalRev("/gonedir", remote.FolderRev)

	// Everything on disk is newer than lastsync=0.
	require.NoError(t, cfg.SetFloat("internal", "lastsync", 0))

	events, err := m.localChangesSinceLastSync()
	require.NoError(t, err)

	byPath := make(map[string]*FileEvent)
	for _, ev := range events {
		// No path may appear twice — in particular never as both a
		// Created and a Deleted.
		_, dup := byPath[ev.SrcPath]
		require.False(t, dup, "duplicate event for %s", ev.SrcPath)
		byPath[ev.SrcPath] = ev
	}

	newEv := byPath[filepath.Join(root, "new.txt")]
	require.NotNil(t, newEv)
	assert.Equal(t, EventCreated, newEv.Type)
	assert.False(t, newEv.IsDirectory)

	knownEv := byPath[filepath.Join(root, "known.txt")]
	require.NotNil(t, knownEv)
	assert.Equal(t, EventModified, knownEv.Type)

	dirEv := byPath[filepath.Join(root, "newdir")]
	require.NotNil(t, dirEv)
	assert.Equal(t, EventCreated, dirEv.Type)
	assert.True(t, dirEv.IsDirectory)

	goneEv := byPath[filepath.Join(root, "gone.txt")]
	require.NotNil(t, goneEv)
	assert.Equal(t, EventDeleted, goneEv.Type)
	assert.False(t, goneEv.IsDirectory)

	goneDirEv := byPath[filepath.Join(root, "gonedir")]
	require.NotNil(t, goneDirEv)
	assert.Equal(t, EventDeleted, goneDirEv.Type)
	assert.True(t, goneDirEv.IsDirectory)
}

// Entries untouched since lastsync synthesize nothing.
func TestReconcileOfflineSkipsUnchanged(t *testing.T) {
	m, client, cfg := newTestMonitor(t)
	root := client.Root()

	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("o"), 0o644))
	client.SetLocalRev("/old.txt", "rev-1")

	// lastsync in the future relative to the file's timestamps.
	future := float64(time.Now().Add(time.Hour).UnixNano()) / 1e9
	require.NoError(t, cfg.SetFloat("internal", "lastsync", future))

	events, err := m.localChangesSinceLastSync()
	require.NoError(t, err)
	assert.Empty(t, events)
}

// Reconciliation enqueues into the local queue for the upload worker.
func TestReconcileOfflineEnqueues(t *testing.T) {
	m, client, cfg := newTestMonitor(t)
	root := client.Root()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, cfg.SetFloat("internal", "lastsync", 0))

	m.reconcileOffline()

	require.Equal(t, 1, m.queue.Len())

	ev, ok := m.queue.TryGet()
	require.True(t, ok)
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, filepath.Join(root, "a.txt"), ev.SrcPath)
}
