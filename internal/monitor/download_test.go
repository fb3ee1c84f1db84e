package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

type downloadTestSetup struct {
	worker        *DownloadWorker
	client        *mockClient
	running       *Gate
	watcherActive *Gate
	lock          *sync.Mutex
	disc          *Signal
}

func newDownloadTestSetup(t *testing.T) *downloadTestSetup {
	t.Helper()

	client := newMockClient(t.TempDir())
	running := NewGate(true)
	watcherActive := NewGate(true)
	lock := &sync.Mutex{}
	disc := &Signal{}
	status := &StatusTracker{}

	w := NewDownloadWorker(client, running, watcherActive, lock, disc, status, testLogger(t))
	w.PollTimeout = 50 * time.Millisecond
	w.FlushDelay = time.Millisecond

	return &downloadTestSetup{
		worker:        w,
		client:        client,
		running:       running,
		watcherActive: watcherActive,
		lock:          lock,
		disc:          disc,
	}
}

func (s *downloadTestSetup) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = s.worker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// While remote changes are applied, the sync lock is held and the watcher
// active gate is down; both are restored afterwards.
func TestDownloadWorkerAppliesUnderLockWithWatcherSuppressed(t *testing.T) {
	s := newDownloadTestSetup(t)

	polled := make(chan struct{}, 1)
	s.client.waitFn = func(ctx context.Context, _ time.Duration) (bool, error) {
		select {
		case polled <- struct{}{}:
			return true, nil
		default:
			// Only the first poll reports changes; park afterwards.
			<-ctx.Done()
			return false, ctx.Err()
		}
	}

	applied := make(chan struct{})
	s.client.applyFn = func(_ context.Context, _ *remote.ChangeSet) error {
		// The sync lock must be held and the watcher suppressed.
		assert.False(t, s.lock.TryLock(), "sync lock not held during apply")
		assert.False(t, s.watcherActive.IsSet(), "watcher active during apply")
		close(applied)

		return nil
	}

	s.run(t)

	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("remote changes never applied")
	}

	waitFor(t, 5*time.Second, func() bool { return s.watcherActive.IsSet() })

	// The lock must be free again.
	require.True(t, s.lock.TryLock())
	s.lock.Unlock()
}

// A poll without changes applies nothing.
func TestDownloadWorkerNoChangesNoApply(t *testing.T) {
	s := newDownloadTestSetup(t)

	polls := make(chan struct{}, 16)
	s.client.waitFn = func(_ context.Context, _ time.Duration) (bool, error) {
		select {
		case polls <- struct{}{}:
		default:
		}

		return false, nil
	}

	var appliedCount atomic.Int32
	s.client.applyFn = func(_ context.Context, _ *remote.ChangeSet) error {
		appliedCount.Add(1)
		return nil
	}

	s.run(t)

	// Wait for a few poll cycles.
	for range 3 {
		select {
		case <-polls:
		case <-time.After(5 * time.Second):
			t.Fatal("worker stopped polling")
		}
	}

	assert.Zero(t, appliedCount.Load())
}

// A connection failure during the long-poll clears running and emits the
// disconnected signal; the worker parks on the gate instead of spinning.
func TestDownloadWorkerDisconnectDuringPoll(t *testing.T) {
	s := newDownloadTestSetup(t)

	s.client.waitFn = func(_ context.Context, _ time.Duration) (bool, error) {
		return false, remote.ErrTimeout
	}

	disconnects := make(chan struct{}, 1)
	s.disc.Connect(func() {
		select {
		case disconnects <- struct{}{}:
		default:
		}
	})

	s.run(t)

	select {
	case <-disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnected signal not emitted")
	}

	assert.False(t, s.running.IsSet())
}

// The worker waits on the running gate before polling: with the gate down
// nothing reaches the client.
func TestDownloadWorkerParksWhileNotRunning(t *testing.T) {
	s := newDownloadTestSetup(t)
	s.running.Clear()

	polled := make(chan struct{}, 1)
	s.client.waitFn = func(_ context.Context, _ time.Duration) (bool, error) {
		select {
		case polled <- struct{}{}:
		default:
		}

		return false, nil
	}

	s.run(t)

	select {
	case <-polled:
		t.Fatal("worker polled while running gate was down")
	case <-time.After(100 * time.Millisecond):
	}

	s.running.Set()

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not resume after gate set")
	}
}
