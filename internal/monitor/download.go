package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

const (
	defaultPollTimeout = 120 * time.Second
	defaultFlushDelay  = 2 * time.Second
)

// DownloadWorker long-polls the backend for remote changes and applies
// them to the local tree under the sync lock. While applying, the watcher
// active gate is cleared so the local mirror of the download does not feed
// back into the upload pipeline.
type DownloadWorker struct {
	client        remote.Client
	running       *Gate
	watcherActive *Gate
	lock          *sync.Mutex
	disconnected  *Signal
	status        *StatusTracker
	logger        *slog.Logger

	// PollTimeout bounds the long-poll so the worker revisits the running
	// gate regularly.
	PollTimeout time.Duration

	// FlushDelay is how long the worker lingers inside the lock after
	// applying, letting the watcher deliver (and discard) the residual
	// events the apply generated.
	FlushDelay time.Duration
}

// NewDownloadWorker wires a download worker onto the shared primitives.
func NewDownloadWorker(
	client remote.Client, running, watcherActive *Gate, lock *sync.Mutex,
	disconnected *Signal, status *StatusTracker, logger *slog.Logger,
) *DownloadWorker {
	return &DownloadWorker{
		client:        client,
		running:       running,
		watcherActive: watcherActive,
		lock:          lock,
		disconnected:  disconnected,
		status:        status,
		logger:        logger,
		PollTimeout:   defaultPollTimeout,
		FlushDelay:    defaultFlushDelay,
	}
}

// Run polls and applies until the context is canceled. Connection-class
// failures emit the disconnected signal and clear the running gate;
// anything else is returned for top-level logging.
func (w *DownloadWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := w.running.Wait(ctx); err != nil {
			return nil
		}

		w.status.Set(StatusUpToDate)

		hasChanges, err := w.client.WaitForRemoteChanges(ctx, w.PollTimeout)
		if err != nil {
			if handled, runErr := w.handleError(ctx, err); handled {
				continue
			} else if runErr != nil {
				return runErr
			}

			return nil
		}

		// The gate may have been cleared during the long-poll.
		if err := w.running.Wait(ctx); err != nil {
			return nil
		}

		if !hasChanges {
			continue
		}

		if err := w.applyChanges(ctx); err != nil {
			if handled, runErr := w.handleError(ctx, err); handled {
				continue
			} else if runErr != nil {
				return runErr
			}

			return nil
		}

		w.status.Set(StatusUpToDate)
	}
}

// applyChanges fetches and replays the pending remote changes under the
// sync lock, with local event feedback suppressed.
func (w *DownloadWorker) applyChanges(ctx context.Context) error {
	w.logger.Info("applying remote changes")
	w.status.Set(StatusSyncing)

	w.watcherActive.Clear()

	w.lock.Lock()
	defer func() {
		w.lock.Unlock()
		w.watcherActive.Set()
	}()

	changes, err := w.client.ListRemoteChanges(ctx)
	if err != nil {
		return err
	}

	if err := w.client.ApplyRemoteChanges(ctx, changes); err != nil {
		return err
	}

	// Let the watcher flush the events the apply generated; they are
	// discarded while the active gate is down.
	select {
	case <-ctx.Done():
	case <-time.After(w.FlushDelay):
	}

	return nil
}

// handleError classifies a worker error. handled=true means the loop should
// continue (connection loss, left to the supervisor); a non-nil error means
// the failure is unexpected and propagates.
func (w *DownloadWorker) handleError(ctx context.Context, err error) (handled bool, runErr error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return false, nil
	}

	if remote.IsConnectionError(err) {
		w.logger.Info("connection lost during download", slog.String("error", err.Error()))
		w.status.Set(StatusConnecting)
		w.running.Clear()
		w.disconnected.Emit()

		return true, nil
	}

	return false, fmt.Errorf("monitor: download: %w", err)
}
