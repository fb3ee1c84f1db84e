package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dropsync-go/internal/config"
	"github.com/tonimelisma/dropsync-go/internal/remote"
)

// Upload worker tunables. The size-stability intervals are heuristics for
// detecting that an editor has finished writing; both are adjustable on
// the worker.
const (
	defaultDebounce       = 500 * time.Millisecond
	defaultStableCreate   = 500 * time.Millisecond
	defaultStableModify   = 200 * time.Millisecond
	dispatchersPerCPU     = 2
	lastSyncSection       = "internal"
	lastSyncKey           = "lastsync"
	multiDotTempThreshold = 1
)

// UploadWorker drains the local queue in quiescence-debounced batches,
// coalesces each batch, and replays the surviving events against the
// remote backend under the sync lock.
type UploadWorker struct {
	client       remote.Client
	queue        *TimedQueue
	running      *Gate
	lock         *sync.Mutex
	cfg          *config.Store
	disconnected *Signal
	status       *StatusTracker
	logger       *slog.Logger

	// Debounce is the quiescence window: a batch closes only after the
	// watcher has been idle this long.
	Debounce time.Duration

	// StableCreateInterval and StableModifyInterval are the polling periods
	// for the file-size stabilization wait before uploads.
	StableCreateInterval time.Duration
	StableModifyInterval time.Duration

	// Workers is the dispatch pool size per batch. Zero means
	// 2 × GOMAXPROCS.
	Workers int
}

// NewUploadWorker wires an upload worker onto the shared primitives.
func NewUploadWorker(
	client remote.Client, queue *TimedQueue, running *Gate, lock *sync.Mutex,
	cfg *config.Store, disconnected *Signal, status *StatusTracker, logger *slog.Logger,
) *UploadWorker {
	return &UploadWorker{
		client:               client,
		queue:                queue,
		running:              running,
		lock:                 lock,
		cfg:                  cfg,
		disconnected:         disconnected,
		status:               status,
		logger:               logger,
		Debounce:             defaultDebounce,
		StableCreateInterval: defaultStableCreate,
		StableModifyInterval: defaultStableModify,
	}
}

// Run processes batches until the context is canceled. Connection-class
// dispatch failures abandon the batch, emit the disconnected signal, and
// clear the running gate; anything else is returned for top-level logging.
func (w *UploadWorker) Run(ctx context.Context) error {
	for {
		first, ok := w.queue.Get(ctx)
		if !ok {
			return nil
		}

		batch := w.collectBatch(ctx, first)
		events := Coalesce(batch)

		w.logger.Debug("dispatching batch",
			slog.Int("raw", len(batch)),
			slog.Int("coalesced", events.Cardinality()),
		)
		w.status.Set(StatusSyncing)

		w.lock.Lock()
		err := w.dispatchBatch(ctx, events.ToSlice())
		w.lock.Unlock()

		switch {
		case err == nil:
			if setErr := w.cfg.SetFloat(lastSyncSection, lastSyncKey, timeSeconds(time.Now())); setErr != nil {
				w.logger.Warn("could not persist lastsync", slog.String("error", setErr.Error()))
			}

			w.status.Set(StatusUpToDate)

		case errors.Is(err, context.Canceled):
			return nil

		case remote.IsConnectionError(err):
			// The batch is abandoned; offline reconciliation rediscovers the
			// remainder after reconnect. lastsync intentionally not advanced.
			w.logger.Info("connection lost during upload", slog.String("error", err.Error()))
			w.status.Set(StatusConnecting)
			w.running.Clear()
			w.disconnected.Emit()

		default:
			return fmt.Errorf("monitor: upload dispatch: %w", err)
		}
	}
}

// collectBatch gathers the batch started by first: it waits until the queue
// has been quiet for the debounce window, then drains everything queued.
func (w *UploadWorker) collectBatch(ctx context.Context, first *FileEvent) []*FileEvent {
	batch := []*FileEvent{first}

	for time.Since(w.queue.LastEnqueueTime()) < w.Debounce {
		select {
		case <-ctx.Done():
			return batch
		case <-time.After(w.Debounce):
		}
	}

	for {
		ev, ok := w.queue.TryGet()
		if !ok {
			break
		}

		batch = append(batch, ev)
	}

	return batch
}

// dispatchBatch replays the coalesced events concurrently. The set is
// unordered; coalescing has already removed every pair whose relative
// order could matter.
func (w *UploadWorker) dispatchBatch(ctx context.Context, events []*FileEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.poolSize())

	for _, ev := range events {
		g.Go(func() error {
			return w.dispatch(ctx, ev)
		})
	}

	return g.Wait()
}

func (w *UploadWorker) poolSize() int {
	if w.Workers > 0 {
		return w.Workers
	}

	return dispatchersPerCPU * runtime.GOMAXPROCS(0)
}

// dispatch routes one event to its handler.
func (w *UploadWorker) dispatch(ctx context.Context, ev *FileEvent) error {
	switch ev.Type {
	case EventCreated:
		return w.onCreated(ctx, ev)
	case EventModified:
		return w.onModified(ctx, ev)
	case EventDeleted:
		return w.onDeleted(ctx, ev)
	case EventMoved:
		return w.onMoved(ctx, ev)
	default:
		return fmt.Errorf("monitor: unknown event type %d", int(ev.Type))
	}
}

// onCreated uploads a new file or registers a new folder remotely.
func (w *UploadWorker) onCreated(ctx context.Context, ev *FileEvent) error {
	remotePath := w.client.RemotePath(ev.SrcPath)
	if w.client.IsExcluded(remotePath) {
		return nil
	}

	if ev.IsDirectory {
		md, err := w.client.Metadata(ctx, remotePath)
		if err != nil {
			return err
		}

		if md == nil {
			if _, err := w.client.MakeDir(ctx, remotePath); err != nil {
				return err
			}
		}

		w.client.SetLocalRev(remotePath, remote.FolderRev)

		return nil
	}

	stable, err := w.waitForStableSize(ctx, ev.SrcPath, w.StableCreateInterval)
	if err != nil {
		return err
	}

	if !stable {
		// The file vanished before it settled; a later event covers it.
		return nil
	}

	// A tracked path means this "creation" is really an editor swapping a
	// freshly-written file into place — update the existing revision.
	mode, rev := remote.WriteModeAdd, ""
	if existing, tracked := w.client.LocalRev(remotePath); tracked {
		mode, rev = remote.WriteModeUpdate, existing
	}

	md, err := w.client.Upload(ctx, ev.SrcPath, remotePath, true, mode, rev)
	if err != nil {
		return err
	}

	w.client.SetLocalRev(md.Path, md.Rev)

	return nil
}

// onModified uploads changed file content. Directory modifications are
// noise and ignored.
func (w *UploadWorker) onModified(ctx context.Context, ev *FileEvent) error {
	if ev.IsDirectory {
		return nil
	}

	remotePath := w.client.RemotePath(ev.SrcPath)
	if w.client.IsExcluded(remotePath) {
		return nil
	}

	stable, err := w.waitForStableSize(ctx, ev.SrcPath, w.StableModifyInterval)
	if err != nil {
		return err
	}

	if !stable {
		return nil
	}

	rev, _ := w.client.LocalRev(remotePath)

	md, err := w.client.Upload(ctx, ev.SrcPath, remotePath, true, remote.WriteModeUpdate, rev)
	if err != nil {
		return err
	}

	w.logger.Debug("modified file uploaded",
		slog.String("path", md.Path),
		slog.String("old_rev", rev),
		slog.String("new_rev", md.Rev),
	)
	w.client.SetLocalRev(md.Path, md.Rev)

	return nil
}

// onDeleted removes a tracked file or folder remotely. Untracked paths
// were never uploaded, so there is nothing to remove.
func (w *UploadWorker) onDeleted(ctx context.Context, ev *FileEvent) error {
	remotePath := w.client.RemotePath(ev.SrcPath)
	if w.client.IsExcluded(remotePath) {
		return nil
	}

	if _, tracked := w.client.LocalRev(remotePath); !tracked {
		return nil
	}

	md, err := w.client.Remove(ctx, remotePath)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// Already gone remotely — just drop the stale index entry.
			w.client.SetLocalRev(remotePath, "")
			return nil
		}

		return err
	}

	w.client.SetLocalRev(md.Path, "")

	return nil
}

// onMoved replays a local rename remotely, re-registering revisions for the
// destination (and, for folders, the whole moved subtree).
func (w *UploadWorker) onMoved(ctx context.Context, ev *FileEvent) error {
	fromPath := w.client.RemotePath(ev.SrcPath)
	toPath := w.client.RemotePath(ev.DestPath)

	if w.client.IsExcluded(toPath) {
		return nil
	}

	// Destinations with multiple periods in the basename are almost always
	// an editor's save-tempfile swap; syncing them churns the remote.
	if strings.Count(filepath.Base(ev.DestPath), ".") > multiDotTempThreshold {
		return nil
	}

	md, err := w.client.Move(ctx, fromPath, toPath)
	if err != nil {
		return err
	}

	w.client.SetLocalRev(fromPath, "")

	if md == nil {
		return nil
	}

	if !md.IsFolder {
		w.client.SetLocalRev(md.Path, md.Rev)
		return nil
	}

	// The whole subtree moved: drop the stale entries recorded under the
	// old prefix before registering the new ones.
	oldPrefix := remote.NormalizePath(fromPath) + "/"
	for key := range w.client.Revisions() {
		if strings.HasPrefix(key, oldPrefix) {
			w.client.SetLocalRev(key, "")
		}
	}

	w.client.SetLocalRev(md.Path, remote.FolderRev)

	entries, err := w.client.ListFolder(ctx, md.Path, true)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsFolder {
			w.client.SetLocalRev(entry.Path, remote.FolderRev)
		} else {
			w.client.SetLocalRev(entry.Path, entry.Rev)
		}
	}

	return nil
}

// waitForStableSize polls the file's size every interval until two
// consecutive reads match, indicating the writer has finished. Returns
// stable=false when the path disappears or is not a regular file.
func (w *UploadWorker) waitForStableSize(ctx context.Context, path string, interval time.Duration) (bool, error) {
	size := int64(-1)

	for {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}

			return false, fmt.Errorf("monitor: stat %s: %w", path, err)
		}

		if !info.Mode().IsRegular() {
			return false, nil
		}

		if info.Size() == size {
			return true, nil
		}

		size = info.Size()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}
