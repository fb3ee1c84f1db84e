package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

// testLogger returns a logger that discards everything.
func testLogger(_ *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient is a function-field mock of remote.Client with an in-memory
// revision index and call recording. Fields without an injected function
// fall back to benign defaults.
type mockClient struct {
	mu       gosync.Mutex
	root     string
	revs     map[string]string // keyed by NormalizePath
	excluded []string          // normalized remote path prefixes

	uploads []string // remote paths uploaded
	moves   [][2]string
	removes []string
	mkdirs  []string

	uploadFn      func(ctx context.Context, localPath, remotePath string, autorename bool, mode remote.WriteMode, rev string) (*remote.Metadata, error)
	moveFn        func(ctx context.Context, from, to string) (*remote.Metadata, error)
	removeFn      func(ctx context.Context, path string) (*remote.Metadata, error)
	metadataFn    func(ctx context.Context, path string) (*remote.Metadata, error)
	listFolderFn  func(ctx context.Context, path string, recursive bool) ([]remote.Metadata, error)
	waitFn        func(ctx context.Context, timeout time.Duration) (bool, error)
	listChangesFn func(ctx context.Context) (*remote.ChangeSet, error)
	applyFn       func(ctx context.Context, changes *remote.ChangeSet) error
	usageFn       func(ctx context.Context) (*remote.SpaceUsage, error)

	revCounter int
}

func newMockClient(root string) *mockClient {
	return &mockClient{root: root, revs: make(map[string]string)}
}

func (m *mockClient) RemotePath(localPath string) string {
	rel, err := filepath.Rel(m.root, localPath)
	if err != nil || rel == "." {
		return "/"
	}

	return "/" + filepath.ToSlash(rel)
}

func (m *mockClient) LocalPath(remotePath string) string {
	return filepath.Join(m.root, filepath.FromSlash(strings.TrimPrefix(remotePath, "/")))
}

func (m *mockClient) IsExcluded(remotePath string) bool {
	p := remote.NormalizePath(remotePath)
	for _, prefix := range m.excluded {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}

	return false
}

func (m *mockClient) LocalRev(remotePath string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rev, ok := m.revs[remote.NormalizePath(remotePath)]

	return rev, ok
}

func (m *mockClient) SetLocalRev(remotePath, rev string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := remote.NormalizePath(remotePath)
	if rev == "" {
		delete(m.revs, key)
	} else {
		m.revs[key] = rev
	}
}

func (m *mockClient) Revisions() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.revs))
	for k, v := range m.revs {
		out[k] = v
	}

	return out
}

// nextRev mints a test revision token. Callers must hold m.mu.
func (m *mockClient) nextRev() string {
	m.revCounter++
	return fmt.Sprintf("rev-%04d", m.revCounter)
}

func (m *mockClient) Metadata(ctx context.Context, path string) (*remote.Metadata, error) {
	if m.metadataFn != nil {
		return m.metadataFn(ctx, path)
	}

	return nil, nil
}

func (m *mockClient) ListFolder(ctx context.Context, path string, recursive bool) ([]remote.Metadata, error) {
	if m.listFolderFn != nil {
		return m.listFolderFn(ctx, path, recursive)
	}

	return nil, nil
}

func (m *mockClient) Move(ctx context.Context, from, to string) (*remote.Metadata, error) {
	if m.moveFn != nil {
		return m.moveFn(ctx, from, to)
	}

	m.mu.Lock()
	m.moves = append(m.moves, [2]string{from, to})
	rev := m.nextRev()
	m.mu.Unlock()

	return &remote.Metadata{Path: to, Rev: rev}, nil
}

func (m *mockClient) Remove(ctx context.Context, path string) (*remote.Metadata, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, path)
	}

	m.mu.Lock()
	m.removes = append(m.removes, path)
	m.mu.Unlock()

	return &remote.Metadata{Path: path}, nil
}

func (m *mockClient) MakeDir(ctx context.Context, path string) (*remote.Metadata, error) {
	m.mu.Lock()
	m.mkdirs = append(m.mkdirs, path)
	m.mu.Unlock()

	return &remote.Metadata{Path: path, IsFolder: true}, nil
}

func (m *mockClient) Upload(
	ctx context.Context, localPath, remotePath string, autorename bool, mode remote.WriteMode, rev string,
) (*remote.Metadata, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, localPath, remotePath, autorename, mode, rev)
	}

	m.mu.Lock()
	m.uploads = append(m.uploads, remotePath)
	newRev := m.nextRev()
	m.mu.Unlock()

	return &remote.Metadata{Path: remotePath, Rev: newRev}, nil
}

func (m *mockClient) WaitForRemoteChanges(ctx context.Context, timeout time.Duration) (bool, error) {
	if m.waitFn != nil {
		return m.waitFn(ctx, timeout)
	}

	<-ctx.Done()

	return false, ctx.Err()
}

func (m *mockClient) ListRemoteChanges(ctx context.Context) (*remote.ChangeSet, error) {
	if m.listChangesFn != nil {
		return m.listChangesFn(ctx)
	}

	return &remote.ChangeSet{}, nil
}

func (m *mockClient) ApplyRemoteChanges(ctx context.Context, changes *remote.ChangeSet) error {
	if m.applyFn != nil {
		return m.applyFn(ctx, changes)
	}

	return nil
}

func (m *mockClient) SpaceUsage(ctx context.Context) (*remote.SpaceUsage, error) {
	if m.usageFn != nil {
		return m.usageFn(ctx)
	}

	return &remote.SpaceUsage{}, nil
}

func (m *mockClient) Root() string {
	return m.root
}

// callCounts returns a snapshot of recorded remote mutations.
func (m *mockClient) callCounts() (uploads, moves, removes, mkdirs int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.uploads), len(m.moves), len(m.removes), len(m.mkdirs)
}
