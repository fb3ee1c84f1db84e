package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultPollInterval is how often the local backend re-checks the mirror
// tree while blocked in WaitForRemoteChanges.
const defaultPollInterval = 2 * time.Second

// LocalFS is a Client backed by a second directory on the same machine. It
// mirrors the sync root against mirrorRoot the way a cloud backend would,
// with revision tokens minted per write. Used by the package tests and
// the daemon's --mirror mode; the HTTP backend lives outside this repo.
type LocalFS struct {
	root       string // local sync root
	mirrorRoot string // the "remote" tree
	revs       *RevisionIndex
	excluded   []string // case-normalized remote path prefixes

	// PollInterval is the re-check period inside WaitForRemoteChanges.
	PollInterval time.Duration

	revCounter atomic.Int64

	mu      sync.Mutex
	cursor  map[string]fileSig // mirror state at last applied change set
	pending map[string]fileSig // staged by ListRemoteChanges, committed by Apply
}

// fileSig identifies one version of a mirror entry.
type fileSig struct {
	size    int64
	mtime   int64
	isDir   bool
	display string // display-cased remote path
}

// NewLocalFS creates a LocalFS client mirroring root against mirrorRoot.
// excluded lists remote path prefixes dropped from sync.
func NewLocalFS(root, mirrorRoot string, revs *RevisionIndex, excluded []string) (*LocalFS, error) {
	for _, dir := range []string{root, mirrorRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("remote: creating %s: %w", dir, err)
		}
	}

	normalized := make([]string, len(excluded))
	for i, p := range excluded {
		normalized[i] = NormalizePath(p)
	}

	c := &LocalFS{
		root:         root,
		mirrorRoot:   mirrorRoot,
		revs:         revs,
		excluded:     normalized,
		PollInterval: defaultPollInterval,
	}
	c.revCounter.Store(time.Now().UnixNano())

	sig, err := c.scanMirror()
	if err != nil {
		return nil, err
	}
	c.cursor = sig

	return c, nil
}

// RemotePath translates an absolute local path below Root into the remote
// path space ("/" separated, rooted at "/").
func (c *LocalFS) RemotePath(localPath string) string {
	rel, err := filepath.Rel(c.root, localPath)
	if err != nil || rel == "." {
		return "/"
	}

	return "/" + filepath.ToSlash(rel)
}

// LocalPath is the inverse of RemotePath.
func (c *LocalFS) LocalPath(remotePath string) string {
	return filepath.Join(c.root, filepath.FromSlash(strings.TrimPrefix(remotePath, "/")))
}

// mirrorPath maps a remote path onto the mirror tree.
func (c *LocalFS) mirrorPath(remotePath string) string {
	return filepath.Join(c.mirrorRoot, filepath.FromSlash(strings.TrimPrefix(remotePath, "/")))
}

// IsExcluded reports whether the remote path falls under an excluded prefix.
func (c *LocalFS) IsExcluded(remotePath string) bool {
	p := NormalizePath(remotePath)
	for _, prefix := range c.excluded {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}

	return false
}

// LocalRev returns the tracked revision for a remote path.
func (c *LocalFS) LocalRev(remotePath string) (string, bool) {
	return c.revs.Get(remotePath)
}

// SetLocalRev records (or with empty rev, clears) a revision.
func (c *LocalFS) SetLocalRev(remotePath, rev string) {
	c.revs.Set(remotePath, rev)
}

// Revisions returns the full revision index snapshot.
func (c *LocalFS) Revisions() map[string]string {
	return c.revs.All()
}

// newRev mints an opaque monotonically-increasing revision token.
func (c *LocalFS) newRev() string {
	return fmt.Sprintf("%015x", c.revCounter.Add(1))
}

// Metadata returns metadata for a remote path, or nil when absent.
func (c *LocalFS) Metadata(_ context.Context, remotePath string) (*Metadata, error) {
	info, err := os.Stat(c.mirrorPath(remotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("remote: stat %s: %w", remotePath, err)
	}

	return c.metadataFromInfo(remotePath, info), nil
}

func (c *LocalFS) metadataFromInfo(remotePath string, info fs.FileInfo) *Metadata {
	md := &Metadata{Path: remotePath, IsFolder: info.IsDir()}
	if !info.IsDir() {
		md.Size = info.Size()

		if rev, ok := c.revs.Get(remotePath); ok && rev != FolderRev {
			md.Rev = rev
		} else {
			md.Rev = c.newRev()
		}
	}

	return md
}

// ListFolder lists a remote folder, flattened.
func (c *LocalFS) ListFolder(_ context.Context, remotePath string, recursive bool) ([]Metadata, error) {
	base := c.mirrorPath(remotePath)

	var out []Metadata

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path == base {
			return nil
		}

		rel, relErr := filepath.Rel(c.mirrorRoot, path)
		if relErr != nil {
			return relErr
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		out = append(out, *c.metadataFromInfo("/"+filepath.ToSlash(rel), info))

		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote: listing %s: %w", remotePath, err)
	}

	return out, nil
}

// Move renames a remote file or folder.
func (c *LocalFS) Move(ctx context.Context, fromPath, toPath string) (*Metadata, error) {
	from, to := c.mirrorPath(fromPath), c.mirrorPath(toPath)

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return nil, fmt.Errorf("remote: preparing move target %s: %w", toPath, err)
	}

	if err := os.Rename(from, to); err != nil {
		return nil, fmt.Errorf("remote: moving %s to %s: %w", fromPath, toPath, err)
	}

	return c.Metadata(ctx, toPath)
}

// Remove deletes a remote file or folder tree, returning the metadata of the
// removed entry.
func (c *LocalFS) Remove(ctx context.Context, remotePath string) (*Metadata, error) {
	md, err := c.Metadata(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	if md == nil {
		return nil, fmt.Errorf("remote: removing %s: %w", remotePath, ErrNotFound)
	}

	if err := os.RemoveAll(c.mirrorPath(remotePath)); err != nil {
		return nil, fmt.Errorf("remote: removing %s: %w", remotePath, err)
	}

	return md, nil
}

// MakeDir creates a remote folder.
func (c *LocalFS) MakeDir(_ context.Context, remotePath string) (*Metadata, error) {
	if err := os.MkdirAll(c.mirrorPath(remotePath), 0o755); err != nil {
		return nil, fmt.Errorf("remote: creating folder %s: %w", remotePath, err)
	}

	return &Metadata{Path: remotePath, IsFolder: true}, nil
}

// Upload copies localPath into the mirror at remotePath and mints a new
// revision. With WriteModeAdd and autorename, an existing target gets a
// numbered suffix instead of being overwritten.
func (c *LocalFS) Upload(
	_ context.Context, localPath, remotePath string, autorename bool, mode WriteMode, _ string,
) (*Metadata, error) {
	target := remotePath

	if mode == WriteModeAdd && autorename {
		target = c.autorename(remotePath)
	}

	dst := c.mirrorPath(target)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("remote: preparing upload target %s: %w", target, err)
	}

	if err := copyFile(localPath, dst); err != nil {
		return nil, fmt.Errorf("remote: uploading %s: %w", remotePath, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("remote: stat uploaded %s: %w", target, err)
	}

	return &Metadata{Path: target, Rev: c.newRev(), Size: info.Size()}, nil
}

// autorename returns remotePath, or the first free "name (N)" variant when
// the target already exists.
func (c *LocalFS) autorename(remotePath string) string {
	if _, err := os.Stat(c.mirrorPath(remotePath)); os.IsNotExist(err) {
		return remotePath
	}

	ext := filepath.Ext(remotePath)
	stem := strings.TrimSuffix(remotePath, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Stat(c.mirrorPath(candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// scanMirror walks the mirror tree into a signature map keyed by
// case-normalized remote path.
func (c *LocalFS) scanMirror() (map[string]fileSig, error) {
	out := make(map[string]fileSig)

	err := filepath.WalkDir(c.mirrorRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path == c.mirrorRoot {
			return nil
		}

		rel, relErr := filepath.Rel(c.mirrorRoot, path)
		if relErr != nil {
			return relErr
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			// Entry vanished mid-walk.
			return nil
		}

		display := "/" + filepath.ToSlash(rel)
		sig := fileSig{isDir: d.IsDir(), display: display}

		if !d.IsDir() {
			sig.size = info.Size()
			sig.mtime = info.ModTime().UnixNano()
		}

		out[NormalizePath(display)] = sig

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote: scanning mirror: %w", err)
	}

	return out, nil
}

// WaitForRemoteChanges blocks until the mirror tree differs from the cursor
// or the timeout elapses.
func (c *LocalFS) WaitForRemoteChanges(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		current, err := c.scanMirror()
		if err != nil {
			return false, err
		}

		c.mu.Lock()
		changed := !sigsEqual(c.cursor, current)
		c.mu.Unlock()

		if changed {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

func sigsEqual(a, b map[string]fileSig) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		if b[k] != v {
			return false
		}
	}

	return true
}

// ListRemoteChanges diffs the mirror tree against the cursor and stages the
// new state; ApplyRemoteChanges commits it.
func (c *LocalFS) ListRemoteChanges(_ context.Context) (*ChangeSet, error) {
	current, err := c.scanMirror()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []Metadata

	for key, sig := range current {
		if old, ok := c.cursor[key]; !ok || old != sig {
			entries = append(entries, Metadata{Path: sig.display, IsFolder: sig.isDir, Size: sig.size})
		}
	}

	for key, sig := range c.cursor {
		if _, ok := current[key]; !ok {
			entries = append(entries, Metadata{Path: sig.display, IsFolder: sig.isDir})
		}
	}

	c.pending = current

	return &ChangeSet{Entries: entries}, nil
}

// ApplyRemoteChanges replays the staged mirror state onto the local tree:
// changed entries are copied in, entries gone from the mirror are removed.
func (c *LocalFS) ApplyRemoteChanges(_ context.Context, changes *ChangeSet) error {
	if changes == nil {
		return nil
	}

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	for _, md := range changes.Entries {
		local := c.LocalPath(md.Path)
		mirror := c.mirrorPath(md.Path)

		info, err := os.Stat(mirror)
		switch {
		case os.IsNotExist(err):
			if rmErr := os.RemoveAll(local); rmErr != nil {
				return fmt.Errorf("remote: applying delete of %s: %w", md.Path, rmErr)
			}

			c.revs.Set(md.Path, "")

		case err != nil:
			return fmt.Errorf("remote: applying %s: %w", md.Path, err)

		case info.IsDir():
			if mkErr := os.MkdirAll(local, 0o755); mkErr != nil {
				return fmt.Errorf("remote: applying folder %s: %w", md.Path, mkErr)
			}

			c.revs.Set(md.Path, FolderRev)

		default:
			if mkErr := os.MkdirAll(filepath.Dir(local), 0o755); mkErr != nil {
				return fmt.Errorf("remote: applying %s: %w", md.Path, mkErr)
			}

			if cpErr := copyFile(mirror, local); cpErr != nil {
				return fmt.Errorf("remote: applying %s: %w", md.Path, cpErr)
			}

			c.revs.Set(md.Path, c.newRev())
		}
	}

	c.mu.Lock()
	if pending != nil {
		c.cursor = pending
		c.pending = nil
	}
	c.mu.Unlock()

	return nil
}

// SpaceUsage sums the mirror tree as the account usage snapshot.
func (c *LocalFS) SpaceUsage(_ context.Context) (*SpaceUsage, error) {
	var used int64

	err := filepath.WalkDir(c.mirrorRoot, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}

		if info, infoErr := d.Info(); infoErr == nil {
			used += info.Size()
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote: computing space usage: %w", err)
	}

	return &SpaceUsage{Used: used}, nil
}

// Root returns the local sync root.
func (c *LocalFS) Root() string {
	return c.root
}
