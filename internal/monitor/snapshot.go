package monitor

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

// timeSeconds converts a timestamp to float seconds since the epoch, the
// unit lastsync is stored in.
func timeSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// SnapshotInfo is the per-path stat record captured by a snapshot.
type SnapshotInfo struct {
	Ctime float64 // inode change time, seconds since epoch
	Mtime float64 // modification time, seconds since epoch
	IsDir bool
	Inode uint64
}

// DirectorySnapshot is a point-in-time record of the tree under root, used
// by offline reconciliation to diff the disk against the revision index.
// The root entry itself is not included. Hardlinked duplicates are
// deduplicated by inode: only the first path observed for an inode is kept.
type DirectorySnapshot struct {
	root       string
	stats      map[string]SnapshotInfo // absolute path → stat record
	paths      []string                // iteration order of stats
	normalized map[string]bool         // case-normalized absolute paths
}

// TakeDirectorySnapshot walks root and captures stat info for every entry
// below it.
func TakeDirectorySnapshot(root string) (*DirectorySnapshot, error) {
	snap := &DirectorySnapshot{
		root:       root,
		stats:      make(map[string]SnapshotInfo),
		normalized: make(map[string]bool),
	}
	inodes := make(map[uint64]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Entry vanished mid-walk; skip it.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if path == root {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		si := statInfo(info)
		si.IsDir = d.IsDir()

		// Hardlinks: track each inode once.
		if si.Inode != 0 {
			if inodes[si.Inode] {
				return nil
			}

			inodes[si.Inode] = true
		}

		snap.stats[path] = si
		snap.paths = append(snap.paths, path)
		snap.normalized[remote.NormalizePath(path)] = true

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: snapshotting %s: %w", root, err)
	}

	return snap, nil
}

// Paths returns every captured path, in walk order.
func (s *DirectorySnapshot) Paths() []string {
	return s.paths
}

// StatInfo returns the stat record for a path.
func (s *DirectorySnapshot) StatInfo(path string) (SnapshotInfo, bool) {
	si, ok := s.stats[path]
	return si, ok
}

// Inode returns the inode captured for a path, or 0 when unknown.
func (s *DirectorySnapshot) Inode(path string) uint64 {
	return s.stats[path].Inode
}

// Contains reports whether the case-normalized form of path was observed.
func (s *DirectorySnapshot) Contains(path string) bool {
	return s.normalized[remote.NormalizePath(path)]
}
