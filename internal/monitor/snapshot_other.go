//go:build !linux && !darwin

package monitor

import (
	"io/fs"
)

// statInfo falls back to mtime-only where the platform exposes no ctime or
// inode. Hardlink deduplication is disabled (inode 0).
func statInfo(info fs.FileInfo) SnapshotInfo {
	return SnapshotInfo{
		Ctime: timeSeconds(info.ModTime()),
		Mtime: timeSeconds(info.ModTime()),
	}
}
