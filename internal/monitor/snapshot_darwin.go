//go:build darwin

package monitor

import (
	"io/fs"
	"syscall"
)

// statInfo extracts ctime, mtime, and inode from the platform stat record.
func statInfo(info fs.FileInfo) SnapshotInfo {
	si := SnapshotInfo{Mtime: timeSeconds(info.ModTime())}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		si.Ctime = float64(st.Ctimespec.Sec) + float64(st.Ctimespec.Nsec)/1e9
		si.Inode = st.Ino
	}

	return si
}
