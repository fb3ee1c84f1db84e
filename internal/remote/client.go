// Package remote defines the contract between the sync core and the cloud
// backend: the Client interface, metadata types, the revision index, and
// connection-error classification. Concrete HTTP backends live outside this
// repository; internal/remote ships the pieces every backend shares.
package remote

import (
	"context"
	"time"
)

// WriteMode selects how an upload treats an existing remote file.
type WriteMode int

const (
	// WriteModeAdd creates a new file. The backend auto-renames on collision
	// when autorename is set.
	WriteModeAdd WriteMode = iota
	// WriteModeUpdate overwrites the revision given alongside the upload.
	WriteModeUpdate
)

func (m WriteMode) String() string {
	if m == WriteModeUpdate {
		return "update"
	}

	return "add"
}

// FolderRev is the revision-index sentinel recorded for folders in place of
// a file revision token.
const FolderRev = "folder"

// Metadata describes a single remote file or folder.
type Metadata struct {
	Path     string // display path as returned by the backend
	Rev      string // revision token; empty for folders
	IsFolder bool
	Size     int64
}

// ChangeSet is an opaque page of remote changes produced by
// ListRemoteChanges and consumed by ApplyRemoteChanges. The core never
// inspects its contents.
type ChangeSet struct {
	Cursor  string
	Entries []Metadata
}

// SpaceUsage is the account storage snapshot returned by the cheap
// connectivity probe.
type SpaceUsage struct {
	Used      int64
	Allocated int64
}

// Client is the remote backend consumed by the sync core. Implementations
// must be safe for concurrent use: the upload dispatch pool calls into the
// client from multiple goroutines.
type Client interface {
	// RemotePath translates an absolute local path below Root into the
	// backend's path space. LocalPath is the inverse.
	RemotePath(localPath string) string
	LocalPath(remotePath string) string

	// IsExcluded reports whether the remote path is excluded from sync by
	// client policy (selective-sync lists, ignore patterns).
	IsExcluded(remotePath string) bool

	// LocalRev returns the last-uploaded revision recorded for the remote
	// path, or ok=false when the path is not tracked. SetLocalRev records a
	// revision; an empty rev removes the entry. FolderRev marks folders.
	LocalRev(remotePath string) (rev string, ok bool)
	SetLocalRev(remotePath, rev string)

	// Revisions returns a snapshot of the full revision index, keyed by
	// case-normalized remote path.
	Revisions() map[string]string

	// Metadata returns the metadata for a remote path, or nil when the path
	// does not exist remotely.
	Metadata(ctx context.Context, remotePath string) (*Metadata, error)

	// ListFolder lists a remote folder, flattening result pages into a
	// single slice. With recursive set, descendants are included.
	ListFolder(ctx context.Context, remotePath string, recursive bool) ([]Metadata, error)

	Move(ctx context.Context, fromPath, toPath string) (*Metadata, error)
	Remove(ctx context.Context, remotePath string) (*Metadata, error)
	MakeDir(ctx context.Context, remotePath string) (*Metadata, error)

	// Upload sends the file at localPath to remotePath. rev is only
	// consulted for WriteModeUpdate.
	Upload(ctx context.Context, localPath, remotePath string, autorename bool, mode WriteMode, rev string) (*Metadata, error)

	// WaitForRemoteChanges blocks on the backend's long-poll endpoint until
	// changes are pending or the timeout elapses. Returns whether changes
	// are waiting.
	WaitForRemoteChanges(ctx context.Context, timeout time.Duration) (bool, error)

	// ListRemoteChanges fetches the pending remote changes.
	// ApplyRemoteChanges replays them onto the local tree.
	ListRemoteChanges(ctx context.Context) (*ChangeSet, error)
	ApplyRemoteChanges(ctx context.Context, changes *ChangeSet) error

	// SpaceUsage is the inexpensive call the connection supervisor uses as
	// a connectivity probe.
	SpaceUsage(ctx context.Context) (*SpaceUsage, error)

	// Root returns the absolute local directory mirrored by this client.
	Root() string
}
