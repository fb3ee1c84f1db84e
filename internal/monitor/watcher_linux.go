//go:build linux

package monitor

import (
	"github.com/rjeczalik/notify"
	"golang.org/x/sys/unix"
)

// watchEvents subscribes to the inotify events the translator understands.
// InMovedFrom/InMovedTo carry kernel cookies, so renames inside the tree
// surface as true Moved events.
var watchEvents = []notify.Event{
	notify.InCreate,
	notify.InDelete,
	notify.InModify,
	notify.InMovedFrom,
	notify.InMovedTo,
}

func classify(e notify.Event) rawKind {
	switch e {
	case notify.InCreate:
		return rawCreate
	case notify.InDelete:
		return rawRemove
	case notify.InModify:
		return rawWrite
	case notify.InMovedFrom:
		return rawMoveFrom
	case notify.InMovedTo:
		return rawMoveTo
	default:
		return rawIgnore
	}
}

// moveCookie extracts the kernel rename cookie pairing a move-from with
// its move-to.
func moveCookie(ei notify.EventInfo) uint32 {
	if sys, ok := ei.Sys().(*unix.InotifyEvent); ok {
		return sys.Cookie
	}

	return 0
}

// eventIsDir reads the IN_ISDIR bit, which is present even on delete and
// move-from events whose path no longer exists.
func eventIsDir(ei notify.EventInfo) bool {
	if sys, ok := ei.Sys().(*unix.InotifyEvent); ok {
		return sys.Mask&unix.IN_ISDIR != 0
	}

	return statIsDir(ei.Path())
}
