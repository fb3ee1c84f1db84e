//go:build !linux

package monitor

import "github.com/rjeczalik/notify"

// watchEvents uses the portable event set. Rename events carry no pairing
// cookie here; the translator resolves them by probing the path.
var watchEvents = []notify.Event{notify.All}

func classify(e notify.Event) rawKind {
	switch e {
	case notify.Create:
		return rawCreate
	case notify.Remove:
		return rawRemove
	case notify.Write:
		return rawWrite
	case notify.Rename:
		return rawMoveFrom
	default:
		return rawIgnore
	}
}

func moveCookie(notify.EventInfo) uint32 {
	return 0
}

func eventIsDir(ei notify.EventInfo) bool {
	return statIsDir(ei.Path())
}
