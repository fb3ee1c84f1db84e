package monitor

import (
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Coalesce rewrites a drained batch into the set of events worth
// dispatching, in three passes:
//
//   - folder-move subsumption: a Moved directory event removes every other
//     Moved event for a path strictly inside the moved tree;
//   - folder-delete subsumption: the same rule for Deleted events;
//   - create+modify fusion: a Created event removes all Modified events for
//     the identical source path.
//
// The result is an unordered set; dispatch order carries no meaning.
func Coalesce(events []*FileEvent) mapset.Set[*FileEvent] {
	set := mapset.NewThreadUnsafeSet(events...)

	subsumeFolderChildren(set, events, EventMoved)
	subsumeFolderChildren(set, events, EventDeleted)
	fuseCreateModify(set, events)

	return set
}

// subsumeFolderChildren removes events of the given type whose source path
// lies strictly inside a directory event of the same type.
func subsumeFolderChildren(set mapset.Set[*FileEvent], events []*FileEvent, t EventType) {
	for _, parent := range events {
		if parent.Type != t || !parent.IsDirectory {
			continue
		}

		prefix := parent.SrcPath + string(os.PathSeparator)

		for _, child := range events {
			if child != parent && child.Type == t && strings.HasPrefix(child.SrcPath, prefix) {
				set.Remove(child)
			}
		}
	}
}

// fuseCreateModify removes Modified events for paths that also have a
// Created event in the batch: the creation upload captures the final
// content, so the modification is redundant.
func fuseCreateModify(set mapset.Set[*FileEvent], events []*FileEvent) {
	for _, created := range events {
		if created.Type != EventCreated {
			continue
		}

		for _, other := range events {
			if other.Type == EventModified && other.SrcPath == created.SrcPath {
				set.Remove(other)
			}
		}
	}
}
