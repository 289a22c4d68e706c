package watcher

import (
	"fmt"
	"time"
)

// ChangeKind classifies a debounced filesystem change.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Modified
	Deleted
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// ChangeEvent is one debounced change to a path.
//
// Path is the affected file. For Renamed it is the new name and OldPath the
// previous one. A Deleted event may also carry OldPath when a file was renamed
// and then removed within one debounce window; both paths are gone. Dir is set
// when a watched directory was removed, in which case every file below Path
// is gone.
type ChangeEvent struct {
	Kind    ChangeKind
	Path    string
	OldPath string
	Root    string
	Dir     bool
	At      time.Time
}

func (e ChangeEvent) String() string {
	if e.OldPath != "" {
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.OldPath, e.Path)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// supersede applies the last-write-wins rule: next replaces the pending
// event's kind and timestamp. A pending rename keeps its old path so the
// previous name is still removed downstream.
func supersede(pending, next ChangeEvent) ChangeEvent {
	if pending.Kind == Renamed && next.OldPath == "" {
		switch next.Kind {
		case Created, Modified:
			next.Kind = Renamed
			next.OldPath = pending.OldPath
		case Deleted:
			next.OldPath = pending.OldPath
		}
	}
	return next
}
