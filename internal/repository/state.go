package repository

import "fmt"

// State is where a repository is in its lifecycle.
type State int

const (
	// Unregistered is a known repository that has never been scanned.
	Unregistered State = iota
	Scanning
	Indexing
	Ready
	// Updating means a change event is being applied.
	Updating
	// Stopped means watching has ended; the graph is kept.
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Scanning:
		return "scanning"
	case Indexing:
		return "indexing"
	case Ready:
		return "ready"
	case Updating:
		return "updating"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal moves out of each state. Error is reachable
// from every state and is not listed.
var transitions = map[State][]State{
	Unregistered: {Scanning},
	Scanning:     {Indexing},
	Indexing:     {Ready},
	Ready:        {Updating, Scanning, Stopped},
	Updating:     {Ready, Stopped},
	Stopped:      {Ready, Scanning},
	Error:        {Scanning, Stopped},
}

// CanTransition reports whether a repository may move from one state to another.
func CanTransition(from, to State) bool {
	if to == Error {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	RepoID string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("repository %s: cannot move from %s to %s", e.RepoID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
