package watcher

import (
	"errors"
	"fmt"
)

// ErrWatcher matches every *Error with errors.Is.
var ErrWatcher = errors.New("watcher error")

// ErrStopped is returned by operations on a stopped watcher.
var ErrStopped = errors.New("watcher stopped")

// Error reports a failure of the OS notification subsystem for one root.
type Error struct {
	Root string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("watcher %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("watcher %s %s: %v", e.Op, e.Root, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrWatcher
}
