package repository

import "errors"

var (
	ErrNotFound          = errors.New("repository not registered")
	ErrAlreadyRegistered = errors.New("repository already registered")
	ErrInvalidConfig     = errors.New("invalid repository config")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotWatching       = errors.New("repository is not being watched")
	ErrClosed            = errors.New("repository manager is closed")
)
