package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{Unregistered, Scanning, true},
		{Scanning, Indexing, true},
		{Indexing, Ready, true},
		{Ready, Updating, true},
		{Updating, Ready, true},
		{Ready, Stopped, true},
		{Stopped, Ready, true},
		{Error, Scanning, true},
		{Unregistered, Ready, false},
		{Scanning, Ready, false},
		{Updating, Scanning, false},
		{Stopped, Updating, false},
		{Unregistered, Stopped, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	for s := Unregistered; s <= Error; s++ {
		assert.True(t, CanTransition(s, Error), "%s -> error", s)
	}
}

func TestTransitionError(t *testing.T) {
	t.Parallel()
	err := &TransitionError{RepoID: "r1", From: Ready, To: Indexing}
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "repository r1: cannot move from ready to indexing", err.Error())
}

func TestRepositoryConfig(t *testing.T) {
	t.Parallel()
	cfg := NewRepositoryConfig("r1", "/tmp/project")
	assert.Equal(t, "project", cfg.Name)
	assert.Equal(t, DefaultMaxFileSize, cfg.MaxFileSize)
	assert.NoError(t, cfg.Validate())

	tagged := cfg.WithMetadata("team", "core")
	assert.Equal(t, "core", tagged.Metadata["team"])
	assert.Nil(t, cfg.Metadata)

	err := RepositoryConfig{MaxFileSize: -1}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "repository id is required")
	assert.ErrorContains(t, err, "repository root is required")
}
