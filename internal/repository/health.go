package repository

import (
	"fmt"
	"time"

	"github.com/mvp-joe/lattice/internal/indexer"
)

// DefaultStaleAfter is how long an index stays fresh without updates.
const DefaultStaleAfter = 24 * time.Hour

// HealthState classifies a repository.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Stale     HealthState = "stale"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// HealthStatus is the result of a health check. ErrorCount is set for
// Degraded and Reason for Unhealthy.
type HealthStatus struct {
	State      HealthState `json:"state"`
	ErrorCount int         `json:"error_count,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

func (h HealthStatus) String() string {
	switch h.State {
	case Degraded:
		return fmt.Sprintf("%s (%d errors)", h.State, h.ErrorCount)
	case Unhealthy:
		return fmt.Sprintf("%s: %s", h.State, h.Reason)
	}
	return string(h.State)
}

// fromIndexStats grades a finished index. A run where fewer than one in ten
// files failed is degraded; anything worse is unhealthy.
func fromIndexStats(st indexer.Stats) HealthStatus {
	total := st.FilesProcessed + st.ErrorCount
	switch {
	case st.ErrorCount == 0:
		return HealthStatus{State: Healthy}
	case st.ErrorCount*10 < total:
		return HealthStatus{State: Degraded, ErrorCount: st.ErrorCount}
	}
	return HealthStatus{
		State:  Unhealthy,
		Reason: fmt.Sprintf("high error rate: %d/%d files failed", st.ErrorCount, total),
	}
}
