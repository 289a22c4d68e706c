package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_mcp_tool_calls_total",
		Help: "Total MCP tool calls by tool and outcome",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_mcp_tool_duration_seconds",
		Help:    "MCP tool call latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"tool"})
)

// ToolMetrics tracks call statistics per tool. Safe for concurrent use.
type ToolMetrics struct {
	mu    sync.RWMutex
	tools map[string]*toolCounters
}

type toolCounters struct {
	calls    int64
	failures int64
	lastCall time.Time
	lastErr  string
	total    time.Duration
}

// ToolSnapshot is a point-in-time copy of one tool's counters.
type ToolSnapshot struct {
	Tool          string    `json:"tool"`
	Calls         int64     `json:"calls"`
	Failures      int64     `json:"failures"`
	LastCall      time.Time `json:"last_call"`
	LastError     string    `json:"last_error,omitempty"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
}

func NewToolMetrics() *ToolMetrics {
	return &ToolMetrics{tools: make(map[string]*toolCounters)}
}

// Record counts one call. failed covers both tool errors and error results.
func (m *ToolMetrics) Record(tool string, d time.Duration, failed bool, errMsg string) {
	status := "ok"
	if failed {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.tools[tool]
	if !ok {
		c = &toolCounters{}
		m.tools[tool] = c
	}
	c.calls++
	c.total += d
	c.lastCall = time.Now()
	if failed {
		c.failures++
		c.lastErr = errMsg
	}
}

// Snapshot returns counters for every tool that has been called, by name.
func (m *ToolMetrics) Snapshot() []ToolSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolSnapshot, 0, len(m.tools))
	for name, c := range m.tools {
		snap := ToolSnapshot{
			Tool:      name,
			Calls:     c.calls,
			Failures:  c.failures,
			LastCall:  c.lastCall,
			LastError: c.lastErr,
		}
		if c.calls > 0 {
			snap.AvgDurationMs = float64(c.total.Microseconds()) / float64(c.calls) / 1000
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

// instrument wraps a handler with call accounting.
func instrument(tool string, m *ToolMetrics, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	if m == nil {
		return h
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, req)

		var msg string
		failed := err != nil
		if err != nil {
			msg = err.Error()
		} else if res != nil && res.IsError {
			failed = true
			if len(res.Content) > 0 {
				if text, ok := mcp.AsTextContent(res.Content[0]); ok {
					msg = text.Text
				}
			}
		}
		m.Record(tool, time.Since(start), failed, msg)
		return res, err
	}
}
