// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names recorded by the session layer.
const (
	OpGenerate = "generate"
	OpStream   = "stream"
	OpRetry    = "retry"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	TotalPromptTokens     int64
	TotalCompletionTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	TotalPromptTokens     int64
	TotalCompletionTokens int64
	AvgCompletionTokens   float64
}

// Snapshot represents the full process statistics at a point in time,
// keyed by operation name.
type Snapshot struct {
	UptimeSeconds float64
	Operations    map[string]OperationSnapshot
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.RecordGeneration(op, duration, 0, 0)
}

// RecordGeneration records timing and token counts for a generation turn.
// Token counts are estimates (~4 chars per token) since not every backend
// reports usage.
func (c *Collector) RecordGeneration(op string, duration time.Duration, promptTokens, completionTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalPromptTokens += promptTokens
	m.TotalCompletionTokens += completionTokens
}

// TakeSnapshot returns the current statistics.
func (c *Collector) TakeSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make(map[string]OperationSnapshot, len(c.ops)),
	}

	for op, m := range c.ops {
		if m.Count == 0 {
			continue
		}
		minMs := m.MinTime.Milliseconds()
		if m.MinTime == time.Duration(math.MaxInt64) {
			minMs = 0
		}
		snap.Operations[op] = OperationSnapshot{
			Count:                 m.Count,
			TotalTimeMs:           m.TotalTime.Milliseconds(),
			AvgTimeMs:             float64(m.TotalTime.Milliseconds()) / float64(m.Count),
			MinTimeMs:             minMs,
			MaxTimeMs:             m.MaxTime.Milliseconds(),
			TotalPromptTokens:     m.TotalPromptTokens,
			TotalCompletionTokens: m.TotalCompletionTokens,
			AvgCompletionTokens:   float64(m.TotalCompletionTokens) / float64(m.Count),
		}
	}

	return snap
}
