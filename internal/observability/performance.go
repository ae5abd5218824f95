package observability

import (
	"sort"
	"sync"
	"time"
)

// PerformanceRecord captures one answered query for the rolling
// performance window served at /api/performance.
type PerformanceRecord struct {
	Timestamp  time.Time        `json:"timestamp"`
	Tokens     int              `json:"tokens"`
	DurationMs int64            `json:"duration_ms"`
	Cached     bool             `json:"cached"`
	Error      bool             `json:"error"`
	Steps      map[string]int64 `json:"per_step_duration_ms,omitempty"`
}

// PerformanceLog is an append-only ring buffer of the last N records.
type PerformanceLog struct {
	mu      sync.Mutex
	records []PerformanceRecord
	next    int
	full    bool
}

type PerformanceSnapshot struct {
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P95DurationMs int64   `json:"p95_duration_ms"`
	TotalTokens   int     `json:"total_tokens"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	ErrorRate     float64 `json:"error_rate"`
}

func NewPerformanceLog(size int) *PerformanceLog {
	if size <= 0 {
		size = 1000
	}
	return &PerformanceLog{records: make([]PerformanceRecord, size)}
}

func (p *PerformanceLog) Append(rec PerformanceRecord) {
	if p == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	p.mu.Lock()
	p.records[p.next] = rec
	p.next++
	if p.next == len(p.records) {
		p.next = 0
		p.full = true
	}
	p.mu.Unlock()
}

// Recent returns up to n records, newest first.
func (p *PerformanceLog) Recent(n int) []PerformanceRecord {
	if p == nil || n <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	count := p.next
	if p.full {
		count = len(p.records)
	}
	if n > count {
		n = count
	}
	out := make([]PerformanceRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := p.next - i
		if idx < 0 {
			idx += len(p.records)
		}
		out = append(out, p.records[idx])
	}
	return out
}

func (p *PerformanceLog) Snapshot() PerformanceSnapshot {
	var snap PerformanceSnapshot
	if p == nil {
		return snap
	}
	p.mu.Lock()
	count := p.next
	if p.full {
		count = len(p.records)
	}
	durations := make([]int64, 0, count)
	var sumMs int64
	var cached, errored int
	for i := 0; i < count; i++ {
		r := p.records[i]
		durations = append(durations, r.DurationMs)
		sumMs += r.DurationMs
		snap.TotalTokens += r.Tokens
		if r.Cached {
			cached++
		}
		if r.Error {
			errored++
		}
	}
	p.mu.Unlock()

	snap.Count = count
	if count == 0 {
		return snap
	}
	snap.AvgDurationMs = float64(sumMs) / float64(count)
	snap.CacheHitRate = float64(cached) / float64(count)
	snap.ErrorRate = float64(errored) / float64(count)

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := (95*count - 1) / 100
	if idx < 0 {
		idx = 0
	}
	snap.P95DurationMs = durations[idx]
	return snap
}
