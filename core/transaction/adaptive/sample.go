package adaptive

import "time"

// WorkloadSample is one immutable observation of the local transaction
// workload, appended by the executing engine after each sampling window.
type WorkloadSample struct {
	// ReadRatio is the fraction of operations that were reads, in [0,1].
	ReadRatio float64 `json:"read_ratio"`
	// WriteConflictRate is the observed write-write conflict rate, in [0,1].
	WriteConflictRate float64 `json:"write_conflict_rate"`
	// AvgDuration is the mean transaction duration over the window.
	AvgDuration time.Duration `json:"avg_duration"`
	// ConcurrentCount is the number of concurrently active transactions.
	ConcurrentCount int `json:"concurrent_count"`
	// HotspotRatio is the fraction of operations hitting hot keys, in [0,1].
	HotspotRatio float64   `json:"hotspot_ratio"`
	Timestamp    time.Time `json:"timestamp"`
}

// PerformanceSample is one immutable measurement of how an algorithm
// performed while it was active.
type PerformanceSample struct {
	Throughput     float64       `json:"throughput"` // transactions per second
	AvgLatency     time.Duration `json:"avg_latency"`
	AbortRate      float64       `json:"abort_rate"`
	DeadlockRate   float64       `json:"deadlock_rate"`
	CPUUtilization float64       `json:"cpu_utilization"`
	MemoryOverhead int           `json:"memory_overhead"`
}

// ring is a capacity-bounded FIFO buffer. At capacity the oldest entry
// is evicted, strictly FIFO.
type ring[T any] struct {
	buf []T
	cap int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, 0, capacity), cap: capacity}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) == r.cap {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, v)
}

func (r *ring[T]) len() int { return len(r.buf) }

// lastN returns up to n most recent entries, oldest first.
func (r *ring[T]) lastN(n int) []T {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]T, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}

// all returns a copy of the buffer, oldest first.
func (r *ring[T]) all() []T {
	return r.lastN(len(r.buf))
}
