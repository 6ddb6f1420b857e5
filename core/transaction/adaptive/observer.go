package adaptive

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// currentWindow is how many recent samples Current averages over.
const currentWindow = 10

// Observer keeps the rolling workload history for one node. Samples are
// appended by the executing engine and never mutated; the ring evicts
// strictly FIFO at capacity.
type Observer struct {
	mu      sync.RWMutex
	history *ring[WorkloadSample]
}

// NewObserver creates an Observer bounded to windowSize samples.
func NewObserver(windowSize int) *Observer {
	return &Observer{history: newRing[WorkloadSample](windowSize)}
}

// Record appends one workload sample.
func (o *Observer) Record(sample WorkloadSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history.push(sample)
}

// Len reports how many samples are currently retained.
func (o *Observer) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.history.len()
}

// Current averages the most recent samples into a single workload
// characterization. With an empty history it returns a neutral default
// biased toward the most workload-tolerant algorithm.
func (o *Observer) Current() WorkloadSample {
	o.mu.RLock()
	recent := o.history.lastN(currentWindow)
	o.mu.RUnlock()

	if len(recent) == 0 {
		return WorkloadSample{
			ReadRatio:         0.8,
			WriteConflictRate: 0.1,
			AvgDuration:       10 * time.Millisecond,
			ConcurrentCount:   10,
			HotspotRatio:      0.2,
			Timestamp:         time.Now(),
		}
	}

	readRatios := make([]float64, len(recent))
	conflictRates := make([]float64, len(recent))
	hotspotRatios := make([]float64, len(recent))
	var durationSum time.Duration
	maxConcurrent := 0
	for i, s := range recent {
		readRatios[i] = s.ReadRatio
		conflictRates[i] = s.WriteConflictRate
		hotspotRatios[i] = s.HotspotRatio
		durationSum += s.AvgDuration
		if s.ConcurrentCount > maxConcurrent {
			maxConcurrent = s.ConcurrentCount
		}
	}

	readRatio, _ := stats.Mean(readRatios)
	conflictRate, _ := stats.Mean(conflictRates)
	hotspotRatio, _ := stats.Mean(hotspotRatios)

	return WorkloadSample{
		ReadRatio:         readRatio,
		WriteConflictRate: conflictRate,
		AvgDuration:       durationSum / time.Duration(len(recent)),
		ConcurrentCount:   maxConcurrent,
		HotspotRatio:      hotspotRatio,
		Timestamp:         time.Now(),
	}
}

// recentSamples returns up to n most recent samples, oldest first.
func (o *Observer) recentSamples(n int) []WorkloadSample {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.history.lastN(n)
}
