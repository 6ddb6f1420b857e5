package adaptive

import (
	"math"
	"sync"

	"github.com/montanaflynn/stats"
)

// Scorer evaluates each candidate algorithm against observed and
// predicted workload, weighted by that algorithm's measured throughput
// history.
type Scorer struct {
	mu          sync.RWMutex
	performance map[Algorithm]*ring[PerformanceSample]
	minSamples  int
	windowSize  int
}

// NewScorer creates a Scorer. minSamples is how many performance samples
// an algorithm needs before measurements replace its prior; windowSize
// bounds each algorithm's history.
func NewScorer(minSamples, windowSize int) *Scorer {
	return &Scorer{
		performance: make(map[Algorithm]*ring[PerformanceSample]),
		minSamples:  minSamples,
		windowSize:  windowSize,
	}
}

// RecordPerformance appends one performance measurement for an algorithm.
func (s *Scorer) RecordPerformance(algorithm Algorithm, sample PerformanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.performance[algorithm]
	if !ok {
		r = newRing[PerformanceSample](s.windowSize)
		s.performance[algorithm] = r
	}
	r.push(sample)
}

// SampleCount reports how many performance samples an algorithm has.
func (s *Scorer) SampleCount(algorithm Algorithm) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.performance[algorithm]; ok {
		return r.len()
	}
	return 0
}

// ScoreAll scores every candidate algorithm. predicted may be nil when
// prediction is disabled.
func (s *Scorer) ScoreAll(workload WorkloadSample, predicted *WorkloadSample) map[Algorithm]float64 {
	scores := make(map[Algorithm]float64, len(Algorithms()))
	for _, algorithm := range Algorithms() {
		scores[algorithm] = s.Score(algorithm, workload, predicted)
	}
	return scores
}

// Score combines the algorithm's historical throughput with workload,
// concurrency and predicted-drift modifiers.
func (s *Scorer) Score(algorithm Algorithm, workload WorkloadSample, predicted *WorkloadSample) float64 {
	return s.historicalScore(algorithm) *
		workloadModifier(algorithm, workload) *
		concurrencyModifier(algorithm, workload) *
		predictionModifier(algorithm, workload, predicted)
}

// historicalScore is the algorithm's average throughput normalized by its
// peak, or a fixed prior while it has too few samples to judge.
func (s *Scorer) historicalScore(algorithm Algorithm) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.performance[algorithm]
	if !ok || r.len() < s.minSamples {
		return prior(algorithm)
	}

	throughputs := make([]float64, 0, r.len())
	for _, p := range r.all() {
		throughputs = append(throughputs, p.Throughput)
	}

	avg, _ := stats.Mean(throughputs)
	max, _ := stats.Max(throughputs)
	if max <= 0 {
		return 0.5
	}
	return avg / max
}

// prior is the default score for an algorithm with no usable history.
func prior(algorithm Algorithm) float64 {
	switch algorithm {
	case MVCC:
		return 0.8
	case TwoPhaseLocking, TimestampOrdering:
		return 0.7
	case OptimisticConcurrencyControl:
		return 0.6
	default:
		return 0.5
	}
}

// workloadModifier rewards or penalizes an algorithm for the observed
// conflict, read and hotspot mix.
func workloadModifier(algorithm Algorithm, workload WorkloadSample) float64 {
	switch algorithm {
	case TwoPhaseLocking:
		// Lock waits stay short while conflicts are rare.
		if workload.WriteConflictRate < 0.2 {
			return 1.2
		}
		return 0.8
	case OptimisticConcurrencyControl:
		// Validation aborts explode once conflicts appear.
		if workload.WriteConflictRate < 0.1 {
			return 1.3
		}
		return 0.6
	case MVCC:
		// Snapshot reads never block writers.
		if workload.ReadRatio > 0.7 {
			return 1.4
		}
		return 1.0
	case TimestampOrdering:
		// Timestamp conflicts concentrate on hot keys.
		if workload.HotspotRatio < 0.3 {
			return 1.1
		}
		return 0.9
	default:
		return 1.0
	}
}

// concurrencyModifier scales the score by how the algorithm copes with
// the observed concurrency level.
func concurrencyModifier(algorithm Algorithm, workload WorkloadSample) float64 {
	concurrent := float64(workload.ConcurrentCount)
	switch algorithm {
	case TwoPhaseLocking:
		return 1.0 / (1.0 + concurrent/100.0)
	case OptimisticConcurrencyControl:
		if workload.ConcurrentCount < 50 {
			return 1.1
		}
		return 0.9
	case MVCC:
		return 1.0 + math.Min(concurrent/1000.0, 0.2)
	case TimestampOrdering:
		return 1.0 + math.Min(concurrent/2000.0, 0.1)
	default:
		return 1.0
	}
}

// predictionModifier penalizes algorithms in proportion to their
// sensitivity to the predicted workload drift. With prediction disabled
// (predicted == nil) it is neutral.
func predictionModifier(algorithm Algorithm, workload WorkloadSample, predicted *WorkloadSample) float64 {
	if predicted == nil {
		return 1.0
	}

	readDrift := math.Abs(predicted.ReadRatio - workload.ReadRatio)
	conflictDrift := math.Abs(predicted.WriteConflictRate - workload.WriteConflictRate)

	switch algorithm {
	case MVCC:
		return 1.0 - (readDrift+conflictDrift)*0.3
	case TwoPhaseLocking:
		return 1.0 - conflictDrift*0.5
	case OptimisticConcurrencyControl:
		return 1.0 - conflictDrift*0.8
	case TimestampOrdering:
		return 1.0 - conflictDrift*0.4
	default:
		return 1.0
	}
}
