package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScorer_PriorsWithoutHistory(t *testing.T) {
	s := NewScorer(100, 1000)

	require.Equal(t, 0.8, s.historicalScore(MVCC))
	require.Equal(t, 0.7, s.historicalScore(TwoPhaseLocking))
	require.Equal(t, 0.7, s.historicalScore(TimestampOrdering))
	require.Equal(t, 0.6, s.historicalScore(OptimisticConcurrencyControl))
}

func TestScorer_MeasurementsReplacePriorAfterMinSamples(t *testing.T) {
	s := NewScorer(3, 1000)

	// Below the threshold the prior holds.
	s.RecordPerformance(MVCC, PerformanceSample{Throughput: 1000})
	s.RecordPerformance(MVCC, PerformanceSample{Throughput: 500})
	require.Equal(t, 0.8, s.historicalScore(MVCC))

	s.RecordPerformance(MVCC, PerformanceSample{Throughput: 1500})
	require.Equal(t, 3, s.SampleCount(MVCC))

	// avg(1000,500,1500)/max(1500) = 1000/1500.
	require.InDelta(t, 2.0/3.0, s.historicalScore(MVCC), 1e-9)
}

func TestWorkloadModifier_ConflictSensitivity(t *testing.T) {
	lowConflict := WorkloadSample{WriteConflictRate: 0.05, ReadRatio: 0.5, HotspotRatio: 0.5}
	highConflict := WorkloadSample{WriteConflictRate: 0.4, ReadRatio: 0.5, HotspotRatio: 0.5}

	require.Equal(t, 1.2, workloadModifier(TwoPhaseLocking, lowConflict))
	require.Equal(t, 0.8, workloadModifier(TwoPhaseLocking, highConflict))

	require.Equal(t, 1.3, workloadModifier(OptimisticConcurrencyControl, lowConflict))
	require.Equal(t, 0.6, workloadModifier(OptimisticConcurrencyControl, highConflict))
}

func TestWorkloadModifier_ReadAndHotspotSensitivity(t *testing.T) {
	readHeavy := WorkloadSample{ReadRatio: 0.9, HotspotRatio: 0.5}
	writeHeavy := WorkloadSample{ReadRatio: 0.3, HotspotRatio: 0.5}

	require.Equal(t, 1.4, workloadModifier(MVCC, readHeavy))
	require.Equal(t, 1.0, workloadModifier(MVCC, writeHeavy))

	uniform := WorkloadSample{HotspotRatio: 0.1}
	skewed := WorkloadSample{HotspotRatio: 0.6}
	require.Equal(t, 1.1, workloadModifier(TimestampOrdering, uniform))
	require.Equal(t, 0.9, workloadModifier(TimestampOrdering, skewed))
}

func TestConcurrencyModifier(t *testing.T) {
	low := WorkloadSample{ConcurrentCount: 10}
	high := WorkloadSample{ConcurrentCount: 400}

	// 2PL degrades smoothly as lock contention grows.
	require.InDelta(t, 1.0/1.1, concurrencyModifier(TwoPhaseLocking, low), 1e-9)
	require.InDelta(t, 1.0/5.0, concurrencyModifier(TwoPhaseLocking, high), 1e-9)

	// OCC flips from bonus to penalty at 50 concurrent transactions.
	require.Equal(t, 1.1, concurrencyModifier(OptimisticConcurrencyControl, low))
	require.Equal(t, 0.9, concurrencyModifier(OptimisticConcurrencyControl, high))

	// MVCC and TO gain bounded bonuses from concurrency.
	require.InDelta(t, 1.01, concurrencyModifier(MVCC, low), 1e-9)
	require.InDelta(t, 1.2, concurrencyModifier(MVCC, WorkloadSample{ConcurrentCount: 5000}), 1e-9)
	require.InDelta(t, 1.1, concurrencyModifier(TimestampOrdering, WorkloadSample{ConcurrentCount: 5000}), 1e-9)
}

func TestPredictionModifier(t *testing.T) {
	workload := WorkloadSample{ReadRatio: 0.8, WriteConflictRate: 0.1}

	require.Equal(t, 1.0, predictionModifier(MVCC, workload, nil))

	// Conflict rate predicted to double: OCC takes the steepest penalty.
	predicted := WorkloadSample{ReadRatio: 0.8, WriteConflictRate: 0.2}
	occ := predictionModifier(OptimisticConcurrencyControl, workload, &predicted)
	mvcc := predictionModifier(MVCC, workload, &predicted)
	require.InDelta(t, 1.0-0.1*0.8, occ, 1e-9)
	require.Less(t, occ, mvcc)
}

func TestScoreAll_ReadHeavyWorkloadFavorsMVCC(t *testing.T) {
	s := NewScorer(100, 1000)

	workload := WorkloadSample{
		ReadRatio:         0.95,
		WriteConflictRate: 0.02,
		AvgDuration:       5 * time.Millisecond,
		ConcurrentCount:   100,
		HotspotRatio:      0.1,
	}

	scores := s.ScoreAll(workload, nil)
	require.Len(t, scores, len(Algorithms()))
	for _, algorithm := range Algorithms() {
		if algorithm == MVCC {
			continue
		}
		require.Greater(t, scores[MVCC], scores[algorithm],
			"MVCC should dominate a read-heavy workload over %s", algorithm)
	}
}
