package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewController(cfg, logger, nil)
}

func TestController_StartsOnMVCC(t *testing.T) {
	c := testController(t, DefaultConfig())
	require.Equal(t, MVCC, c.CurrentAlgorithm())
}

func TestController_StaysWithOptimalAlgorithm(t *testing.T) {
	c := testController(t, DefaultConfig())

	for i := 0; i < 20; i++ {
		c.RecordWorkload(readHeavySample(50))
	}

	decision := c.MakeDecision()
	require.Equal(t, MVCC, decision.Recommended)
	require.False(t, c.ApplyDecision(decision), "no switch when the current algorithm is already best")
	require.Equal(t, MVCC, c.CurrentAlgorithm())
	require.NotEmpty(t, decision.Reasoning)
}

func TestController_SwitchesWhenEvidenceIsStrong(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesForAdaptation = 1
	cfg.EnablePrediction = false
	c := testController(t, cfg)

	// A write-leaning, low-conflict, low-concurrency workload where OCC
	// shines and MVCC's read bonus does not apply.
	for i := 0; i < 20; i++ {
		c.RecordWorkload(WorkloadSample{
			ReadRatio:         0.2,
			WriteConflictRate: 0.05,
			AvgDuration:       5 * time.Millisecond,
			ConcurrentCount:   10,
			HotspotRatio:      0.5,
			Timestamp:         time.Now(),
		})
	}

	// Measured history: OCC consistently strong, the rest erratic.
	for _, algorithm := range []Algorithm{MVCC, TwoPhaseLocking, TimestampOrdering} {
		c.RecordPerformance(algorithm, PerformanceSample{Throughput: 1000})
		c.RecordPerformance(algorithm, PerformanceSample{Throughput: 10})
		c.RecordPerformance(algorithm, PerformanceSample{Throughput: 10})
	}
	c.RecordPerformance(OptimisticConcurrencyControl, PerformanceSample{Throughput: 1000})
	c.RecordPerformance(OptimisticConcurrencyControl, PerformanceSample{Throughput: 1000})

	decision := c.MakeDecision()
	require.Equal(t, OptimisticConcurrencyControl, decision.Recommended)
	require.Greater(t, decision.ExpectedImprovement, cfg.AlgorithmSwitchThreshold)
	require.Greater(t, decision.Confidence, 0.7)

	require.True(t, c.ApplyDecision(decision))
	require.Equal(t, OptimisticConcurrencyControl, c.CurrentAlgorithm())

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.AlgorithmSwitches)
	require.Len(t, stats.Improvements, 1)
}

func TestController_ApplyDecisionGating(t *testing.T) {
	c := testController(t, DefaultConfig())

	// Same algorithm: no switch regardless of numbers.
	require.False(t, c.ApplyDecision(Decision{
		Recommended: MVCC, ExpectedImprovement: 1.0, Confidence: 1.0,
	}))

	// Improvement below threshold.
	require.False(t, c.ApplyDecision(Decision{
		Recommended: TwoPhaseLocking, ExpectedImprovement: 0.05, Confidence: 1.0,
	}))

	// Confidence too low.
	require.False(t, c.ApplyDecision(Decision{
		Recommended: TwoPhaseLocking, ExpectedImprovement: 1.0, Confidence: 0.5,
	}))

	require.Equal(t, MVCC, c.CurrentAlgorithm())
	require.Zero(t, c.Stats().AlgorithmSwitches)
}

func TestController_DecisionHistoryBounded(t *testing.T) {
	c := testController(t, DefaultConfig())

	for i := 0; i < decisionHistorySize+25; i++ {
		c.MakeDecision()
	}

	require.Len(t, c.RecentDecisions(), decisionHistorySize)
	require.Equal(t, uint64(decisionHistorySize+25), c.Stats().TotalDecisions)
}

func TestConfidence_NeutralWithFewScores(t *testing.T) {
	require.Equal(t, 0.5, confidence(map[Algorithm]float64{MVCC: 1.0}))
	require.Equal(t, 0.5, confidence(map[Algorithm]float64{}))

	// Two distinct scores yield the normalized gap.
	require.InDelta(t, 0.5, confidence(map[Algorithm]float64{MVCC: 1.0, TwoPhaseLocking: 0.5}), 1e-9)
}
