package adaptive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sushant-115/gojotx/pkg/telemetry"
)

// decisionHistorySize bounds the retained decision audit trail.
const decisionHistorySize = 100

// Decision is the outcome of one scoring pass: which algorithm to run,
// how sure the scorer is, and why.
type Decision struct {
	Recommended Algorithm `json:"recommended_algorithm"`
	// Confidence is the normalized gap between the best and second-best
	// scores, in [0,1].
	Confidence float64 `json:"confidence"`
	// ExpectedImprovement is (best-current)/current, signed.
	ExpectedImprovement float64 `json:"expected_improvement"`
	// Reasoning is an ordered, human-readable rationale.
	Reasoning []string `json:"reasoning"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a snapshot of the controller's counters.
type Stats struct {
	TotalDecisions      uint64
	AlgorithmSwitches   uint64
	AverageDecisionTime time.Duration
	// Improvements records the expected improvement of every applied switch.
	Improvements []float64
}

// Controller orchestrates observer, predictor and scorer, and owns the
// active-algorithm cell. Constructed once per node and handed to callers
// by reference; there is no ambient global state.
type Controller struct {
	cfg       Config
	logger    *zap.Logger
	metrics   *telemetry.EngineMetrics
	observer  *Observer
	predictor *Predictor
	scorer    *Scorer

	// current is the active algorithm. Swaps are atomic; transactions
	// already running keep the algorithm they started under.
	current *atomic.Int32

	mu        sync.Mutex
	decisions *ring[Decision]
	stats     Stats
}

// NewController creates a Controller starting on MVCC, the safest
// default for unknown workloads.
func NewController(cfg Config, logger *zap.Logger, metrics *telemetry.EngineMetrics) *Controller {
	if metrics == nil {
		metrics = telemetry.NoopEngineMetrics()
	}
	observer := NewObserver(cfg.PerformanceWindowSize)
	return &Controller{
		cfg:       cfg,
		logger:    logger.Named("adaptive"),
		metrics:   metrics,
		observer:  observer,
		predictor: NewPredictor(observer),
		scorer:    NewScorer(cfg.MinSamplesForAdaptation, cfg.PerformanceWindowSize),
		current:   atomic.NewInt32(int32(MVCC)),
		decisions: newRing[Decision](decisionHistorySize),
	}
}

// CurrentAlgorithm returns the active algorithm.
func (c *Controller) CurrentAlgorithm() Algorithm {
	return Algorithm(c.current.Load())
}

// RecordWorkload feeds one workload sample into the observer.
func (c *Controller) RecordWorkload(sample WorkloadSample) {
	c.observer.Record(sample)
}

// RecordPerformance feeds one performance measurement for an algorithm.
func (c *Controller) RecordPerformance(algorithm Algorithm, sample PerformanceSample) {
	c.scorer.RecordPerformance(algorithm, sample)
}

// MakeDecision scores all candidates against the current (and, when
// enabled, predicted) workload and returns the recommendation. The
// decision is appended to the audit history but not applied.
func (c *Controller) MakeDecision() Decision {
	start := time.Now()

	workload := c.observer.Current()
	current := c.CurrentAlgorithm()

	var predicted *WorkloadSample
	if c.cfg.EnablePrediction {
		p := c.predictor.Predict()
		predicted = &p
	}

	scores := c.scorer.ScoreAll(workload, predicted)

	best := current
	bestScore := scores[current]
	for _, algorithm := range Algorithms() {
		if scores[algorithm] > bestScore {
			best = algorithm
			bestScore = scores[algorithm]
		}
	}

	improvement := 0.0
	if currentScore := scores[current]; currentScore > 0 {
		improvement = (bestScore - currentScore) / currentScore
	}

	decision := Decision{
		Recommended:         best,
		Confidence:          confidence(scores),
		ExpectedImprovement: improvement,
		Reasoning:           reasoning(workload, current, best, improvement),
		Timestamp:           time.Now(),
	}

	c.mu.Lock()
	c.decisions.push(decision)
	c.stats.TotalDecisions++
	// Running average of decision latency.
	n := float64(c.stats.TotalDecisions)
	prev := float64(c.stats.AverageDecisionTime)
	c.stats.AverageDecisionTime = time.Duration((prev*(n-1) + float64(time.Since(start))) / n)
	c.mu.Unlock()

	return decision
}

// ApplyDecision hot-swaps the active algorithm if the decision recommends
// a different one with enough expected improvement and confidence. It
// reports whether a switch happened.
func (c *Controller) ApplyDecision(decision Decision) bool {
	current := c.CurrentAlgorithm()

	if decision.Recommended == current ||
		decision.ExpectedImprovement <= c.cfg.AlgorithmSwitchThreshold ||
		decision.Confidence <= 0.7 {
		return false
	}

	if !c.current.CompareAndSwap(int32(current), int32(decision.Recommended)) {
		// Lost a race with another apply; that swap's decision stands.
		return false
	}

	c.mu.Lock()
	c.stats.AlgorithmSwitches++
	c.stats.Improvements = append(c.stats.Improvements, decision.ExpectedImprovement)
	c.mu.Unlock()

	c.metrics.AlgorithmSwaps.Add(context.Background(), 1)
	c.logger.Info("Switching concurrency control algorithm",
		zap.Stringer("from", current),
		zap.Stringer("to", decision.Recommended),
		zap.Float64("expected_improvement", decision.ExpectedImprovement),
		zap.Float64("confidence", decision.Confidence),
	)
	return true
}

// Run drives the periodic decision loop until ctx is canceled. A cycle
// that falls behind is skipped, not queued.
func (c *Controller) Run(ctx context.Context) {
	if !c.cfg.EnableAdaptation {
		c.logger.Info("Adaptation disabled, keeping initial algorithm",
			zap.Stringer("algorithm", c.CurrentAlgorithm()))
		return
	}

	interval := time.Duration(c.cfg.AdaptationIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ApplyDecision(c.MakeDecision())
		}
	}
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.stats
	snapshot.Improvements = append([]float64(nil), c.stats.Improvements...)
	return snapshot
}

// RecentDecisions returns the retained decision history, oldest first.
func (c *Controller) RecentDecisions() []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decisions.all()
}

// confidence is the gap between the best and second-best scores,
// normalized by the best and clamped to [0,1]. Fewer than two usable
// scores yields the neutral 0.5.
func confidence(scores map[Algorithm]float64) float64 {
	best, second := 0.0, 0.0
	nonzero := 0
	for _, score := range scores {
		if score > 0 {
			nonzero++
		}
		if score > best {
			second = best
			best = score
		} else if score > second {
			second = score
		}
	}

	if nonzero < 2 || best <= 0 {
		return 0.5
	}
	gap := (best - second) / best
	return clamp01(gap)
}

// reasoning summarizes the workload and the rationale for the choice.
func reasoning(workload WorkloadSample, current, recommended Algorithm, improvement float64) []string {
	lines := []string{
		fmt.Sprintf("Current workload: %.0f%% reads, %.1f%% write conflicts, %d concurrent txns",
			workload.ReadRatio*100, workload.WriteConflictRate*100, workload.ConcurrentCount),
	}

	if current == recommended {
		lines = append(lines, fmt.Sprintf("Staying with %s: still optimal for current conditions", current))
		return lines
	}

	lines = append(lines, fmt.Sprintf("Switching from %s to %s for %.1f%% improvement",
		current, recommended, improvement*100))

	switch recommended {
	case MVCC:
		if workload.ReadRatio > 0.7 {
			lines = append(lines, "MVCC selected: excellent for read-heavy workloads")
		} else {
			lines = append(lines, "MVCC selected: good general-purpose performance")
		}
	case TwoPhaseLocking:
		lines = append(lines, "2PL selected: good for low-conflict scenarios")
	case OptimisticConcurrencyControl:
		lines = append(lines, "OCC selected: optimal for very low conflict rates")
	case TimestampOrdering:
		lines = append(lines, "TO selected: good for evenly distributed access")
	}

	return lines
}
