package adaptive

import (
	"time"

	"github.com/montanaflynn/stats"
)

const (
	// predictWindow is how many recent samples the trend fit uses.
	predictWindow = 5
	// trendDamping scales the fitted slope before projection. Raw
	// least-squares slopes over five samples overshoot badly on noisy
	// workloads.
	trendDamping = 0.1
)

// Predictor extrapolates the near-future workload from the observer's
// recent history via a damped linear trend.
type Predictor struct {
	observer *Observer
}

// NewPredictor creates a Predictor reading from the given observer.
func NewPredictor(observer *Observer) *Predictor {
	return &Predictor{observer: observer}
}

// Predict projects the workload one step ahead. With fewer than
// predictWindow samples it falls back to the current average.
func (p *Predictor) Predict() WorkloadSample {
	recent := p.observer.recentSamples(predictWindow)
	if len(recent) < predictWindow {
		return p.observer.Current()
	}

	last := recent[len(recent)-1]

	return WorkloadSample{
		ReadRatio:         clamp01(last.ReadRatio + dampedTrend(recent, func(s WorkloadSample) float64 { return s.ReadRatio })),
		WriteConflictRate: clamp01(last.WriteConflictRate + dampedTrend(recent, func(s WorkloadSample) float64 { return s.WriteConflictRate })),
		AvgDuration:       last.AvgDuration + time.Duration(dampedTrend(recent, func(s WorkloadSample) float64 { return float64(s.AvgDuration) })),
		ConcurrentCount:   maxInt(0, last.ConcurrentCount+int(dampedTrend(recent, func(s WorkloadSample) float64 { return float64(s.ConcurrentCount) }))),
		HotspotRatio:      clamp01(last.HotspotRatio + dampedTrend(recent, func(s WorkloadSample) float64 { return s.HotspotRatio })),
		Timestamp:         time.Now(),
	}
}

// dampedTrend fits a least-squares line over the series and returns the
// damped per-step slope.
func dampedTrend(samples []WorkloadSample, field func(WorkloadSample) float64) float64 {
	series := make(stats.Series, len(samples))
	for i, s := range samples {
		series[i] = stats.Coordinate{X: float64(i), Y: field(s)}
	}

	fitted, err := stats.LinearRegression(series)
	if err != nil || len(fitted) < 2 {
		return 0
	}

	slope := (fitted[len(fitted)-1].Y - fitted[0].Y) / float64(len(fitted)-1)
	return slope * trendDamping
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
