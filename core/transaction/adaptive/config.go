package adaptive

// Config controls the adaptive selection loop.
type Config struct {
	// EnableAdaptation toggles the whole decision loop. When off the node
	// keeps running whatever algorithm it started with.
	EnableAdaptation bool `yaml:"enable_adaptation"`
	// AdaptationIntervalMs is the period of the decision loop. Skipping a
	// cycle under load is safe; the loop is not guaranteed periodic.
	AdaptationIntervalMs uint64 `yaml:"adaptation_interval_ms"`
	// MinSamplesForAdaptation is the number of performance samples an
	// algorithm needs before its measured throughput replaces its prior.
	MinSamplesForAdaptation int `yaml:"min_samples_for_adaptation"`
	// PerformanceWindowSize bounds the workload and per-algorithm
	// performance histories.
	PerformanceWindowSize int `yaml:"performance_window_size"`
	// AlgorithmSwitchThreshold is the minimum expected improvement ratio
	// required to hot-swap the active algorithm.
	AlgorithmSwitchThreshold float64 `yaml:"algorithm_switch_threshold"`
	// EnablePrediction folds the predicted workload drift into scoring.
	EnablePrediction bool `yaml:"enable_prediction"`
	// PredictionHorizonMs is how far ahead the predictor projects.
	PredictionHorizonMs uint64 `yaml:"prediction_horizon_ms"`
}

// DefaultConfig returns the adaptive defaults.
func DefaultConfig() Config {
	return Config{
		EnableAdaptation:         true,
		AdaptationIntervalMs:     1000,
		MinSamplesForAdaptation:  100,
		PerformanceWindowSize:    1000,
		AlgorithmSwitchThreshold: 0.1,
		EnablePrediction:         true,
		PredictionHorizonMs:      5000,
	}
}
