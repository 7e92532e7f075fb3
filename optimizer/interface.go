// Package optimizer implements gradient-descent update rules over tensor
// parameters. Optimizers own per-parameter state (moments) but never the
// learning-rate schedule: the trainer adjusts the rate between epochs through
// SetLearningRate.
package optimizer

// Optimizer defines the common interface for all optimizers.
type Optimizer interface {
	// Step applies one update using the gradients currently accumulated on
	// the registered parameters.
	Step() error

	// ZeroGrad clears accumulated gradients on all registered parameters.
	ZeroGrad()

	// GetStepCount returns the number of updates applied so far.
	GetStepCount() uint64

	// SetLearningRate replaces the effective learning rate.
	SetLearningRate(lr float64)

	// LearningRate returns the effective learning rate.
	LearningRate() float64
}
