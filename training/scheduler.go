package training

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the schedule step; the trainer owns the
// step counter and applies the returned rate to the optimizer.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// WarmupStepLR ramps the rate linearly over a warmup window, holds it at the
// base rate, then divides it by the decay factor at each of two step
// boundaries. The trainer advances the step once per epoch, so warmup and the
// boundaries are all measured in epochs.
type WarmupStepLR struct {
	WarmupSteps int     // Linear ramp length; factor at step 0 is 0
	Steps       [2]int  // Ascending boundaries of the two decay stages
	DecayFactor float64 // Divisor applied at each boundary
}

// NewWarmupStepLR creates a warmup-then-step scheduler.
func NewWarmupStepLR(warmupSteps int, steps [2]int, decayFactor float64) *WarmupStepLR {
	if warmupSteps <= 0 {
		warmupSteps = 1
	}
	if decayFactor == 0 {
		decayFactor = 10
	}
	return &WarmupStepLR{
		WarmupSteps: warmupSteps,
		Steps:       steps,
		DecayFactor: decayFactor,
	}
}

// Factor returns the multiplier applied to the base rate at a schedule step.
// Step 0 inside the warmup window yields 0, so the first update after
// construction runs at rate zero until the schedule advances.
func (s *WarmupStepLR) Factor(step int) float64 {
	switch {
	case step < s.WarmupSteps:
		return float64(step) / float64(s.WarmupSteps)
	case step < s.Steps[0]:
		return 1.0
	case step < s.Steps[1]:
		return 1.0 / s.DecayFactor
	default:
		return 1.0 / (s.DecayFactor * s.DecayFactor)
	}
}

func (s *WarmupStepLR) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * s.Factor(step)
}

func (s *WarmupStepLR) GetName() string {
	return "WarmupStepLR"
}
