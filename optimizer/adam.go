package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/sam-tuner/tensor"
)

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64 // First-moment decay (default: 0.9)
	Beta2        float64 // Second-moment decay (default: 0.999)
	Epsilon      float64 // Numerical stability (default: 1e-8)
	WeightDecay  float64 // L2 regularization coupled into the gradient
}

// DefaultAdamConfig returns the standard Adam settings for the given rate.
func DefaultAdamConfig(learningRate, weightDecay float64) AdamConfig {
	return AdamConfig{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
	}
}

// Adam implements the Adam update rule:
//
//	m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//	v_t = beta2 * v_{t-1} + (1 - beta2) * grad^2
//	param -= lr * m_hat / (sqrt(v_hat) + epsilon)
//
// with bias-corrected moments and weight decay added to the raw gradient.
type Adam struct {
	config AdamConfig
	params []*tensor.Tensor

	m         [][]float32
	v         [][]float32
	stepCount uint64
}

// NewAdam creates an Adam optimizer over the given parameter tensors.
func NewAdam(params []*tensor.Tensor, config AdamConfig) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("at least one parameter tensor is required")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate must be non-negative, got %f", config.LearningRate)
	}
	if config.Beta1 <= 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in (0, 1), got %f", config.Beta1)
	}
	if config.Beta2 <= 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in (0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay must be non-negative, got %f", config.WeightDecay)
	}

	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, p.NumElems)
		v[i] = make([]float32, p.NumElems)
	}

	return &Adam{
		config: config,
		params: params,
		m:      m,
		v:      v,
	}, nil
}

// Step applies one Adam update. Parameters with no accumulated gradient are
// skipped.
func (a *Adam) Step() error {
	a.stepCount++

	biasCorr1 := 1 - math.Pow(a.config.Beta1, float64(a.stepCount))
	biasCorr2 := 1 - math.Pow(a.config.Beta2, float64(a.stepCount))

	for i, p := range a.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("parameter %d: gradient has %d elements, parameter has %d", i, grad.NumElems, p.NumElems)
		}

		for j := range p.Data {
			g := float64(grad.Data[j]) + a.config.WeightDecay*float64(p.Data[j])

			a.m[i][j] = float32(a.config.Beta1*float64(a.m[i][j]) + (1-a.config.Beta1)*g)
			a.v[i][j] = float32(a.config.Beta2*float64(a.v[i][j]) + (1-a.config.Beta2)*g*g)

			mHat := float64(a.m[i][j]) / biasCorr1
			vHat := float64(a.v[i][j]) / biasCorr2

			p.Data[j] -= float32(a.config.LearningRate * mHat / (math.Sqrt(vHat) + a.config.Epsilon))
		}
	}

	return nil
}

// ZeroGrad clears accumulated gradients on all parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// GetStepCount returns the number of updates applied so far.
func (a *Adam) GetStepCount() uint64 {
	return a.stepCount
}

// SetLearningRate replaces the effective learning rate.
func (a *Adam) SetLearningRate(lr float64) {
	a.config.LearningRate = lr
}

// LearningRate returns the effective learning rate.
func (a *Adam) LearningRate() float64 {
	return a.config.LearningRate
}
