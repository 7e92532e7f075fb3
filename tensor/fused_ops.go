package tensor

import (
	"fmt"
	"math"
)

// Fused losses avoid building long elementwise graphs for hot per-mask
// reductions: the forward pass produces the scalar directly and the backward
// pass emits the analytic gradient in one sweep.

// probEpsilon keeps log terms finite for saturated probabilities.
const probEpsilon = 1e-7

func clampProb(p float32) float32 {
	if p < probEpsilon {
		return probEpsilon
	}
	if p > 1-probEpsilon {
		return 1 - probEpsilon
	}
	return p
}

type bceMeanOp struct {
	probs   *Tensor
	targets *Tensor
}

func (op *bceMeanOp) Inputs() []*Tensor { return []*Tensor{op.probs, op.targets} }

func (op *bceMeanOp) Backward(gradOut *Tensor) []*Tensor {
	n := float32(op.probs.NumElems)
	g := gradOut.Data[0]
	data := make([]float32, op.probs.NumElems)
	for i := range data {
		p := clampProb(op.probs.Data[i])
		t := op.targets.Data[i]
		data[i] = g * (p - t) / (p * (1 - p) * n)
	}
	grad, _ := New(op.probs.Shape, data)
	// Targets are ground truth; no gradient flows to them.
	return []*Tensor{grad, nil}
}

// BCEMean computes mean binary cross-entropy between probabilities and binary
// targets, returning a scalar. Probabilities are clamped away from 0 and 1.
func BCEMean(probs, targets *Tensor) (*Tensor, error) {
	if !shapesEqual(probs.Shape, targets.Shape) {
		return nil, fmt.Errorf("bce failed: shape mismatch %v vs %v", probs.Shape, targets.Shape)
	}

	var total float64
	for i := range probs.Data {
		p := float64(clampProb(probs.Data[i]))
		t := float64(targets.Data[i])
		total += -(t*math.Log(p) + (1-t)*math.Log(1-p))
	}
	out := FromScalar(float32(total / float64(probs.NumElems)))
	if anyTracked(probs) {
		out.creator = &bceMeanOp{probs: probs, targets: targets}
	}
	return out, nil
}

type mseSumOp struct {
	pred   *Tensor
	target *Tensor
}

func (op *mseSumOp) Inputs() []*Tensor { return []*Tensor{op.pred, op.target} }

func (op *mseSumOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Data[0]
	data := make([]float32, op.pred.NumElems)
	for i := range data {
		data[i] = g * 2 * (op.pred.Data[i] - op.target.Data[i])
	}
	grad, _ := New(op.pred.Shape, data)
	return []*Tensor{grad, nil}
}

// MSESum computes sum-reduced squared error between predictions and a
// constant target, returning a scalar. Gradients flow to predictions only.
func MSESum(pred, target *Tensor) (*Tensor, error) {
	if !shapesEqual(pred.Shape, target.Shape) {
		return nil, fmt.Errorf("mse failed: shape mismatch %v vs %v", pred.Shape, target.Shape)
	}

	var total float64
	for i := range pred.Data {
		d := float64(pred.Data[i] - target.Data[i])
		total += d * d
	}
	out := FromScalar(float32(total))
	if anyTracked(pred) {
		out.creator = &mseSumOp{pred: pred, target: target}
	}
	return out, nil
}
