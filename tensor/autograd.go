package tensor

import (
	"fmt"
	"sync/atomic"
)

// Operation records how a tensor was produced so gradients can be routed
// back to its inputs during the backward pass.
type Operation interface {
	// Inputs returns the tensors the operation consumed, in a fixed order.
	Inputs() []*Tensor

	// Backward maps the gradient of the output to gradients of the inputs.
	// An entry may be nil when no gradient flows to that input.
	Backward(gradOut *Tensor) []*Tensor
}

// noGradDepth gates graph construction process-wide. Validation loops
// disable recording so forward passes allocate no autograd state. Workers
// that mix tracked and untracked forward passes concurrently must fence the
// untracked region with a collective barrier.
var noGradDepth atomic.Int32

// GradEnabled reports whether operations currently record autograd history.
func GradEnabled() bool {
	return noGradDepth.Load() == 0
}

// NoGrad runs fn with autograd recording disabled. Calls nest.
func NoGrad(fn func()) {
	noGradDepth.Add(1)
	defer noGradDepth.Add(-1)
	fn()
}

// tracked reports whether a tensor participates in the autograd graph.
func tracked(t *Tensor) bool {
	return t.requiresGrad || t.creator != nil
}

func anyTracked(tensors ...*Tensor) bool {
	if !GradEnabled() {
		return false
	}
	for _, t := range tensors {
		if tracked(t) {
			return true
		}
	}
	return false
}

// accumulateGrad adds g into t's gradient buffer, allocating it on first use.
func accumulateGrad(t *Tensor, g *Tensor) {
	if g == nil {
		return
	}
	if t.grad == nil {
		t.grad = g.Clone()
		return
	}
	for i := range t.grad.Data {
		t.grad.Data[i] += g.Data[i]
	}
}

// Backward runs reverse-mode differentiation from a scalar loss, accumulating
// gradients into every reachable tensor marked as requiring them.
func (t *Tensor) Backward() error {
	if !t.IsScalar() {
		return fmt.Errorf("backward requires a scalar tensor, got shape %v", t.Shape)
	}
	if t.creator == nil && !t.requiresGrad {
		return fmt.Errorf("backward called on a tensor with no autograd history")
	}

	// Topological order over the creator graph.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] || n.creator == nil {
			return
		}
		visited[n] = true
		for _, in := range n.creator.Inputs() {
			visit(in)
		}
		order = append(order, n)
	}
	visit(t)

	t.grad = FromScalar(1.0)

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.grad == nil {
			continue
		}
		grads := node.creator.Backward(node.grad)
		inputs := node.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}
		for j, in := range inputs {
			if tracked(in) {
				accumulateGrad(in, grads[j])
			}
		}
	}

	return nil
}

// reduceGradient collapses a gradient to the shape of an input that was
// broadcast during the forward pass. Only scalar broadcasting occurs in this
// package, so the reduction is a full sum.
func reduceGradient(grad *Tensor, target *Tensor) *Tensor {
	if grad.NumElems == target.NumElems {
		return grad
	}
	var sum float32
	for _, v := range grad.Data {
		sum += v
	}
	return FromScalar(sum)
}
