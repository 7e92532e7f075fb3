package tensor

import (
	"fmt"
)

// Tensor is a CPU-resident float32 tensor that participates in reverse-mode
// automatic differentiation. Gradients are materialized lazily: a tensor has
// no gradient buffer until a backward pass reaches it.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// RequiresGrad reports whether gradients are accumulated for this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as a trainable leaf of the autograd graph.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if no backward pass has
// written to this tensor since the last ZeroGrad.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad discards the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// SetGrad replaces the accumulated gradient. Collective gradient reduction
// uses it to install the cross-worker average.
func (t *Tensor) SetGrad(grad *Tensor) {
	t.grad = grad
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() float32 {
	return t.Data[0]
}

// IsScalar reports whether the tensor holds exactly one element.
func (t *Tensor) IsScalar() bool {
	return t.NumElems == 1
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// New creates a tensor with the given shape backed by data. The slice is
// retained, not copied.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	numElems := calculateNumElements(shape)
	return New(shape, make([]float32, numElems))
}

// FromScalar wraps a single value as a rank-1 tensor of one element.
func FromScalar(value float32) *Tensor {
	t, _ := New([]int{1}, []float32{value})
	return t
}

// Clone returns a deep copy of the tensor's shape and data. The clone is
// detached from the autograd graph.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	clone, _ := New(t.Shape, data)
	return clone
}

// Detach returns a view of the same data with no autograd history.
func (t *Tensor) Detach() *Tensor {
	detached, _ := New(t.Shape, t.Data)
	return detached
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
