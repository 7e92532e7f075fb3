package tensor

import (
	"fmt"
	"math"
)

// Binary operations support identical shapes plus scalar broadcasting: either
// operand may be a single-element tensor, in which case it is applied against
// every element of the other.

func broadcastShape(a, b *Tensor) ([]int, error) {
	if shapesEqual(a.Shape, b.Shape) {
		return a.Shape, nil
	}
	if a.IsScalar() {
		return b.Shape, nil
	}
	if b.IsScalar() {
		return a.Shape, nil
	}
	return nil, fmt.Errorf("shape mismatch: %v vs %v (only scalar broadcasting is supported)", a.Shape, b.Shape)
}

func pick(t *Tensor, i int) float32 {
	if t.NumElems == 1 {
		return t.Data[0]
	}
	return t.Data[i]
}

func binaryForward(a, b *Tensor, f func(x, y float32) float32) (*Tensor, error) {
	shape, err := broadcastShape(a, b)
	if err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	data := make([]float32, n)
	for i := 0; i < n; i++ {
		data[i] = f(pick(a, i), pick(b, i))
	}
	return New(shape, data)
}

type addOp struct{ a, b *Tensor }

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{reduceGradient(gradOut, op.a), reduceGradient(gradOut, op.b)}
}

// Add computes a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	out, err := binaryForward(a, b, func(x, y float32) float32 { return x + y })
	if err != nil {
		return nil, fmt.Errorf("add failed: %v", err)
	}
	if anyTracked(a, b) {
		out.creator = &addOp{a: a, b: b}
	}
	return out, nil
}

type subOp struct{ a, b *Tensor }

func (op *subOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *subOp) Backward(gradOut *Tensor) []*Tensor {
	neg := make([]float32, gradOut.NumElems)
	for i, v := range gradOut.Data {
		neg[i] = -v
	}
	negT, _ := New(gradOut.Shape, neg)
	return []*Tensor{reduceGradient(gradOut, op.a), reduceGradient(negT, op.b)}
}

// Sub computes a - b elementwise.
func Sub(a, b *Tensor) (*Tensor, error) {
	out, err := binaryForward(a, b, func(x, y float32) float32 { return x - y })
	if err != nil {
		return nil, fmt.Errorf("sub failed: %v", err)
	}
	if anyTracked(a, b) {
		out.creator = &subOp{a: a, b: b}
	}
	return out, nil
}

type mulOp struct{ a, b *Tensor }

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) Backward(gradOut *Tensor) []*Tensor {
	ga := make([]float32, gradOut.NumElems)
	gb := make([]float32, gradOut.NumElems)
	for i, g := range gradOut.Data {
		ga[i] = g * pick(op.b, i)
		gb[i] = g * pick(op.a, i)
	}
	ta, _ := New(gradOut.Shape, ga)
	tb, _ := New(gradOut.Shape, gb)
	return []*Tensor{reduceGradient(ta, op.a), reduceGradient(tb, op.b)}
}

// Mul computes a * b elementwise.
func Mul(a, b *Tensor) (*Tensor, error) {
	out, err := binaryForward(a, b, func(x, y float32) float32 { return x * y })
	if err != nil {
		return nil, fmt.Errorf("mul failed: %v", err)
	}
	if anyTracked(a, b) {
		out.creator = &mulOp{a: a, b: b}
	}
	return out, nil
}

type divOp struct{ a, b *Tensor }

func (op *divOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *divOp) Backward(gradOut *Tensor) []*Tensor {
	ga := make([]float32, gradOut.NumElems)
	gb := make([]float32, gradOut.NumElems)
	for i, g := range gradOut.Data {
		x := pick(op.a, i)
		y := pick(op.b, i)
		ga[i] = g / y
		gb[i] = -g * x / (y * y)
	}
	ta, _ := New(gradOut.Shape, ga)
	tb, _ := New(gradOut.Shape, gb)
	return []*Tensor{reduceGradient(ta, op.a), reduceGradient(tb, op.b)}
}

// Div computes a / b elementwise.
func Div(a, b *Tensor) (*Tensor, error) {
	out, err := binaryForward(a, b, func(x, y float32) float32 { return x / y })
	if err != nil {
		return nil, fmt.Errorf("div failed: %v", err)
	}
	if anyTracked(a, b) {
		out.creator = &divOp{a: a, b: b}
	}
	return out, nil
}

type scaleOp struct {
	a *Tensor
	c float32
}

func (op *scaleOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *scaleOp) Backward(gradOut *Tensor) []*Tensor {
	data := make([]float32, gradOut.NumElems)
	for i, g := range gradOut.Data {
		data[i] = g * op.c
	}
	t, _ := New(gradOut.Shape, data)
	return []*Tensor{t}
}

// Scale multiplies every element by a constant.
func Scale(a *Tensor, c float32) *Tensor {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = v * c
	}
	out, _ := New(a.Shape, data)
	if anyTracked(a) {
		out.creator = &scaleOp{a: a, c: c}
	}
	return out
}

type addConstOp struct{ a *Tensor }

func (op *addConstOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *addConstOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut}
}

// AddConst adds a constant to every element.
func AddConst(a *Tensor, c float32) *Tensor {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = v + c
	}
	out, _ := New(a.Shape, data)
	if anyTracked(a) {
		out.creator = &addConstOp{a: a}
	}
	return out
}

type powOp struct {
	a *Tensor
	p float32
}

func (op *powOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *powOp) Backward(gradOut *Tensor) []*Tensor {
	data := make([]float32, gradOut.NumElems)
	for i, g := range gradOut.Data {
		x := float64(op.a.Data[i])
		data[i] = g * op.p * float32(math.Pow(x, float64(op.p-1)))
	}
	t, _ := New(gradOut.Shape, data)
	return []*Tensor{t}
}

// Pow raises every element to a constant power.
func Pow(a *Tensor, p float32) *Tensor {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(math.Pow(float64(v), float64(p)))
	}
	out, _ := New(a.Shape, data)
	if anyTracked(a) {
		out.creator = &powOp{a: a, p: p}
	}
	return out
}

type expOp struct {
	a   *Tensor
	out *Tensor
}

func (op *expOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *expOp) Backward(gradOut *Tensor) []*Tensor {
	data := make([]float32, gradOut.NumElems)
	for i, g := range gradOut.Data {
		data[i] = g * op.out.Data[i]
	}
	t, _ := New(gradOut.Shape, data)
	return []*Tensor{t}
}

// Exp computes e^x elementwise.
func Exp(a *Tensor) *Tensor {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(math.Exp(float64(v)))
	}
	out, _ := New(a.Shape, data)
	if anyTracked(a) {
		out.creator = &expOp{a: a, out: out}
	}
	return out
}

type sigmoidOp struct {
	a   *Tensor
	out *Tensor
}

func (op *sigmoidOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sigmoidOp) Backward(gradOut *Tensor) []*Tensor {
	data := make([]float32, gradOut.NumElems)
	for i, g := range gradOut.Data {
		y := op.out.Data[i]
		data[i] = g * y * (1 - y)
	}
	t, _ := New(gradOut.Shape, data)
	return []*Tensor{t}
}

// Sigmoid computes the logistic function elementwise.
func Sigmoid(a *Tensor) *Tensor {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	out, _ := New(a.Shape, data)
	if anyTracked(a) {
		out.creator = &sigmoidOp{a: a, out: out}
	}
	return out
}

type sumOp struct{ a *Tensor }

func (op *sumOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sumOp) Backward(gradOut *Tensor) []*Tensor {
	data := make([]float32, op.a.NumElems)
	for i := range data {
		data[i] = gradOut.Data[0]
	}
	t, _ := New(op.a.Shape, data)
	return []*Tensor{t}
}

// Sum reduces all elements to a scalar.
func Sum(a *Tensor) *Tensor {
	var total float32
	for _, v := range a.Data {
		total += v
	}
	out := FromScalar(total)
	if anyTracked(a) {
		out.creator = &sumOp{a: a}
	}
	return out
}
