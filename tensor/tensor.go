package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Float16
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Operation is one node in the autograd graph. Forward builds the output
// tensor and records itself as the output's creator; Backward receives the
// gradient of the loss with respect to the output and returns one gradient
// per input (nil for inputs that do not take gradients, such as token ids
// or attention masks).
type Operation interface {
	Forward(inputs ...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)",
		t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad drops the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Detach removes the tensor from the autograd graph it was created by.
func (t *Tensor) Detach() *Tensor {
	t.creator = nil
	return t
}

// Float32s returns the underlying float32 storage. Panics on other dtypes;
// callers are expected to know the dtype of the tensors they handle.
func (t *Tensor) Float32s() []float32 {
	return t.Data.([]float32)
}

// Int32s returns the underlying int32 storage.
func (t *Tensor) Int32s() []int32 {
	return t.Data.([]int32)
}

// Item returns the single value of a one-element Float32 tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a one-element tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("Item requires a Float32 tensor, got %s", t.DType)
	}
	return t.Float32s()[0], nil
}

// gradEnabled gates graph construction. The training loop is single
// threaded (one in-flight iteration), so a package flag is sufficient.
var gradEnabled = true

func SetGradEnabled(enabled bool) {
	gradEnabled = enabled
}

func GradEnabled() bool {
	return gradEnabled
}

// WithoutGrad runs fn with graph construction disabled, restoring the
// previous setting afterwards. Used by validation and inference paths.
func WithoutGrad(fn func()) {
	prev := gradEnabled
	gradEnabled = false
	defer func() { gradEnabled = prev }()
	fn()
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
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
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

// Backward runs reverse-mode differentiation from t, which must be a
// one-element tensor (a loss). Gradients accumulate into the grad buffers
// of leaf tensors that require them; intermediate gradients live only for
// the duration of the walk.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a one-element tensor, got shape %v", t.Shape)
	}
	if t.creator == nil {
		return fmt.Errorf("backward on a tensor with no creator")
	}

	seed, err := Ones(t.Shape, Float32)
	if err != nil {
		return fmt.Errorf("failed to seed backward pass: %v", err)
	}

	order := topologicalOrder(t)
	grads := map[*Tensor]*Tensor{t: seed}

	for i := len(order) - 1; i >= 0; i-- {
		out := order[i]
		gradOut := grads[out]
		if gradOut == nil {
			continue
		}
		delete(grads, out)

		inputGrads := out.creator.Backward(gradOut)
		inputs := out.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for j, in := range inputs {
			g := inputGrads[j]
			if g == nil || !in.requiresGrad {
				continue
			}
			if in.creator != nil {
				if acc := grads[in]; acc != nil {
					if err := accumulateInto(acc, g); err != nil {
						return err
					}
				} else {
					grads[in] = g
				}
				continue
			}
			if in.grad == nil {
				zero, err := Zeros(in.Shape, Float32)
				if err != nil {
					return fmt.Errorf("failed to allocate gradient: %v", err)
				}
				in.grad = zero
			}
			if err := accumulateInto(in.grad, g); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalOrder returns every tensor reachable from root through creator
// links, dependencies before dependents.
func topologicalOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] || t.creator == nil {
			return
		}
		visited[t] = true
		for _, in := range t.creator.Inputs() {
			visit(in)
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

func accumulateInto(dst, src *Tensor) error {
	if !shapesEqual(dst.Shape, src.Shape) {
		return fmt.Errorf("gradient shape %v does not match accumulator shape %v", src.Shape, dst.Shape)
	}
	d := dst.Float32s()
	s := src.Float32s()
	for i := range d {
		d[i] += s[i]
	}
	return nil
}
