package tensor

import (
	"fmt"
	"math"
)

// baseOp carries the recorded inputs every operation needs for the
// backward walk.
type baseOp struct {
	inputs []*Tensor
}

func (op *baseOp) Inputs() []*Tensor {
	return op.inputs
}

// record wires the op into the graph when gradients are enabled and any
// input participates in differentiation.
func (op *baseOp) record(result *Tensor, self Operation) *Tensor {
	needs := false
	for _, in := range op.inputs {
		if in.requiresGrad {
			needs = true
			break
		}
	}
	if gradEnabled && needs {
		result.requiresGrad = true
		result.creator = self
	}
	return result
}

// AddOp implements broadcast addition.
type AddOp struct {
	baseOp
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// MulOp implements broadcast elementwise multiplication.
type MulOp struct {
	baseOp
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// MatMulOp implements 2D matrix multiplication with transpose flags.
type MatMulOp struct {
	baseOp
	transA, transB bool
}

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1], op.transA, op.transB)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	var gradA, gradB *Tensor
	var err error
	switch {
	case !op.transA && !op.transB:
		gradA, err = MatMul(gradOut, b, false, true)
		if err == nil {
			gradB, err = MatMul(a, gradOut, true, false)
		}
	case !op.transA && op.transB:
		gradA, err = MatMul(gradOut, b, false, false)
		if err == nil {
			gradB, err = MatMul(gradOut, a, true, false)
		}
	case op.transA && !op.transB:
		gradA, err = MatMul(b, gradOut, false, true)
		if err == nil {
			gradB, err = MatMul(a, gradOut, false, false)
		}
	default:
		gradA, err = MatMul(b, gradOut, true, true)
		if err == nil {
			gradB, err = MatMul(gradOut, a, true, true)
		}
	}
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// BatchedMatMulOp implements 3D matrix multiplication with transpose flags
// on the trailing dimensions.
type BatchedMatMulOp struct {
	baseOp
	transA, transB bool
}

func (op *BatchedMatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("BatchedMatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := BatchedMatMul(inputs[0], inputs[1], op.transA, op.transB)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *BatchedMatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	var gradA, gradB *Tensor
	var err error
	switch {
	case !op.transA && !op.transB:
		gradA, err = BatchedMatMul(gradOut, b, false, true)
		if err == nil {
			gradB, err = BatchedMatMul(a, gradOut, true, false)
		}
	case !op.transA && op.transB:
		gradA, err = BatchedMatMul(gradOut, b, false, false)
		if err == nil {
			gradB, err = BatchedMatMul(gradOut, a, true, false)
		}
	case op.transA && !op.transB:
		gradA, err = BatchedMatMul(b, gradOut, false, true)
		if err == nil {
			gradB, err = BatchedMatMul(a, gradOut, false, false)
		}
	default:
		gradA, err = BatchedMatMul(b, gradOut, true, true)
		if err == nil {
			gradB, err = BatchedMatMul(gradOut, a, true, true)
		}
	}
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// TransposeOp swaps the dimensions of a 2D tensor.
type TransposeOp struct {
	baseOp
}

func (op *TransposeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("TransposeOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Transpose(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *TransposeOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Transpose(gradOut)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// ReshapeOp changes the shape without touching storage.
type ReshapeOp struct {
	baseOp
	shape []int
}

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Reshape(inputs[0], op.shape)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Reshape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// NarrowOp copies a contiguous slice along one dimension.
type NarrowOp struct {
	baseOp
	dim, start, length int
}

func (op *NarrowOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("NarrowOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Narrow(inputs[0], op.dim, op.start, op.length)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *NarrowOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	grad, err := Zeros(in.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}

	inner := 1
	for i := op.dim + 1; i < len(in.Shape); i++ {
		inner *= in.Shape[i]
	}
	outer := 1
	for i := 0; i < op.dim; i++ {
		outer *= in.Shape[i]
	}

	src, dst := gradOut.Float32s(), grad.Float32s()
	dimSize, span := in.Shape[op.dim], op.length*inner
	for o := 0; o < outer; o++ {
		dstBase := (o*dimSize + op.start) * inner
		copy(dst[dstBase:dstBase+span], src[o*span:(o+1)*span])
	}
	return []*Tensor{grad}
}

// ConcatOp joins two tensors along one dimension.
type ConcatOp struct {
	baseOp
	dim int
}

func (op *ConcatOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("ConcatOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Concat(inputs[0], inputs[1], op.dim)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *ConcatOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradA, err := Narrow(gradOut, op.dim, 0, a.Shape[op.dim])
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradB, err := Narrow(gradOut, op.dim, a.Shape[op.dim], b.Shape[op.dim])
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// ExpOp applies e^x elementwise.
type ExpOp struct {
	baseOp
	output *Tensor
}

func (op *ExpOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ExpOp requires exactly 1 input")
	}
	op.inputs = inputs

	a := inputs[0]
	result, err := Zeros(a.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	src, dst := a.Float32s(), result.Float32s()
	for i := range src {
		dst[i] = float32(math.Exp(float64(src[i])))
	}
	op.output = result
	return op.record(result, op)
}

func (op *ExpOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Mul(gradOut, op.output)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// High-level autograd entry points.

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// MulAutograd performs elementwise multiplication with automatic
// differentiation.
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// ScaleAutograd multiplies by a constant that takes no gradient.
func ScaleAutograd(a *Tensor, s float32) *Tensor {
	return MulAutograd(a, Scalar(s))
}

// MatMulAutograd performs 2D matrix multiplication with automatic
// differentiation.
func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

// MatMulTransBAutograd computes a @ b^T.
func MatMulTransBAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{transB: true}
	return op.Forward(a, b)
}

// BatchedMatMulAutograd performs batched matrix multiplication.
func BatchedMatMulAutograd(a, b *Tensor) *Tensor {
	op := &BatchedMatMulOp{}
	return op.Forward(a, b)
}

// BatchedMatMulTransBAutograd computes a @ b^T per batch slice.
func BatchedMatMulTransBAutograd(a, b *Tensor) *Tensor {
	op := &BatchedMatMulOp{transB: true}
	return op.Forward(a, b)
}

// TransposeAutograd transposes a 2D tensor.
func TransposeAutograd(a *Tensor) *Tensor {
	op := &TransposeOp{}
	return op.Forward(a)
}

// ReshapeAutograd reshapes with automatic differentiation.
func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{shape: append([]int{}, shape...)}
	return op.Forward(a)
}

// NarrowAutograd slices [start, start+length) along dim.
func NarrowAutograd(a *Tensor, dim, start, length int) *Tensor {
	op := &NarrowOp{dim: dim, start: start, length: length}
	return op.Forward(a)
}

// ConcatAutograd joins two tensors along dim.
func ConcatAutograd(a, b *Tensor, dim int) *Tensor {
	op := &ConcatOp{dim: dim}
	return op.Forward(a, b)
}

// ExpAutograd applies e^x elementwise.
func ExpAutograd(a *Tensor) *Tensor {
	op := &ExpOp{}
	return op.Forward(a)
}
