package tensor

import (
	"fmt"
)

// broadcastShapes resolves the numpy-style broadcast of two shapes, aligning
// from the trailing dimension.
func broadcastShapes(a, b []int) ([]int, error) {
	ndim := len(a)
	if len(b) > ndim {
		ndim = len(b)
	}
	out := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}
		switch {
		case da == db:
			out[ndim-1-i] = da
		case da == 1:
			out[ndim-1-i] = db
		case db == 1:
			out[ndim-1-i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}
	return out, nil
}

// BroadcastTensor materializes t expanded to the target shape.
func BroadcastTensor(t *Tensor, target []int) (*Tensor, error) {
	if shapesEqual(t.Shape, target) {
		return t, nil
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("broadcast only supports Float32, got %s", t.DType)
	}

	out, err := Zeros(target, Float32)
	if err != nil {
		return nil, err
	}

	src := t.Float32s()
	dst := out.Float32s()
	srcShape := make([]int, len(target))
	for i := range srcShape {
		srcShape[i] = 1
	}
	copy(srcShape[len(target)-len(t.Shape):], t.Shape)
	srcStrides := calculateStrides(srcShape)

	coords := make([]int, len(target))
	for i := 0; i < out.NumElems; i++ {
		remaining := i
		for d := len(target) - 1; d >= 0; d-- {
			coords[d] = remaining % target[d]
			remaining /= target[d]
		}
		srcIdx := 0
		for d := range coords {
			if srcShape[d] != 1 {
				srcIdx += coords[d] * srcStrides[d]
			}
		}
		dst[i] = src[srcIdx]
	}
	return out, nil
}

// reduceGradientToShape sums a gradient back down to the shape of a
// broadcast input.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}

	result := grad
	var err error

	dimsToSum := len(grad.Shape) - len(targetShape)
	for i := 0; i < dimsToSum; i++ {
		result, err = sumOverDimension(result, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to sum over dimension: %v", err)
		}
	}

	for i := 0; i < len(targetShape); i++ {
		if i < len(result.Shape) && result.Shape[i] != targetShape[i] && targetShape[i] == 1 {
			result, err = sumOverDimension(result, i)
			if err != nil {
				return nil, fmt.Errorf("failed to sum over broadcast dimension: %v", err)
			}
			reshaped := make([]int, 0, len(result.Shape)+1)
			reshaped = append(reshaped, result.Shape[:i]...)
			reshaped = append(reshaped, 1)
			reshaped = append(reshaped, result.Shape[i:]...)
			result, err = Reshape(result, reshaped)
			if err != nil {
				return nil, err
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = Reshape(result, targetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to reshape gradient: %v", err)
		}
	}
	return result, nil
}

func sumAllElements(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported data type for sum: %s", t.DType)
	}
	var sum float32
	for _, v := range t.Float32s() {
		sum += v
	}
	return NewTensor([]int{1}, Float32, []float32{sum})
}

func sumOverDimension(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported data type for sum: %s", t.DType)
	}

	outputShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			outputShape = append(outputShape, size)
		}
	}
	if len(outputShape) == 0 {
		return sumAllElements(t)
	}

	result, err := Zeros(outputShape, Float32)
	if err != nil {
		return nil, err
	}

	src := t.Float32s()
	dst := result.Float32s()

	// outer x dimSize x inner traversal of the contiguous source.
	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	dimSize := t.Shape[dim]
	outer := t.NumElems / (inner * dimSize)

	for o := 0; o < outer; o++ {
		for d := 0; d < dimSize; d++ {
			srcBase := (o*dimSize + d) * inner
			dstBase := o * inner
			for i := 0; i < inner; i++ {
				dst[dstBase+i] += src[srcBase+i]
			}
		}
	}
	return result, nil
}
