package tensor

import (
	"fmt"
)

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("Add requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}

	if shapesEqual(a.Shape, b.Shape) {
		out, err := Zeros(a.Shape, Float32)
		if err != nil {
			return nil, err
		}
		av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
		for i := range ov {
			ov[i] = av[i] + bv[i]
		}
		return out, nil
	}

	// Trailing-dimension bias add is the hot broadcast case.
	if len(b.Shape) == 1 && a.Shape[len(a.Shape)-1] == b.Shape[0] {
		out, err := Zeros(a.Shape, Float32)
		if err != nil {
			return nil, err
		}
		av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
		n := b.Shape[0]
		for base := 0; base < len(av); base += n {
			for j := 0; j < n; j++ {
				ov[base+j] = av[base+j] + bv[j]
			}
		}
		return out, nil
	}

	return addGeneral(a, b)
}

func addGeneral(a, b *Tensor) (*Tensor, error) {
	shape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	ab, err := BroadcastTensor(a, shape)
	if err != nil {
		return nil, err
	}
	bb, err := BroadcastTensor(b, shape)
	if err != nil {
		return nil, err
	}
	out, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}
	av, bv, ov := ab.Float32s(), bb.Float32s(), out.Float32s()
	for i := range ov {
		ov[i] = av[i] + bv[i]
	}
	return out, nil
}

// Mul returns a * b elementwise with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("Mul requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}

	if shapesEqual(a.Shape, b.Shape) {
		out, err := Zeros(a.Shape, Float32)
		if err != nil {
			return nil, err
		}
		av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
		for i := range ov {
			ov[i] = av[i] * bv[i]
		}
		return out, nil
	}

	// Scalar scaling shows up on every attention and loss path.
	if b.NumElems == 1 {
		out, err := Zeros(a.Shape, Float32)
		if err != nil {
			return nil, err
		}
		av, ov := a.Float32s(), out.Float32s()
		s := b.Float32s()[0]
		for i := range ov {
			ov[i] = av[i] * s
		}
		return out, nil
	}
	if a.NumElems == 1 {
		return Mul(b, a)
	}

	shape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	ab, err := BroadcastTensor(a, shape)
	if err != nil {
		return nil, err
	}
	bb, err := BroadcastTensor(b, shape)
	if err != nil {
		return nil, err
	}
	out, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}
	av, bv, ov := ab.Float32s(), bb.Float32s(), out.Float32s()
	for i := range ov {
		ov[i] = av[i] * bv[i]
	}
	return out, nil
}

// Transpose swaps the two dimensions of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose requires a Float32 tensor, got %s", t.DType)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	out, err := Zeros([]int{cols, rows}, Float32)
	if err != nil {
		return nil, err
	}
	src, dst := t.Float32s(), out.Float32s()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return out, nil
}

// Reshape returns a tensor of the new shape sharing the same storage.
func Reshape(t *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, shape)
	}
	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Narrow returns a copy of the slice [start, start+length) along dim.
func Narrow(t *Tensor, dim, start, length int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for tensor with %d dimensions", dim, len(t.Shape))
	}
	if start < 0 || length <= 0 || start+length > t.Shape[dim] {
		return nil, fmt.Errorf("narrow range [%d, %d) out of bounds for dimension of size %d", start, start+length, t.Shape[dim])
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("Narrow requires a Float32 tensor, got %s", t.DType)
	}

	outShape := append([]int{}, t.Shape...)
	outShape[dim] = length
	out, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= t.Shape[i]
	}

	src, dst := t.Float32s(), out.Float32s()
	srcDim, span := t.Shape[dim], length*inner
	for o := 0; o < outer; o++ {
		srcBase := (o*srcDim + start) * inner
		copy(dst[o*span:(o+1)*span], src[srcBase:srcBase+span])
	}
	return out, nil
}

// Concat joins two tensors along dim; all other dimensions must match.
func Concat(a, b *Tensor, dim int) (*Tensor, error) {
	if len(a.Shape) != len(b.Shape) {
		return nil, fmt.Errorf("Concat requires tensors of equal rank, got %v and %v", a.Shape, b.Shape)
	}
	if dim < 0 || dim >= len(a.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for tensor with %d dimensions", dim, len(a.Shape))
	}
	for i := range a.Shape {
		if i != dim && a.Shape[i] != b.Shape[i] {
			return nil, fmt.Errorf("Concat shapes %v and %v differ outside dimension %d", a.Shape, b.Shape, dim)
		}
	}
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("Concat requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}

	outShape := append([]int{}, a.Shape...)
	outShape[dim] = a.Shape[dim] + b.Shape[dim]
	out, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	inner := 1
	for i := dim + 1; i < len(a.Shape); i++ {
		inner *= a.Shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= a.Shape[i]
	}

	av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
	aSpan, bSpan := a.Shape[dim]*inner, b.Shape[dim]*inner
	outSpan := aSpan + bSpan
	for o := 0; o < outer; o++ {
		copy(ov[o*outSpan:o*outSpan+aSpan], av[o*aSpan:(o+1)*aSpan])
		copy(ov[o*outSpan+aSpan:(o+1)*outSpan], bv[o*bSpan:(o+1)*bSpan])
	}
	return out, nil
}
