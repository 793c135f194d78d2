package tensor

import (
	"fmt"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	strides := calculateStrides(shape)

	t := &Tensor{
		Shape:    shape,
		Strides:  strides,
		DType:    dtype,
		NumElems: numElems,
	}

	if data != nil {
		if err := t.setData(data); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		slice := make([]float32, numElems)
		for i := range slice {
			slice[i] = 1.0
		}
		data = slice
	case Int32:
		slice := make([]int32, numElems)
		for i := range slice {
			slice[i] = 1
		}
		data = slice
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

func Full(shape []int, value interface{}, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, value)
}

// Scalar wraps a single float32 value as a one-element tensor.
func Scalar(value float32) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, []float32{value})
	return t
}

// Arange returns the int32 sequence [0, n) as a one-dimensional tensor.
// The contrastive labels of a positionally paired batch are exactly this.
func Arange(n int) (*Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("Arange requires n > 0, got %d", n)
	}
	data := make([]int32, n)
	for i := range data {
		data[i] = int32(i)
	}
	return NewTensor([]int{n}, Int32, data)
}

func (t *Tensor) Clone() (*Tensor, error) {
	clone, err := NewTensor(append([]int{}, t.Shape...), t.DType, nil)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case Float32:
		data := make([]float32, t.NumElems)
		copy(data, t.Float32s())
		clone.Data = data
	case Int32:
		data := make([]int32, t.NumElems)
		copy(data, t.Int32s())
		clone.Data = data
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}
	clone.requiresGrad = t.requiresGrad
	return clone, nil
}
