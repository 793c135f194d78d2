package tensor

import (
	"math"
	"testing"
)

func TestNewTensorValidation(t *testing.T) {
	if _, err := NewTensor([]int{2, 0}, Float32, nil); err == nil {
		t.Errorf("Expected error for zero dimension, got nil")
	}
	if _, err := NewTensor([]int{2, -1}, Float32, nil); err == nil {
		t.Errorf("Expected error for negative dimension, got nil")
	}
	if _, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3}); err == nil {
		t.Errorf("Expected error for short data, got nil")
	}
	if _, err := NewTensor([]int{2}, Float32, []int32{1, 2}); err == nil {
		t.Errorf("Expected error for int32 data on a Float32 tensor, got nil")
	}
	if _, err := NewTensor([]int{2}, Int32, []float32{1, 2}); err == nil {
		t.Errorf("Expected error for float32 data on an Int32 tensor, got nil")
	}
}

func TestCreationHelpers(t *testing.T) {
	zeros, err := Zeros([]int{2, 3}, Float32)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	for i, v := range zeros.Float32s() {
		if v != 0 {
			t.Errorf("Expected zero at %d, got %v", i, v)
		}
	}

	ones, err := Ones([]int{4}, Int32)
	if err != nil {
		t.Fatalf("Ones failed: %v", err)
	}
	for i, v := range ones.Int32s() {
		if v != 1 {
			t.Errorf("Expected one at %d, got %v", i, v)
		}
	}

	arange, err := Arange(5)
	if err != nil {
		t.Fatalf("Arange failed: %v", err)
	}
	if arange.DType != Int32 {
		t.Errorf("Expected Int32 arange, got %s", arange.DType)
	}
	for i, v := range arange.Int32s() {
		if v != int32(i) {
			t.Errorf("Expected %d at position %d, got %d", i, i, v)
		}
	}

	scalar := Scalar(2.5)
	if scalar.NumElems != 1 || scalar.Float32s()[0] != 2.5 {
		t.Errorf("Expected one-element tensor holding 2.5, got %v", scalar)
	}

	full, err := Full([]int{2, 2}, float32(7), Float32)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	for i, v := range full.Float32s() {
		if v != 7 {
			t.Errorf("Expected 7 at %d, got %v", i, v)
		}
	}
}

func TestCloneIndependence(t *testing.T) {
	original, err := NewTensor([]int{3}, Float32, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	clone, err := original.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	clone.Float32s()[0] = 99
	if original.Float32s()[0] != 1 {
		t.Errorf("Expected original untouched after clone write, got %v", original.Float32s()[0])
	}
}

func TestItem(t *testing.T) {
	if _, err := Scalar(1).Item(); err != nil {
		t.Errorf("Expected Item to succeed on a scalar, got %v", err)
	}

	two, err := NewTensor([]int{2}, Float32, []float32{1, 2})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	if _, err := two.Item(); err == nil {
		t.Errorf("Expected error reading Item of a two-element tensor, got nil")
	}

	ids, err := Arange(1)
	if err != nil {
		t.Fatalf("Arange failed: %v", err)
	}
	if _, err := ids.Item(); err == nil {
		t.Errorf("Expected error reading Item of an Int32 tensor, got nil")
	}
}

func TestWithoutGradSkipsGraph(t *testing.T) {
	x := Scalar(2)
	x.SetRequiresGrad(true)

	var inside *Tensor
	WithoutGrad(func() {
		inside = MulAutograd(x, Scalar(3))
	})
	if inside.RequiresGrad() {
		t.Errorf("Expected no gradient tracking inside WithoutGrad")
	}
	if err := inside.Backward(); err == nil {
		t.Errorf("Expected backward to fail on a detached tensor, got nil")
	}
	if !GradEnabled() {
		t.Errorf("Expected gradient tracking restored after WithoutGrad")
	}

	outside := MulAutograd(x, Scalar(3))
	if !outside.RequiresGrad() {
		t.Errorf("Expected gradient tracking outside WithoutGrad")
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	x, err := NewTensor([]int{2}, Float32, []float32{1, 2})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	x.SetRequiresGrad(true)
	y := AddAutograd(x, x)
	if err := y.Backward(); err == nil {
		t.Errorf("Expected backward to reject a two-element tensor, got nil")
	}
}

func TestHalfBitsRoundTrip(t *testing.T) {
	exact := []float32{
		0, 1, -1, 0.5, -2.25, 1024, 65504, -65504,
		6.103515625e-05,         // smallest normal
		4.57763671875e-05,       // subnormal, several mantissa bits
		5.9604644775390625e-08,  // smallest subnormal
		-5.9604644775390625e-08, // subnormal keeps the sign
	}
	for _, v := range exact {
		got := HalfBitsToFloat32(Float32ToHalfBits(v))
		if got != v {
			t.Errorf("Expected %v to survive the half round trip, got %v", v, got)
		}
	}
}

func TestHalfBitsRounding(t *testing.T) {
	cases := []struct {
		in   float32
		want float32
	}{
		{1.1, 1.0996094},     // nearest representable below
		{0.1, 0.099975586},   // 0.1 is not representable
		{2049, 2048},         // tie rounds to the even mantissa
		{2051.5, 2052},       // past the midpoint rounds up
		{1e-8, 0},            // underflow to zero
		{4.5e-8, 5.9604644775390625e-08}, // rounds up to the smallest subnormal
		{1e-7, 1.1920928955078125e-07},   // subnormal loses mantissa bits
		{70000, float32(math.Inf(1))},    // overflow to Inf
		{-70000, float32(math.Inf(-1))},  // overflow keeps the sign
	}
	for _, tc := range cases {
		got := HalfBitsToFloat32(Float32ToHalfBits(tc.in))
		if got != tc.want {
			t.Errorf("Expected %v to round to %v, got %v", tc.in, tc.want, got)
		}
	}

	nan := HalfBitsToFloat32(Float32ToHalfBits(float32(math.NaN())))
	if !math.IsNaN(float64(nan)) {
		t.Errorf("Expected NaN to stay NaN, got %v", nan)
	}
}

func TestRoundToHalf(t *testing.T) {
	x, err := NewTensor([]int{3}, Float32, []float32{1.1, -0.5, 70000})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	rounded, err := RoundToHalf(x)
	if err != nil {
		t.Fatalf("RoundToHalf failed: %v", err)
	}

	got := rounded.Float32s()
	if got[0] != 1.0996094 {
		t.Errorf("Expected 1.0996094, got %v", got[0])
	}
	if got[1] != -0.5 {
		t.Errorf("Expected -0.5, got %v", got[1])
	}
	if !math.IsInf(float64(got[2]), 1) {
		t.Errorf("Expected +Inf for overflowing value, got %v", got[2])
	}
	if x.Float32s()[0] != 1.1 {
		t.Errorf("Expected the input untouched, got %v", x.Float32s()[0])
	}

	ids, err := Arange(3)
	if err != nil {
		t.Fatalf("Arange failed: %v", err)
	}
	if _, err := RoundToHalf(ids); err == nil {
		t.Errorf("Expected error rounding an Int32 tensor, got nil")
	}
}

func TestHasNonFinite(t *testing.T) {
	clean, err := NewTensor([]int{3}, Float32, []float32{1, -2, 3})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	if HasNonFinite(clean) {
		t.Errorf("Expected finite tensor to report false")
	}

	withInf, err := NewTensor([]int{2}, Float32, []float32{1, float32(math.Inf(1))})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	if !HasNonFinite(withInf) {
		t.Errorf("Expected Inf to be detected")
	}

	withNaN, err := NewTensor([]int{2}, Float32, []float32{float32(math.NaN()), 0})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	if !HasNonFinite(withNaN) {
		t.Errorf("Expected NaN to be detected")
	}
}

func TestBroadcastTensor(t *testing.T) {
	row, err := NewTensor([]int{1, 3}, Float32, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	expanded, err := BroadcastTensor(row, []int{2, 3})
	if err != nil {
		t.Fatalf("BroadcastTensor failed: %v", err)
	}
	want := []float32{1, 2, 3, 1, 2, 3}
	for i, v := range expanded.Float32s() {
		if v != want[i] {
			t.Errorf("Expected %v at %d, got %v", want[i], i, v)
		}
	}

	if _, err := BroadcastTensor(row, []int{2, 4}); err == nil {
		t.Errorf("Expected error broadcasting [1 3] to [2 4], got nil")
	}
}
