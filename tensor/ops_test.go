package tensor

import (
	"testing"
)

func floatTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	out, err := NewTensor(shape, Float32, data)
	if err != nil {
		t.Fatalf("Failed to create tensor %v: %v", shape, err)
	}
	return out
}

func expectValues(t *testing.T, got *Tensor, want []float32) {
	t.Helper()
	gv := got.Float32s()
	if len(gv) != len(want) {
		t.Fatalf("Expected %d elements, got %d", len(want), len(gv))
	}
	for i := range want {
		if gv[i] != want[i] {
			t.Errorf("Expected %v at %d, got %v", want[i], i, gv[i])
		}
	}
}

func TestAddSameShape(t *testing.T) {
	a := floatTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := floatTensor(t, []int{2, 2}, []float32{10, 20, 30, 40})
	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expectValues(t, sum, []float32{11, 22, 33, 44})
}

func TestAddBroadcast(t *testing.T) {
	// Position embeddings add a [seq, width] table onto [batch, seq, width]
	// activations; this is the exact shape pair the encoders rely on.
	x := floatTensor(t, []int{2, 2, 3}, []float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	})
	pos := floatTensor(t, []int{2, 3}, []float32{100, 200, 300, 400, 500, 600})

	sum, err := Add(x, pos)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expectValues(t, sum, []float32{
		101, 202, 303, 404, 505, 606,
		107, 208, 309, 410, 511, 612,
	})

	if _, err := Add(x, floatTensor(t, []int{2, 4}, make([]float32, 8))); err == nil {
		t.Errorf("Expected error adding incompatible shapes, got nil")
	}
}

func TestMulScalarBroadcast(t *testing.T) {
	logits := floatTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	scale := Scalar(2.5)
	scaled, err := Mul(logits, scale)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	expectValues(t, scaled, []float32{2.5, 5, 7.5, 10})
}

func TestTranspose(t *testing.T) {
	x := floatTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	xt, err := Transpose(x)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	if xt.Shape[0] != 3 || xt.Shape[1] != 2 {
		t.Errorf("Expected shape [3 2], got %v", xt.Shape)
	}
	expectValues(t, xt, []float32{1, 4, 2, 5, 3, 6})

	if _, err := Transpose(floatTensor(t, []int{2, 2, 2}, make([]float32, 8))); err == nil {
		t.Errorf("Expected error transposing a 3D tensor, got nil")
	}
}

func TestReshape(t *testing.T) {
	x := floatTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	flat, err := Reshape(x, []int{6})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	expectValues(t, flat, []float32{1, 2, 3, 4, 5, 6})

	// Storage is shared, not copied.
	flat.Float32s()[0] = 9
	if x.Float32s()[0] != 9 {
		t.Errorf("Expected reshape to share storage, got %v", x.Float32s()[0])
	}

	if _, err := Reshape(x, []int{4}); err == nil {
		t.Errorf("Expected error reshaping to a different element count, got nil")
	}
}

func TestNarrow(t *testing.T) {
	x := floatTensor(t, []int{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})

	mid, err := Narrow(x, 1, 1, 2)
	if err != nil {
		t.Fatalf("Narrow failed: %v", err)
	}
	expectValues(t, mid, []float32{2, 3, 6, 7})

	secondRow, err := Narrow(x, 0, 1, 1)
	if err != nil {
		t.Fatalf("Narrow failed: %v", err)
	}
	expectValues(t, secondRow, []float32{5, 6, 7, 8})

	if _, err := Narrow(x, 1, 3, 2); err == nil {
		t.Errorf("Expected error narrowing past the end, got nil")
	}
	if _, err := Narrow(x, 2, 0, 1); err == nil {
		t.Errorf("Expected error narrowing a missing dimension, got nil")
	}
}

func TestConcat(t *testing.T) {
	a := floatTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := floatTensor(t, []int{2, 3}, []float32{5, 6, 7, 8, 9, 10})

	joined, err := Concat(a, b, 1)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if joined.Shape[0] != 2 || joined.Shape[1] != 5 {
		t.Errorf("Expected shape [2 5], got %v", joined.Shape)
	}
	expectValues(t, joined, []float32{1, 2, 5, 6, 7, 3, 4, 8, 9, 10})

	stacked, err := Concat(a, floatTensor(t, []int{1, 2}, []float32{9, 9}), 0)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	expectValues(t, stacked, []float32{1, 2, 3, 4, 9, 9})

	if _, err := Concat(a, b, 0); err == nil {
		t.Errorf("Expected error concatenating mismatched shapes along dim 0, got nil")
	}
}

func TestMatMul(t *testing.T) {
	a := floatTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := floatTensor(t, []int{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	c, err := MatMul(a, b, false, false)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	expectValues(t, c, []float32{58, 64, 139, 154})

	// transB against the stored transpose must match the plain product.
	bt, err := Transpose(b)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	cTrans, err := MatMul(a, bt, false, true)
	if err != nil {
		t.Fatalf("MatMul transB failed: %v", err)
	}
	expectValues(t, cTrans, c.Float32s())

	at, err := Transpose(a)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	cTransA, err := MatMul(at, b, true, false)
	if err != nil {
		t.Fatalf("MatMul transA failed: %v", err)
	}
	expectValues(t, cTransA, c.Float32s())

	if _, err := MatMul(a, a, false, false); err == nil {
		t.Errorf("Expected error for mismatched inner dimensions, got nil")
	}
}

func TestBatchedMatMul(t *testing.T) {
	a := floatTensor(t, []int{2, 2, 2}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	})
	b := floatTensor(t, []int{2, 2, 2}, []float32{
		1, 0, 0, 1,
		2, 0, 0, 2,
	})

	c, err := BatchedMatMul(a, b, false, false)
	if err != nil {
		t.Fatalf("BatchedMatMul failed: %v", err)
	}
	expectValues(t, c, []float32{
		1, 2, 3, 4,
		10, 12, 14, 16,
	})

	b2 := floatTensor(t, []int{2, 2, 2}, []float32{
		1, 2, 3, 4,
		0, 1, 1, 0,
	})
	cT, err := BatchedMatMul(a, b2, false, true)
	if err != nil {
		t.Fatalf("BatchedMatMul transB failed: %v", err)
	}
	expectValues(t, cT, []float32{
		5, 11, 11, 25,
		6, 5, 8, 7,
	})
}

func TestPatchifyLayout(t *testing.T) {
	// One image, one channel worth per color plane: 4x4 pixels in 2x2
	// patches. Pixel (c, y, x) carries the value 100c + 10y + x so the
	// destination of every value is self-describing.
	pixels := make([]float32, 3*4*4)
	for c := 0; c < 3; c++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				pixels[c*16+y*4+x] = float32(100*c + 10*y + x)
			}
		}
	}
	image := floatTensor(t, []int{1, 3, 4, 4}, pixels)

	patches := PatchifyAutograd(image, 2)
	if patches.Shape[0] != 1 || patches.Shape[1] != 4 || patches.Shape[2] != 12 {
		t.Fatalf("Expected shape [1 4 12], got %v", patches.Shape)
	}

	pv := patches.Float32s()
	// Patch 0 is the top-left 2x2 block; features are ordered channel by
	// channel, row by row within the patch.
	patch0 := []float32{0, 1, 10, 11, 100, 101, 110, 111, 200, 201, 210, 211}
	for i, want := range patch0 {
		if pv[i] != want {
			t.Errorf("Expected %v at patch 0 feature %d, got %v", want, i, pv[i])
		}
	}
	// Patch 3 is the bottom-right block.
	patch3 := []float32{22, 23, 32, 33, 122, 123, 132, 133, 222, 223, 232, 233}
	for i, want := range patch3 {
		if pv[3*12+i] != want {
			t.Errorf("Expected %v at patch 3 feature %d, got %v", want, i, pv[3*12+i])
		}
	}
}

func TestKernelLabel(t *testing.T) {
	switch KernelLabel() {
	case "baseline", "avx2", "avx512":
	default:
		t.Errorf("Expected a known kernel label, got %q", KernelLabel())
	}
}
