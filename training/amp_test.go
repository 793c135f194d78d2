package training

import (
	"math"
	"testing"

	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/optimizer"
	"github.com/RobinDong/multimodal-trials/tensor"
)

func gradParam(t *testing.T, values, grad []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{1, len(values)}, tensor.Float32, append([]float32(nil), values...))
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	p.SetRequiresGrad(true)

	col, err := tensor.NewTensor([]int{len(grad), 1}, tensor.Float32, append([]float32(nil), grad...))
	if err != nil {
		t.Fatalf("Failed to create gradient column: %v", err)
	}
	loss := tensor.MatMulAutograd(p, col)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Failed to run backward: %v", err)
	}
	return p
}

func TestGradScalerScalesLoss(t *testing.T) {
	gs := NewGradScaler(true)
	loss := tensor.Scalar(2.0)

	scaled := gs.Scale(loss)
	v, err := scaled.Item()
	if err != nil {
		t.Fatalf("Failed to read scaled loss: %v", err)
	}
	if v != 2.0*65536.0 {
		t.Errorf("Expected loss scaled by 65536, got %g", v)
	}
}

func TestGradScalerDisabledIsIdentity(t *testing.T) {
	gs := NewGradScaler(false)
	loss := tensor.Scalar(3.0)

	if gs.Scale(loss) != loss {
		t.Error("Expected disabled scaler to return the loss unchanged")
	}
	if gs.GetScale() != 1.0 {
		t.Errorf("Expected scale 1.0 when disabled, got %g", gs.GetScale())
	}

	p := gradParam(t, []float32{1.0}, []float32{0.5})
	adamw, err := optimizer.NewAdamW([]layers.NamedParameter{{Name: "w", Tensor: p}}, optimizer.DefaultAdamWConfig())
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	stepped, err := gs.Step(adamw)
	if err != nil {
		t.Fatalf("Failed to step: %v", err)
	}
	if !stepped {
		t.Error("Expected disabled scaler to always step")
	}
}

func TestGradScalerUnscaleDividesGradients(t *testing.T) {
	gs := NewGradScaler(true)
	p := gradParam(t, []float32{1.0, 2.0}, []float32{65536.0, 131072.0})

	gs.Unscale([]*tensor.Tensor{p})

	g := p.Grad().Float32s()
	if g[0] != 1.0 || g[1] != 2.0 {
		t.Errorf("Expected unscaled gradients [1, 2], got %v", g)
	}

	// Unscale is idempotent within an iteration
	gs.Unscale([]*tensor.Tensor{p})
	g = p.Grad().Float32s()
	if g[0] != 1.0 || g[1] != 2.0 {
		t.Errorf("Expected gradients unchanged on second unscale, got %v", g)
	}
}

func TestGradScalerOverflowSkipsStepAndBacksOff(t *testing.T) {
	gs := NewGradScaler(true)
	inf := float32(math.Inf(1))
	p := gradParam(t, []float32{1.0}, []float32{inf})

	adamw, err := optimizer.NewAdamW([]layers.NamedParameter{{Name: "w", Tensor: p}}, optimizer.DefaultAdamWConfig())
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	gs.Unscale([]*tensor.Tensor{p})
	stepped, err := gs.Step(adamw)
	if err != nil {
		t.Fatalf("Failed to step: %v", err)
	}
	if stepped {
		t.Error("Expected overflow to skip the optimizer step")
	}
	if p.Float32s()[0] != 1.0 {
		t.Errorf("Expected weight untouched after skipped step, got %g", p.Float32s()[0])
	}
	if adamw.GetStepCount() != 0 {
		t.Errorf("Expected step count 0 after skip, got %d", adamw.GetStepCount())
	}

	gs.Update()
	if gs.GetScale() != 32768.0 {
		t.Errorf("Expected scale halved to 32768 after overflow, got %g", gs.GetScale())
	}
}

func TestGradScalerGrowsAfterInterval(t *testing.T) {
	gs := NewGradScaler(true)
	p := gradParam(t, []float32{1.0}, []float32{1.0})
	adamw, err := optimizer.NewAdamW([]layers.NamedParameter{{Name: "w", Tensor: p}}, optimizer.DefaultAdamWConfig())
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	for i := 0; i < growthInterval; i++ {
		gs.Unscale([]*tensor.Tensor{p})
		if _, err := gs.Step(adamw); err != nil {
			t.Fatalf("Failed to step: %v", err)
		}
		if i == growthInterval-2 && gs.GetScale() != 65536.0 {
			t.Fatalf("Expected scale unchanged before the interval, got %g", gs.GetScale())
		}
		gs.Update()
	}

	if gs.GetScale() != 131072.0 {
		t.Errorf("Expected scale doubled to 131072 after %d clean steps, got %g", growthInterval, gs.GetScale())
	}
}

func TestGradScalerStepRequiresUnscale(t *testing.T) {
	gs := NewGradScaler(true)
	p := gradParam(t, []float32{1.0}, []float32{1.0})
	adamw, err := optimizer.NewAdamW([]layers.NamedParameter{{Name: "w", Tensor: p}}, optimizer.DefaultAdamWConfig())
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	if _, err := gs.Step(adamw); err == nil {
		t.Error("Expected error when stepping before unscale, got nil")
	}
}

func TestClipGradNorm(t *testing.T) {
	p := gradParam(t, []float32{0.0, 0.0}, []float32{3.0, 4.0})

	norm := ClipGradNorm([]*tensor.Tensor{p}, 1.0)
	if math.Abs(float64(norm-5.0)) > 1e-6 {
		t.Errorf("Expected pre-clip norm 5, got %g", norm)
	}

	g := p.Grad().Float32s()
	clipped := math.Sqrt(float64(g[0]*g[0] + g[1]*g[1]))
	if math.Abs(clipped-1.0) > 1e-5 {
		t.Errorf("Expected clipped norm 1, got %g", clipped)
	}

	// A norm under the ceiling is left alone
	p2 := gradParam(t, []float32{0.0}, []float32{0.5})
	ClipGradNorm([]*tensor.Tensor{p2}, 1.0)
	if p2.Grad().Float32s()[0] != 0.5 {
		t.Errorf("Expected gradient unchanged below ceiling, got %g", p2.Grad().Float32s()[0])
	}

	// Zero ceiling disables clipping
	p3 := gradParam(t, []float32{0.0}, []float32{30.0})
	ClipGradNorm([]*tensor.Tensor{p3}, 0)
	if p3.Grad().Float32s()[0] != 30.0 {
		t.Errorf("Expected gradient unchanged with clipping disabled, got %g", p3.Grad().Float32s()[0])
	}
}

func TestComputeContextCast(t *testing.T) {
	x := tensor.Scalar(1.1)

	full := &ComputeContext{}
	if full.Cast(x) != x {
		t.Error("Expected full precision context to return the tensor unchanged")
	}

	var nilCtx *ComputeContext
	if nilCtx.Cast(x) != x {
		t.Error("Expected nil context to return the tensor unchanged")
	}

	half := &ComputeContext{HalfPrecision: true}
	y := half.Cast(x)
	v, err := y.Item()
	if err != nil {
		t.Fatalf("Failed to read cast value: %v", err)
	}
	// 1.1 is not representable in binary16; nearest is 1.0996094
	if math.Abs(float64(v)-1.0996094) > 1e-6 {
		t.Errorf("Expected half-rounded 1.0996094, got %g", v)
	}
}
