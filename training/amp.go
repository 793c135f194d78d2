package training

import (
	"fmt"
	"math"

	"github.com/RobinDong/multimodal-trials/optimizer"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// ComputeContext controls the numeric precision of forward passes. With
// half precision enabled, models round activations through IEEE binary16
// at encoder and fusion boundaries, reproducing autocast numerics on the
// float32 engine. A nil context means full precision.
type ComputeContext struct {
	HalfPrecision bool
}

// Cast rounds t through half precision when enabled, otherwise returns t
// unchanged. The rounding is a straight-through operation for gradients.
func (cc *ComputeContext) Cast(t *tensor.Tensor) *tensor.Tensor {
	if cc == nil || !cc.HalfPrecision {
		return t
	}
	return tensor.HalfCastAutograd(t)
}

const (
	defaultScale   = 65536.0
	growthFactor   = 2.0
	backoffFactor  = 0.5
	growthInterval = 2000
)

// GradScaler implements dynamic loss scaling for mixed-precision training.
// The loss is multiplied by the scale before backward; gradients are
// divided back afterwards and checked for overflow. On overflow the
// optimizer step is skipped and the scale backs off; after a run of clean
// steps the scale grows. A disabled scaler is the identity and never skips.
type GradScaler struct {
	scale         float32
	growthTracker int
	enabled       bool
	foundInf      bool
	unscaled      bool
}

// NewGradScaler creates a gradient scaler
func NewGradScaler(enabled bool) *GradScaler {
	return &GradScaler{
		scale:   defaultScale,
		enabled: enabled,
	}
}

// Enabled reports whether scaling is active
func (gs *GradScaler) Enabled() bool {
	return gs.enabled
}

// GetScale returns the current loss scale
func (gs *GradScaler) GetScale() float32 {
	if !gs.enabled {
		return 1.0
	}
	return gs.scale
}

// Scale multiplies the loss by the current scale inside the autograd graph
func (gs *GradScaler) Scale(loss *tensor.Tensor) *tensor.Tensor {
	if !gs.enabled {
		return loss
	}
	return tensor.ScaleAutograd(loss, gs.scale)
}

// Unscale divides the accumulated gradients by the scale in place and
// records whether any gradient came out non-finite. It is idempotent
// within one iteration.
func (gs *GradScaler) Unscale(params []*tensor.Tensor) {
	if !gs.enabled || gs.unscaled {
		return
	}

	inv := 1.0 / gs.scale
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		data := grad.Float32s()
		for i := range data {
			data[i] *= inv
			f := float64(data[i])
			if math.IsNaN(f) || math.IsInf(f, 0) {
				gs.foundInf = true
			}
		}
	}
	gs.unscaled = true
}

// Step runs the optimizer step unless an overflow was detected during
// Unscale. It reports whether the step was applied.
func (gs *GradScaler) Step(opt optimizer.Optimizer) (bool, error) {
	if !gs.enabled {
		if err := opt.Step(); err != nil {
			return false, err
		}
		return true, nil
	}

	if !gs.unscaled {
		return false, fmt.Errorf("Step called before Unscale")
	}
	if gs.foundInf {
		return false, nil
	}

	if err := opt.Step(); err != nil {
		return false, err
	}
	return true, nil
}

// Update adjusts the scale for the next iteration: backoff after an
// overflow, growth after a clean run of growthInterval steps.
func (gs *GradScaler) Update() {
	if !gs.enabled {
		return
	}

	if gs.foundInf {
		gs.scale *= backoffFactor
		gs.growthTracker = 0
	} else {
		gs.growthTracker++
		if gs.growthTracker >= growthInterval {
			gs.scale *= growthFactor
			gs.growthTracker = 0
		}
	}

	gs.foundInf = false
	gs.unscaled = false
}

// ClipGradNorm rescales gradients in place so their global L2 norm does
// not exceed maxNorm, returning the norm seen before clipping. A maxNorm
// of zero disables clipping; a non-finite norm leaves gradients untouched
// (the scaler will skip that step).
func ClipGradNorm(params []*tensor.Tensor, maxNorm float32) float32 {
	var total float64
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		for _, g := range grad.Float32s() {
			total += float64(g) * float64(g)
		}
	}
	norm := float32(math.Sqrt(total))

	if maxNorm <= 0 {
		return norm
	}
	if math.IsNaN(float64(norm)) || math.IsInf(float64(norm), 0) {
		return norm
	}
	if norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, p := range params {
			grad := p.Grad()
			if grad == nil {
				continue
			}
			data := grad.Float32s()
			for i := range data {
				data[i] *= scale
			}
		}
	}
	return norm
}
