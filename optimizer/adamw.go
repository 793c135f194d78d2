package optimizer

import (
	"fmt"
	"math"

	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
)

// AdamWConfig holds AdamW hyperparameters
type AdamWConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
	AMSGrad      bool
}

// DefaultAdamWConfig returns the configuration used for multimodal training:
// decoupled weight decay disabled and the AMSGrad variant enabled.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.0001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		AMSGrad:      true,
	}
}

// AdamW implements the AdamW optimizer with optional AMSGrad variant.
// Weight decay is decoupled from the gradient moments; with AMSGrad the
// second-moment denominator uses the running maximum of v instead of v
// itself.
type AdamW struct {
	config AdamWConfig
	params []layers.NamedParameter

	m    [][]float32 // First moment estimates
	v    [][]float32 // Second moment estimates
	vMax [][]float32 // Running maximum of v (AMSGrad only)

	stepCount uint64
}

// NewAdamW creates an AdamW optimizer over the given parameters
func NewAdamW(params []layers.NamedParameter, config AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %f", config.Epsilon)
	}

	adamw := &AdamW{
		config: config,
		params: params,
		m:      make([][]float32, len(params)),
		v:      make([][]float32, len(params)),
	}
	if config.AMSGrad {
		adamw.vMax = make([][]float32, len(params))
	}

	for i, p := range params {
		if p.Tensor == nil {
			return nil, fmt.Errorf("parameter %s has no tensor", p.Name)
		}
		n := p.Tensor.NumElems
		adamw.m[i] = make([]float32, n)
		adamw.v[i] = make([]float32, n)
		if config.AMSGrad {
			adamw.vMax[i] = make([]float32, n)
		}
	}

	return adamw, nil
}

// Step applies one AdamW update. Parameters whose gradient is nil are
// skipped, leaving their moments untouched.
func (adamw *AdamW) Step() error {
	adamw.stepCount++

	beta1 := adamw.config.Beta1
	beta2 := adamw.config.Beta2
	lr := adamw.config.LearningRate
	eps := adamw.config.Epsilon

	bc1 := float32(1.0 - math.Pow(float64(beta1), float64(adamw.stepCount)))
	bc2 := float32(1.0 - math.Pow(float64(beta2), float64(adamw.stepCount)))

	for i, p := range adamw.params {
		grad := p.Tensor.Grad()
		if grad == nil {
			continue
		}

		g := grad.Float32s()
		w := p.Tensor.Float32s()
		if len(g) != len(w) {
			return fmt.Errorf("gradient size mismatch for %s: %d vs %d", p.Name, len(g), len(w))
		}

		m := adamw.m[i]
		v := adamw.v[i]

		for j := range w {
			gj := g[j]

			if adamw.config.WeightDecay != 0 {
				w[j] -= lr * adamw.config.WeightDecay * w[j]
			}

			m[j] = beta1*m[j] + (1.0-beta1)*gj
			v[j] = beta2*v[j] + (1.0-beta2)*gj*gj

			mHat := m[j] / bc1
			var vHat float32
			if adamw.config.AMSGrad {
				if v[j] > adamw.vMax[i][j] {
					adamw.vMax[i][j] = v[j]
				}
				vHat = adamw.vMax[i][j] / bc2
			} else {
				vHat = v[j] / bc2
			}

			w[j] -= lr * mHat / (float32(math.Sqrt(float64(vHat))) + eps)
		}
	}

	return nil
}

// ZeroGrad clears the accumulated gradients of all parameters
func (adamw *AdamW) ZeroGrad() {
	for _, p := range adamw.params {
		p.Tensor.ZeroGrad()
	}
}

// GetStepCount returns the current optimization step number
func (adamw *AdamW) GetStepCount() uint64 {
	return adamw.stepCount
}

// UpdateLearningRate updates the learning rate
func (adamw *AdamW) UpdateLearningRate(lr float32) {
	adamw.config.LearningRate = lr
}

// GetLearningRate returns the current learning rate
func (adamw *AdamW) GetLearningRate() float32 {
	return adamw.config.LearningRate
}

// GetState extracts optimizer state for checkpointing
func (adamw *AdamW) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 3*len(adamw.params))

	for i, p := range adamw.params {
		shape := append([]int(nil), p.Tensor.Shape...)

		mData := make([]float32, len(adamw.m[i]))
		copy(mData, adamw.m[i])
		stateData = append(stateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("m_%d", i),
			Shape:     shape,
			Data:      mData,
			StateType: "m",
		})

		vData := make([]float32, len(adamw.v[i]))
		copy(vData, adamw.v[i])
		stateData = append(stateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("v_%d", i),
			Shape:     shape,
			Data:      vData,
			StateType: "v",
		})

		if adamw.config.AMSGrad {
			vMaxData := make([]float32, len(adamw.vMax[i]))
			copy(vMaxData, adamw.vMax[i])
			stateData = append(stateData, checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("v_max_%d", i),
				Shape:     shape,
				Data:      vMaxData,
				StateType: "v_max",
			})
		}
	}

	return &checkpoints.OptimizerState{
		Type:      "AdamW",
		StepCount: adamw.stepCount,
		Parameters: map[string]interface{}{
			"learning_rate": float64(adamw.config.LearningRate),
			"beta1":         float64(adamw.config.Beta1),
			"beta2":         float64(adamw.config.Beta2),
			"epsilon":       float64(adamw.config.Epsilon),
			"weight_decay":  float64(adamw.config.WeightDecay),
			"amsgrad":       adamw.config.AMSGrad,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adamw *AdamW) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}

	for _, t := range state.StateData {
		idx := extractStateIndex(t.Name)
		if idx < 0 || idx >= len(adamw.params) {
			return fmt.Errorf("state tensor %s refers to unknown parameter index", t.Name)
		}

		var dst []float32
		switch t.StateType {
		case "m":
			dst = adamw.m[idx]
		case "v":
			dst = adamw.v[idx]
		case "v_max":
			if !adamw.config.AMSGrad {
				continue
			}
			dst = adamw.vMax[idx]
		default:
			return fmt.Errorf("unknown state type %q for tensor %s", t.StateType, t.Name)
		}

		if len(t.Data) != len(dst) {
			return fmt.Errorf("state size mismatch for %s: expected %d elements, got %d",
				t.Name, len(dst), len(t.Data))
		}
		copy(dst, t.Data)
	}

	adamw.stepCount = state.StepCount
	return nil
}
