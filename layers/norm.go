package layers

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// LayerNorm normalizes the last dimension to zero mean and unit variance,
// then applies a learned gain and bias.
type LayerNorm struct {
	gain     *tensor.Tensor
	bias     *tensor.Tensor
	eps      float32
	training bool
}

func NewLayerNorm(features int) (*LayerNorm, error) {
	if features <= 0 {
		return nil, fmt.Errorf("invalid layer norm size %d", features)
	}

	gain, err := tensor.Ones([]int{features}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create gain tensor: %v", err)
	}
	gain.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{features}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %v", err)
	}
	bias.SetRequiresGrad(true)

	return &LayerNorm{
		gain:     gain,
		bias:     bias,
		eps:      1e-5,
		training: true,
	}, nil
}

func (n *LayerNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	features := n.gain.Shape[0]
	if input.Shape[len(input.Shape)-1] != features {
		return nil, fmt.Errorf("feature size mismatch: expected %d, got %d", features, input.Shape[len(input.Shape)-1])
	}
	return tensor.LayerNormAutograd(input, n.gain, n.bias, n.eps), nil
}

func (n *LayerNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{n.gain, n.bias}
}

func (n *LayerNorm) NamedParameters() []NamedParameter {
	return []NamedParameter{
		{Name: "gain", Tensor: n.gain},
		{Name: "bias", Tensor: n.bias},
	}
}

func (n *LayerNorm) Train() { n.training = true }

func (n *LayerNorm) Eval() { n.training = false }

func (n *LayerNorm) IsTraining() bool { return n.training }
