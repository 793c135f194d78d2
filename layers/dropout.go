package layers

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// Dropout zeroes activations with probability p during training, scaling
// the survivors by 1/(1-p). In eval mode it is the identity.
type Dropout struct {
	p        float32
	training bool
}

func NewDropout(p float32) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}

	keep := 1.0 - float64(d.p)
	scale := float32(1.0 / keep)
	maskData := make([]float32, input.NumElems)
	for i := range maskData {
		if globalRng.Float64() < keep {
			maskData[i] = scale
		}
	}
	mask, err := tensor.NewTensor(input.Shape, tensor.Float32, maskData)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropout mask: %v", err)
	}
	return tensor.MulAutograd(input, mask), nil
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }

func (d *Dropout) Train() { d.training = true }

func (d *Dropout) Eval() { d.training = false }

func (d *Dropout) IsTraining() bool { return d.training }
