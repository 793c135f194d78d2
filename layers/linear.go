package layers

import (
	"fmt"
	"math"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform
// initialization, W ~ U(-sqrt(6/(fan_in+fan_out)), sqrt(6/(fan_in+fan_out))).
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions %dx%d", inputSize, outputSize)
	}

	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward accepts [batch, in] or [batch, seq, in] input; a 3D input is
// flattened through the matmul and restored afterwards.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	inSize := l.weight.Shape[0]
	last := len(input.Shape) - 1
	if input.Shape[last] != inSize {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", inSize, input.Shape[last])
	}

	x := input
	if len(input.Shape) == 3 {
		x = tensor.ReshapeAutograd(input, []int{input.Shape[0] * input.Shape[1], inSize})
	} else if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D or 3D input, got shape %v", input.Shape)
	}

	output := tensor.MatMulAutograd(x, l.weight)
	if l.bias != nil {
		output = tensor.AddAutograd(output, l.bias)
	}

	if len(input.Shape) == 3 {
		output = tensor.ReshapeAutograd(output, []int{input.Shape[0], input.Shape[1], l.weight.Shape[1]})
	}
	return output, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) NamedParameters() []NamedParameter {
	params := []NamedParameter{{Name: "weight", Tensor: l.weight}}
	if l.bias != nil {
		params = append(params, NamedParameter{Name: "bias", Tensor: l.bias})
	}
	return params
}

func (l *Linear) Train() { l.training = true }

func (l *Linear) Eval() { l.training = false }

func (l *Linear) IsTraining() bool { return l.training }

// InputSize returns the fan-in of the layer.
func (l *Linear) InputSize() int { return l.weight.Shape[0] }

// OutputSize returns the fan-out of the layer.
func (l *Linear) OutputSize() int { return l.weight.Shape[1] }
