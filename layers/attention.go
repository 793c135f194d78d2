package layers

import (
	"fmt"
	"math"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// MultiHeadAttention implements scaled dot-product self-attention over a
// [batch, seq, width] sequence. With causal set, position i attends only to
// positions <= i; without it attention is fully bidirectional.
type MultiHeadAttention struct {
	query    *Linear
	key      *Linear
	value    *Linear
	proj     *Linear
	attnDrop *Dropout
	heads    int
	causal   bool
	masks    map[int]*tensor.Tensor
	training bool
}

func NewMultiHeadAttention(width, heads int, causal bool, dropout float32) (*MultiHeadAttention, error) {
	if heads <= 0 || width%heads != 0 {
		return nil, fmt.Errorf("width %d not divisible by %d heads", width, heads)
	}

	query, err := NewLinear(width, width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create query projection: %v", err)
	}
	key, err := NewLinear(width, width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create key projection: %v", err)
	}
	value, err := NewLinear(width, width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create value projection: %v", err)
	}
	proj, err := NewLinear(width, width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create output projection: %v", err)
	}
	attnDrop, err := NewDropout(dropout)
	if err != nil {
		return nil, err
	}

	return &MultiHeadAttention{
		query:    query,
		key:      key,
		value:    value,
		proj:     proj,
		attnDrop: attnDrop,
		heads:    heads,
		causal:   causal,
		masks:    make(map[int]*tensor.Tensor),
		training: true,
	}, nil
}

func (a *MultiHeadAttention) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 {
		return nil, fmt.Errorf("attention expects [batch, seq, width] input, got shape %v", input.Shape)
	}
	seq := input.Shape[1]
	headDim := a.query.OutputSize() / a.heads

	q, err := a.query.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("failed to project query: %v", err)
	}
	k, err := a.key.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("failed to project key: %v", err)
	}
	v, err := a.value.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("failed to project value: %v", err)
	}

	qh := tensor.SplitHeadsAutograd(q, a.heads)
	kh := tensor.SplitHeadsAutograd(k, a.heads)
	vh := tensor.SplitHeadsAutograd(v, a.heads)

	scores := tensor.BatchedMatMulTransBAutograd(qh, kh)
	scores = tensor.ScaleAutograd(scores, float32(1.0/math.Sqrt(float64(headDim))))

	var weights *tensor.Tensor
	if a.causal {
		weights = tensor.MaskedSoftmaxAutograd(scores, a.causalMask(seq))
	} else {
		weights = tensor.SoftmaxAutograd(scores)
	}
	weights, err = a.attnDrop.Forward(weights)
	if err != nil {
		return nil, err
	}

	context := tensor.BatchedMatMulAutograd(weights, vh)
	merged := tensor.MergeHeadsAutograd(context, a.heads)

	out, err := a.proj.Forward(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to project attention output: %v", err)
	}
	return out, nil
}

// causalMask returns the cached [seq, seq] additive mask with -Inf above
// the diagonal.
func (a *MultiHeadAttention) causalMask(seq int) *tensor.Tensor {
	if mask, ok := a.masks[seq]; ok {
		return mask
	}
	negInf := float32(math.Inf(-1))
	data := make([]float32, seq*seq)
	for i := 0; i < seq; i++ {
		for j := i + 1; j < seq; j++ {
			data[i*seq+j] = negInf
		}
	}
	mask, _ := tensor.NewTensor([]int{seq, seq}, tensor.Float32, data)
	a.masks[seq] = mask
	return mask
}

func (a *MultiHeadAttention) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, a.query.Parameters()...)
	params = append(params, a.key.Parameters()...)
	params = append(params, a.value.Parameters()...)
	params = append(params, a.proj.Parameters()...)
	return params
}

func (a *MultiHeadAttention) NamedParameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, Prefix("query", a.query.NamedParameters())...)
	params = append(params, Prefix("key", a.key.NamedParameters())...)
	params = append(params, Prefix("value", a.value.NamedParameters())...)
	params = append(params, Prefix("proj", a.proj.NamedParameters())...)
	return params
}

func (a *MultiHeadAttention) Train() {
	a.training = true
	a.attnDrop.Train()
}

func (a *MultiHeadAttention) Eval() {
	a.training = false
	a.attnDrop.Eval()
}

func (a *MultiHeadAttention) IsTraining() bool { return a.training }
