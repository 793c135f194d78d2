package layers

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// FeedForward is the position-wise MLP of a transformer block: expand by
// four, GELU, contract.
type FeedForward struct {
	expand   *Linear
	contract *Linear
	drop     *Dropout
	training bool
}

func NewFeedForward(width int, dropout float32) (*FeedForward, error) {
	expand, err := NewLinear(width, 4*width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create expansion layer: %v", err)
	}
	contract, err := NewLinear(4*width, width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create contraction layer: %v", err)
	}
	drop, err := NewDropout(dropout)
	if err != nil {
		return nil, err
	}
	return &FeedForward{
		expand:   expand,
		contract: contract,
		drop:     drop,
		training: true,
	}, nil
}

func (f *FeedForward) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := f.expand.Forward(input)
	if err != nil {
		return nil, err
	}
	hidden = tensor.GELUAutograd(hidden)
	out, err := f.contract.Forward(hidden)
	if err != nil {
		return nil, err
	}
	return f.drop.Forward(out)
}

func (f *FeedForward) Parameters() []*tensor.Tensor {
	params := f.expand.Parameters()
	return append(params, f.contract.Parameters()...)
}

func (f *FeedForward) NamedParameters() []NamedParameter {
	params := Prefix("expand", f.expand.NamedParameters())
	return append(params, Prefix("contract", f.contract.NamedParameters())...)
}

func (f *FeedForward) Train() {
	f.training = true
	f.drop.Train()
}

func (f *FeedForward) Eval() {
	f.training = false
	f.drop.Eval()
}

func (f *FeedForward) IsTraining() bool { return f.training }

// TransformerBlock is a pre-norm transformer layer: attention and MLP
// sublayers, each behind a layer norm, each wrapped in a residual add.
type TransformerBlock struct {
	norm1    *LayerNorm
	attn     *MultiHeadAttention
	norm2    *LayerNorm
	mlp      *FeedForward
	training bool
}

func NewTransformerBlock(width, heads int, causal bool, dropout float32) (*TransformerBlock, error) {
	norm1, err := NewLayerNorm(width)
	if err != nil {
		return nil, err
	}
	attn, err := NewMultiHeadAttention(width, heads, causal, dropout)
	if err != nil {
		return nil, err
	}
	norm2, err := NewLayerNorm(width)
	if err != nil {
		return nil, err
	}
	mlp, err := NewFeedForward(width, dropout)
	if err != nil {
		return nil, err
	}
	return &TransformerBlock{
		norm1:    norm1,
		attn:     attn,
		norm2:    norm2,
		mlp:      mlp,
		training: true,
	}, nil
}

func (b *TransformerBlock) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	normed, err := b.norm1.Forward(input)
	if err != nil {
		return nil, err
	}
	attended, err := b.attn.Forward(normed)
	if err != nil {
		return nil, err
	}
	x := tensor.AddAutograd(input, attended)

	normed, err = b.norm2.Forward(x)
	if err != nil {
		return nil, err
	}
	expanded, err := b.mlp.Forward(normed)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(x, expanded), nil
}

func (b *TransformerBlock) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, b.norm1.Parameters()...)
	params = append(params, b.attn.Parameters()...)
	params = append(params, b.norm2.Parameters()...)
	params = append(params, b.mlp.Parameters()...)
	return params
}

func (b *TransformerBlock) NamedParameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, Prefix("norm1", b.norm1.NamedParameters())...)
	params = append(params, Prefix("attn", b.attn.NamedParameters())...)
	params = append(params, Prefix("norm2", b.norm2.NamedParameters())...)
	params = append(params, Prefix("mlp", b.mlp.NamedParameters())...)
	return params
}

func (b *TransformerBlock) Train() {
	b.training = true
	b.norm1.Train()
	b.attn.Train()
	b.norm2.Train()
	b.mlp.Train()
}

func (b *TransformerBlock) Eval() {
	b.training = false
	b.norm1.Eval()
	b.attn.Eval()
	b.norm2.Eval()
	b.mlp.Eval()
}

func (b *TransformerBlock) IsTraining() bool { return b.training }
