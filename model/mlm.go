package model

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
	"github.com/RobinDong/multimodal-trials/training"
)

// MLM trains the text tower alone on masked-token prediction. Images in
// the batch are ignored, which lets the variant share loaders with the
// multimodal ones.
type MLM struct {
	cfg  FusionConfig
	text *TextEncoder

	training bool
}

type mlmDescriptor struct {
	Fusion FusionConfig `json:"fusion"`
}

func NewMLM(cfg FusionConfig) (*MLM, error) {
	text, err := NewTextEncoder(cfg)
	if err != nil {
		return nil, err
	}
	return &MLM{cfg: cfg, text: text, training: true}, nil
}

func NewMLMFromSpec(spec checkpoints.ModelSpec) (*MLM, error) {
	var desc mlmDescriptor
	if err := decodeSpec(spec, KindMLM, &desc); err != nil {
		return nil, err
	}
	return NewMLM(desc.Fusion)
}

func (m *MLM) Forward(batch *async.Batch, ctx *training.ComputeContext) (*training.TrainStepResult, error) {
	if batch == nil || batch.Tokens == nil || batch.Targets == nil {
		return nil, fmt.Errorf("mlm requires tokens and targets")
	}

	_, hidden, err := m.text.Encode(batch.Tokens)
	if err != nil {
		return nil, fmt.Errorf("text encoder failed: %v", err)
	}
	hidden = ctx.Cast(hidden)

	seqLen := batch.Tokens.Shape[1]
	tokenLogits, err := m.text.LMHead(hidden)
	if err != nil {
		return nil, fmt.Errorf("failed to project token logits: %v", err)
	}
	tokenLogits = tensor.ReshapeAutograd(tokenLogits, []int{batch.Rows * seqLen, m.cfg.VocabSize})
	loss := tensor.CrossEntropyAutograd(tokenLogits, batch.Targets, async.IgnoreIndex)

	return &training.TrainStepResult{
		TokenLogits:  tokenLogits,
		TokenTargets: batch.Targets,
		Loss:         loss,
		Accuracy:     training.MaskedTokenAccuracy(tokenLogits, batch.Targets, async.IgnoreIndex),
		Rows:         batch.Rows,
	}, nil
}

func (m *MLM) Parameters() []*tensor.Tensor {
	return layers.Tensors(m.NamedParameters())
}

func (m *MLM) NamedParameters() []layers.NamedParameter {
	return layers.Prefix("text", m.text.NamedParameters())
}

func (m *MLM) Train() {
	m.training = true
	m.text.Train()
}

func (m *MLM) Eval() {
	m.training = false
	m.text.Eval()
}

func (m *MLM) IsTraining() bool { return m.training }

func (m *MLM) Describe() (checkpoints.ModelSpec, error) {
	return encodeSpec(KindMLM, mlmDescriptor{Fusion: m.cfg})
}
