package model

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// TextEncoder is a GPT-style causal transformer over token ids. Encode
// returns the final position projected into the contrastive space and
// the full hidden sequence; LMHead projects hidden states onto the
// vocabulary and is independently callable for the masked-token loss.
type TextEncoder struct {
	cfg FusionConfig

	tokEmbed *layers.Embedding
	posEmbed *layers.Embedding
	drop     *layers.Dropout
	blocks   []*layers.TransformerBlock
	norm     *layers.LayerNorm
	lmHead   *layers.Linear
	txtProj  *layers.Linear

	training bool
}

func NewTextEncoder(cfg FusionConfig) (*TextEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %v", err)
	}

	tokEmbed, err := layers.NewEmbedding(cfg.VocabSize, cfg.NEmbd)
	if err != nil {
		return nil, fmt.Errorf("failed to create token embedding: %v", err)
	}
	posEmbed, err := layers.NewEmbedding(cfg.TextSeqLen, cfg.NEmbd)
	if err != nil {
		return nil, fmt.Errorf("failed to create position embedding: %v", err)
	}
	drop, err := layers.NewDropout(cfg.Dropout)
	if err != nil {
		return nil, err
	}

	blocks := make([]*layers.TransformerBlock, cfg.TextLayers)
	for i := range blocks {
		block, err := layers.NewTransformerBlock(cfg.NEmbd, cfg.TextHeads, true, cfg.Dropout)
		if err != nil {
			return nil, fmt.Errorf("failed to create text block %d: %v", i, err)
		}
		blocks[i] = block
	}

	norm, err := layers.NewLayerNorm(cfg.NEmbd)
	if err != nil {
		return nil, err
	}
	lmHead, err := layers.NewLinear(cfg.NEmbd, cfg.VocabSize, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create language model head: %v", err)
	}
	txtProj, err := layers.NewLinear(cfg.NEmbd, cfg.ITCEmbd, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create contrastive projection: %v", err)
	}

	return &TextEncoder{
		cfg:      cfg,
		tokEmbed: tokEmbed,
		posEmbed: posEmbed,
		drop:     drop,
		blocks:   blocks,
		norm:     norm,
		lmHead:   lmHead,
		txtProj:  txtProj,
		training: true,
	}, nil
}

// Encode runs a [batch, seq] int32 token tensor through the tower and
// returns (pooled [batch, ITCEmbd], sequence [batch, seq, NEmbd]).
func (e *TextEncoder) Encode(tokens *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if tokens == nil {
		return nil, nil, fmt.Errorf("text encoder requires a token batch")
	}
	if len(tokens.Shape) != 2 {
		return nil, nil, fmt.Errorf("text encoder expects [batch, seq] tokens, got shape %v", tokens.Shape)
	}
	seqLen := tokens.Shape[1]
	if seqLen > e.cfg.TextSeqLen {
		return nil, nil, fmt.Errorf("sequence length %d exceeds maximum %d", seqLen, e.cfg.TextSeqLen)
	}

	tok, err := e.tokEmbed.Forward(tokens)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed tokens: %v", err)
	}
	posIDs, err := tensor.Arange(seqLen)
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.posEmbed.Forward(posIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed positions: %v", err)
	}

	x := tensor.AddAutograd(tok, pos)
	x, err = e.drop.Forward(x)
	if err != nil {
		return nil, nil, err
	}

	for i, block := range e.blocks {
		x, err = block.Forward(x)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to run text block %d: %v", i, err)
		}
	}
	h, err := e.norm.Forward(x)
	if err != nil {
		return nil, nil, err
	}

	last := tensor.NarrowAutograd(h, 1, seqLen-1, 1)
	last = tensor.ReshapeAutograd(last, []int{tokens.Shape[0], e.cfg.NEmbd})
	pooled, err := e.txtProj.Forward(last)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to project pooled embedding: %v", err)
	}
	return pooled, h, nil
}

// LMHead projects [batch, seq, NEmbd] hidden states onto the vocabulary.
func (e *TextEncoder) LMHead(hidden *tensor.Tensor) (*tensor.Tensor, error) {
	return e.lmHead.Forward(hidden)
}

func (e *TextEncoder) Parameters() []*tensor.Tensor {
	return layers.Tensors(e.NamedParameters())
}

func (e *TextEncoder) NamedParameters() []layers.NamedParameter {
	var params []layers.NamedParameter
	params = append(params, layers.Prefix("tok_embed", e.tokEmbed.NamedParameters())...)
	params = append(params, layers.Prefix("pos_embed", e.posEmbed.NamedParameters())...)
	for i, block := range e.blocks {
		params = append(params, layers.Prefix(fmt.Sprintf("block%d", i), block.NamedParameters())...)
	}
	params = append(params, layers.Prefix("norm", e.norm.NamedParameters())...)
	params = append(params, layers.Prefix("lm_head", e.lmHead.NamedParameters())...)
	params = append(params, layers.Prefix("txt_proj", e.txtProj.NamedParameters())...)
	return params
}

func (e *TextEncoder) Train() {
	e.training = true
	e.drop.Train()
	for _, block := range e.blocks {
		block.Train()
	}
}

func (e *TextEncoder) Eval() {
	e.training = false
	e.drop.Eval()
	for _, block := range e.blocks {
		block.Eval()
	}
}

func (e *TextEncoder) IsTraining() bool { return e.training }
