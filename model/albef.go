package model

import (
	"fmt"
	"math"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
	"github.com/RobinDong/multimodal-trials/training"
)

// ALBEF couples the image and text towers with a contrastive alignment
// objective and a fusion stack trained on masked tokens. One forward pass
// produces both losses; the combined loss is their unweighted sum.
type ALBEF struct {
	cfg FusionConfig
	img ImageConfig

	image      *ImageEncoder
	text       *TextEncoder
	fusion     []*layers.TransformerBlock
	logitScale *tensor.Tensor

	training bool
}

type albefDescriptor struct {
	Fusion FusionConfig `json:"fusion"`
	Image  ImageConfig  `json:"image"`
}

// initialLogitScale is ln(1/0.07), the CLIP temperature starting point.
var initialLogitScale = float32(math.Log(1.0 / 0.07))

func newLogitScale() (*tensor.Tensor, error) {
	scale, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{initialLogitScale})
	if err != nil {
		return nil, fmt.Errorf("failed to create logit scale: %v", err)
	}
	scale.SetRequiresGrad(true)
	return scale, nil
}

func NewALBEF(img ImageConfig, cfg FusionConfig) (*ALBEF, error) {
	image, err := NewImageEncoder(img, cfg)
	if err != nil {
		return nil, err
	}
	text, err := NewTextEncoder(cfg)
	if err != nil {
		return nil, err
	}

	fusion := make([]*layers.TransformerBlock, cfg.FusionLayers)
	for i := range fusion {
		block, err := layers.NewTransformerBlock(cfg.NEmbd, cfg.TextHeads, false, cfg.Dropout)
		if err != nil {
			return nil, fmt.Errorf("failed to create fusion block %d: %v", i, err)
		}
		fusion[i] = block
	}

	logitScale, err := newLogitScale()
	if err != nil {
		return nil, err
	}

	return &ALBEF{
		cfg:        cfg,
		img:        img,
		image:      image,
		text:       text,
		fusion:     fusion,
		logitScale: logitScale,
		training:   true,
	}, nil
}

// NewALBEFFromSpec rebuilds the architecture recorded in a checkpoint
// descriptor. Weights are restored separately.
func NewALBEFFromSpec(spec checkpoints.ModelSpec) (*ALBEF, error) {
	var desc albefDescriptor
	if err := decodeSpec(spec, KindALBEF, &desc); err != nil {
		return nil, err
	}
	return NewALBEF(desc.Image, desc.Fusion)
}

// contrastivePair computes the scaled pairwise similarity logits and the
// identity pairing labels shared by the ALBEF and CLIP objectives. Row i
// of each batch is the caption of image i.
func contrastivePair(imgPooled, txtPooled, logitScale *tensor.Tensor) (perImage, perText, labels *tensor.Tensor, err error) {
	imgEmbds := tensor.L2NormalizeAutograd(imgPooled)
	txtEmbds := tensor.L2NormalizeAutograd(txtPooled)

	sim := tensor.MatMulTransBAutograd(imgEmbds, txtEmbds)
	perImage = tensor.MulAutograd(sim, tensor.ExpAutograd(logitScale))
	perText = tensor.TransposeAutograd(perImage)

	labels, err = tensor.Arange(imgPooled.Shape[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create pairing labels: %v", err)
	}
	return perImage, perText, labels, nil
}

// contrastiveLoss averages the cross entropies of the image and text
// retrieval directions.
func contrastiveLoss(perImage, perText, labels *tensor.Tensor) *tensor.Tensor {
	lossI := tensor.CrossEntropyAutograd(perImage, labels, async.IgnoreIndex)
	lossT := tensor.CrossEntropyAutograd(perText, labels, async.IgnoreIndex)
	return tensor.ScaleAutograd(tensor.AddAutograd(lossI, lossT), 0.5)
}

func (m *ALBEF) Forward(batch *async.Batch, ctx *training.ComputeContext) (*training.TrainStepResult, error) {
	if batch == nil || batch.Images == nil || batch.Tokens == nil || batch.Targets == nil {
		return nil, fmt.Errorf("albef requires images, tokens and targets")
	}

	imgPooled, imgSeq, err := m.image.Encode(batch.Images)
	if err != nil {
		return nil, fmt.Errorf("image encoder failed: %v", err)
	}
	txtPooled, txtSeq, err := m.text.Encode(batch.Tokens)
	if err != nil {
		return nil, fmt.Errorf("text encoder failed: %v", err)
	}
	imgPooled = ctx.Cast(imgPooled)
	txtPooled = ctx.Cast(txtPooled)
	imgSeq = ctx.Cast(imgSeq)
	txtSeq = ctx.Cast(txtSeq)

	perImage, perText, labels, err := contrastivePair(imgPooled, txtPooled, m.logitScale)
	if err != nil {
		return nil, err
	}
	itcLoss := contrastiveLoss(perImage, perText, labels)

	// Fusion runs over the patch sequence followed by the token sequence.
	// The masked-token logits are read from the leading text_seq_len
	// positions of the fused output.
	fused := tensor.ConcatAutograd(imgSeq, txtSeq, 1)
	for i, block := range m.fusion {
		fused, err = block.Forward(fused)
		if err != nil {
			return nil, fmt.Errorf("failed to run fusion block %d: %v", i, err)
		}
	}
	fused = ctx.Cast(fused)

	seqLen := batch.Tokens.Shape[1]
	prefix := tensor.NarrowAutograd(fused, 1, 0, seqLen)
	tokenLogits, err := m.text.LMHead(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to project token logits: %v", err)
	}
	tokenLogits = tensor.ReshapeAutograd(tokenLogits, []int{batch.Rows * seqLen, m.cfg.VocabSize})
	mlmLoss := tensor.CrossEntropyAutograd(tokenLogits, batch.Targets, async.IgnoreIndex)

	loss := tensor.AddAutograd(itcLoss, mlmLoss)

	return &training.TrainStepResult{
		LogitsPerImage: perImage,
		LogitsPerText:  perText,
		Labels:         labels,
		TokenLogits:    tokenLogits,
		TokenTargets:   batch.Targets,
		Loss:           loss,
		Accuracy:       training.MaskedTokenAccuracy(tokenLogits, batch.Targets, async.IgnoreIndex),
		Rows:           batch.Rows,
	}, nil
}

func (m *ALBEF) Parameters() []*tensor.Tensor {
	return layers.Tensors(m.NamedParameters())
}

func (m *ALBEF) NamedParameters() []layers.NamedParameter {
	var params []layers.NamedParameter
	params = append(params, layers.Prefix("image", m.image.NamedParameters())...)
	params = append(params, layers.Prefix("text", m.text.NamedParameters())...)
	params = append(params, layers.NamedParameter{Name: "logit_scale", Tensor: m.logitScale})
	for i, block := range m.fusion {
		params = append(params, layers.Prefix(fmt.Sprintf("fusion%d", i), block.NamedParameters())...)
	}
	return params
}

func (m *ALBEF) Train() {
	m.training = true
	m.image.Train()
	m.text.Train()
	for _, block := range m.fusion {
		block.Train()
	}
}

func (m *ALBEF) Eval() {
	m.training = false
	m.image.Eval()
	m.text.Eval()
	for _, block := range m.fusion {
		block.Eval()
	}
}

func (m *ALBEF) IsTraining() bool { return m.training }

func (m *ALBEF) Describe() (checkpoints.ModelSpec, error) {
	return encodeSpec(KindALBEF, albefDescriptor{Fusion: m.cfg, Image: m.img})
}
