package model

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
	"github.com/RobinDong/multimodal-trials/training"
)

// CLIP trains the two towers on the contrastive alignment objective
// alone. It shares the encoder architecture with ALBEF but carries no
// fusion stack.
type CLIP struct {
	cfg FusionConfig
	img ImageConfig

	image      *ImageEncoder
	text       *TextEncoder
	logitScale *tensor.Tensor

	training bool
}

type clipDescriptor struct {
	Fusion FusionConfig `json:"fusion"`
	Image  ImageConfig  `json:"image"`
}

func NewCLIP(img ImageConfig, cfg FusionConfig) (*CLIP, error) {
	image, err := NewImageEncoder(img, cfg)
	if err != nil {
		return nil, err
	}
	text, err := NewTextEncoder(cfg)
	if err != nil {
		return nil, err
	}
	logitScale, err := newLogitScale()
	if err != nil {
		return nil, err
	}

	return &CLIP{
		cfg:        cfg,
		img:        img,
		image:      image,
		text:       text,
		logitScale: logitScale,
		training:   true,
	}, nil
}

func NewCLIPFromSpec(spec checkpoints.ModelSpec) (*CLIP, error) {
	var desc clipDescriptor
	if err := decodeSpec(spec, KindCLIP, &desc); err != nil {
		return nil, err
	}
	return NewCLIP(desc.Image, desc.Fusion)
}

func (m *CLIP) Forward(batch *async.Batch, ctx *training.ComputeContext) (*training.TrainStepResult, error) {
	if batch == nil || batch.Images == nil || batch.Tokens == nil {
		return nil, fmt.Errorf("clip requires images and tokens")
	}

	imgPooled, _, err := m.image.Encode(batch.Images)
	if err != nil {
		return nil, fmt.Errorf("image encoder failed: %v", err)
	}
	txtPooled, _, err := m.text.Encode(batch.Tokens)
	if err != nil {
		return nil, fmt.Errorf("text encoder failed: %v", err)
	}
	imgPooled = ctx.Cast(imgPooled)
	txtPooled = ctx.Cast(txtPooled)

	perImage, perText, labels, err := contrastivePair(imgPooled, txtPooled, m.logitScale)
	if err != nil {
		return nil, err
	}
	loss := contrastiveLoss(perImage, perText, labels)

	return &training.TrainStepResult{
		LogitsPerImage: perImage,
		LogitsPerText:  perText,
		Labels:         labels,
		Loss:           loss,
		Accuracy:       training.ContrastiveAccuracy(perImage),
		Rows:           batch.Rows,
	}, nil
}

func (m *CLIP) Parameters() []*tensor.Tensor {
	return layers.Tensors(m.NamedParameters())
}

func (m *CLIP) NamedParameters() []layers.NamedParameter {
	var params []layers.NamedParameter
	params = append(params, layers.Prefix("image", m.image.NamedParameters())...)
	params = append(params, layers.Prefix("text", m.text.NamedParameters())...)
	params = append(params, layers.NamedParameter{Name: "logit_scale", Tensor: m.logitScale})
	return params
}

func (m *CLIP) Train() {
	m.training = true
	m.image.Train()
	m.text.Train()
}

func (m *CLIP) Eval() {
	m.training = false
	m.image.Eval()
	m.text.Eval()
}

func (m *CLIP) IsTraining() bool { return m.training }

func (m *CLIP) Describe() (checkpoints.ModelSpec, error) {
	return encodeSpec(KindCLIP, clipDescriptor{Fusion: m.cfg, Image: m.img})
}
