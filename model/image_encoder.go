package model

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// ImageEncoder is a vision transformer over non-overlapping square
// patches. Encode returns two views of the image: the final patch
// position projected into the contrastive space, and the full patch
// sequence projected to the shared embedding width for fusion.
type ImageEncoder struct {
	cfg FusionConfig
	img ImageConfig

	patchEmbed *layers.Linear
	posEmbed   *layers.Embedding
	blocks     []*layers.TransformerBlock
	norm       *layers.LayerNorm
	outProj    *layers.Linear
	imgProj    *layers.Linear

	posIDs   *tensor.Tensor
	training bool
}

func NewImageEncoder(img ImageConfig, cfg FusionConfig) (*ImageEncoder, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid image config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %v", err)
	}

	patchDim := 3 * img.PatchSize * img.PatchSize
	patchEmbed, err := layers.NewLinear(patchDim, img.Width, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create patch embedding: %v", err)
	}
	posEmbed, err := layers.NewEmbedding(img.Patches(), img.Width)
	if err != nil {
		return nil, fmt.Errorf("failed to create position embedding: %v", err)
	}

	blocks := make([]*layers.TransformerBlock, img.Layers)
	for i := range blocks {
		block, err := layers.NewTransformerBlock(img.Width, img.Heads, false, cfg.Dropout)
		if err != nil {
			return nil, fmt.Errorf("failed to create image block %d: %v", i, err)
		}
		blocks[i] = block
	}

	norm, err := layers.NewLayerNorm(img.Width)
	if err != nil {
		return nil, err
	}
	outProj, err := layers.NewLinear(img.Width, cfg.NEmbd, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequence projection: %v", err)
	}
	imgProj, err := layers.NewLinear(img.Width, cfg.ITCEmbd, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create contrastive projection: %v", err)
	}

	posIDs, err := tensor.Arange(img.Patches())
	if err != nil {
		return nil, err
	}

	return &ImageEncoder{
		cfg:        cfg,
		img:        img,
		patchEmbed: patchEmbed,
		posEmbed:   posEmbed,
		blocks:     blocks,
		norm:       norm,
		outProj:    outProj,
		imgProj:    imgProj,
		posIDs:     posIDs,
		training:   true,
	}, nil
}

// Encode runs a [batch, 3, size, size] image tensor through the backbone
// and returns (pooled [batch, ITCEmbd], sequence [batch, patches, NEmbd]).
func (e *ImageEncoder) Encode(images *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if images == nil {
		return nil, nil, fmt.Errorf("image encoder requires an image batch")
	}
	if len(images.Shape) != 4 || images.Shape[1] != 3 ||
		images.Shape[2] != e.img.ImageSize || images.Shape[3] != e.img.ImageSize {
		return nil, nil, fmt.Errorf("image encoder expects [batch, 3, %d, %d], got shape %v",
			e.img.ImageSize, e.img.ImageSize, images.Shape)
	}

	patches := tensor.PatchifyAutograd(images, e.img.PatchSize)
	x, err := e.patchEmbed.Forward(patches)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed patches: %v", err)
	}
	pos, err := e.posEmbed.Forward(e.posIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed positions: %v", err)
	}
	x = tensor.AddAutograd(x, pos)

	for i, block := range e.blocks {
		x, err = block.Forward(x)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to run image block %d: %v", i, err)
		}
	}
	h, err := e.norm.Forward(x)
	if err != nil {
		return nil, nil, err
	}

	n := e.img.Patches()
	last := tensor.NarrowAutograd(h, 1, n-1, 1)
	last = tensor.ReshapeAutograd(last, []int{images.Shape[0], e.img.Width})

	pooled, err := e.imgProj.Forward(last)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to project pooled embedding: %v", err)
	}
	seq, err := e.outProj.Forward(h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to project patch sequence: %v", err)
	}
	return pooled, seq, nil
}

func (e *ImageEncoder) Parameters() []*tensor.Tensor {
	return layers.Tensors(e.NamedParameters())
}

func (e *ImageEncoder) NamedParameters() []layers.NamedParameter {
	var params []layers.NamedParameter
	params = append(params, layers.Prefix("patch_embed", e.patchEmbed.NamedParameters())...)
	params = append(params, layers.Prefix("pos_embed", e.posEmbed.NamedParameters())...)
	for i, block := range e.blocks {
		params = append(params, layers.Prefix(fmt.Sprintf("block%d", i), block.NamedParameters())...)
	}
	params = append(params, layers.Prefix("norm", e.norm.NamedParameters())...)
	params = append(params, layers.Prefix("out_proj", e.outProj.NamedParameters())...)
	params = append(params, layers.Prefix("img_proj", e.imgProj.NamedParameters())...)
	return params
}

func (e *ImageEncoder) Train() {
	e.training = true
	for _, block := range e.blocks {
		block.Train()
	}
}

func (e *ImageEncoder) Eval() {
	e.training = false
	for _, block := range e.blocks {
		block.Eval()
	}
}

func (e *ImageEncoder) IsTraining() bool { return e.training }
