package model

import (
	"fmt"
)

// Model kind tags stored in checkpoint descriptors and used for provider
// selection.
const (
	KindCLIP  = "clip"
	KindMLM   = "mlm"
	KindALBEF = "albef"
)

// FusionConfig carries the joint architecture constants shared by the
// training variants: the common embedding width, the contrastive
// projection width, and the text tower and fusion stack sizes.
type FusionConfig struct {
	NEmbd        int     `json:"n_embd"`
	ITCEmbd      int     `json:"itc_embd"`
	TextSeqLen   int     `json:"text_seq_len"`
	TextLayers   int     `json:"text_layers"`
	TextHeads    int     `json:"text_heads"`
	FusionLayers int     `json:"fusion_layers"`
	VocabSize    int     `json:"vocab_size"`
	Dropout      float32 `json:"dropout"`
}

// DefaultFusionConfig returns the pretraining architecture: 768-wide
// towers, a 128-dimensional contrastive space, six text and six fusion
// layers over a byte-level vocabulary.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		NEmbd:        768,
		ITCEmbd:      128,
		TextSeqLen:   64,
		TextLayers:   6,
		TextHeads:    12,
		FusionLayers: 6,
		VocabSize:    258,
		Dropout:      0.0,
	}
}

func (cfg FusionConfig) Validate() error {
	if cfg.NEmbd <= 0 || cfg.ITCEmbd <= 0 {
		return fmt.Errorf("embedding widths must be positive, got %d and %d", cfg.NEmbd, cfg.ITCEmbd)
	}
	if cfg.TextSeqLen <= 0 {
		return fmt.Errorf("text sequence length must be positive, got %d", cfg.TextSeqLen)
	}
	if cfg.TextLayers <= 0 || cfg.FusionLayers < 0 {
		return fmt.Errorf("layer counts out of range: %d text, %d fusion", cfg.TextLayers, cfg.FusionLayers)
	}
	if cfg.TextHeads <= 0 || cfg.NEmbd%cfg.TextHeads != 0 {
		return fmt.Errorf("width %d not divisible by %d heads", cfg.NEmbd, cfg.TextHeads)
	}
	if cfg.VocabSize <= 0 {
		return fmt.Errorf("vocabulary size must be positive, got %d", cfg.VocabSize)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g", cfg.Dropout)
	}
	return nil
}

// ImageConfig describes the vision transformer backbone.
type ImageConfig struct {
	ImageSize int `json:"image_size"`
	PatchSize int `json:"patch_size"`
	Width     int `json:"width"`
	Layers    int `json:"layers"`
	Heads     int `json:"heads"`
}

// DefaultImageConfig returns the medium patch16 backbone shape used for
// 256-pixel inputs.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		ImageSize: 256,
		PatchSize: 16,
		Width:     512,
		Layers:    12,
		Heads:     8,
	}
}

func (cfg ImageConfig) Validate() error {
	if cfg.ImageSize <= 0 || cfg.PatchSize <= 0 || cfg.ImageSize%cfg.PatchSize != 0 {
		return fmt.Errorf("image size %d not divisible into %d-pixel patches", cfg.ImageSize, cfg.PatchSize)
	}
	if cfg.Width <= 0 || cfg.Layers <= 0 {
		return fmt.Errorf("backbone shape out of range: width %d, layers %d", cfg.Width, cfg.Layers)
	}
	if cfg.Heads <= 0 || cfg.Width%cfg.Heads != 0 {
		return fmt.Errorf("width %d not divisible by %d heads", cfg.Width, cfg.Heads)
	}
	return nil
}

// Patches returns the sequence length the backbone produces.
func (cfg ImageConfig) Patches() int {
	side := cfg.ImageSize / cfg.PatchSize
	return side * side
}
