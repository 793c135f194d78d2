package dataset

import (
	"fmt"
	"math/rand"

	"github.com/RobinDong/multimodal-trials/async"
)

// SyntheticConfig sizes the procedural dataset.
type SyntheticConfig struct {
	Samples   int
	ImageSize int
	SeqLen    int
	MaskRatio float64
	Seed      int64
}

// DefaultSyntheticConfig returns a smoke-run sized corpus.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Samples:   4096,
		ImageSize: 256,
		SeqLen:    64,
		MaskRatio: 0.15,
	}
}

// Synthetic generates deterministic (image, caption) pairs without touching
// disk. Every index renders a distinct striped pattern and a caption that
// describes the pattern's parameters, so the pairing carries real signal
// for the contrastive objective.
type Synthetic struct {
	config SyntheticConfig
}

// NewSynthetic validates the configuration and returns the dataset.
func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if config.Samples <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", config.Samples)
	}
	if config.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", config.ImageSize)
	}
	if config.SeqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", config.SeqLen)
	}
	if config.MaskRatio < 0 || config.MaskRatio >= 1 {
		return nil, fmt.Errorf("mask ratio must be in [0, 1), got %f", config.MaskRatio)
	}
	return &Synthetic{config: config}, nil
}

// Len returns the configured sample count.
func (s *Synthetic) Len() int {
	return s.config.Samples
}

// Caption returns the text paired with the image at index.
func (s *Synthetic) Caption(index int) string {
	phase := (index*31 + 7) % 251
	weave := index % 7
	return fmt.Sprintf("synthetic tile %d with phase %d and weave %d", index, phase, weave)
}

// Sample renders the image and masks the caption tokens for index. Two
// calls with the same index produce identical samples.
func (s *Synthetic) Sample(index int) (*async.Sample, error) {
	if index < 0 || index >= s.config.Samples {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, s.config.Samples)
	}

	size := s.config.ImageSize
	plane := size * size
	image := make([]float32, 3*plane)
	phase := (index*31 + 7) % 251
	weave := index % 7
	for c := 0; c < 3; c++ {
		base := c * plane
		for y := 0; y < size; y++ {
			row := y * size
			for x := 0; x < size; x++ {
				v := (x*(c+1) + y*(weave+1) + phase*(c+2)) % 256
				image[base+row+x] = float32(v) / 255.0
			}
		}
	}

	tokens := EncodeCaption(s.Caption(index), s.config.SeqLen)
	rng := rand.New(rand.NewSource(s.config.Seed + int64(index)))
	masked, targets := MaskTokens(tokens, rng, s.config.MaskRatio)

	return &async.Sample{
		Image:   image,
		Tokens:  masked,
		Targets: targets,
	}, nil
}
