package model

import (
	"testing"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// Tiny architectures keep forward passes fast while exercising every
// component: patching, both towers, fusion and the heads.
func tinyImageConfig() ImageConfig {
	return ImageConfig{
		ImageSize: 8,
		PatchSize: 4,
		Width:     16,
		Layers:    1,
		Heads:     2,
	}
}

func tinyFusionConfig() FusionConfig {
	return FusionConfig{
		NEmbd:        16,
		ITCEmbd:      8,
		TextSeqLen:   6,
		TextLayers:   1,
		TextHeads:    2,
		FusionLayers: 1,
		VocabSize:    11,
		Dropout:      0,
	}
}

func testImages(t *testing.T, rows int, img ImageConfig) *tensor.Tensor {
	t.Helper()
	pixels := make([]float32, rows*3*img.ImageSize*img.ImageSize)
	for i := range pixels {
		pixels[i] = float32(i%17) / 17.0
	}
	images, err := tensor.NewTensor([]int{rows, 3, img.ImageSize, img.ImageSize}, tensor.Float32, pixels)
	if err != nil {
		t.Fatalf("Failed to create images: %v", err)
	}
	return images
}

func testTokens(t *testing.T, rows, seqLen, vocab int) *tensor.Tensor {
	t.Helper()
	ids := make([]int32, rows*seqLen)
	for i := range ids {
		ids[i] = int32(i % vocab)
	}
	tokens, err := tensor.NewTensor([]int{rows, seqLen}, tensor.Int32, ids)
	if err != nil {
		t.Fatalf("Failed to create tokens: %v", err)
	}
	return tokens
}

func shapeEquals(shape []int, want ...int) bool {
	if len(shape) != len(want) {
		return false
	}
	for i := range want {
		if shape[i] != want[i] {
			return false
		}
	}
	return true
}

func TestImageEncoderShapes(t *testing.T) {
	img := tinyImageConfig()
	cfg := tinyFusionConfig()
	encoder, err := NewImageEncoder(img, cfg)
	if err != nil {
		t.Fatalf("Failed to create image encoder: %v", err)
	}

	pooled, seq, err := encoder.Encode(testImages(t, 2, img))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if !shapeEquals(pooled.Shape, 2, cfg.ITCEmbd) {
		t.Errorf("Expected pooled shape [2 %d], got %v", cfg.ITCEmbd, pooled.Shape)
	}
	if !shapeEquals(seq.Shape, 2, img.Patches(), cfg.NEmbd) {
		t.Errorf("Expected sequence shape [2 %d %d], got %v", img.Patches(), cfg.NEmbd, seq.Shape)
	}
}

func TestImageEncoderRejectsBadInput(t *testing.T) {
	img := tinyImageConfig()
	encoder, err := NewImageEncoder(img, tinyFusionConfig())
	if err != nil {
		t.Fatalf("Failed to create image encoder: %v", err)
	}

	badShapes := [][]int{
		{2, 1, 8, 8},  // wrong channel count
		{2, 3, 4, 8},  // wrong height
		{2, 3, 8, 16}, // wrong width
		{3, 8, 8},     // missing batch dimension
	}
	for _, shape := range badShapes {
		input, err := tensor.Zeros(shape, tensor.Float32)
		if err != nil {
			t.Fatalf("Failed to create input %v: %v", shape, err)
		}
		if _, _, err := encoder.Encode(input); err == nil {
			t.Errorf("Expected error for input shape %v, got nil", shape)
		}
	}
	if _, _, err := encoder.Encode(nil); err == nil {
		t.Errorf("Expected error for nil input, got nil")
	}
}

func TestTextEncoderShapes(t *testing.T) {
	cfg := tinyFusionConfig()
	encoder, err := NewTextEncoder(cfg)
	if err != nil {
		t.Fatalf("Failed to create text encoder: %v", err)
	}

	seqLens := []int{cfg.TextSeqLen, 3}
	for _, seqLen := range seqLens {
		pooled, hidden, err := encoder.Encode(testTokens(t, 2, seqLen, cfg.VocabSize))
		if err != nil {
			t.Fatalf("Encode failed for seq len %d: %v", seqLen, err)
		}
		if !shapeEquals(pooled.Shape, 2, cfg.ITCEmbd) {
			t.Errorf("Expected pooled shape [2 %d], got %v", cfg.ITCEmbd, pooled.Shape)
		}
		if !shapeEquals(hidden.Shape, 2, seqLen, cfg.NEmbd) {
			t.Errorf("Expected hidden shape [2 %d %d], got %v", seqLen, cfg.NEmbd, hidden.Shape)
		}
	}
}

func TestTextEncoderRejectsLongSequence(t *testing.T) {
	cfg := tinyFusionConfig()
	encoder, err := NewTextEncoder(cfg)
	if err != nil {
		t.Fatalf("Failed to create text encoder: %v", err)
	}

	if _, _, err := encoder.Encode(testTokens(t, 1, cfg.TextSeqLen+1, cfg.VocabSize)); err == nil {
		t.Errorf("Expected error for sequence longer than %d, got nil", cfg.TextSeqLen)
	}
}

func TestTextEncoderLMHeadShape(t *testing.T) {
	cfg := tinyFusionConfig()
	encoder, err := NewTextEncoder(cfg)
	if err != nil {
		t.Fatalf("Failed to create text encoder: %v", err)
	}

	_, hidden, err := encoder.Encode(testTokens(t, 2, 4, cfg.VocabSize))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	logits, err := encoder.LMHead(hidden)
	if err != nil {
		t.Fatalf("LMHead failed: %v", err)
	}
	if !shapeEquals(logits.Shape, 2, 4, cfg.VocabSize) {
		t.Errorf("Expected logits shape [2 4 %d], got %v", cfg.VocabSize, logits.Shape)
	}
}

func TestEncoderParameterNamesUnique(t *testing.T) {
	img := tinyImageConfig()
	cfg := tinyFusionConfig()
	encoder, err := NewImageEncoder(img, cfg)
	if err != nil {
		t.Fatalf("Failed to create image encoder: %v", err)
	}

	seen := make(map[string]bool)
	for _, p := range encoder.NamedParameters() {
		if seen[p.Name] {
			t.Errorf("Expected unique parameter names, got duplicate %q", p.Name)
		}
		seen[p.Name] = true
		if p.Tensor == nil {
			t.Errorf("Expected tensor for parameter %q, got nil", p.Name)
		} else if !p.Tensor.RequiresGrad() {
			t.Errorf("Expected parameter %q to require grad", p.Name)
		}
	}
	if len(seen) == 0 {
		t.Errorf("Expected named parameters, got none")
	}
}
