package provider

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/model"
	"github.com/RobinDong/multimodal-trials/training"
)

// Fusion doubles the sequence the transformer stack runs over, so the
// combined variant trains on a smaller batch than the single-objective
// ones.
const albefMaxBatch = 48

// ALBEF trains the combined contrastive plus masked-token variant, the
// full multimodal loss engine.
type ALBEF struct {
	Fusion model.FusionConfig
	Image  model.ImageConfig
}

// NewALBEF returns the provider at the default architecture.
func NewALBEF() *ALBEF {
	return &ALBEF{
		Fusion: model.DefaultFusionConfig(),
		Image:  model.DefaultImageConfig(),
	}
}

// Tag names the variant for registry lookup and checkpoint files.
func (p *ALBEF) Tag() string {
	return model.KindALBEF
}

// BatchSize caps the configured batch size at the fusion limit.
func (p *ALBEF) BatchSize(cfg training.TrainConfig) int {
	if cfg.BatchSize > albefMaxBatch {
		return albefMaxBatch
	}
	return cfg.BatchSize
}

// ConstructModel builds a fresh ALBEF model sized to the run config.
func (p *ALBEF) ConstructModel(cfg training.TrainConfig) (training.Model, error) {
	fusion := p.Fusion
	fusion.TextSeqLen = cfg.SeqLen
	img := p.Image
	img.ImageSize = cfg.ImageSize
	m, err := model.NewALBEF(img, fusion)
	if err != nil {
		return nil, fmt.Errorf("failed to build albef model: %v", err)
	}
	return m, nil
}

// Datasets splits the configured corpus for this run.
func (p *ALBEF) Datasets(cfg training.TrainConfig) (train, eval async.DataSource, err error) {
	return buildSources(cfg)
}

// TrainStep runs the multimodal loss engine forward under the precision
// context.
func (p *ALBEF) TrainStep(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (*training.TrainStepResult, error) {
	return m.Forward(batch, ctx)
}

// ValidateAccuracy reports masked-token prediction accuracy over the
// fused sequence.
func (p *ALBEF) ValidateAccuracy(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (accuracy, loss float64, err error) {
	return validateForward(m, batch, ctx)
}

// Metrics derives epoch, accuracy and loss from the step result.
func (p *ALBEF) Metrics(result *training.TrainStepResult, iteration int, loader *async.Loader) (int, float64, float64) {
	return training.StepMetrics(result, iteration, loader)
}

// Resume rebuilds the model from a checkpoint descriptor and weights.
func (p *ALBEF) Resume(ck *checkpoints.Checkpoint) (training.Model, error) {
	if ck == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	m, err := model.NewALBEFFromSpec(ck.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild albef model: %v", err)
	}
	if err := checkpoints.RestoreWeights(m.NamedParameters(), ck.Weights); err != nil {
		return nil, fmt.Errorf("failed to restore albef weights: %v", err)
	}
	return m, nil
}
