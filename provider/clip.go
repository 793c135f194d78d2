package provider

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/model"
	"github.com/RobinDong/multimodal-trials/training"
)

// CLIP trains the two-tower contrastive variant. The architecture fields
// start at the pretraining defaults; tests shrink them before use.
type CLIP struct {
	Fusion model.FusionConfig
	Image  model.ImageConfig
}

// NewCLIP returns the provider at the default architecture.
func NewCLIP() *CLIP {
	return &CLIP{
		Fusion: model.DefaultFusionConfig(),
		Image:  model.DefaultImageConfig(),
	}
}

// Tag names the variant for registry lookup and checkpoint files.
func (p *CLIP) Tag() string {
	return model.KindCLIP
}

// BatchSize keeps the configured batch size.
func (p *CLIP) BatchSize(cfg training.TrainConfig) int {
	return cfg.BatchSize
}

// ConstructModel builds a fresh CLIP model sized to the run config.
func (p *CLIP) ConstructModel(cfg training.TrainConfig) (training.Model, error) {
	fusion := p.Fusion
	fusion.TextSeqLen = cfg.SeqLen
	img := p.Image
	img.ImageSize = cfg.ImageSize
	m, err := model.NewCLIP(img, fusion)
	if err != nil {
		return nil, fmt.Errorf("failed to build clip model: %v", err)
	}
	return m, nil
}

// Datasets splits the configured corpus for this run.
func (p *CLIP) Datasets(cfg training.TrainConfig) (train, eval async.DataSource, err error) {
	return buildSources(cfg)
}

// TrainStep runs one forward pass under the precision context.
func (p *CLIP) TrainStep(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (*training.TrainStepResult, error) {
	return m.Forward(batch, ctx)
}

// ValidateAccuracy reports top-1 contrastive retrieval accuracy.
func (p *CLIP) ValidateAccuracy(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (accuracy, loss float64, err error) {
	return validateForward(m, batch, ctx)
}

// Metrics derives epoch, accuracy and loss from the step result.
func (p *CLIP) Metrics(result *training.TrainStepResult, iteration int, loader *async.Loader) (int, float64, float64) {
	return training.StepMetrics(result, iteration, loader)
}

// Resume rebuilds the model from a checkpoint descriptor and weights.
func (p *CLIP) Resume(ck *checkpoints.Checkpoint) (training.Model, error) {
	if ck == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	m, err := model.NewCLIPFromSpec(ck.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild clip model: %v", err)
	}
	if err := checkpoints.RestoreWeights(m.NamedParameters(), ck.Weights); err != nil {
		return nil, fmt.Errorf("failed to restore clip weights: %v", err)
	}
	return m, nil
}
