package provider

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/model"
	"github.com/RobinDong/multimodal-trials/training"
)

// MLM trains the text-only masked-token variant. The loader still carries
// images so the corpus layer is shared; the model ignores them.
type MLM struct {
	Fusion model.FusionConfig
}

// NewMLM returns the provider at the default architecture.
func NewMLM() *MLM {
	return &MLM{Fusion: model.DefaultFusionConfig()}
}

// Tag names the variant for registry lookup and checkpoint files.
func (p *MLM) Tag() string {
	return model.KindMLM
}

// BatchSize keeps the configured batch size.
func (p *MLM) BatchSize(cfg training.TrainConfig) int {
	return cfg.BatchSize
}

// ConstructModel builds a fresh text tower sized to the run config.
func (p *MLM) ConstructModel(cfg training.TrainConfig) (training.Model, error) {
	fusion := p.Fusion
	fusion.TextSeqLen = cfg.SeqLen
	m, err := model.NewMLM(fusion)
	if err != nil {
		return nil, fmt.Errorf("failed to build mlm model: %v", err)
	}
	return m, nil
}

// Datasets splits the configured corpus for this run.
func (p *MLM) Datasets(cfg training.TrainConfig) (train, eval async.DataSource, err error) {
	return buildSources(cfg)
}

// TrainStep runs one forward pass under the precision context.
func (p *MLM) TrainStep(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (*training.TrainStepResult, error) {
	return m.Forward(batch, ctx)
}

// ValidateAccuracy reports masked-token prediction accuracy.
func (p *MLM) ValidateAccuracy(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (accuracy, loss float64, err error) {
	return validateForward(m, batch, ctx)
}

// Metrics derives epoch, accuracy and loss from the step result.
func (p *MLM) Metrics(result *training.TrainStepResult, iteration int, loader *async.Loader) (int, float64, float64) {
	return training.StepMetrics(result, iteration, loader)
}

// Resume rebuilds the model from a checkpoint descriptor and weights.
func (p *MLM) Resume(ck *checkpoints.Checkpoint) (training.Model, error) {
	if ck == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	m, err := model.NewMLMFromSpec(ck.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild mlm model: %v", err)
	}
	if err := checkpoints.RestoreWeights(m.NamedParameters(), ck.Weights); err != nil {
		return nil, fmt.Errorf("failed to restore mlm weights: %v", err)
	}
	return m, nil
}
