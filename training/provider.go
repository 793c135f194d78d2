package training

import (
	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// TrainStepResult carries the scalar loss, still attached to its autograd
// graph, plus the logits of one forward pass so metrics can be derived
// without re-running the model. Entries a variant does not produce are
// nil. Results are discarded after one iteration.
type TrainStepResult struct {
	LogitsPerImage *tensor.Tensor // [B, B] similarity, image rows
	LogitsPerText  *tensor.Tensor // [B, B] transpose, text rows
	Labels         *tensor.Tensor // [B] int32 identity pairing
	TokenLogits    *tensor.Tensor // [B*S, vocab] masked-token predictions
	TokenTargets   *tensor.Tensor // [B, S] int32 targets, -1 ignored
	Loss           *tensor.Tensor // One-element combined loss, graph root

	Accuracy float64 // Variant-specific accuracy in [0, 1]
	Rows     int     // Samples in the batch
}

// Model is a trainable multimodal network. Forward consumes a batch under
// a precision context and returns the loss; the remaining methods expose
// parameters and mode switching in the layers.Module style.
type Model interface {
	Forward(batch *async.Batch, ctx *ComputeContext) (*TrainStepResult, error)

	Parameters() []*tensor.Tensor
	NamedParameters() []layers.NamedParameter

	Train()
	Eval()
	IsTraining() bool

	// Describe returns the architecture descriptor stored in checkpoints
	// so the model can be rebuilt without live-object introspection.
	Describe() (checkpoints.ModelSpec, error)
}

// Provider wires one model variant into the trainer. A provider is chosen
// once at startup and never swapped mid-run; the trainer drives the loop
// through this interface only.
type Provider interface {
	// Tag names the variant ("clip", "mlm", "albef"); it appears in
	// checkpoint filenames and registry lookups
	Tag() string

	// BatchSize resolves the per-variant batch size from the config
	BatchSize(cfg TrainConfig) int

	// ConstructModel builds a freshly initialized model
	ConstructModel(cfg TrainConfig) (Model, error)

	// Datasets returns disjoint training and evaluation sources split
	// by cfg.EvalRatio
	Datasets(cfg TrainConfig) (train, eval async.DataSource, err error)

	// TrainStep runs one forward pass under the precision context
	TrainStep(model Model, batch *async.Batch, ctx *ComputeContext) (*TrainStepResult, error)

	// ValidateAccuracy runs a forward-only evaluation of one batch and
	// returns the variant's accuracy in [0, 1] together with the loss
	ValidateAccuracy(model Model, batch *async.Batch, ctx *ComputeContext) (accuracy, loss float64, err error)

	// Metrics derives progress metrics from a step result without
	// re-running the model
	Metrics(result *TrainStepResult, iteration int, loader *async.Loader) (epoch int, accuracy, loss float64)

	// Resume rebuilds the model from a checkpoint's architecture
	// descriptor and weights
	Resume(ck *checkpoints.Checkpoint) (Model, error)
}
