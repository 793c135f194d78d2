package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// memorySource serves deterministic in-memory samples shaped for a
// 3x2x2 image and a 4-token sequence.
type memorySource struct {
	length int
	failAt int
}

func newMemorySource(length int) *memorySource {
	return &memorySource{length: length, failAt: -1}
}

func (s *memorySource) Len() int {
	return s.length
}

func (s *memorySource) Sample(index int) (*async.Sample, error) {
	if index == s.failAt {
		return nil, fmt.Errorf("corrupt sample %d", index)
	}
	image := make([]float32, 12)
	for i := range image {
		image[i] = float32(index)
	}
	tokens := make([]int32, 4)
	targets := make([]int32, 4)
	for i := range tokens {
		tokens[i] = int32(index)
		targets[i] = async.IgnoreIndex
	}
	targets[0] = 2
	return &async.Sample{Image: image, Tokens: tokens, Targets: targets}, nil
}

// stubModel holds a single 1x2 weight; its loss is the sum of the weight
// entries, so every backward pass produces a gradient of ones.
type stubModel struct {
	weight   *tensor.Tensor
	training bool
}

func newStubModel() (*stubModel, error) {
	weight, err := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0.5, -0.25})
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)
	return &stubModel{weight: weight, training: true}, nil
}

func (m *stubModel) Forward(batch *async.Batch, ctx *ComputeContext) (*TrainStepResult, error) {
	ones, err := tensor.NewTensor([]int{2, 1}, tensor.Float32, []float32{1, 1})
	if err != nil {
		return nil, err
	}
	loss := tensor.MatMulAutograd(m.weight, ones)
	return &TrainStepResult{Loss: loss, Accuracy: 0.5, Rows: batch.Rows}, nil
}

func (m *stubModel) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.weight}
}

func (m *stubModel) NamedParameters() []layers.NamedParameter {
	return []layers.NamedParameter{{Name: "weight", Tensor: m.weight}}
}

func (m *stubModel) Train()           { m.training = true }
func (m *stubModel) Eval()            { m.training = false }
func (m *stubModel) IsTraining() bool { return m.training }

func (m *stubModel) Describe() (checkpoints.ModelSpec, error) {
	return checkpoints.ModelSpec{Kind: "stub", Config: json.RawMessage(`{"dims":2}`)}, nil
}

// stubProvider records trainer interactions and returns scripted
// validation accuracies, one entry per validation pass.
type stubProvider struct {
	batchSize   int
	trainSource *memorySource
	evalSource  *memorySource

	model          *stubModel
	trainSteps     int
	stepRows       []int
	evalCalls      int
	passAccuracies []float64
	validateLoss   float64
	resumed        *checkpoints.Checkpoint
}

func newStubProvider(batchSize, trainLength, evalLength int) *stubProvider {
	return &stubProvider{
		batchSize:    batchSize,
		trainSource:  newMemorySource(trainLength),
		evalSource:   newMemorySource(evalLength),
		validateLoss: 1.25,
	}
}

func (p *stubProvider) Tag() string {
	return "stub"
}

func (p *stubProvider) BatchSize(cfg TrainConfig) int {
	return p.batchSize
}

func (p *stubProvider) ConstructModel(cfg TrainConfig) (Model, error) {
	model, err := newStubModel()
	if err != nil {
		return nil, err
	}
	p.model = model
	return model, nil
}

func (p *stubProvider) Datasets(cfg TrainConfig) (async.DataSource, async.DataSource, error) {
	return p.trainSource, p.evalSource, nil
}

func (p *stubProvider) TrainStep(model Model, batch *async.Batch, ctx *ComputeContext) (*TrainStepResult, error) {
	p.trainSteps++
	p.stepRows = append(p.stepRows, batch.Rows)
	return model.Forward(batch, ctx)
}

func (p *stubProvider) ValidateAccuracy(model Model, batch *async.Batch, ctx *ComputeContext) (float64, float64, error) {
	limit := (p.evalSource.Len()+p.batchSize-1)/p.batchSize - 1
	pass := 0
	if limit > 0 {
		pass = p.evalCalls / limit
	}
	p.evalCalls++

	accuracy := 0.0
	if len(p.passAccuracies) > 0 {
		if pass >= len(p.passAccuracies) {
			pass = len(p.passAccuracies) - 1
		}
		accuracy = p.passAccuracies[pass]
	}
	return accuracy, p.validateLoss, nil
}

func (p *stubProvider) Metrics(result *TrainStepResult, iteration int, loader *async.Loader) (int, float64, float64) {
	return StepMetrics(result, iteration, loader)
}

func (p *stubProvider) Resume(ck *checkpoints.Checkpoint) (Model, error) {
	p.resumed = ck
	model, err := newStubModel()
	if err != nil {
		return nil, err
	}
	if err := checkpoints.RestoreWeights(model.NamedParameters(), ck.Weights); err != nil {
		return nil, err
	}
	p.model = model
	return model, nil
}

func testTrainConfig(t *testing.T) TrainConfig {
	t.Helper()
	cfg := DefaultTrainConfig()
	cfg.MaxIters = 7
	cfg.WarmupIters = 2
	cfg.LRDecayIters = 10
	cfg.LogIters = 100
	cfg.EvalIters = 100
	cfg.ImageSize = 2
	cfg.SeqLen = 4
	cfg.Workers = 1
	cfg.MixedPrecision = false
	cfg.CheckpointDir = t.TempDir()
	return cfg
}

func TestTrainerRunsConfiguredIterations(t *testing.T) {
	provider := newStubProvider(4, 20, 20)
	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}

	if err := trainer.Run(); err != nil {
		t.Fatalf("Failed to run trainer: %v", err)
	}

	if provider.trainSteps != 7 {
		t.Errorf("Expected 7 train steps, got %d", provider.trainSteps)
	}
	for i, rows := range provider.stepRows {
		if rows != 4 {
			t.Errorf("Expected full batch of 4 rows at step %d, got %d", i, rows)
		}
	}

	w := provider.model.weight.Float32s()
	if w[0] >= 0.5 || w[0] < 0.49 {
		t.Errorf("Expected weight nudged below 0.5 by optimizer steps, got %g", w[0])
	}
}

func TestTrainerRestartsOnShortBatch(t *testing.T) {
	provider := newStubProvider(4, 10, 20)
	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}

	if err := trainer.Run(); err != nil {
		t.Fatalf("Failed to run trainer: %v", err)
	}

	if provider.trainSteps != 7 {
		t.Errorf("Expected 7 train steps, got %d", provider.trainSteps)
	}
	for i, rows := range provider.stepRows {
		if rows != 4 {
			t.Errorf("Expected short pass tail skipped at step %d, got %d rows", i, rows)
		}
	}
}

func TestTrainerFailsWhenSourceTooSmall(t *testing.T) {
	provider := newStubProvider(4, 3, 20)
	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}

	err = trainer.Run()
	if err == nil {
		t.Fatal("Expected error when the source cannot fill a batch, got nil")
	}
	if !strings.Contains(err.Error(), "full batch") {
		t.Errorf("Expected full batch error, got: %v", err)
	}
}

func TestTrainerSurfacesSourceErrors(t *testing.T) {
	provider := newStubProvider(4, 20, 20)
	provider.trainSource.failAt = 5
	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}

	err = trainer.Run()
	if err == nil {
		t.Fatal("Expected error from a failing sample, got nil")
	}
	if !strings.Contains(err.Error(), "corrupt sample 5") {
		t.Errorf("Expected corrupt sample error, got: %v", err)
	}
}

func TestTrainerCheckpointMonotonicity(t *testing.T) {
	provider := newStubProvider(4, 20, 12)
	provider.passAccuracies = []float64{0.3, 0.3, 0.4}

	cfg := testTrainConfig(t)
	cfg.EvalIters = 2

	trainer, err := NewTrainer(provider, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}
	if err := trainer.Run(); err != nil {
		t.Fatalf("Failed to run trainer: %v", err)
	}

	// Validations fire at iterations 2, 4 and 6. The tied accuracy at
	// iteration 4 must not produce a checkpoint.
	saved := []string{"stub_2.json", "stub_6.json"}
	for _, name := range saved {
		if _, err := os.Stat(filepath.Join(cfg.CheckpointDir, name)); err != nil {
			t.Errorf("Expected checkpoint %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.CheckpointDir, "stub_4.json")); !os.IsNotExist(err) {
		t.Error("Expected no checkpoint for the tied accuracy at iteration 4")
	}

	if trainer.BestAccuracy() != 0.4 {
		t.Errorf("Expected best accuracy 0.4, got %f", trainer.BestAccuracy())
	}
}

func TestTrainerValidationExcludesFinalBatch(t *testing.T) {
	provider := newStubProvider(4, 20, 12)
	provider.passAccuracies = []float64{0.7}

	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}

	accuracy, loss, err := trainer.Validate()
	if err != nil {
		t.Fatalf("Failed to validate: %v", err)
	}
	// 12 samples in batches of 4 give 3 batches; the final one is skipped
	if provider.evalCalls != 2 {
		t.Errorf("Expected 2 validated batches, got %d", provider.evalCalls)
	}
	if accuracy != 0.7 {
		t.Errorf("Expected accuracy 0.7, got %f", accuracy)
	}
	if loss != 1.25 {
		t.Errorf("Expected loss 1.25, got %f", loss)
	}
	if !provider.model.IsTraining() {
		t.Error("Expected model back in training mode after validation")
	}
}

func TestTrainerValidationSingleEvalBatch(t *testing.T) {
	provider := newStubProvider(4, 20, 4)
	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}

	accuracy, loss, err := trainer.Validate()
	if err != nil {
		t.Fatalf("Failed to validate: %v", err)
	}
	if provider.evalCalls != 0 {
		t.Errorf("Expected no validated batches with a single eval batch, got %d", provider.evalCalls)
	}
	if accuracy != 0 || loss != 0 {
		t.Errorf("Expected zero accuracy and loss, got %f and %f", accuracy, loss)
	}
}

func TestTrainerResumeRestoresState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stub_40.json")

	ck := &checkpoints.Checkpoint{
		Spec: checkpoints.ModelSpec{Kind: "stub", Config: json.RawMessage(`{"dims":2}`)},
		Weights: []checkpoints.WeightTensor{
			{Name: "weight", Shape: []int{1, 2}, Data: []float32{2.5, -1.5}},
		},
		TrainingState: checkpoints.TrainingState{
			Iteration:    40,
			BestAccuracy: 0.7,
		},
	}
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)
	if err := saver.SaveCheckpoint(ck, path); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	provider := newStubProvider(4, 20, 20)
	cfg := testTrainConfig(t)
	cfg.MaxIters = 40
	cfg.RestoreIteration = true

	trainer, err := NewTrainer(provider, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}
	if err := trainer.Resume(path); err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}

	if provider.resumed == nil {
		t.Fatal("Expected provider to receive the loaded checkpoint")
	}
	if trainer.BestAccuracy() != 0.7 {
		t.Errorf("Expected best accuracy 0.7 restored, got %f", trainer.BestAccuracy())
	}
	w := provider.model.weight.Float32s()
	if w[0] != 2.5 || w[1] != -1.5 {
		t.Errorf("Expected restored weights [2.5, -1.5], got %v", w)
	}

	// Resuming at the final iteration leaves nothing to run
	if err := trainer.Run(); err != nil {
		t.Fatalf("Failed to run resumed trainer: %v", err)
	}
	if provider.trainSteps != 0 {
		t.Errorf("Expected no train steps at the final iteration, got %d", provider.trainSteps)
	}
}

func TestTrainerResumeKeepsFreshCountersByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stub_40.json")

	ck := &checkpoints.Checkpoint{
		Spec: checkpoints.ModelSpec{Kind: "stub", Config: json.RawMessage(`{"dims":2}`)},
		Weights: []checkpoints.WeightTensor{
			{Name: "weight", Shape: []int{1, 2}, Data: []float32{2.5, -1.5}},
		},
		TrainingState: checkpoints.TrainingState{
			Iteration:    40,
			BestAccuracy: 0.7,
		},
	}
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)
	if err := saver.SaveCheckpoint(ck, path); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	provider := newStubProvider(4, 20, 20)
	trainer, err := NewTrainer(provider, testTrainConfig(t), nil)
	if err != nil {
		t.Fatalf("Failed to create trainer: %v", err)
	}
	if err := trainer.Resume(path); err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}

	if trainer.BestAccuracy() != 1e-9 {
		t.Errorf("Expected fresh best-accuracy watermark, got %g", trainer.BestAccuracy())
	}
	w := provider.model.weight.Float32s()
	if w[0] != 2.5 || w[1] != -1.5 {
		t.Errorf("Expected restored weights [2.5, -1.5], got %v", w)
	}
}
