package training

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/optimizer"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// Trainer drives the iteration loop for one provider: schedule, mixed
// precision step sequence, periodic logging, validation and best-accuracy
// checkpointing. A single control goroutine owns all state; only the data
// loaders run concurrently.
type Trainer struct {
	config   TrainConfig
	provider Provider
	logger   *zap.Logger

	model  Model
	opt    optimizer.Optimizer
	scaler *GradScaler
	ctx    *ComputeContext

	trainLoader *async.Loader
	evalLoader  *async.Loader

	startIteration int
	bestAccuracy   float64
}

// NewTrainer builds the model, datasets and loaders for the provider and
// prepares a run starting from iteration zero.
func NewTrainer(provider Provider, cfg TrainConfig, logger *zap.Logger) (*Trainer, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %v", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batchSize := provider.BatchSize(cfg)
	if batchSize <= 0 {
		return nil, fmt.Errorf("provider %s resolved a non-positive batch size %d", provider.Tag(), batchSize)
	}

	model, err := provider.ConstructModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct model: %v", err)
	}

	trainSource, evalSource, err := provider.Datasets(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build datasets: %v", err)
	}

	imageShape := []int{3, cfg.ImageSize, cfg.ImageSize}
	trainLoader, err := async.NewLoader(trainSource, async.LoaderConfig{
		BatchSize:  batchSize,
		Workers:    cfg.Workers,
		Shuffle:    true,
		Seed:       cfg.Seed,
		ImageShape: imageShape,
		SeqLen:     cfg.SeqLen,
		Logger:     logger.Named("train-loader"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create training loader: %v", err)
	}
	evalLoader, err := async.NewLoader(evalSource, async.LoaderConfig{
		BatchSize:  batchSize,
		Workers:    cfg.Workers,
		ImageShape: imageShape,
		SeqLen:     cfg.SeqLen,
		Logger:     logger.Named("eval-loader"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation loader: %v", err)
	}

	adamConfig := optimizer.DefaultAdamWConfig()
	adamConfig.LearningRate = cfg.LearningRate
	opt, err := optimizer.NewAdamW(model.NamedParameters(), adamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %v", err)
	}

	return &Trainer{
		config:       cfg,
		provider:     provider,
		logger:       logger,
		model:        model,
		opt:          opt,
		scaler:       NewGradScaler(cfg.MixedPrecision),
		ctx:          &ComputeContext{HalfPrecision: cfg.MixedPrecision},
		trainLoader:  trainLoader,
		evalLoader:   evalLoader,
		bestAccuracy: 1e-9,
	}, nil
}

// Model returns the model currently being trained
func (t *Trainer) Model() Model {
	return t.model
}

// BestAccuracy returns the current best-validation watermark
func (t *Trainer) BestAccuracy() float64 {
	return t.bestAccuracy
}

// Resume replaces the freshly initialized model with one rebuilt from the
// checkpoint at path. The iteration counter and optimizer moments restart
// from zero unless the config asks for them to be restored.
func (t *Trainer) Resume(path string) error {
	format := t.config.CheckpointFormat
	if strings.HasSuffix(path, checkpoints.FormatBinary.Extension()) {
		format = checkpoints.FormatBinary
	} else if strings.HasSuffix(path, checkpoints.FormatJSON.Extension()) {
		format = checkpoints.FormatJSON
	}

	saver := checkpoints.NewCheckpointSaver(format)
	ck, err := saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %v", err)
	}

	model, err := t.provider.Resume(ck)
	if err != nil {
		return fmt.Errorf("failed to rebuild model from checkpoint: %v", err)
	}

	adamConfig := optimizer.DefaultAdamWConfig()
	adamConfig.LearningRate = t.config.LearningRate
	opt, err := optimizer.NewAdamW(model.NamedParameters(), adamConfig)
	if err != nil {
		return fmt.Errorf("failed to rebuild optimizer: %v", err)
	}
	if t.config.RestoreOptimizer && ck.OptimizerState != nil {
		if err := opt.LoadState(ck.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %v", err)
		}
	}

	t.model = model
	t.opt = opt
	if t.config.RestoreIteration {
		t.startIteration = ck.TrainingState.Iteration
		t.bestAccuracy = ck.TrainingState.BestAccuracy
	}

	t.logger.Info("resumed from checkpoint",
		zap.String("path", path),
		zap.String("kind", ck.Spec.Kind),
		zap.Int("start_iteration", t.startIteration))
	return nil
}

// Run executes the training loop from the start iteration to MaxIters.
func (t *Trainer) Run() error {
	iter := t.trainLoader.NewIterator()
	defer func() { iter.Stop() }()

	params := t.model.Parameters()
	t.model.Train()
	lastLog := time.Now()

	for i := t.startIteration; i < t.config.MaxIters; i++ {
		batch, err := t.nextFullBatch(&iter)
		if err != nil {
			return err
		}

		lr := LearningRate(t.config, i)
		t.opt.UpdateLearningRate(lr)

		result, err := t.provider.TrainStep(t.model, batch, t.ctx)
		if err != nil {
			batch.Release()
			return fmt.Errorf("failed to run train step at iteration %d: %v", i, err)
		}

		// Fixed mixed-precision order: scale, backward, unscale, clip,
		// step, update.
		scaled := t.scaler.Scale(result.Loss)
		if err := scaled.Backward(); err != nil {
			batch.Release()
			return fmt.Errorf("failed to run backward at iteration %d: %v", i, err)
		}
		t.scaler.Unscale(params)
		ClipGradNorm(params, t.config.GradClip)
		if _, err := t.scaler.Step(t.opt); err != nil {
			batch.Release()
			return fmt.Errorf("failed to apply optimizer step at iteration %d: %v", i, err)
		}
		t.scaler.Update()
		t.opt.ZeroGrad()
		batch.Release()

		if i%t.config.LogIters == 0 && i > 0 {
			epoch, accuracy, loss := t.provider.Metrics(result, i, t.trainLoader)
			elapsed := time.Since(lastLog).Seconds()
			lastLog = time.Now()
			fmt.Printf("[%03d : %06d] loss: %.4f accu: %.4f lr: %.4e time: %.2f\n",
				epoch, i, loss, accuracy, lr, elapsed)
		}

		if i%t.config.EvalIters == 0 && i > 0 {
			if err := t.validateAndCheckpoint(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// nextFullBatch returns the next full-size training batch. When the pass
// ends, or ends with a short batch, the iterator is discarded and a fresh
// pass is started; a second failure to produce a full batch is an error.
func (t *Trainer) nextFullBatch(iter **async.Iterator) (*async.Batch, error) {
	batchSize := t.trainLoader.BatchSize()

	for attempt := 0; ; attempt++ {
		batch, err := (*iter).Next()
		if err == nil && batch.Rows == batchSize {
			return batch, nil
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to fetch training batch: %v", err)
		}
		if err == nil {
			batch.Release()
		}
		if attempt == 1 {
			return nil, fmt.Errorf("training source cannot produce a full batch of %d samples", batchSize)
		}
		(*iter).Stop()
		*iter = t.trainLoader.NewIterator()
	}
}

// Validate runs one pass over the evaluation source, excluding the final
// (possibly short) batch, and returns the mean accuracy and loss over the
// batches actually processed. No training state is mutated.
func (t *Trainer) Validate() (float64, float64, error) {
	t.model.Eval()
	defer t.model.Train()

	iter := t.evalLoader.NewIterator()
	defer iter.Stop()

	limit := t.evalLoader.Batches() - 1

	var accSum, lossSum float64
	count := 0
	var loopErr error

	tensor.WithoutGrad(func() {
		for index := 0; index < limit; index++ {
			batch, err := iter.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				loopErr = fmt.Errorf("failed to fetch validation batch: %v", err)
				return
			}

			accuracy, loss, err := t.provider.ValidateAccuracy(t.model, batch, t.ctx)
			batch.Release()
			if err != nil {
				loopErr = fmt.Errorf("failed to validate batch: %v", err)
				return
			}

			accSum += accuracy
			lossSum += loss
			count++
		}
	})

	if loopErr != nil {
		return 0, 0, loopErr
	}
	if count == 0 {
		return 0, 0, nil
	}
	return accSum / float64(count), lossSum / float64(count), nil
}

// validateAndCheckpoint runs validation and saves a checkpoint when the
// accuracy strictly exceeds the best seen so far. Ties do not save.
func (t *Trainer) validateAndCheckpoint(iteration int) error {
	accuracy, loss, err := t.Validate()
	if err != nil {
		return err
	}

	if accuracy > t.bestAccuracy {
		t.bestAccuracy = accuracy
		if err := t.saveCheckpoint(iteration, accuracy, loss); err != nil {
			return fmt.Errorf("failed to save checkpoint: %v", err)
		}
	}

	fmt.Printf("[Eval] loss: %.4f accuracy: %.4f\n", loss, accuracy)
	return nil
}

func (t *Trainer) saveCheckpoint(iteration int, accuracy, loss float64) error {
	spec, err := t.model.Describe()
	if err != nil {
		return fmt.Errorf("failed to describe model: %v", err)
	}
	weights, err := checkpoints.ExtractWeights(t.model.NamedParameters())
	if err != nil {
		return fmt.Errorf("failed to extract weights: %v", err)
	}
	optState, err := t.opt.GetState()
	if err != nil {
		return fmt.Errorf("failed to extract optimizer state: %v", err)
	}

	ck := &checkpoints.Checkpoint{
		Spec:    spec,
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Iteration:    iteration,
			Epoch:        iteration / t.trainLoader.Batches(),
			LearningRate: t.opt.GetLearningRate(),
			BestAccuracy: t.bestAccuracy,
			EvalAccuracy: accuracy,
			EvalLoss:     loss,
		},
		OptimizerState: optState,
		Metadata: checkpoints.NewMetadata(
			fmt.Sprintf("%s at iteration %d", t.provider.Tag(), iteration)),
	}

	if err := os.MkdirAll(t.config.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	name := fmt.Sprintf("%s_%d%s", t.provider.Tag(), iteration, t.config.CheckpointFormat.Extension())
	path := filepath.Join(t.config.CheckpointDir, name)

	saver := checkpoints.NewCheckpointSaver(t.config.CheckpointFormat)
	if err := saver.SaveCheckpoint(ck, path); err != nil {
		return err
	}

	t.logger.Info("saved checkpoint",
		zap.String("path", path),
		zap.Int("iteration", iteration),
		zap.Float64("accuracy", accuracy))
	return nil
}
