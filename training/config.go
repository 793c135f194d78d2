package training

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/checkpoints"
)

// TrainConfig is the immutable configuration snapshot for one training run.
// The trainer never mutates it; provider-specific batch sizes are resolved
// once through Provider.BatchSize before the loaders are built.
type TrainConfig struct {
	// Schedule
	LearningRate    float32 // Peak learning rate after warmup
	MinLearningRate float32 // Floor the cosine decays to
	WarmupIters     int     // Linear warmup length
	LRDecayIters    int     // Iteration at which decay reaches the floor
	MaxIters        int     // Total training iterations

	// Loop cadence
	LogIters  int // Iterations between progress lines
	EvalIters int // Iterations between validation passes

	// Data
	BatchSize int      // Default batch size; providers may override
	SeqLen    int      // Caption token sequence length
	ImageSize int      // Square input image edge in pixels
	Workers   int      // Data loading workers
	EvalRatio float64  // Fraction of the dataset held out for validation
	Seed      int64    // Shuffle and initialization seed
	DataPaths []string // SQLite caption index files
	Synthetic bool     // Use the built-in procedural dataset instead of DataPaths

	// Optimization
	GradClip       float32 // Global gradient norm ceiling, 0 disables
	MixedPrecision bool    // Half-precision activations plus loss scaling

	// Checkpointing
	CheckpointDir    string
	CheckpointFormat checkpoints.CheckpointFormat
	RestoreIteration bool // Resume the iteration counter from the checkpoint
	RestoreOptimizer bool // Resume AdamW moments from the checkpoint
}

// DefaultTrainConfig returns the standard multimodal pretraining schedule.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate:    0.0001,
		MinLearningRate: 0.000001,
		WarmupIters:     2000,
		LRDecayIters:    512000,
		MaxIters:        1000000,

		LogIters:  2000,
		EvalIters: 20000,

		BatchSize: 64,
		SeqLen:    64,
		ImageSize: 256,
		Workers:   2,
		EvalRatio: 0.05,
		Seed:      1,

		GradClip:       1.0,
		MixedPrecision: true,

		CheckpointDir:    "out",
		CheckpointFormat: checkpoints.FormatJSON,
	}
}

// Validate checks the configuration invariants that the loop depends on.
func (cfg TrainConfig) Validate() error {
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.MinLearningRate < 0 || cfg.MinLearningRate > cfg.LearningRate {
		return fmt.Errorf("min learning rate %g must be in [0, %g]", cfg.MinLearningRate, cfg.LearningRate)
	}
	if cfg.WarmupIters < 0 {
		return fmt.Errorf("warmup iterations must not be negative, got %d", cfg.WarmupIters)
	}
	if cfg.LRDecayIters <= cfg.WarmupIters {
		return fmt.Errorf("decay horizon %d must exceed warmup %d", cfg.LRDecayIters, cfg.WarmupIters)
	}
	if cfg.MaxIters <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", cfg.MaxIters)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.SeqLen <= 0 {
		return fmt.Errorf("sequence length must be positive, got %d", cfg.SeqLen)
	}
	if cfg.ImageSize <= 0 {
		return fmt.Errorf("image size must be positive, got %d", cfg.ImageSize)
	}
	if cfg.EvalRatio <= 0 || cfg.EvalRatio >= 1 {
		return fmt.Errorf("eval ratio must be in (0, 1), got %g", cfg.EvalRatio)
	}
	if cfg.LogIters <= 0 || cfg.EvalIters <= 0 {
		return fmt.Errorf("log and eval cadences must be positive, got %d and %d", cfg.LogIters, cfg.EvalIters)
	}
	if cfg.GradClip < 0 {
		return fmt.Errorf("gradient clip must not be negative, got %g", cfg.GradClip)
	}
	return nil
}
