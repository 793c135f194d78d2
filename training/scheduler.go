package training

import (
	"fmt"
	"math"
)

// LearningRate computes the learning rate for an iteration: linear warmup
// to the peak rate, then cosine decay to the floor, then the floor forever.
// This is a pure function of the config and the iteration; the trainer
// applies it to the optimizer before every step.
func LearningRate(cfg TrainConfig, iteration int) float32 {
	if iteration < cfg.WarmupIters {
		return cfg.LearningRate * float32(iteration) / float32(cfg.WarmupIters)
	}
	if iteration > cfg.LRDecayIters {
		return cfg.MinLearningRate
	}

	ratio := float64(iteration-cfg.WarmupIters) / float64(cfg.LRDecayIters-cfg.WarmupIters)
	// A NaN ratio from a degenerate config fails this check too.
	if !(ratio >= 0 && ratio <= 1) {
		panic(fmt.Sprintf("decay ratio %f out of range for iteration %d", ratio, iteration))
	}

	coeff := 0.5 * (1.0 + math.Cos(math.Pi*ratio))
	return cfg.MinLearningRate + float32(coeff)*(cfg.LearningRate-cfg.MinLearningRate)
}
