package training

import (
	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/tensor"
)

// ContrastiveAccuracy computes top-1 retrieval accuracy over a square
// similarity matrix whose diagonal holds the matched pairs: the fraction
// of rows whose argmax lands on the diagonal.
func ContrastiveAccuracy(logits *tensor.Tensor) float64 {
	if logits == nil || len(logits.Shape) != 2 {
		return 0
	}
	rows := logits.Shape[0]
	cols := logits.Shape[1]
	if rows == 0 || cols == 0 {
		return 0
	}

	data := logits.Float32s()
	correct := 0
	for i := 0; i < rows; i++ {
		base := i * cols
		best := 0
		for j := 1; j < cols; j++ {
			if data[base+j] > data[base+best] {
				best = j
			}
		}
		if best == i {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// MaskedTokenAccuracy computes prediction accuracy over masked positions:
// rows of logits whose target is not the ignore value count toward the
// total, and a row is correct when its argmax equals the target. With no
// masked positions the accuracy is zero.
func MaskedTokenAccuracy(logits, targets *tensor.Tensor, ignoreIndex int32) float64 {
	if logits == nil || targets == nil || len(logits.Shape) != 2 {
		return 0
	}
	rows := logits.Shape[0]
	vocab := logits.Shape[1]
	if rows == 0 || vocab == 0 || targets.NumElems != rows {
		return 0
	}

	data := logits.Float32s()
	ids := targets.Int32s()

	correct := 0
	counted := 0
	for i := 0; i < rows; i++ {
		if ids[i] == ignoreIndex {
			continue
		}
		counted++
		base := i * vocab
		best := 0
		for j := 1; j < vocab; j++ {
			if data[base+j] > data[base+best] {
				best = j
			}
		}
		if int32(best) == ids[i] {
			correct++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(correct) / float64(counted)
}

// StepMetrics derives the provider-independent progress metrics from one
// step result: epoch from the pass length, accuracy and loss from the
// result itself.
func StepMetrics(result *TrainStepResult, iteration int, loader *async.Loader) (int, float64, float64) {
	epoch := 0
	if loader != nil && loader.Batches() > 0 {
		epoch = iteration / loader.Batches()
	}

	accuracy := 0.0
	loss := 0.0
	if result != nil {
		accuracy = result.Accuracy
		if result.Loss != nil {
			if v, err := result.Loss.Item(); err == nil {
				loss = float64(v)
			}
		}
	}
	return epoch, accuracy, loss
}
