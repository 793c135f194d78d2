package optimizer

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/checkpoints"
)

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step applies one update using the gradients currently accumulated
	// on the parameter tensors
	Step() error

	// ZeroGrad clears the accumulated gradients of all parameters
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)

	// GetLearningRate returns the current learning rate
	GetLearningRate() float32
}

// extractStateIndex extracts the parameter index from state tensor names
// like "m_0", "v_1", "v_max_2"
func extractStateIndex(name string) int {
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}
	if lastUnderscoreIdx == -1 {
		return -1
	}

	var idx int
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
