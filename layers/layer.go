package layers

import (
	"math/rand"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

var (
	_ Module = (*Linear)(nil)
	_ Module = (*LayerNorm)(nil)
	_ Module = (*Embedding)(nil)
	_ Module = (*Dropout)(nil)
	_ Module = (*MultiHeadAttention)(nil)
	_ Module = (*FeedForward)(nil)
	_ Module = (*TransformerBlock)(nil)
)

// NamedParameter pairs a parameter tensor with its dotted path inside the
// model, the identity used by checkpoints and optimizer state.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Prefix returns the parameters with name prepended to each path.
func Prefix(name string, params []NamedParameter) []NamedParameter {
	out := make([]NamedParameter, len(params))
	for i, p := range params {
		out[i] = NamedParameter{Name: name + "." + p.Name, Tensor: p.Tensor}
	}
	return out
}

// Tensors strips the names off a parameter list.
func Tensors(params []NamedParameter) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Tensor
	}
	return out
}
