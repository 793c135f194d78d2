package layers

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// Embedding maps int32 ids to learned vectors.
type Embedding struct {
	table    *tensor.Tensor
	training bool
}

// NewEmbedding creates a lookup table of numEmbeddings vectors initialized
// from N(0, 0.02), the usual transformer embedding scale.
func NewEmbedding(numEmbeddings, dim int) (*Embedding, error) {
	if numEmbeddings <= 0 || dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %dx%d", numEmbeddings, dim)
	}

	data := make([]float32, numEmbeddings*dim)
	for i := range data {
		data[i] = float32(globalRng.NormFloat64() * 0.02)
	}
	table, err := tensor.NewTensor([]int{numEmbeddings, dim}, tensor.Float32, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding table: %v", err)
	}
	table.SetRequiresGrad(true)

	return &Embedding{
		table:    table,
		training: true,
	}, nil
}

// Forward looks up ids of any shape, returning embeddings with one extra
// trailing dimension.
func (e *Embedding) Forward(ids *tensor.Tensor) (*tensor.Tensor, error) {
	if ids.DType != tensor.Int32 {
		return nil, fmt.Errorf("embedding requires Int32 ids, got %s", ids.DType)
	}
	return tensor.GatherRowsAutograd(e.table, ids), nil
}

func (e *Embedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.table}
}

func (e *Embedding) NamedParameters() []NamedParameter {
	return []NamedParameter{{Name: "table", Tensor: e.table}}
}

func (e *Embedding) Train() { e.training = true }

func (e *Embedding) Eval() { e.training = false }

func (e *Embedding) IsTraining() bool { return e.training }

// NumEmbeddings returns the table height.
func (e *Embedding) NumEmbeddings() int { return e.table.Shape[0] }

// Dim returns the embedding width.
func (e *Embedding) Dim() int { return e.table.Shape[1] }
