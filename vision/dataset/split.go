package dataset

import (
	"fmt"
	"math/rand"

	"github.com/RobinDong/multimodal-trials/async"
)

// Subset exposes a fixed selection of another source's samples.
type Subset struct {
	source  async.DataSource
	indices []int
}

// NewSubset wraps source so only the given indices are visible.
func NewSubset(source async.DataSource, indices []int) *Subset {
	return &Subset{source: source, indices: indices}
}

// Len returns the subset size.
func (s *Subset) Len() int {
	return len(s.indices)
}

// Sample forwards to the underlying source's sample at the mapped index.
func (s *Subset) Sample(index int) (*async.Sample, error) {
	if index < 0 || index >= len(s.indices) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(s.indices))
	}
	return s.source.Sample(s.indices[index])
}

// Split shuffles the source's indices with the given seed and carves off
// evalRatio of them for evaluation. The two subsets are disjoint and
// together cover the source. A positive ratio always yields at least one
// evaluation sample when the source has two or more.
func Split(source async.DataSource, evalRatio float64, seed int64) (train, eval *Subset, err error) {
	if evalRatio < 0 || evalRatio >= 1 {
		return nil, nil, fmt.Errorf("eval ratio must be in [0, 1), got %f", evalRatio)
	}
	n := source.Len()
	if n == 0 {
		return nil, nil, fmt.Errorf("cannot split an empty data source")
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	evalCount := int(float64(n) * evalRatio)
	if evalCount == 0 && evalRatio > 0 && n >= 2 {
		evalCount = 1
	}
	trainCount := n - evalCount

	train = NewSubset(source, indices[:trainCount])
	eval = NewSubset(source, indices[trainCount:])
	return train, eval, nil
}
