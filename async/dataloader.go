package async

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/RobinDong/multimodal-trials/tensor"
)

// IgnoreIndex marks token positions the masked-modeling loss skips.
// Dataset code writes it into every unmasked target position.
const IgnoreIndex int32 = -1

// ErrStopped is returned by Next after the iterator has been stopped.
var ErrStopped = errors.New("data loader stopped")

// Sample is a single preprocessed example: an image in CHW order plus the
// caption token ids and their masked-modeling targets.
type Sample struct {
	Image   []float32
	Tokens  []int32
	Targets []int32
}

// Batch represents a stack of samples ready for a training step
type Batch struct {
	Images  *tensor.Tensor // [rows, channels, height, width] float32
	Tokens  *tensor.Tensor // [rows, seq_len] int32
	Targets *tensor.Tensor // [rows, seq_len] int32
	Rows    int            // Number of samples stacked
	BatchID uint64         // Unique identifier for this batch

	pool    *BufferPool
	buffers *BatchBuffers
}

// Release returns the batch's backing buffers to the loader pool.
// The batch's tensors must not be used after Release.
func (b *Batch) Release() {
	if b.pool != nil && b.buffers != nil {
		b.pool.ReturnBuffer(b.buffers)
	}
	b.pool = nil
	b.buffers = nil
	b.Images = nil
	b.Tokens = nil
	b.Targets = nil
}

// DataSource provides random access to preprocessed samples
type DataSource interface {
	// Len returns the total number of samples available
	Len() int

	// Sample returns the sample at the given index
	Sample(index int) (*Sample, error)
}

// LoaderConfig holds configuration for the data loader
type LoaderConfig struct {
	BatchSize     int   // Size of each batch
	PrefetchDepth int   // Number of batches to prefetch (default: 3)
	Workers       int   // Number of background workers (default: 2)
	Shuffle       bool  // Reshuffle sample order on every pass
	Seed          int64 // Base seed for per-pass shuffling
	ImageShape    []int // Per-sample image shape [channels, height, width]
	SeqLen        int   // Token sequence length
	Logger        *zap.Logger
}

// Loader produces shuffled passes over a data source. Each pass is driven
// by an Iterator whose background workers assemble batches ahead of the
// consumer.
type Loader struct {
	source DataSource
	config LoaderConfig
	logger *zap.Logger
	pool   *BufferPool

	passCounter  uint64
	batchCounter uint64
}

// NewLoader creates a new data loader over the given source
func NewLoader(source DataSource, config LoaderConfig) (*Loader, error) {
	if source == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if source.Len() == 0 {
		return nil, fmt.Errorf("data source is empty")
	}
	if config.SeqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", config.SeqLen)
	}
	if len(config.ImageShape) != 3 {
		return nil, fmt.Errorf("image shape must be [channels, height, width], got %v", config.ImageShape)
	}

	// Set defaults
	if config.PrefetchDepth <= 0 {
		config.PrefetchDepth = 3
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	imageElems := config.BatchSize * config.ImageShape[0] * config.ImageShape[1] * config.ImageShape[2]
	tokenElems := config.BatchSize * config.SeqLen

	// Sized for everything that can be in flight at once: prefetched
	// batches, one per worker being assembled, reordering backlog, and
	// the batch held by the consumer.
	maxBuffers := config.PrefetchDepth + 2*config.Workers + 2
	pool, err := NewBufferPool(imageElems, tokenElems, maxBuffers)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool: %v", err)
	}

	return &Loader{
		source: source,
		config: config,
		logger: logger,
		pool:   pool,
	}, nil
}

// Batches returns the number of batches in one pass over the source
func (l *Loader) Batches() int {
	return (l.source.Len() + l.config.BatchSize - 1) / l.config.BatchSize
}

// BatchSize returns the configured batch size
func (l *Loader) BatchSize() int {
	return l.config.BatchSize
}

// Len returns the number of samples in the underlying source
func (l *Loader) Len() int {
	return l.source.Len()
}

// Stats returns statistics about the data loader
func (l *Loader) Stats() LoaderStats {
	return LoaderStats{
		BatchesProduced: atomic.LoadUint64(&l.batchCounter),
		Passes:          atomic.LoadUint64(&l.passCounter),
		Workers:         l.config.Workers,
		Pool:            l.pool.Stats(),
	}
}

// LoaderStats provides statistics about the data loader
type LoaderStats struct {
	BatchesProduced uint64
	Passes          uint64
	Workers         int
	Pool            BufferPoolStats
}

type batchJob struct {
	index   int
	samples []int
}

type batchResult struct {
	index int
	batch *Batch
}

// Iterator streams one pass over the data source. Batches are prepared by
// background workers and handed out in pass order; Next returns io.EOF once
// the pass is complete.
type Iterator struct {
	loader *Loader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	batchChannel chan *Batch
	errorChannel chan error
	ready        chan batchResult

	err error
}

// NewIterator starts a fresh pass over the source. When shuffling is
// enabled the sample order is derived from the base seed and the pass
// number, so pass N is reproducible across runs.
func (l *Loader) NewIterator() *Iterator {
	pass := atomic.AddUint64(&l.passCounter, 1) - 1

	n := l.source.Len()
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if l.config.Shuffle {
		rng := rand.New(rand.NewSource(l.config.Seed + int64(pass)))
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	numBatches := l.Batches()
	ctx, cancel := context.WithCancel(context.Background())

	it := &Iterator{
		loader:       l,
		ctx:          ctx,
		cancel:       cancel,
		batchChannel: make(chan *Batch, l.config.PrefetchDepth),
		errorChannel: make(chan error, l.config.Workers),
		ready:        make(chan batchResult, l.config.Workers),
	}

	// Enqueue every batch's sample indices up front so workers can drain
	// the job channel without a producer goroutine.
	jobs := make(chan batchJob, numBatches)
	for b := 0; b < numBatches; b++ {
		start := b * l.config.BatchSize
		end := start + l.config.BatchSize
		if end > n {
			end = n
		}
		jobs <- batchJob{index: b, samples: indices[start:end]}
	}
	close(jobs)

	for w := 0; w < l.config.Workers; w++ {
		it.wg.Add(1)
		go it.worker(w, jobs)
	}

	it.wg.Add(1)
	go it.collect(numBatches)

	l.logger.Debug("starting pass",
		zap.Uint64("pass", pass),
		zap.Int("batches", numBatches),
		zap.Int("workers", l.config.Workers))

	return it
}

// Next returns the next batch, blocking until one is ready. It returns
// io.EOF when the pass is complete.
func (it *Iterator) Next() (*Batch, error) {
	if it.err != nil {
		return nil, it.err
	}

	select {
	case batch, ok := <-it.batchChannel:
		if !ok {
			// A worker failure also closes the batch channel, so check
			// for a reported error before declaring the pass done.
			select {
			case err := <-it.errorChannel:
				it.err = fmt.Errorf("data loader error: %v", err)
				return nil, it.err
			default:
			}
			return nil, io.EOF
		}
		return batch, nil
	case err := <-it.errorChannel:
		it.err = fmt.Errorf("data loader error: %v", err)
		it.cancel()
		return nil, it.err
	case <-it.ctx.Done():
		return nil, ErrStopped
	}
}

// Stop cancels the pass, waits for background workers to exit, and returns
// any undelivered batch buffers to the pool. It is safe to call Stop after
// the pass has completed.
func (it *Iterator) Stop() {
	it.cancel()
	it.wg.Wait()

	for batch := range it.batchChannel {
		batch.Release()
	}
	for {
		select {
		case result := <-it.ready:
			result.batch.Release()
		default:
			return
		}
	}
}

// worker drains the job channel, assembling one batch per job
func (it *Iterator) worker(workerID int, jobs <-chan batchJob) {
	defer it.wg.Done()

	for job := range jobs {
		batch, err := it.prepareBatch(job.samples)
		if err != nil {
			if it.ctx.Err() != nil {
				return
			}
			select {
			case it.errorChannel <- fmt.Errorf("worker %d: %v", workerID, err):
			case <-it.ctx.Done():
			}
			it.cancel()
			return
		}

		select {
		case it.ready <- batchResult{index: job.index, batch: batch}:
		case <-it.ctx.Done():
			batch.Release()
			return
		}
	}
}

// collect reorders worker output so batches are delivered in pass order
func (it *Iterator) collect(numBatches int) {
	defer it.wg.Done()
	defer close(it.batchChannel)

	pending := make(map[int]*Batch)
	next := 0

	for next < numBatches {
		batch, ok := pending[next]
		if ok {
			delete(pending, next)
		} else {
			select {
			case result := <-it.ready:
				if result.index != next {
					pending[result.index] = result.batch
					continue
				}
				batch = result.batch
			case <-it.ctx.Done():
				for _, b := range pending {
					b.Release()
				}
				return
			}
		}

		select {
		case it.batchChannel <- batch:
			next++
		case <-it.ctx.Done():
			batch.Release()
			for _, b := range pending {
				b.Release()
			}
			return
		}
	}
}

// prepareBatch loads the samples for one batch and stacks them into tensors
func (it *Iterator) prepareBatch(sampleIndices []int) (*Batch, error) {
	cfg := it.loader.config
	rows := len(sampleIndices)
	imageElems := cfg.ImageShape[0] * cfg.ImageShape[1] * cfg.ImageShape[2]

	buffers, err := it.loader.pool.AcquireBuffer(it.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch buffers: %v", err)
	}

	images := buffers.images[:rows*imageElems]
	tokens := buffers.tokens[:rows*cfg.SeqLen]
	targets := buffers.targets[:rows*cfg.SeqLen]

	for row, idx := range sampleIndices {
		sample, err := it.loader.source.Sample(idx)
		if err != nil {
			it.loader.pool.ReturnBuffer(buffers)
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(sample.Image) != imageElems {
			it.loader.pool.ReturnBuffer(buffers)
			return nil, fmt.Errorf("sample %d: image has %d elements, expected %d",
				idx, len(sample.Image), imageElems)
		}
		if len(sample.Tokens) != cfg.SeqLen || len(sample.Targets) != cfg.SeqLen {
			it.loader.pool.ReturnBuffer(buffers)
			return nil, fmt.Errorf("sample %d: got %d tokens and %d targets, expected %d of each",
				idx, len(sample.Tokens), len(sample.Targets), cfg.SeqLen)
		}

		copy(images[row*imageElems:(row+1)*imageElems], sample.Image)
		copy(tokens[row*cfg.SeqLen:(row+1)*cfg.SeqLen], sample.Tokens)
		copy(targets[row*cfg.SeqLen:(row+1)*cfg.SeqLen], sample.Targets)
	}

	imageShape := []int{rows, cfg.ImageShape[0], cfg.ImageShape[1], cfg.ImageShape[2]}
	imageTensor, err := tensor.NewTensor(imageShape, tensor.Float32, images)
	if err != nil {
		it.loader.pool.ReturnBuffer(buffers)
		return nil, fmt.Errorf("failed to create image tensor: %v", err)
	}
	tokenTensor, err := tensor.NewTensor([]int{rows, cfg.SeqLen}, tensor.Int32, tokens)
	if err != nil {
		it.loader.pool.ReturnBuffer(buffers)
		return nil, fmt.Errorf("failed to create token tensor: %v", err)
	}
	targetTensor, err := tensor.NewTensor([]int{rows, cfg.SeqLen}, tensor.Int32, targets)
	if err != nil {
		it.loader.pool.ReturnBuffer(buffers)
		return nil, fmt.Errorf("failed to create target tensor: %v", err)
	}

	return &Batch{
		Images:  imageTensor,
		Tokens:  tokenTensor,
		Targets: targetTensor,
		Rows:    rows,
		BatchID: atomic.AddUint64(&it.loader.batchCounter, 1) - 1,
		pool:    it.loader.pool,
		buffers: buffers,
	}, nil
}
