package async

import (
	"context"
	"fmt"
	"sync"
)

// BatchBuffers carries the backing arrays for one batch while it moves
// through the loading pipeline. Buffers are sized for a full batch and
// recycled through a BufferPool; a short final batch uses a prefix of
// each array.
type BatchBuffers struct {
	images  []float32
	tokens  []int32
	targets []int32
	inUse   bool
	id      int
}

// BufferPool manages a bounded pool of batch assembly buffers so that
// steady-state loading does not allocate per batch.
type BufferPool struct {
	buffers    []*BatchBuffers
	available  chan *BatchBuffers
	maxBuffers int
	imageElems int
	tokenElems int
	mutex      sync.Mutex
	nextID     int
}

// NewBufferPool creates a pool of batch buffers. imageElems and tokenElems
// are the element counts of a full batch's image and token arrays.
func NewBufferPool(imageElems, tokenElems, maxBuffers int) (*BufferPool, error) {
	if imageElems <= 0 {
		return nil, fmt.Errorf("imageElems must be positive, got %d", imageElems)
	}
	if tokenElems <= 0 {
		return nil, fmt.Errorf("tokenElems must be positive, got %d", tokenElems)
	}
	if maxBuffers <= 0 {
		return nil, fmt.Errorf("maxBuffers must be positive, got %d", maxBuffers)
	}

	pool := &BufferPool{
		buffers:    make([]*BatchBuffers, 0, maxBuffers),
		available:  make(chan *BatchBuffers, maxBuffers),
		maxBuffers: maxBuffers,
		imageElems: imageElems,
		tokenElems: tokenElems,
		nextID:     1,
	}

	// Pre-allocate half the pool up front
	initialBuffers := maxBuffers / 2
	if initialBuffers < 2 {
		initialBuffers = 2
	}
	if initialBuffers > maxBuffers {
		initialBuffers = maxBuffers
	}

	for i := 0; i < initialBuffers; i++ {
		buffer := pool.createBuffer()
		pool.buffers = append(pool.buffers, buffer)
		pool.available <- buffer
	}

	return pool, nil
}

// createBuffer allocates a new batch buffer. Callers must hold the mutex
// unless the pool is not yet shared.
func (bp *BufferPool) createBuffer() *BatchBuffers {
	buffer := &BatchBuffers{
		images:  make([]float32, bp.imageElems),
		tokens:  make([]int32, bp.tokenElems),
		targets: make([]int32, bp.tokenElems),
		id:      bp.nextID,
	}
	bp.nextID++
	return buffer
}

// GetBuffer gets an available batch buffer (creates a new one if needed and under limit)
func (bp *BufferPool) GetBuffer() (*BatchBuffers, error) {
	select {
	case buffer := <-bp.available:
		bp.markInUse(buffer, true)
		return buffer, nil
	default:
		bp.mutex.Lock()
		defer bp.mutex.Unlock()

		if len(bp.buffers) < bp.maxBuffers {
			buffer := bp.createBuffer()
			bp.buffers = append(bp.buffers, buffer)
			buffer.inUse = true
			return buffer, nil
		}

		return nil, fmt.Errorf("no batch buffers available and pool is at capacity (%d)", bp.maxBuffers)
	}
}

// markInUse flips the in-use flag under the mutex so Stats can read it
// while workers hold buffers.
func (bp *BufferPool) markInUse(buffer *BatchBuffers, inUse bool) {
	bp.mutex.Lock()
	buffer.inUse = inUse
	bp.mutex.Unlock()
}

// AcquireBuffer returns a buffer like GetBuffer, but at capacity it waits
// for one to be returned instead of failing. Workers use this so a slow
// batch ahead of them applies backpressure rather than killing the pass.
// The wait ends when ctx is cancelled.
func (bp *BufferPool) AcquireBuffer(ctx context.Context) (*BatchBuffers, error) {
	buffer, err := bp.GetBuffer()
	if err == nil {
		return buffer, nil
	}

	select {
	case buffer := <-bp.available:
		bp.markInUse(buffer, true)
		return buffer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReturnBuffer returns a batch buffer to the pool
func (bp *BufferPool) ReturnBuffer(buffer *BatchBuffers) {
	if buffer == nil {
		return
	}

	bp.markInUse(buffer, false)

	select {
	case bp.available <- buffer:
	default:
		// Channel capacity equals maxBuffers, so this cannot fill up;
		// dropping the buffer here just lets the GC reclaim it.
	}
}

// Stats returns statistics about the buffer pool
func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	inUseCount := 0
	for _, buffer := range bp.buffers {
		if buffer.inUse {
			inUseCount++
		}
	}

	return BufferPoolStats{
		TotalBuffers:     len(bp.buffers),
		AvailableBuffers: len(bp.available),
		InUseBuffers:     inUseCount,
		MaxBuffers:       bp.maxBuffers,
	}
}

// BufferPoolStats provides statistics about the buffer pool
type BufferPoolStats struct {
	TotalBuffers     int
	AvailableBuffers int
	InUseBuffers     int
	MaxBuffers       int
}
