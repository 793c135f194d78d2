package tensor

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Kernel tiling parameters, chosen once at startup from the detected CPU.
// The inner loops are written so the compiler can vectorize the contiguous
// float32 spans; wider SIMD units reward larger k-blocks before the working
// set falls out of L1.
var (
	gemmBlockK  = 64
	kernelLabel = "baseline"
)

func init() {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ):
		gemmBlockK = 256
		kernelLabel = "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3):
		gemmBlockK = 128
		kernelLabel = "avx2"
	}
}

// KernelLabel reports which matmul tiling was selected at startup.
func KernelLabel() string {
	return kernelLabel
}

// parallelThreshold is the operation count below which goroutine fan-out
// costs more than it saves.
const parallelThreshold = 1 << 15

// MatMul multiplies two 2D Float32 tensors. With transA, a is interpreted
// as [k,m]; with transB, b as [n,k]. The result is always [m,n].
func MatMul(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("MatMul requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}

	m, k := a.Shape[0], a.Shape[1]
	if transA {
		m, k = a.Shape[1], a.Shape[0]
	}
	kb, n := b.Shape[0], b.Shape[1]
	if transB {
		kb, n = b.Shape[1], b.Shape[0]
	}
	if k != kb {
		return nil, fmt.Errorf("MatMul inner dimensions do not match: %d vs %d", k, kb)
	}

	out, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}
	gemm(a.Float32s(), b.Float32s(), out.Float32s(), m, k, n, transA, transB)
	return out, nil
}

// BatchedMatMul multiplies two 3D Float32 tensors slice by slice along the
// leading dimension. Transpose flags apply to the trailing two dimensions.
func BatchedMatMul(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("BatchedMatMul requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	if len(a.Shape) != 3 || len(b.Shape) != 3 {
		return nil, fmt.Errorf("BatchedMatMul requires 3D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("BatchedMatMul batch dimensions do not match: %d vs %d", a.Shape[0], b.Shape[0])
	}

	batch := a.Shape[0]
	m, k := a.Shape[1], a.Shape[2]
	if transA {
		m, k = a.Shape[2], a.Shape[1]
	}
	kb, n := b.Shape[1], b.Shape[2]
	if transB {
		kb, n = b.Shape[2], b.Shape[1]
	}
	if k != kb {
		return nil, fmt.Errorf("BatchedMatMul inner dimensions do not match: %d vs %d", k, kb)
	}

	out, err := Zeros([]int{batch, m, n}, Float32)
	if err != nil {
		return nil, err
	}

	aData, bData, cData := a.Float32s(), b.Float32s(), out.Float32s()
	aStride, bStride, cStride := a.Shape[1]*a.Shape[2], b.Shape[1]*b.Shape[2], m*n

	workers := runtime.NumCPU()
	if workers > batch {
		workers = batch
	}
	if batch*m*n*k < parallelThreshold {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < batch; i += workers {
				gemmSerial(
					aData[i*aStride:(i+1)*aStride],
					bData[i*bStride:(i+1)*bStride],
					cData[i*cStride:(i+1)*cStride],
					m, k, n, transA, transB,
				)
			}
		}(w)
	}
	wg.Wait()
	return out, nil
}

// gemm accumulates a*b into c, fanning rows out across goroutines when the
// operation is large enough to pay for it. c must be zeroed.
func gemm(a, b, c []float32, m, k, n int, transA, transB bool) {
	workers := runtime.NumCPU()
	if workers > m {
		workers = m
	}
	if m*n*k < parallelThreshold || workers <= 1 {
		gemmSerial(a, b, c, m, k, n, transA, transB)
		return
	}

	rowsPer := (m + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * rowsPer
		hi := lo + rowsPer
		if hi > m {
			hi = m
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			gemmRows(a, b, c, m, k, n, lo, hi, transA, transB)
		}(lo, hi)
	}
	wg.Wait()
}

func gemmSerial(a, b, c []float32, m, k, n int, transA, transB bool) {
	gemmRows(a, b, c, m, k, n, 0, m, transA, transB)
}

// gemmRows computes output rows [rowLo, rowHi).
func gemmRows(a, b, c []float32, m, k, n, rowLo, rowHi int, transA, transB bool) {
	switch {
	case !transA && !transB:
		// a[m,k] x b[k,n]: k-blocked axpy over contiguous output rows.
		for kk := 0; kk < k; kk += gemmBlockK {
			kEnd := kk + gemmBlockK
			if kEnd > k {
				kEnd = k
			}
			for i := rowLo; i < rowHi; i++ {
				aRow := a[i*k : (i+1)*k]
				cRow := c[i*n : (i+1)*n]
				for p := kk; p < kEnd; p++ {
					av := aRow[p]
					if av == 0 {
						continue
					}
					bRow := b[p*n : (p+1)*n]
					for j := range cRow {
						cRow[j] += av * bRow[j]
					}
				}
			}
		}
	case !transA && transB:
		// a[m,k] x b[n,k]^T: plain dot products, both operands contiguous.
		for i := rowLo; i < rowHi; i++ {
			aRow := a[i*k : (i+1)*k]
			cRow := c[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				bRow := b[j*k : (j+1)*k]
				var sum float32
				for p := range aRow {
					sum += aRow[p] * bRow[p]
				}
				cRow[j] = sum
			}
		}
	case transA && !transB:
		// a[k,m]^T x b[k,n]: per output row, axpy over the k rows of b.
		for i := rowLo; i < rowHi; i++ {
			cRow := c[i*n : (i+1)*n]
			for p := 0; p < k; p++ {
				av := a[p*m+i]
				if av == 0 {
					continue
				}
				bRow := b[p*n : (p+1)*n]
				for j := range cRow {
					cRow[j] += av * bRow[j]
				}
			}
		}
	default:
		// a[k,m]^T x b[n,k]^T: strided dot products; rare path, kept simple.
		for i := rowLo; i < rowHi; i++ {
			cRow := c[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				var sum float32
				for p := 0; p < k; p++ {
					sum += a[p*m+i] * b[j*k+p]
				}
				cRow[j] = sum
			}
		}
	}
}
