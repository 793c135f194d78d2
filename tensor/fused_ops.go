package tensor

import (
	"fmt"
	"math"
)

// Fused neural-network operations. Each keeps the forward intermediates its
// backward formula needs instead of composing from primitive ops.

// LayerNormOp normalizes over the last dimension with learned gain and bias.
type LayerNormOp struct {
	baseOp
	eps    float32
	xhat   []float32
	invStd []float32
}

func (op *LayerNormOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 3 {
		panic("LayerNormOp requires exactly 3 inputs (x, gain, bias)")
	}
	op.inputs = inputs
	x, gain, bias := inputs[0], inputs[1], inputs[2]

	features := x.Shape[len(x.Shape)-1]
	if gain.NumElems != features || bias.NumElems != features {
		panic(fmt.Sprintf("layer norm parameter size %d/%d does not match feature dimension %d",
			gain.NumElems, bias.NumElems, features))
	}

	result, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	rows := x.NumElems / features
	op.xhat = make([]float32, x.NumElems)
	op.invStd = make([]float32, rows)

	xv, gv, bv, ov := x.Float32s(), gain.Float32s(), bias.Float32s(), result.Float32s()
	for r := 0; r < rows; r++ {
		row := xv[r*features : (r+1)*features]

		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(features)

		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(features)

		inv := float32(1.0 / math.Sqrt(float64(variance+op.eps)))
		op.invStd[r] = inv
		for j, v := range row {
			xh := (v - mean) * inv
			op.xhat[r*features+j] = xh
			ov[r*features+j] = gv[j]*xh + bv[j]
		}
	}
	return op.record(result, op)
}

func (op *LayerNormOp) Backward(gradOut *Tensor) []*Tensor {
	x, gain := op.inputs[0], op.inputs[1]
	features := x.Shape[len(x.Shape)-1]
	rows := x.NumElems / features

	gradX, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradGain, err := Zeros(gain.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradBias, err := Zeros(gain.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}

	gv := gain.Float32s()
	gout := gradOut.Float32s()
	gx, gg, gb := gradX.Float32s(), gradGain.Float32s(), gradBias.Float32s()

	for r := 0; r < rows; r++ {
		base := r * features
		inv := op.invStd[r]

		var sumDxhat, sumDxhatXhat float32
		for j := 0; j < features; j++ {
			g := gout[base+j]
			xh := op.xhat[base+j]
			gg[j] += g * xh
			gb[j] += g
			dxhat := g * gv[j]
			sumDxhat += dxhat
			sumDxhatXhat += dxhat * xh
		}
		meanDxhat := sumDxhat / float32(features)
		meanDxhatXhat := sumDxhatXhat / float32(features)
		for j := 0; j < features; j++ {
			dxhat := gout[base+j] * gv[j]
			gx[base+j] = inv * (dxhat - meanDxhat - op.xhat[base+j]*meanDxhatXhat)
		}
	}
	return []*Tensor{gradX, gradGain, gradBias}
}

// GELUOp applies the tanh approximation used by GPT-style networks.
type GELUOp struct {
	baseOp
}

const geluCoeff = 0.7978845608028654 // sqrt(2/pi)

func (op *GELUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("GELUOp requires exactly 1 input")
	}
	op.inputs = inputs
	x := inputs[0]

	result, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	xv, ov := x.Float32s(), result.Float32s()
	for i, v := range xv {
		u := geluCoeff * (float64(v) + 0.044715*float64(v)*float64(v)*float64(v))
		ov[i] = float32(0.5 * float64(v) * (1.0 + math.Tanh(u)))
	}
	return op.record(result, op)
}

func (op *GELUOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	grad, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	xv, gv, ov := x.Float32s(), gradOut.Float32s(), grad.Float32s()
	for i, v := range xv {
		fv := float64(v)
		u := geluCoeff * (fv + 0.044715*fv*fv*fv)
		th := math.Tanh(u)
		du := geluCoeff * (1.0 + 3.0*0.044715*fv*fv)
		d := 0.5*(1.0+th) + 0.5*fv*(1.0-th*th)*du
		ov[i] = gv[i] * float32(d)
	}
	return []*Tensor{grad}
}

// SoftmaxOp normalizes over the last dimension, optionally after adding a
// mask (additive, typically 0 or -Inf entries). The mask takes no gradient.
type SoftmaxOp struct {
	baseOp
	output *Tensor
}

func (op *SoftmaxOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 && len(inputs) != 2 {
		panic("SoftmaxOp requires 1 or 2 inputs (x, optional mask)")
	}
	op.inputs = inputs
	x := inputs[0]

	cols := x.Shape[len(x.Shape)-1]
	rows := x.NumElems / cols

	var maskData []float32
	maskElems := 0
	if len(inputs) == 2 {
		mask := inputs[1]
		maskData = mask.Float32s()
		maskElems = mask.NumElems
		if x.NumElems%maskElems != 0 {
			panic(fmt.Sprintf("mask shape %v does not tile input shape %v", mask.Shape, x.Shape))
		}
	}

	result, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	xv, ov := x.Float32s(), result.Float32s()

	for r := 0; r < rows; r++ {
		base := r * cols
		maxVal := float32(math.Inf(-1))
		for j := 0; j < cols; j++ {
			v := xv[base+j]
			if maskData != nil {
				v += maskData[(base+j)%maskElems]
			}
			ov[base+j] = v
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float32
		for j := 0; j < cols; j++ {
			e := float32(math.Exp(float64(ov[base+j] - maxVal)))
			ov[base+j] = e
			sum += e
		}
		for j := 0; j < cols; j++ {
			ov[base+j] /= sum
		}
	}

	op.output = result
	return op.record(result, op)
}

func (op *SoftmaxOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	cols := x.Shape[len(x.Shape)-1]
	rows := x.NumElems / cols

	grad, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	yv, gv, ov := op.output.Float32s(), gradOut.Float32s(), grad.Float32s()
	for r := 0; r < rows; r++ {
		base := r * cols
		var dot float32
		for j := 0; j < cols; j++ {
			dot += gv[base+j] * yv[base+j]
		}
		for j := 0; j < cols; j++ {
			ov[base+j] = yv[base+j] * (gv[base+j] - dot)
		}
	}

	if len(op.inputs) == 2 {
		return []*Tensor{grad, nil}
	}
	return []*Tensor{grad}
}

// CrossEntropyOp computes the mean negative log likelihood of integer
// targets under softmax logits. Rows whose target equals ignoreIndex are
// excluded from both the mean and the gradient; if every row is ignored the
// loss is exactly zero.
type CrossEntropyOp struct {
	baseOp
	ignoreIndex int32
	probs       []float32
	counted     int
}

func (op *CrossEntropyOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("CrossEntropyOp requires exactly 2 inputs (logits, targets)")
	}
	op.inputs = inputs
	logits, targets := inputs[0], inputs[1]

	if len(logits.Shape) != 2 {
		panic(fmt.Sprintf("cross entropy requires 2D logits, got shape %v", logits.Shape))
	}
	if targets.DType != Int32 {
		panic(fmt.Sprintf("cross entropy requires Int32 targets, got %s", targets.DType))
	}
	rows, classes := logits.Shape[0], logits.Shape[1]
	if targets.NumElems != rows {
		panic(fmt.Sprintf("cross entropy has %d logit rows but %d targets", rows, targets.NumElems))
	}

	lv, tv := logits.Float32s(), targets.Int32s()
	op.probs = make([]float32, logits.NumElems)
	op.counted = 0

	var total float64
	for r := 0; r < rows; r++ {
		base := r * classes
		row := lv[base : base+classes]

		maxVal := row[0]
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - maxVal))
			op.probs[base+j] = float32(e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < classes; j++ {
			op.probs[base+j] = float32(float64(op.probs[base+j]) * inv)
		}

		target := tv[r]
		if target == op.ignoreIndex {
			continue
		}
		if target < 0 || int(target) >= classes {
			panic(fmt.Sprintf("cross entropy target %d out of range [0, %d)", target, classes))
		}
		op.counted++
		total += math.Log(sum) + float64(maxVal) - float64(row[target])
	}

	loss := float32(0)
	if op.counted > 0 {
		loss = float32(total / float64(op.counted))
	}

	result, err := NewTensor([]int{1}, Float32, []float32{loss})
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *CrossEntropyOp) Backward(gradOut *Tensor) []*Tensor {
	logits, targets := op.inputs[0], op.inputs[1]
	rows, classes := logits.Shape[0], logits.Shape[1]

	grad, err := Zeros(logits.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	if op.counted == 0 {
		return []*Tensor{grad, nil}
	}

	scale := gradOut.Float32s()[0] / float32(op.counted)
	gv, tv := grad.Float32s(), targets.Int32s()
	for r := 0; r < rows; r++ {
		target := tv[r]
		if target == op.ignoreIndex {
			continue
		}
		base := r * classes
		for j := 0; j < classes; j++ {
			p := op.probs[base+j]
			if int32(j) == target {
				p -= 1
			}
			gv[base+j] = p * scale
		}
	}
	return []*Tensor{grad, nil}
}

// L2NormalizeOp scales each trailing-dimension vector to unit length.
type L2NormalizeOp struct {
	baseOp
	output *Tensor
	norms  []float32
}

const l2Eps = 1e-12

func (op *L2NormalizeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("L2NormalizeOp requires exactly 1 input")
	}
	op.inputs = inputs
	x := inputs[0]

	cols := x.Shape[len(x.Shape)-1]
	rows := x.NumElems / cols

	result, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	op.norms = make([]float32, rows)

	xv, ov := x.Float32s(), result.Float32s()
	for r := 0; r < rows; r++ {
		base := r * cols
		var sq float64
		for j := 0; j < cols; j++ {
			v := float64(xv[base+j])
			sq += v * v
		}
		norm := float32(math.Sqrt(sq))
		if norm < l2Eps {
			norm = l2Eps
		}
		op.norms[r] = norm
		for j := 0; j < cols; j++ {
			ov[base+j] = xv[base+j] / norm
		}
	}
	op.output = result
	return op.record(result, op)
}

func (op *L2NormalizeOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	cols := x.Shape[len(x.Shape)-1]
	rows := x.NumElems / cols

	grad, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	yv, gv, ov := op.output.Float32s(), gradOut.Float32s(), grad.Float32s()
	for r := 0; r < rows; r++ {
		base := r * cols
		var dot float32
		for j := 0; j < cols; j++ {
			dot += gv[base+j] * yv[base+j]
		}
		inv := 1.0 / op.norms[r]
		for j := 0; j < cols; j++ {
			ov[base+j] = (gv[base+j] - yv[base+j]*dot) * inv
		}
	}
	return []*Tensor{grad}
}

// GatherRowsOp looks rows of a table up by integer id; the embedding
// forward. Ids take no gradient, the table accumulates scatter-adds.
type GatherRowsOp struct {
	baseOp
}

func (op *GatherRowsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("GatherRowsOp requires exactly 2 inputs (table, ids)")
	}
	op.inputs = inputs
	table, ids := inputs[0], inputs[1]

	if len(table.Shape) != 2 {
		panic(fmt.Sprintf("gather requires a 2D table, got shape %v", table.Shape))
	}
	if ids.DType != Int32 {
		panic(fmt.Sprintf("gather requires Int32 ids, got %s", ids.DType))
	}

	vocab, width := table.Shape[0], table.Shape[1]
	outShape := append(append([]int{}, ids.Shape...), width)
	result, err := Zeros(outShape, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	tv, iv, ov := table.Float32s(), ids.Int32s(), result.Float32s()
	for n, id := range iv {
		if id < 0 || int(id) >= vocab {
			panic(fmt.Sprintf("gather id %d out of range [0, %d)", id, vocab))
		}
		copy(ov[n*width:(n+1)*width], tv[int(id)*width:(int(id)+1)*width])
	}
	return op.record(result, op)
}

func (op *GatherRowsOp) Backward(gradOut *Tensor) []*Tensor {
	table, ids := op.inputs[0], op.inputs[1]
	width := table.Shape[1]

	grad, err := Zeros(table.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gv, iv, ov := gradOut.Float32s(), ids.Int32s(), grad.Float32s()
	for n, id := range iv {
		dst := ov[int(id)*width : (int(id)+1)*width]
		src := gv[n*width : (n+1)*width]
		for j := range dst {
			dst[j] += src[j]
		}
	}
	return []*Tensor{grad, nil}
}

// HalfCastOp rounds activations through binary16 on the forward pass and
// passes gradients through untouched, which is how reduced-precision
// forward compute behaves against full-precision accumulation.
type HalfCastOp struct {
	baseOp
}

func (op *HalfCastOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("HalfCastOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := RoundToHalf(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return op.record(result, op)
}

func (op *HalfCastOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut}
}

// SplitHeadsOp rearranges [batch, seq, heads*dim] into [batch*heads, seq,
// dim] so attention can run as one batched matmul per projection.
type SplitHeadsOp struct {
	baseOp
	heads int
}

func (op *SplitHeadsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SplitHeadsOp requires exactly 1 input")
	}
	op.inputs = inputs
	x := inputs[0]

	if len(x.Shape) != 3 {
		panic(fmt.Sprintf("split heads requires a 3D tensor, got shape %v", x.Shape))
	}
	batch, seq, width := x.Shape[0], x.Shape[1], x.Shape[2]
	if width%op.heads != 0 {
		panic(fmt.Sprintf("width %d not divisible by %d heads", width, op.heads))
	}
	dim := width / op.heads

	result, err := Zeros([]int{batch * op.heads, seq, dim}, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	xv, ov := x.Float32s(), result.Float32s()
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			src := (b*seq + s) * width
			for h := 0; h < op.heads; h++ {
				dst := ((b*op.heads+h)*seq + s) * dim
				copy(ov[dst:dst+dim], xv[src+h*dim:src+(h+1)*dim])
			}
		}
	}
	return op.record(result, op)
}

func (op *SplitHeadsOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	batch, seq, width := x.Shape[0], x.Shape[1], x.Shape[2]
	dim := width / op.heads

	grad, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gv, ov := gradOut.Float32s(), grad.Float32s()
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			dst := (b*seq + s) * width
			for h := 0; h < op.heads; h++ {
				src := ((b*op.heads+h)*seq + s) * dim
				copy(ov[dst+h*dim:dst+(h+1)*dim], gv[src:src+dim])
			}
		}
	}
	return []*Tensor{grad}
}

// MergeHeadsOp is the inverse rearrangement, [batch*heads, seq, dim] back
// to [batch, seq, heads*dim].
type MergeHeadsOp struct {
	baseOp
	heads int
}

func (op *MergeHeadsOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MergeHeadsOp requires exactly 1 input")
	}
	op.inputs = inputs
	x := inputs[0]

	if len(x.Shape) != 3 {
		panic(fmt.Sprintf("merge heads requires a 3D tensor, got shape %v", x.Shape))
	}
	if x.Shape[0]%op.heads != 0 {
		panic(fmt.Sprintf("batch %d not divisible by %d heads", x.Shape[0], op.heads))
	}
	batch, seq, dim := x.Shape[0]/op.heads, x.Shape[1], x.Shape[2]
	width := op.heads * dim

	result, err := Zeros([]int{batch, seq, width}, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	xv, ov := x.Float32s(), result.Float32s()
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			dst := (b*seq + s) * width
			for h := 0; h < op.heads; h++ {
				src := ((b*op.heads+h)*seq + s) * dim
				copy(ov[dst+h*dim:dst+(h+1)*dim], xv[src:src+dim])
			}
		}
	}
	return op.record(result, op)
}

func (op *MergeHeadsOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	batch, seq, dim := x.Shape[0]/op.heads, x.Shape[1], x.Shape[2]
	width := op.heads * dim

	grad, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gv, ov := gradOut.Float32s(), grad.Float32s()
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			src := (b*seq + s) * width
			for h := 0; h < op.heads; h++ {
				dst := ((b*op.heads+h)*seq + s) * dim
				copy(ov[dst:dst+dim], gv[src+h*dim:src+(h+1)*dim])
			}
		}
	}
	return []*Tensor{grad}
}

// PatchifyOp rearranges an image batch [batch, chans, height, width] into
// non-overlapping square patches [batch, patches, chans*patch*patch], the
// flattening a patch-embedding convolution would see.
type PatchifyOp struct {
	baseOp
	patch int
}

func (op *PatchifyOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("PatchifyOp requires exactly 1 input")
	}
	op.inputs = inputs
	x := inputs[0]

	if len(x.Shape) != 4 {
		panic(fmt.Sprintf("patchify requires a 4D image tensor, got shape %v", x.Shape))
	}
	batch, chans, height, width := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if op.patch <= 0 || height%op.patch != 0 || width%op.patch != 0 {
		panic(fmt.Sprintf("image %dx%d not divisible into %d-pixel patches", height, width, op.patch))
	}
	rows, cols := height/op.patch, width/op.patch
	patches := rows * cols
	dim := chans * op.patch * op.patch

	result, err := Zeros([]int{batch, patches, dim}, Float32)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	xv, ov := x.Float32s(), result.Float32s()
	for b := 0; b < batch; b++ {
		for py := 0; py < rows; py++ {
			for px := 0; px < cols; px++ {
				p := py*cols + px
				for c := 0; c < chans; c++ {
					for dy := 0; dy < op.patch; dy++ {
						src := ((b*chans+c)*height+py*op.patch+dy)*width + px*op.patch
						dst := (b*patches+p)*dim + (c*op.patch+dy)*op.patch
						copy(ov[dst:dst+op.patch], xv[src:src+op.patch])
					}
				}
			}
		}
	}
	return op.record(result, op)
}

func (op *PatchifyOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	batch, chans, height, width := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	rows, cols := height/op.patch, width/op.patch
	patches := rows * cols
	dim := chans * op.patch * op.patch

	grad, err := Zeros(x.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gv, ov := gradOut.Float32s(), grad.Float32s()
	for b := 0; b < batch; b++ {
		for py := 0; py < rows; py++ {
			for px := 0; px < cols; px++ {
				p := py*cols + px
				for c := 0; c < chans; c++ {
					for dy := 0; dy < op.patch; dy++ {
						dst := ((b*chans+c)*height+py*op.patch+dy)*width + px*op.patch
						src := (b*patches+p)*dim + (c*op.patch+dy)*op.patch
						copy(ov[dst:dst+op.patch], gv[src:src+op.patch])
					}
				}
			}
		}
	}
	return []*Tensor{grad}
}

// Autograd entry points for the fused operations.

// LayerNormAutograd normalizes x over its last dimension.
func LayerNormAutograd(x, gain, bias *Tensor, eps float32) *Tensor {
	op := &LayerNormOp{eps: eps}
	return op.Forward(x, gain, bias)
}

// GELUAutograd applies the GELU activation.
func GELUAutograd(x *Tensor) *Tensor {
	op := &GELUOp{}
	return op.Forward(x)
}

// SoftmaxAutograd normalizes over the last dimension.
func SoftmaxAutograd(x *Tensor) *Tensor {
	op := &SoftmaxOp{}
	return op.Forward(x)
}

// MaskedSoftmaxAutograd adds mask (tiled over leading dimensions) before
// normalizing. Use -Inf mask entries to forbid positions.
func MaskedSoftmaxAutograd(x, mask *Tensor) *Tensor {
	op := &SoftmaxOp{}
	return op.Forward(x, mask)
}

// CrossEntropyAutograd computes mean cross entropy of logits against
// integer targets, skipping targets equal to ignoreIndex.
func CrossEntropyAutograd(logits, targets *Tensor, ignoreIndex int32) *Tensor {
	op := &CrossEntropyOp{ignoreIndex: ignoreIndex}
	return op.Forward(logits, targets)
}

// L2NormalizeAutograd scales trailing vectors to unit length.
func L2NormalizeAutograd(x *Tensor) *Tensor {
	op := &L2NormalizeOp{}
	return op.Forward(x)
}

// GatherRowsAutograd selects table rows by id.
func GatherRowsAutograd(table, ids *Tensor) *Tensor {
	op := &GatherRowsOp{}
	return op.Forward(table, ids)
}

// HalfCastAutograd rounds values through binary16 precision.
func HalfCastAutograd(x *Tensor) *Tensor {
	op := &HalfCastOp{}
	return op.Forward(x)
}

// SplitHeadsAutograd rearranges [batch, seq, heads*dim] to
// [batch*heads, seq, dim].
func SplitHeadsAutograd(x *Tensor, heads int) *Tensor {
	op := &SplitHeadsOp{heads: heads}
	return op.Forward(x)
}

// MergeHeadsAutograd rearranges [batch*heads, seq, dim] back to
// [batch, seq, heads*dim].
func MergeHeadsAutograd(x *Tensor, heads int) *Tensor {
	op := &MergeHeadsOp{heads: heads}
	return op.Forward(x)
}

// PatchifyAutograd cuts [batch, chans, height, width] images into flat
// square patches [batch, patches, chans*patch*patch].
func PatchifyAutograd(x *Tensor, patch int) *Tensor {
	op := &PatchifyOp{patch: patch}
	return op.Forward(x)
}
