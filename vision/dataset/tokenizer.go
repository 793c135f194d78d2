package dataset

import (
	"math/rand"
	"strings"

	"github.com/RobinDong/multimodal-trials/async"
)

// Byte-level vocabulary: every caption byte maps to ByteOffset+byte, which
// leaves room for the padding and mask ids below it.
const (
	PadID      int32 = 0
	MaskID     int32 = 1
	ByteOffset int32 = 2

	// VocabSize is the number of distinct token ids the tokenizer emits.
	VocabSize = 256 + int(ByteOffset)
)

// EncodeCaption converts a caption into a fixed-length token sequence.
// Long captions are truncated, short ones padded with PadID.
func EncodeCaption(text string, seqLen int) []int32 {
	tokens := make([]int32, seqLen)
	raw := []byte(text)
	if len(raw) > seqLen {
		raw = raw[:seqLen]
	}
	for i, b := range raw {
		tokens[i] = ByteOffset + int32(b)
	}
	for i := len(raw); i < seqLen; i++ {
		tokens[i] = PadID
	}
	return tokens
}

// DecodeTokens reverses EncodeCaption. Padding stops the decode; a mask id
// renders as '?' so masked sequences stay printable.
func DecodeTokens(tokens []int32) string {
	var sb strings.Builder
	for _, tok := range tokens {
		switch {
		case tok == PadID:
			return sb.String()
		case tok == MaskID:
			sb.WriteByte('?')
		case tok >= ByteOffset && tok < ByteOffset+256:
			sb.WriteByte(byte(tok - ByteOffset))
		}
	}
	return sb.String()
}

// MaskTokens applies masked-language-model corruption to a token sequence.
// Each non-padding position is selected with probability ratio. A selected
// position keeps its original token as the prediction target and is replaced
// by the mask id 80% of the time, by a random byte token 10% of the time,
// and left unchanged otherwise. Unselected positions get the loader's
// ignore value as target so the loss skips them.
func MaskTokens(tokens []int32, rng *rand.Rand, ratio float64) (masked, targets []int32) {
	masked = make([]int32, len(tokens))
	targets = make([]int32, len(tokens))
	for i, tok := range tokens {
		masked[i] = tok
		targets[i] = async.IgnoreIndex
		if tok == PadID || rng.Float64() >= ratio {
			continue
		}
		targets[i] = tok
		roll := rng.Float64()
		switch {
		case roll < 0.8:
			masked[i] = MaskID
		case roll < 0.9:
			masked[i] = ByteOffset + int32(rng.Intn(256))
		}
	}
	return masked, targets
}
