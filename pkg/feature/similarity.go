package feature

import (
	"math"
	"math/bits"
	"sort"

	"github.com/otama-go/otama/pkg/otid"
)

// ColorMethod selects how a color sidecar's similarity is folded into
// the bit-cosine blend (driver.color_method).
type ColorMethod string

const (
	ColorMethodLinear ColorMethod = "linear"
	ColorMethodStep   ColorMethod = "step"
)

// RerankMethod selects the bit-cosine family's optional second pass
// (driver.rerank_method).
type RerankMethod string

const (
	RerankNone RerankMethod = "none"
	RerankIDF  RerankMethod = "idf"
)

// DefaultFirstScale is the oversampling factor applied to n before an
// idf rerank narrows back down to the final top-n (spec §4.6).
const DefaultFirstScale = 16

// BlendedSimilarity folds a color sidecar's similarity into a
// bit-cosine score: "linear" adds the raw weighted colorsim, "step"
// binarizes it against colorThreshold first (spec §4.6:
// "(1-cw)*bitcos + cw*colorsim").
func BlendedSimilarity(bitcos, colorsim, colorWeight, colorThreshold float32, method ColorMethod) float32 {
	if colorWeight <= 0 {
		return bitcos
	}
	if method == ColorMethodStep {
		if colorsim < colorThreshold {
			colorsim = 0
		} else {
			colorsim = 1
		}
	}
	return (1-colorWeight)*bitcos + colorWeight*colorsim
}

// Candidate is one bit-cosine search hit, carried into an optional
// rerank pass alongside the bit vector its score was computed from.
type Candidate struct {
	ID         otid.ID
	Vec        *BitVector
	Similarity float32
}

// BitWeightFunc weighs a single bit index, the idf rerank's per-word
// IDF hook generalized to bit position.
type BitWeightFunc func(bit int) float32

// UniformWeight is the rerank_method=none weighting: every bit counts
// equally, which makes RerankIDFWeighted degenerate to plain
// BitCosine.
func UniformWeight(int) float32 { return 1 }

func weightedNorm(v *BitVector, weight BitWeightFunc) float32 {
	var sumSq float32
	for wi, word := range v.Words {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			w := weight(wi*64 + b)
			sumSq += w * w
			word &= word - 1
		}
	}
	if sumSq == 0 {
		return float32(math.MaxFloat32)
	}
	return float32(math.Sqrt(float64(sumSq)))
}

// weightedAndSum returns sum(weight(bit)^2) over bits set in both a
// and b.
func weightedAndSum(a, b *BitVector, weight BitWeightFunc) float32 {
	var sum float32
	for i := range a.Words {
		word := a.Words[i] & b.Words[i]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			w := weight(i*64 + bit)
			sum += w * w
			word &= word - 1
		}
	}
	return sum
}

// RerankIDFWeighted rescores candidates (already ranked by bit-cosine
// and oversampled by DefaultFirstScale) using a per-bit weighting
// function, then truncates to the final topN (spec §4.6: "rescore
// with per-word IDF-weighted cosine over decoded bit-indices, re-heap
// to final top-n").
func RerankIDFWeighted(query *BitVector, candidates []Candidate, weight BitWeightFunc, topN int) []Candidate {
	qNorm := weightedNorm(query, weight)
	rescored := make([]Candidate, len(candidates))
	for i, c := range candidates {
		sum := weightedAndSum(query, c.Vec, weight)
		cNorm := weightedNorm(c.Vec, weight)
		rescored[i] = Candidate{ID: c.ID, Vec: c.Vec, Similarity: sum / (qNorm * cNorm)}
	}
	sort.Slice(rescored, func(i, j int) bool { return rescored[i].Similarity > rescored[j].Similarity })
	if len(rescored) > topN {
		rescored = rescored[:topN]
	}
	return rescored
}
