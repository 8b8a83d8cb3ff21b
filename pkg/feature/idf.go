package feature

import (
	"math"

	"github.com/otama-go/otama/pkg/store/inverted"
)

// IDF is the per-word inverse-document-frequency weight
// log((N+0.5)/(df+0.5)) + 1, where N is the corpus size and df is the
// number of records containing the word.
func IDF(n, df int64) float32 {
	return float32(math.Log((float64(n)+0.5)/(float64(df)+0.5)) + 1)
}

// idfSource is the subset of inverted.Store needed to weigh words;
// satisfied by both Bucket and Disk.
type idfSource interface {
	Count() int64
	HashCount(word uint32) int64
}

// NewIDFScoreFunc builds an inverted.ScoreFunc that weighs each word
// by IDF against the live corpus size and posting-list length of
// store, the weighting function driver.rerank_method=idf and the
// search-time word scoring both inject (spec §4.5, §4.6).
func NewIDFScoreFunc(store idfSource) inverted.ScoreFunc {
	return func(word uint32) float32 {
		return IDF(store.Count(), store.HashCount(word))
	}
}
