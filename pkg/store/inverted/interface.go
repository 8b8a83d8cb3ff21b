// Package inverted implements the sparse word-list posting-list store
// (spec §4.4): a shared Store interface with two backends — an
// in-memory Bucket and a disk-backed bbolt implementation — grounded on
// original_source/src/models/otama_inverted_index.hpp and its
// bucket/kvs-based subclasses.
package inverted

import "github.com/otama-go/otama/pkg/otid"

// DefaultHitThreshold is the minimum number of shared words a candidate
// must have with the query before it is scored at all
// (otama_inverted_index.hpp's HIT_THRESHOLD).
const DefaultHitThreshold = 8

// FlagDelete marks a record as tombstoned without removing its postings.
const FlagDelete uint8 = 0x01

// ScoreFunc weights a single word id when accumulating dot products and
// norms; the default (nil) treats every word with weight 1.0, matching
// InvertedIndex::ScoreFunction's identity operator().
type ScoreFunc func(word uint32) float32

func (f ScoreFunc) weight(word uint32) float32 {
	if f == nil {
		return 1.0
	}
	return f(word)
}

// Result is one search_cosine hit.
type Result struct {
	ID         otid.ID
	Similarity float32
}

// BatchRecord is one record of a batch_set call.
type BatchRecord struct {
	No  int64
	ID  otid.ID
	Vec []uint32 // ascending, unique word ids
}

// Store is the posting-list backend interface both the in-memory bucket
// and the bbolt-backed disk store implement.
type Store interface {
	Open() error
	Close() error
	Clear() error
	Vacuum() error

	SearchCosine(vec []uint32, n int) ([]Result, error)

	HashCount(word uint32) int64
	Count() int64

	// SetHitThreshold changes the minimum shared-word count a candidate
	// must clear to be scored (spec §6's hit_threshold control-channel
	// setting), effective on the next SearchCosine call.
	SetHitThreshold(n int)

	// BeginWriter/BeginReader/End bracket a unit of work the way the
	// original's omp_nest_lock does; callers must call End exactly once
	// per successful Begin*.
	BeginWriter() error
	BeginReader() error
	End() error

	Set(no int64, id otid.ID, vec []uint32) error
	BatchSet(records []BatchRecord) error
	SetFlag(no int64, flag uint8) error

	GetLastCommitNo() int64
	SetLastCommitNo(no int64) error
	GetLastNo() int64
	SetLastNo(no int64) error

	Sync() error
	UpdateCount() error
}
