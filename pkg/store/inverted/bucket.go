package inverted

import (
	"container/heap"
	"math"
	"sort"
	"sync"

	"github.com/otama-go/otama/pkg/otid"
	"github.com/otama-go/otama/pkg/store/vbc"
)

var _ Store = (*Bucket)(nil)

type bucketRecord struct {
	id   otid.ID
	norm float32
	flag uint8
}

// Bucket is the in-memory posting-list store, grounded on
// otama_inverted_index_bucket.cpp: a word-indexed slice of
// variable-byte-coded posting lists plus a by-no metadata map, both
// protected by a single lock standing in for the original's
// omp_nest_lock.
type Bucket struct {
	mu sync.Mutex

	metadata map[int64]*bucketRecord
	postings []vbc.Encoder // indexed by word id

	lastNo       int64
	lastCommitNo int64
	hitThreshold int
	score        ScoreFunc
}

// NewBucket builds an empty bucket store. hitThreshold <= 0 falls back
// to DefaultHitThreshold, mirroring the original's clamp to 1 (here
// clamped to the package default instead of 1, since 0/negative
// thresholds were never a deliberate configuration in the original CLI).
func NewBucket(hitThreshold int, score ScoreFunc) *Bucket {
	if hitThreshold < 1 {
		hitThreshold = DefaultHitThreshold
	}
	return &Bucket{
		metadata:     make(map[int64]*bucketRecord),
		lastNo:       -1,
		lastCommitNo: -1,
		hitThreshold: hitThreshold,
		score:        score,
	}
}

func (b *Bucket) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = make(map[int64]*bucketRecord)
	b.postings = nil
	return nil
}

func (b *Bucket) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = make(map[int64]*bucketRecord)
	b.postings = nil
	return nil
}

func (b *Bucket) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = make(map[int64]*bucketRecord)
	b.postings = nil
	b.lastNo = -1
	b.lastCommitNo = -1
	return nil
}

func (b *Bucket) Vacuum() error { return nil }

func (b *Bucket) BeginWriter() error { b.mu.Lock(); return nil }
func (b *Bucket) BeginReader() error { b.mu.Lock(); return nil }
func (b *Bucket) End() error         { b.mu.Unlock(); return nil }

func (b *Bucket) norm(vec []uint32) float32 {
	var dot float32
	for _, w := range vec {
		s := b.score.weight(w)
		dot += s * s
	}
	return float32(math.Sqrt(float64(dot)))
}

// Set records no's metadata and appends no to every word's posting list,
// but only the first time no is seen — a repeated no is a no-op, mirroring
// the original's check on map::insert's second (inserted) return value.
func (b *Bucket) Set(no int64, id otid.ID, vec []uint32) error {
	if _, exists := b.metadata[no]; exists {
		return nil
	}
	b.metadata[no] = &bucketRecord{id: id, norm: b.norm(vec), flag: 0}
	if len(vec) == 0 {
		return nil
	}
	maxWord := vec[len(vec)-1]
	if uint32(len(b.postings)) <= maxWord {
		grown := make([]vbc.Encoder, maxWord+1)
		copy(grown, b.postings)
		b.postings = grown
	}
	for _, w := range vec {
		b.postings[w].Push(no)
	}
	return nil
}

func (b *Bucket) BatchSet(records []BatchRecord) error {
	for _, r := range records {
		if err := b.Set(r.No, r.ID, r.Vec); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bucket) SetFlag(no int64, flag uint8) error {
	rec, ok := b.metadata[no]
	if !ok {
		return &notFoundError{no: no}
	}
	rec.flag = flag
	return nil
}

func (b *Bucket) GetLastCommitNo() int64       { return b.lastCommitNo }
func (b *Bucket) SetLastCommitNo(no int64) error { b.lastCommitNo = no; return nil }
func (b *Bucket) GetLastNo() int64             { return b.lastNo }
func (b *Bucket) SetLastNo(no int64) error     { b.lastNo = no; return nil }

func (b *Bucket) Sync() error        { return nil }
func (b *Bucket) UpdateCount() error { return nil }

func (b *Bucket) Count() int64 { return int64(len(b.metadata)) }

func (b *Bucket) SetHitThreshold(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 1 {
		n = DefaultHitThreshold
	}
	b.hitThreshold = n
}

func (b *Bucket) HashCount(word uint32) int64 {
	if uint32(len(b.postings)) > word {
		return int64(b.postings[word].Count())
	}
	return 0
}

type hit struct {
	no int64
	w  float32
}

// SearchCosine implements the original's two-pass ranking: collect every
// (no, weight) pair hit by the query's words, sort by no to group
// candidates together, then accumulate per-candidate dot products and
// keep the top n whose hit count clears hitThreshold in a bounded
// min-heap (spec §4.4's "per-candidate accumulate, then top-k merge").
func (b *Bucket) SearchCosine(vec []uint32, n int) ([]Result, error) {
	if n < 1 {
		return nil, ErrInvalidArguments
	}

	var hits []hit
	for _, w := range vec {
		if uint32(len(b.postings)) <= w {
			continue
		}
		nos := b.postings[w].Decode()
		weight := b.score.weight(w)
		weight *= weight
		for _, no := range nos {
			hits = append(hits, hit{no: no, w: weight})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].no < hits[j].no })

	queryNorm := b.norm(vec)
	h := &resultMinHeap{}
	heap.Init(h)

	flush := func(no int64, wSum float32, count int) {
		if count <= b.hitThreshold {
			return
		}
		rec, ok := b.metadata[no]
		if !ok || rec.flag&FlagDelete != 0 {
			return
		}
		similarity := wSum / (queryNorm * rec.norm)
		if h.Len() < n {
			heap.Push(h, Result{ID: rec.id, Similarity: similarity})
		} else if (*h)[0].Similarity < similarity {
			heap.Pop(h)
			heap.Push(h, Result{ID: rec.id, Similarity: similarity})
		}
	}

	if len(hits) > 0 {
		no := hits[0].no
		var wSum float32
		count := 0
		for _, hi := range hits {
			if hi.no == no {
				wSum += hi.w
				count++
				continue
			}
			flush(no, wSum, count)
			no = hi.no
			wSum = hi.w
			count = 1
		}
		flush(no, wSum, count)
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Result)
	}
	return results, nil
}

// resultMinHeap keeps the lowest similarity on top so SearchCosine can
// cheaply evict the weakest candidate once it holds n results, mirroring
// flatMaxHeap in pkg/index/flat.go (inverted comparison: here we want the
// top-n by *highest* similarity, so the heap root is the smallest).
type resultMinHeap []Result

func (h resultMinHeap) Len() int            { return len(h) }
func (h resultMinHeap) Less(i, j int) bool  { return h[i].Similarity < h[j].Similarity }
func (h resultMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultMinHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *resultMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
