package driver

import "container/heap"

// resultMinHeap is the bounded top-n heap shared by every driver's
// search path: root is the weakest retained candidate, so a new hit
// only survives when it beats the current worst of the n kept so far.
// Mirrors pkg/store/inverted's Bucket.SearchCosine heap, which itself
// generalizes the teacher's flatMaxHeap in pkg/index/flat.go (inverted
// comparator: higher similarity wins here, not lower distance).
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

// pushBounded offers a candidate into h, keeping at most n entries.
func pushBounded(h *resultMinHeap, r Result, n int) {
	if h.Len() < n {
		heap.Push(h, r)
		return
	}
	if h.Len() > 0 && r.Similarity > (*h)[0].Similarity {
		heap.Pop(h)
		heap.Push(h, r)
	}
}

// drainDescending empties h into a slice ordered by descending
// similarity (spec §4.5: "results are returned in descending
// similarity").
func drainDescending(h *resultMinHeap) []Result {
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}
