package inverted

import "fmt"

// ErrInvalidArguments mirrors OTAMA_STATUS_INVALID_ARGUMENTS for
// malformed SearchCosine calls (n < 1).
var ErrInvalidArguments = fmt.Errorf("inverted: invalid arguments")

type notFoundError struct {
	no int64
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("inverted: record not found(%d)", e.no)
}

// ErrCorruptedIndex is returned by Disk.SearchCosine when a posting list
// references a no with no matching metadata record — the same condition
// that makes the original InvertedIndexKVS::search_cosine clear the whole
// index and tell the operator to re-run pull.
var ErrCorruptedIndex = fmt.Errorf("inverted: indexes are corrupted, rebuild via pull")
