package vbc

import (
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]int64{
		{},
		{0},
		{0, 0, 0},
		{1, 2, 3, 100, 1000, 1_000_000},
		{5, 5, 200, 200, 201, 90000},
	}

	for _, seq := range cases {
		var e Encoder
		for _, no := range seq {
			e.Push(no)
		}
		got := e.Decode()
		if len(seq) == 0 {
			seq = []int64{}
		}
		if !reflect.DeepEqual(got, seq) {
			t.Fatalf("Decode() = %v, want %v", got, seq)
		}
	}
}

func TestEncodedLengthMatchesBitWidth(t *testing.T) {
	// S5: encoded length in bytes equals sum of ceil(log2(delta+1)/7) with
	// delta = s_i - s_{i-1}, s_{-1} = 0; a zero delta (a repeated no)
	// still takes one byte, as bytesFor counts it.
	seq := []int64{3, 10, 2000, 2000, 300000}
	var e Encoder
	prev := int64(0)
	wantBytes := 0
	for _, no := range seq {
		delta := no - prev
		wantBytes += bytesFor(delta)
		prev = no
		e.Push(no)
	}
	if got := len(e.Bytes()); got != wantBytes {
		t.Fatalf("encoded length = %d, want %d", got, wantBytes)
	}
}

func bytesFor(delta int64) int {
	if delta == 0 {
		return 1
	}
	n := 0
	a := uint64(delta)
	for a > 0 {
		a >>= 7
		n++
	}
	return n
}

func TestCount(t *testing.T) {
	var e Encoder
	for _, no := range []int64{1, 4, 9, 16} {
		e.Push(no)
	}
	if got := e.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
}
