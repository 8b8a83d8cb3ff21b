// Package vbc implements the variable-byte delta codec shared by both
// inverted-index storage backends (spec §3 "Inverted posting list", §4.4
// "Variable-byte codec"). Each posting list is a strictly increasing
// sequence of int64 "no" values; the codec stores only the deltas,
// little-endian base-128 with the continuation bit set on every byte but
// the last — grounded line-for-line on
// original_source/src/models/otama_variable_byte_code_vector.hpp.
package vbc

// Append encodes the delta between no and the caller-tracked lastNo onto buf
// and returns the extended buffer along with the new lastNo. Callers must
// pass no >= lastNo; the zero delta case (no == lastNo) is a single zero
// byte, matching the original's explicit a==0 special case.
func Append(buf []byte, lastNo, no int64) ([]byte, int64) {
	if no < lastNo {
		panic("vbc: out-of-order append")
	}
	a := uint64(no - lastNo)
	if a == 0 {
		buf = append(buf, 0)
		return buf, no
	}
	for {
		v := byte(a & 0x7f)
		a >>= 7
		if a != 0 {
			buf = append(buf, v|0x80)
		} else {
			buf = append(buf, v)
			break
		}
	}
	return buf, no
}

// shiftTable mirrors otama_variable_byte_code_vector.hpp's s_t: the bit
// offset each continuation byte contributes to the accumulator.
var shiftTable = [8]uint{0, 7, 14, 21, 28, 35, 42, 49}

// Decode reconstructs the ascending "no" sequence encoded in buf.
func Decode(buf []byte) []int64 {
	out := make([]int64, 0, len(buf))
	var acc int64
	var lastNo int64
	j := 0
	for _, v := range buf {
		if v&0x80 != 0 {
			acc |= int64(v&0x7f) << shiftTable[j]
			j++
		} else {
			no := lastNo + (int64(v)<<shiftTable[j] | acc)
			out = append(out, no)
			lastNo = no
			j = 0
			acc = 0
		}
	}
	return out
}

// Encoder accumulates appended "no" values into a single growing buffer,
// tracking lastNo internally — the in-memory bucket index's per-word
// posting-list encoder (spec §4.4's "dedicated encoder object").
type Encoder struct {
	buf    []byte
	lastNo int64
}

// Push appends no to the encoder's buffer.
func (e *Encoder) Push(no int64) {
	e.buf, e.lastNo = Append(e.buf, e.lastNo, no)
}

// LastNo returns the most recently pushed value.
func (e *Encoder) LastNo() int64 { return e.lastNo }

// Bytes returns the encoder's raw buffer (shared, not copied).
func (e *Encoder) Bytes() []byte { return e.buf }

// Decode reconstructs the sequence pushed into the encoder so far.
func (e *Encoder) Decode() []int64 { return Decode(e.buf) }

// Count returns the number of values pushed, by decoding (spec's
// VariableByteCodeVector::count does the same — no length is cached
// separately).
func (e *Encoder) Count() int { return len(Decode(e.buf)) }
