// Package otid implements the 160-bit image identifier: the SHA-1 digest of
// an image's bytes, encoded as a 40-character lowercase hex string on the
// wire and in the master relation (spec §3 "Image identifier", grounded on
// otama_id.c/otama_id.h).
package otid

import (
	"crypto/sha1" //nolint:gosec // content identifier, not a security digest
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Len is the binary length of an Id in bytes.
const Len = sha1.Size // 20

// HexLen is the length of the hex-encoded form, including no terminator
// (Go strings are not NUL-terminated; otama's C HEXSTR_LEN counts one).
const HexLen = Len * 2

// ID is the 160-bit SHA-1 identity of an image.
type ID [Len]byte

// ErrInvalidHex is returned when a hex string is the wrong length or
// contains non-hex characters.
var ErrInvalidHex = fmt.Errorf("otid: invalid hex id")

// OfData hashes raw bytes into an Id. Always succeeds.
func OfData(data []byte) ID {
	return ID(sha1.Sum(data)) //nolint:gosec
}

// OfFile hashes the contents of a file on disk.
func OfFile(path string) (ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return ID{}, fmt.Errorf("otid: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return ID{}, fmt.Errorf("otid: read %s: %w", path, err)
	}
	var id ID
	copy(id[:], h.Sum(nil))
	return id, nil
}

// String renders the lowercase 40-character hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the 20-byte binary form.
func (id ID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether id is the all-zero sentinel (never a real SHA-1
// output in practice, used by callers as "no id").
func (id ID) IsZero() bool {
	return id == ID{}
}

// FromHex decodes a 40-character lowercase hex string. Any length mismatch
// or non-hex character is ErrInvalidHex (spec §4.2).
func FromHex(s string) (ID, error) {
	if len(s) != HexLen {
		return ID{}, ErrInvalidHex
	}
	var id ID
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil || n != Len {
		return ID{}, ErrInvalidHex
	}
	return id, nil
}

// FromBytes validates and wraps a 20-byte binary id.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Len {
		return ID{}, ErrInvalidHex
	}
	var id ID
	copy(id[:], b)
	return id, nil
}
