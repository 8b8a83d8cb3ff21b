package fixed

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/otama-go/otama/pkg/otid"
)

// DefaultCountMax is the initial and per-extension record reservation,
// mirroring otama_fixed_strage.hpp's DEFAULT_COUNT_MAX.
const DefaultCountMax = 10000

const (
	metadataSize = 40 // count_max, last_no, last_commit_no, count, verify: five int64

	metaOffCountMax     = 0
	metaOffLastNo       = 8
	metaOffLastCommitNo = 16
	metaOffCount        = 24
	metaOffVerify       = 32
)

const (
	indexRecordSize = 8 + 8 + otid.Len + 1 + 3 // index, seq, id, flag, padding

	idxOffIndex = 0
	idxOffSeq   = 8
	idxOffID    = 16
	idxOffFlag  = 16 + otid.Len
)

// Store is a fixed-record memory-mapped vector table: a metadata header,
// a sorted-by-seq index of (seq, id, flag) records and a parallel array
// of fixed-size vector records. Vector records are opaque byte blobs
// whose size is fixed for the lifetime of the store (the Go analogue of
// the C++ template parameter T in the original). Not safe for
// concurrent use on its own; callers (pkg/driver's FixedBitDriver/
// DenseFixedDriver) serialize all access with their own mutex.
type Store struct {
	dir     string
	prefix  string
	vecSize int

	metadata *mappedFile
	index    *mappedFile
	vec      *mappedFile

	count int64 // cached copy of metadata.count, refreshed by sync()
}

func New(dir, prefix string) *Store {
	return &Store{dir: dir, prefix: prefix}
}

func (s *Store) MetadataPath() string { return filepath.Join(s.dir, s.prefix+"_metadata") }
func (s *Store) IndexPath() string    { return filepath.Join(s.dir, s.prefix+"_index") }
func (s *Store) VectorPath() string   { return filepath.Join(s.dir, s.prefix+"_vector") }

// Create lays out three fresh files sized for DefaultCountMax records of
// vecSize bytes each and writes the initial metadata header.
func (s *Store) Create(vecSize int) error {
	if err := createSizedFile(s.MetadataPath(), metadataSize); err != nil {
		return fmt.Errorf("fixed: create metadata: %w", err)
	}
	if err := createSizedFile(s.IndexPath(), int64(indexRecordSize)*DefaultCountMax); err != nil {
		return fmt.Errorf("fixed: create index: %w", err)
	}
	if err := createSizedFile(s.VectorPath(), int64(vecSize)*DefaultCountMax); err != nil {
		return fmt.Errorf("fixed: create vector: %w", err)
	}

	m, err := openMapped(s.MetadataPath(), metadataSize)
	if err != nil {
		return fmt.Errorf("fixed: open metadata: %w", err)
	}
	defer m.close()

	putInt64(m.data, metaOffCountMax, DefaultCountMax)
	putInt64(m.data, metaOffLastNo, -1)
	putInt64(m.data, metaOffLastCommitNo, -1)
	putInt64(m.data, metaOffCount, 0)
	putInt64(m.data, metaOffVerify, 1)
	return m.sync()
}

// Open maps the three existing files. vecSize must match what Create was
// called with.
func (s *Store) Open(vecSize int) error {
	m, err := openMapped(s.MetadataPath(), metadataSize)
	if err != nil {
		return fmt.Errorf("fixed: open metadata: %w", err)
	}
	countMax := getInt64(m.data, metaOffCountMax)
	if countMax == 0 {
		m.close()
		return fmt.Errorf("fixed: %s: count_max is zero", s.MetadataPath())
	}

	idx, err := openMapped(s.IndexPath(), int64(indexRecordSize)*countMax)
	if err != nil {
		m.close()
		return fmt.Errorf("fixed: open index: %w", err)
	}
	vec, err := openMapped(s.VectorPath(), int64(vecSize)*countMax)
	if err != nil {
		m.close()
		idx.close()
		return fmt.Errorf("fixed: open vector: %w", err)
	}

	s.metadata, s.index, s.vec = m, idx, vec
	s.vecSize = vecSize
	s.count = getInt64(m.data, metaOffCount)
	return nil
}

func (s *Store) IsActive() bool { return s.metadata != nil }

// Sync flushes all three mappings, refreshes the cached record count, and
// transparently remaps the index/vector files if another process has
// extended count_max since Open.
func (s *Store) Sync() error {
	if err := s.metadata.sync(); err != nil {
		return err
	}
	if err := s.index.sync(); err != nil {
		return err
	}
	if err := s.vec.sync(); err != nil {
		return err
	}
	s.count = getInt64(s.metadata.data, metaOffCount)

	countMax := getInt64(s.metadata.data, metaOffCountMax)
	if int64(len(s.index.data)) != int64(indexRecordSize)*countMax {
		if err := s.index.remap(int64(indexRecordSize) * countMax); err != nil {
			return err
		}
		if err := s.vec.remap(int64(s.vecSize) * countMax); err != nil {
			return err
		}
	}
	return nil
}

// Extend grows the index and vector files by one more DefaultCountMax
// reservation.
func (s *Store) Extend() error {
	newCountMax := getInt64(s.metadata.data, metaOffCountMax) + DefaultCountMax
	if err := s.index.remap(int64(indexRecordSize) * newCountMax); err != nil {
		return fmt.Errorf("fixed: extend index: %w", err)
	}
	if err := s.vec.remap(int64(s.vecSize) * newCountMax); err != nil {
		return fmt.Errorf("fixed: extend vector: %w", err)
	}
	putInt64(s.metadata.data, metaOffCountMax, newCountMax)
	return s.Sync()
}

// ExtendTo grows the store, possibly by several reservations, until slot
// index i is addressable.
func (s *Store) ExtendTo(i int64) error {
	for i >= s.CountMax() {
		if err := s.Extend(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var firstErr error
	for _, f := range []*mappedFile{s.metadata, s.index, s.vec} {
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.metadata, s.index, s.vec = nil, nil, nil
	s.count = 0
	return firstErr
}

// Unlink discards and recreates all three files, then reopens them —
// used to reset a store to empty without changing its vector width.
func (s *Store) Unlink() error {
	vecSize := s.vecSize
	if err := s.Close(); err != nil {
		return err
	}
	os.Remove(s.MetadataPath())
	os.Remove(s.IndexPath())
	os.Remove(s.VectorPath())
	if err := s.Create(vecSize); err != nil {
		return err
	}
	return s.Open(vecSize)
}

func (s *Store) Count() int64    { return s.count }
func (s *Store) CountMax() int64 { return getInt64(s.metadata.data, metaOffCountMax) }

// SetCount writes the committed record count directly to metadata,
// independent of the cached count (mirrors the original's
// "// not m_memory_table.count" note).
func (s *Store) SetCount(count int64) { putInt64(s.metadata.data, metaOffCount, count) }

func (s *Store) GetLastNo() int64        { return getInt64(s.metadata.data, metaOffLastNo) }
func (s *Store) SetLastNo(no int64)      { putInt64(s.metadata.data, metaOffLastNo, no) }
func (s *Store) GetLastCommitNo() int64  { return getInt64(s.metadata.data, metaOffLastCommitNo) }
func (s *Store) SetLastCommitNo(no int64) {
	putInt64(s.metadata.data, metaOffLastCommitNo, no)
}

// Verified reports the verify flag (spec §3 "Verify flag"): false means
// the previous writer crashed mid-batch and the store must be rebuilt
// from master before it can be trusted.
func (s *Store) Verified() bool { return getInt64(s.metadata.data, metaOffVerify) != 0 }

// SetVerified writes the verify flag; callers clear it before a batch
// mutation and set it again only after a clean Sync.
func (s *Store) SetVerified(v bool) {
	n := int64(0)
	if v {
		n = 1
	}
	putInt64(s.metadata.data, metaOffVerify, n)
}

// Set writes index record i (index, seq, id, flag reset to 0) and copies
// vec into vector record i. Callers must have ensured i < CountMax via
// ExtendTo first.
func (s *Store) Set(i, seq int64, id otid.ID, vec []byte) {
	rec := s.index.data[i*indexRecordSize : (i+1)*indexRecordSize]
	putInt64(rec, idxOffIndex, i)
	putInt64(rec, idxOffSeq, seq)
	copy(rec[idxOffID:idxOffID+otid.Len], id.Bytes())
	rec[idxOffFlag] = 0

	dst := s.vec.data[i*int64(s.vecSize) : (i+1)*int64(s.vecSize)]
	copy(dst, vec)
}

// UpdateFlag binary-searches the seq-ordered index for seq and sets its
// flag byte if found.
func (s *Store) UpdateFlag(seq int64, flag byte) bool {
	i, ok := s.findBySeq(seq)
	if !ok {
		return false
	}
	rec := s.index.data[i*indexRecordSize : (i+1)*indexRecordSize]
	rec[idxOffFlag] = flag
	return true
}

// TryLoad binary-searches the seq-ordered index for seq and, if found,
// returns a copy of the corresponding vector record.
func (s *Store) TryLoad(seq int64) ([]byte, bool) {
	i, ok := s.findBySeq(seq)
	if !ok {
		return nil, false
	}
	idx := getInt64(s.index.data[i*indexRecordSize:(i+1)*indexRecordSize], idxOffIndex)
	src := s.vec.data[idx*int64(s.vecSize) : (idx+1)*int64(s.vecSize)]
	out := make([]byte, len(src))
	copy(out, src)
	return out, true
}

func (s *Store) findBySeq(seq int64) (int64, bool) {
	n := int(s.count)
	j := sort.Search(n, func(j int) bool {
		rec := s.index.data[int64(j)*indexRecordSize : int64(j+1)*indexRecordSize]
		return getInt64(rec, idxOffSeq) >= seq
	})
	if j >= n {
		return 0, false
	}
	rec := s.index.data[int64(j)*indexRecordSize : int64(j+1)*indexRecordSize]
	if getInt64(rec, idxOffSeq) != seq {
		return 0, false
	}
	return int64(j), true
}

// VecAt returns the raw vector bytes stored at slot i (not a copy).
func (s *Store) VecAt(i int64) []byte {
	return s.vec.data[i*int64(s.vecSize) : (i+1)*int64(s.vecSize)]
}

// FlagAt returns the flag byte of index slot i.
func (s *Store) FlagAt(i int64) byte {
	rec := s.index.data[i*indexRecordSize : (i+1)*indexRecordSize]
	return rec[idxOffFlag]
}

// IDAt returns the id stored at index slot i.
func (s *Store) IDAt(i int64) otid.ID {
	rec := s.index.data[i*indexRecordSize : (i+1)*indexRecordSize]
	id, _ := otid.FromBytes(rec[idxOffID : idxOffID+otid.Len])
	return id
}

// SeqAt returns the seq stored at index slot i.
func (s *Store) SeqAt(i int64) int64 {
	rec := s.index.data[i*indexRecordSize : (i+1)*indexRecordSize]
	return getInt64(rec, idxOffSeq)
}

func getInt64(buf []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[off : off+8]))
}

func putInt64(buf []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(v))
}
