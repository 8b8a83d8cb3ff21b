package fixed

import (
	"testing"

	"github.com/otama-go/otama/pkg/otid"
)

const testVecSize = 16

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, "m")
	if err := s.Create(testVecSize); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Open(testVecSize); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateOpenEmpty(t *testing.T) {
	s := newTestStore(t)
	if got := s.CountMax(); got != DefaultCountMax {
		t.Fatalf("CountMax() = %d, want %d", got, DefaultCountMax)
	}
	if got := s.Count(); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
	if got := s.GetLastNo(); got != -1 {
		t.Fatalf("GetLastNo() = %d, want -1", got)
	}
	if got := s.GetLastCommitNo(); got != -1 {
		t.Fatalf("GetLastCommitNo() = %d, want -1", got)
	}
}

func TestSetAndTryLoad(t *testing.T) {
	s := newTestStore(t)
	id := otid.OfData([]byte("hello"))
	vec := make([]byte, testVecSize)
	for i := range vec {
		vec[i] = byte(i)
	}
	s.Set(0, 42, id, vec)
	s.SetCount(1)
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, ok := s.TryLoad(42)
	if !ok {
		t.Fatalf("TryLoad(42): not found")
	}
	if string(got) != string(vec) {
		t.Fatalf("TryLoad(42) = %v, want %v", got, vec)
	}
	if _, ok := s.TryLoad(43); ok {
		t.Fatalf("TryLoad(43): unexpectedly found")
	}
	if gotID := s.IDAt(0); gotID != id {
		t.Fatalf("IDAt(0) = %v, want %v", gotID, id)
	}
}

func TestUpdateFlag(t *testing.T) {
	s := newTestStore(t)
	id := otid.OfData([]byte("flagged"))
	s.Set(0, 7, id, make([]byte, testVecSize))
	s.SetCount(1)
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if !s.UpdateFlag(7, 1) {
		t.Fatalf("UpdateFlag(7): not found")
	}
	if got := s.FlagAt(0); got != 1 {
		t.Fatalf("FlagAt(0) = %d, want 1", got)
	}
	if s.UpdateFlag(99, 1) {
		t.Fatalf("UpdateFlag(99): unexpectedly found")
	}
}

func TestExtendGrowsCountMax(t *testing.T) {
	s := newTestStore(t)
	if err := s.Extend(); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if got, want := s.CountMax(), int64(2*DefaultCountMax); got != want {
		t.Fatalf("CountMax() = %d, want %d", got, want)
	}

	// slot just past the original reservation must now be writable.
	id := otid.OfData([]byte("beyond first reservation"))
	s.Set(DefaultCountMax, 1, id, make([]byte, testVecSize))
	if gotID := s.IDAt(DefaultCountMax); gotID != id {
		t.Fatalf("IDAt(DefaultCountMax) = %v, want %v", gotID, id)
	}
}

func TestExtendToSpansMultipleReservations(t *testing.T) {
	s := newTestStore(t)
	target := int64(2*DefaultCountMax + 5)
	if err := s.ExtendTo(target); err != nil {
		t.Fatalf("ExtendTo: %v", err)
	}
	if got := s.CountMax(); got <= target {
		t.Fatalf("CountMax() = %d, want > %d", got, target)
	}
}

func TestCloseReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "m")
	if err := s.Create(testVecSize); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Open(testVecSize); err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := otid.OfData([]byte("persisted"))
	vec := []byte("0123456789abcdef")
	s.Set(0, 3, id, vec)
	s.SetCount(1)
	s.SetLastNo(3)
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := New(dir, "m")
	if err := s2.Open(testVecSize); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if got := s2.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	if got := s2.GetLastNo(); got != 3 {
		t.Fatalf("GetLastNo() = %d, want 3", got)
	}
	got, ok := s2.TryLoad(3)
	if !ok || string(got) != string(vec) {
		t.Fatalf("TryLoad(3) = %v, %v, want %v, true", got, ok, vec)
	}
}

func TestUnlinkResetsStore(t *testing.T) {
	s := newTestStore(t)
	id := otid.OfData([]byte("will be discarded"))
	s.Set(0, 1, id, make([]byte, testVecSize))
	s.SetCount(1)

	if err := s.Unlink(); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if got := s.Count(); got != 0 {
		t.Fatalf("Count() after Unlink = %d, want 0", got)
	}
	if got := s.GetLastNo(); got != -1 {
		t.Fatalf("GetLastNo() after Unlink = %d, want -1", got)
	}
}
