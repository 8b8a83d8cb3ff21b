package inverted

import (
	"path/filepath"
	"testing"

	"github.com/otama-go/otama/pkg/otid"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postings.db")
	d := NewDisk(path, 1, nil)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDiskSetAndCount(t *testing.T) {
	d := newTestDisk(t)
	id1 := otid.OfData([]byte("one"))
	id2 := otid.OfData([]byte("two"))

	if err := d.Set(1, id1, []uint32{1, 2, 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := d.Set(2, id2, []uint32{2, 3, 4}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := d.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	if got := d.HashCount(2); got != 2 {
		t.Fatalf("HashCount(2) = %d, want 2", got)
	}
	if got := d.HashCount(1); got != 1 {
		t.Fatalf("HashCount(1) = %d, want 1", got)
	}
}

func TestDiskBatchSetAndSearch(t *testing.T) {
	d := newTestDisk(t)
	idClose := otid.OfData([]byte("close"))
	idFar := otid.OfData([]byte("far"))

	err := d.BatchSet([]BatchRecord{
		{No: 1, ID: idClose, Vec: []uint32{1, 2, 3, 4}},
		{No: 2, ID: idFar, Vec: []uint32{1, 2}},
	})
	if err != nil {
		t.Fatalf("BatchSet: %v", err)
	}

	results, err := d.SearchCosine([]uint32{1, 2, 3, 4}, 10)
	if err != nil {
		t.Fatalf("SearchCosine: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("SearchCosine returned no results")
	}
	if results[0].ID != idClose {
		t.Fatalf("results[0].ID = %v, want idClose", results[0].ID)
	}
}

func TestDiskSetFlagExcludesFromSearch(t *testing.T) {
	d := newTestDisk(t)
	id := otid.OfData([]byte("flagged"))
	if err := d.Set(1, id, []uint32{1, 2, 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := d.SetFlag(1, FlagDelete); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	results, err := d.SearchCosine([]uint32{1, 2, 3}, 10)
	if err != nil {
		t.Fatalf("SearchCosine: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0", len(results))
	}
}

func TestDiskSetFlagUnknownRecord(t *testing.T) {
	d := newTestDisk(t)
	if err := d.SetFlag(999, FlagDelete); err == nil {
		t.Fatalf("SetFlag on unknown record: want error, got nil")
	}
}

func TestDiskLastNoPersistence(t *testing.T) {
	d := newTestDisk(t)
	if got := d.GetLastNo(); got != -1 {
		t.Fatalf("GetLastNo() = %d, want -1", got)
	}
	if err := d.SetLastNo(42); err != nil {
		t.Fatalf("SetLastNo: %v", err)
	}
	if got := d.GetLastNo(); got != 42 {
		t.Fatalf("GetLastNo() = %d, want 42", got)
	}
	if err := d.SetLastCommitNo(7); err != nil {
		t.Fatalf("SetLastCommitNo: %v", err)
	}
	if got := d.GetLastCommitNo(); got != 7 {
		t.Fatalf("GetLastCommitNo() = %d, want 7", got)
	}
}

func TestDiskReopenPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postings.db")
	d := NewDisk(path, 1, nil)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := otid.OfData([]byte("persisted"))
	if err := d.Set(5, id, []uint32{10, 20}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := d.SetLastNo(5); err != nil {
		t.Fatalf("SetLastNo: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2 := NewDisk(path, 1, nil)
	if err := d2.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()

	if got := d2.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	if got := d2.GetLastNo(); got != 5 {
		t.Fatalf("GetLastNo() = %d, want 5", got)
	}
}

func TestDiskClearResetsState(t *testing.T) {
	d := newTestDisk(t)
	d.Set(1, otid.OfData([]byte("x")), []uint32{1})
	d.SetLastNo(9)

	if err := d.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := d.Count(); got != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", got)
	}
	if got := d.GetLastNo(); got != -1 {
		t.Fatalf("GetLastNo() after Clear = %d, want -1", got)
	}
}

func TestDiskVacuum(t *testing.T) {
	d := newTestDisk(t)
	d.Set(1, otid.OfData([]byte("x")), []uint32{1, 2})
	if err := d.Vacuum(); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if got := d.Count(); got != 1 {
		t.Fatalf("Count() after Vacuum = %d, want 1", got)
	}
}
