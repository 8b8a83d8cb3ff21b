package master

import (
	"path/filepath"
	"testing"
)

func TestExpandShardRangesSingleChars(t *testing.T) {
	got, err := ExpandShardRanges("a,c,0")
	if err != nil {
		t.Fatalf("ExpandShardRanges: %v", err)
	}
	want := []string{"0", "a", "c"}
	if len(got.Prefixes) != len(want) {
		t.Fatalf("Prefixes = %v, want %v", got.Prefixes, want)
	}
	for i := range want {
		if got.Prefixes[i] != want[i] {
			t.Fatalf("Prefixes = %v, want %v", got.Prefixes, want)
		}
	}
}

func TestExpandShardRangesRange(t *testing.T) {
	got, err := ExpandShardRanges("a-f")
	if err != nil {
		t.Fatalf("ExpandShardRanges: %v", err)
	}
	want := []string{"a", "b", "c", "d", "e", "f"}
	if len(got.Prefixes) != len(want) {
		t.Fatalf("Prefixes = %v, want %v", got.Prefixes, want)
	}
}

func TestExpandShardRangesEmpty(t *testing.T) {
	got, err := ExpandShardRanges("")
	if err != nil {
		t.Fatalf("ExpandShardRanges: %v", err)
	}
	if !got.Empty() {
		t.Fatalf("Prefixes = %v, want empty", got.Prefixes)
	}
}

func TestExpandShardRangesInvalid(t *testing.T) {
	if _, err := ExpandShardRanges("z-a"); err == nil {
		t.Fatalf("ExpandShardRanges(\"z-a\"): want error, got nil")
	}
	if _, err := ExpandShardRanges("ab"); err == nil {
		t.Fatalf("ExpandShardRanges(\"ab\"): want error, got nil")
	}
}

func newTestSQLiteRelation(t *testing.T) Relation {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master.db")
	r := NewSQLite(path, "", "bovw8k")
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.CreateTable(); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteInsertIfAbsentIsIdempotent(t *testing.T) {
	r := newTestSQLiteRelation(t)
	id1, inserted1, err := r.InsertIfAbsent("abcd", "1 2 3")
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if !inserted1 {
		t.Fatalf("first InsertIfAbsent: inserted = false, want true")
	}

	id2, inserted2, err := r.InsertIfAbsent("abcd", "1 2 3")
	if err != nil {
		t.Fatalf("InsertIfAbsent (second): %v", err)
	}
	if inserted2 {
		t.Fatalf("second InsertIfAbsent: inserted = true, want false")
	}
	if id1 != id2 {
		t.Fatalf("id1 = %d, id2 = %d, want equal", id1, id2)
	}
}

func TestSQLiteExistsByOtamaID(t *testing.T) {
	r := newTestSQLiteRelation(t)
	if _, exists, err := r.ExistsByOtamaID("missing"); err != nil || exists {
		t.Fatalf("ExistsByOtamaID(missing) = (_, %v, %v), want (_, false, nil)", exists, err)
	}
	if _, _, err := r.InsertIfAbsent("present", "1"); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if _, exists, err := r.ExistsByOtamaID("present"); err != nil || !exists {
		t.Fatalf("ExistsByOtamaID(present) = (_, %v, %v), want (_, true, nil)", exists, err)
	}
}

func TestSQLiteFetchNewAndMaxIDs(t *testing.T) {
	r := newTestSQLiteRelation(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := r.InsertIfAbsent(id, "1 2"); err != nil {
			t.Fatalf("InsertIfAbsent(%s): %v", id, err)
		}
	}

	maxID, _, err := r.MaxIDs(ShardPredicate{})
	if err != nil {
		t.Fatalf("MaxIDs: %v", err)
	}
	if maxID != 3 {
		t.Fatalf("maxID = %d, want 3", maxID)
	}

	rows, err := r.FetchNew(0, maxID, ShardPredicate{}, PullLimit)
	if err != nil {
		t.Fatalf("FetchNew: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[0].OtamaID != "a" || rows[2].OtamaID != "c" {
		t.Fatalf("rows out of order: %+v", rows)
	}
}

func TestSQLiteUpdateFlagAndFetchFlagUpdates(t *testing.T) {
	r := newTestSQLiteRelation(t)
	if _, _, err := r.InsertIfAbsent("x", "1"); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if err := r.UpdateFlag("x", 1); err != nil {
		t.Fatalf("UpdateFlag: %v", err)
	}

	_, maxCommit, err := r.MaxIDs(ShardPredicate{})
	if err != nil {
		t.Fatalf("MaxIDs: %v", err)
	}
	rows, err := r.FetchFlagUpdates(0, maxCommit, ShardPredicate{}, PullLimit)
	if err != nil {
		t.Fatalf("FetchFlagUpdates: %v", err)
	}
	if len(rows) != 1 || rows[0].Flag != 1 {
		t.Fatalf("rows = %+v, want one row with flag=1", rows)
	}
}

func TestSQLiteShardPredicateFiltersRows(t *testing.T) {
	r := newTestSQLiteRelation(t)
	for _, id := range []string{"aaaa", "bbbb"} {
		if _, _, err := r.InsertIfAbsent(id, "1"); err != nil {
			t.Fatalf("InsertIfAbsent(%s): %v", id, err)
		}
	}
	shard, err := ExpandShardRanges("a")
	if err != nil {
		t.Fatalf("ExpandShardRanges: %v", err)
	}
	maxID, _, err := r.MaxIDs(shard)
	if err != nil {
		t.Fatalf("MaxIDs: %v", err)
	}
	rows, err := r.FetchNew(0, maxID, shard, PullLimit)
	if err != nil {
		t.Fatalf("FetchNew: %v", err)
	}
	if len(rows) != 1 || rows[0].OtamaID != "aaaa" {
		t.Fatalf("rows = %+v, want only aaaa", rows)
	}
}
