package driver

import (
	"path/filepath"
	"testing"

	"github.com/otama-go/otama/pkg/feature"
	"github.com/otama-go/otama/pkg/otid"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Namespace: "test_",
		DataDir:   dir,
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    filepath.Join(dir, "master.db"),
		},
		ColorWeight:    0.5,
		ColorMethod:    feature.ColorMethodLinear,
		ColorThreshold: 0.5,
		RerankMethod:   feature.RerankNone,
	}
}

func openDriver(t *testing.T, d Driver) {
	t.Helper()
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
}

func bitsToHex(bits []int, n int) string {
	v := feature.NewBitVector(n)
	for _, b := range bits {
		v.Set(b)
	}
	return v.SerializeHex()
}

func TestFixedBitDriverInsertSearchRoundTrip(t *testing.T) {
	d := NewFixedBitDriver(testConfig(t), "bovw2k", 2048, ColorNone)
	openDriver(t, d)

	a := bitsToHex([]int{1, 2, 3, 4, 5}, 2048)
	b := bitsToHex([]int{1, 2, 3, 900, 901}, 2048)
	c := bitsToHex([]int{1000, 1001, 1002}, 2048)

	idA, err := d.Insert(Query{String: a})
	if err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	idB, err := d.Insert(Query{String: b})
	if err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if _, err := d.Insert(Query{String: c}); err != nil {
		t.Fatalf("Insert c: %v", err)
	}

	if err := d.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	count, err := d.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Count = %d, want 3", count)
	}

	results, err := d.Search(2, Query{String: a})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(results))
	}
	if results[0].ID != idA {
		t.Fatalf("top result = %v, want %v (self-match)", results[0].ID, idA)
	}
	if results[1].ID != idB {
		t.Fatalf("second result = %v, want %v", results[1].ID, idB)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Fatalf("results not descending: %v then %v", results[0].Similarity, results[1].Similarity)
	}
}

func TestFixedBitDriverRemoveExcludesFromSearch(t *testing.T) {
	d := NewFixedBitDriver(testConfig(t), "bovw2k", 2048, ColorNone)
	openDriver(t, d)

	a := bitsToHex([]int{1, 2, 3}, 2048)
	b := bitsToHex([]int{1, 2, 4}, 2048)

	idA, _ := d.Insert(Query{String: a})
	if _, err := d.Insert(Query{String: b}); err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if err := d.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if err := d.Remove(idA); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := d.Pull(); err != nil {
		t.Fatalf("Pull (post-remove): %v", err)
	}

	results, err := d.Search(10, Query{String: a})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == idA {
			t.Fatalf("removed record %v still present in search results", idA)
		}
	}
}

func TestFixedBitDriverExistsAndFeatureString(t *testing.T) {
	d := NewFixedBitDriver(testConfig(t), "bovw2k", 2048, ColorNone)
	openDriver(t, d)

	a := bitsToHex([]int{10, 20, 30}, 2048)
	id, err := d.Insert(Query{String: a})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	exists, err := d.Exists(id)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("Exists = false, want true")
	}

	s, err := d.FeatureString(Query{String: a})
	if err != nil {
		t.Fatalf("FeatureString: %v", err)
	}
	if s != a {
		t.Fatalf("FeatureString = %q, want %q", s, a)
	}
}

func TestFixedBitDriverQueryRequiresSource(t *testing.T) {
	d := NewFixedBitDriver(testConfig(t), "bovw2k", 2048, ColorNone)
	openDriver(t, d)

	if _, err := d.Insert(Query{}); err == nil {
		t.Fatalf("Insert with empty query: want error, got nil")
	}
	if _, err := d.Insert(Query{File: "x.jpg"}); err != ErrExternalExtractionRequired {
		t.Fatalf("Insert with File query: err = %v, want ErrExternalExtractionRequired", err)
	}
}

func TestFixedBitDriverIDFRerankReordersBySpecificity(t *testing.T) {
	cfg := testConfig(t)
	cfg.RerankMethod = feature.RerankIDF
	cfg.FirstScale = 10 // > corpus size, so the tied bit-cosine pass keeps every candidate for rerank
	d := NewFixedBitDriver(cfg, "bovw2k", 2048, ColorNone)
	openDriver(t, d)

	query := bitsToHex([]int{1, 2, 3, 4}, 2048)
	// common carries bits 1,2, shared by all five common records (low
	// idf weight); rare carries 3,4 which only the query and rare share.
	common := bitsToHex([]int{1, 2}, 2048)
	rare := bitsToHex([]int{3, 4}, 2048)

	for i := 0; i < 5; i++ {
		id := otid.OfData([]byte{byte(i)})
		if _, err := d.Insert(Query{String: common, ID: id, HasID: true}); err != nil {
			t.Fatalf("Insert common %d: %v", i, err)
		}
	}
	rareID, err := d.Insert(Query{String: rare})
	if err != nil {
		t.Fatalf("Insert rare: %v", err)
	}
	if err := d.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	results, err := d.Search(1, Query{String: query})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search returned %d results, want 1", len(results))
	}
	if results[0].ID != rareID {
		t.Fatalf("top rerank result = %v, want the rare record %v", results[0].ID, rareID)
	}
}
