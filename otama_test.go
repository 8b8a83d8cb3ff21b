package otama

import (
	"path/filepath"
	"testing"

	"github.com/otama-go/otama/pkg/driver"
	"github.com/otama-go/otama/pkg/feature"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Namespace:   "test_",
		DriverName:  "bovw2k",
		StorageKind: driver.StorageBucket,
		Driver: driver.Config{
			Namespace: "test_",
			DataDir:   dir,
			Database: driver.DatabaseConfig{
				Driver: "sqlite3",
				DSN:    filepath.Join(dir, "master.db"),
			},
			ColorMethod:  feature.ColorMethodLinear,
			RerankMethod: feature.RerankNone,
		},
	}
}

func bitsVectorString(bits []int, n int) string {
	v := feature.NewBitVector(n)
	for _, b := range bits {
		v.Set(b)
	}
	v.ComputeNorm()
	return v.SerializeHex()
}

func TestOpenInsertSearchRoundTrip(t *testing.T) {
	h, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if !h.Active() {
		t.Fatal("expected handle to be active after Open")
	}

	near := bitsVectorString([]int{1, 2, 3}, 2048)
	far := bitsVectorString([]int{1000, 1001, 1002}, 2048)

	nearID, err := h.Insert(Query{String: near})
	if err != nil {
		t.Fatalf("Insert(near): %v", err)
	}
	if _, err := h.Insert(Query{String: far}); err != nil {
		t.Fatalf("Insert(far): %v", err)
	}
	if err := h.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	count, err := h.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count = %d, want 2", count)
	}

	results, err := h.SearchString(bitsVectorString([]int{1, 2, 3}, 2048), 1)
	if err != nil {
		t.Fatalf("SearchString: %v", err)
	}
	if len(results) != 1 || results[0].ID != nearID {
		t.Fatalf("SearchString = %+v, want top hit %s", results, nearID)
	}

	exists, err := h.Exists(nearID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("expected nearID to exist")
	}

	if err := h.Remove(nearID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := h.Pull(); err != nil {
		t.Fatalf("Pull after remove: %v", err)
	}
	results, err = h.SearchString(bitsVectorString([]int{1, 2, 3}, 2048), 2)
	if err != nil {
		t.Fatalf("SearchString after remove: %v", err)
	}
	for _, r := range results {
		if r.ID == nearID {
			t.Fatalf("removed id %s still present in search results", nearID)
		}
	}
}

func TestSimilarityStringVariant(t *testing.T) {
	h, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	a := bitsVectorString([]int{1, 2, 3, 4}, 2048)
	b := bitsVectorString([]int{1, 2, 3, 4}, 2048)
	sim, err := h.SimilarityString(a, b)
	if err != nil {
		t.Fatalf("SimilarityString: %v", err)
	}
	if sim < 0.99 {
		t.Fatalf("identical vectors similarity = %f, want ~1.0", sim)
	}
}

func TestSearchFileIsNotImplemented(t *testing.T) {
	h, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, err := h.SearchFile("nonexistent.jpg", 10); err == nil {
		t.Fatal("expected SearchFile to fail: feature extraction from raw images is out of scope")
	}
}

func TestControlChannelSetGetUnset(t *testing.T) {
	h, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if err := h.Set("color_weight", "0.75"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := h.Get("color_weight")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "0.75" {
		t.Fatalf("Get(color_weight) = %s, want 0.75", v)
	}
	if err := h.Unset("color_weight"); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	v, err = h.Get("color_weight")
	if err != nil {
		t.Fatalf("Get after Unset: %v", err)
	}
	if v != "0" {
		t.Fatalf("Get(color_weight) after Unset = %s, want 0", v)
	}

	if _, err := h.Invoke("print_idf", ""); err != nil {
		t.Fatalf("Invoke(print_idf): %v", err)
	}
	if _, err := h.Invoke("bogus_method", ""); err == nil {
		t.Fatal("expected Invoke with an unknown method to fail")
	}
}

func TestOperationsOnClosedHandleFail(t *testing.T) {
	h, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.Active() {
		t.Fatal("expected Active() to be false after Close")
	}
	if _, err := h.Count(); err == nil {
		t.Fatal("expected Count on a closed handle to fail")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestIDHelpers(t *testing.T) {
	data := []byte("hello otama")
	hexID := IDFromData(data)
	if len(hexID) != 40 {
		t.Fatalf("IDFromData length = %d, want 40", len(hexID))
	}
	bin, err := IDHex2Bin(hexID)
	if err != nil {
		t.Fatalf("IDHex2Bin: %v", err)
	}
	back, err := IDBin2Hex(bin)
	if err != nil {
		t.Fatalf("IDBin2Hex: %v", err)
	}
	if back != hexID {
		t.Fatalf("round trip mismatch: %s != %s", back, hexID)
	}
	if _, err := IDHex2Bin("not-valid-hex"); err == nil {
		t.Fatal("expected IDHex2Bin to reject malformed hex")
	}
}
