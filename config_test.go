package otama

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/otama-go/otama/pkg/driver"
	"github.com/otama-go/otama/pkg/feature"
)

func TestLoadConfigBasic(t *testing.T) {
	yaml := []byte(`
namespace: myns_
driver:
  name: bovw2k
  data_dir: /var/lib/otama
  color_weight: 0.4
  color_method: step
  rerank_method: idf
  strip: true
database:
  driver: mysql
  host: db.example.com
  port: 3307
  name: otama_db
  user: otama
  password: secret
`)
	cfg, err := LoadConfig(yaml)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Namespace != "myns_" {
		t.Fatalf("Namespace = %q", cfg.Namespace)
	}
	if cfg.DriverName != "bovw2k" {
		t.Fatalf("DriverName = %q", cfg.DriverName)
	}
	if cfg.StorageKind != driver.StorageBucket {
		t.Fatalf("StorageKind = %v, want StorageBucket (keep_alive defaults false)", cfg.StorageKind)
	}
	if cfg.Driver.DataDir != "/var/lib/otama" {
		t.Fatalf("DataDir = %q", cfg.Driver.DataDir)
	}
	if cfg.Driver.ColorWeight != 0.4 {
		t.Fatalf("ColorWeight = %v", cfg.Driver.ColorWeight)
	}
	if cfg.Driver.ColorMethod != feature.ColorMethodStep {
		t.Fatalf("ColorMethod = %v", cfg.Driver.ColorMethod)
	}
	if cfg.Driver.RerankMethod != feature.RerankIDF {
		t.Fatalf("RerankMethod = %v", cfg.Driver.RerankMethod)
	}
	if !cfg.Driver.Strip {
		t.Fatal("Strip = false, want true")
	}
	if cfg.Driver.Database.Driver != "mysql" {
		t.Fatalf("Database.Driver = %q", cfg.Driver.Database.Driver)
	}
	wantDSN := "otama:secret@tcp(db.example.com:3307)/otama_db"
	if cfg.Driver.Database.DSN != wantDSN {
		t.Fatalf("DSN = %q, want %q", cfg.Driver.Database.DSN, wantDSN)
	}
}

func TestLoadConfigShardArrayForm(t *testing.T) {
	yaml := []byte(`
driver:
  name: vlad128
  shard: ["0-3", "8-b"]
`)
	cfg, err := LoadConfig(yaml)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := []string{"0", "1", "2", "3", "8", "9", "a", "b"}
	got := append([]string(nil), cfg.Driver.Shard.Prefixes...)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("Prefixes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Prefixes = %v, want %v", got, want)
		}
	}
}

func TestLoadConfigMissingDriverNameFails(t *testing.T) {
	if _, err := LoadConfig([]byte("namespace: x\n")); err == nil {
		t.Fatal("expected missing driver section to fail")
	}
	if _, err := LoadConfig([]byte("driver: {}\n")); err == nil {
		t.Fatal("expected missing driver.name to fail")
	}
}

func TestLoadConfigFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otama.yaml")
	if err := os.WriteFile(path, []byte("driver:\n  name: sboc\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.DriverName != "sboc" {
		t.Fatalf("DriverName = %q", cfg.DriverName)
	}
}
