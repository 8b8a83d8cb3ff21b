package driver

import (
	"github.com/otama-go/otama/pkg/feature"
	"github.com/otama-go/otama/pkg/master"
	"github.com/otama-go/otama/pkg/otid"
)

// Query is the facade's query argument (spec §6): exactly one source
// field should be set per call. raw/image (external, pre-decoded
// handles) are out of scope — feature extraction from pixels is an
// external collaborator (spec §1) — so only the forms a driver can
// resolve on its own are represented here.
type Query struct {
	File   string
	Data   []byte
	String string
	ID     otid.ID
	HasID  bool
}

// Result is one search hit.
type Result struct {
	ID         otid.ID
	Similarity float32
}

// DatabaseConfig names the master relation's SQL dialect and
// connection string (spec §6: "database.driver ∈ {pgsql, mysql,
// sqlite3}").
type DatabaseConfig struct {
	Driver string // "sqlite3", "mysql", "pgsql"
	DSN    string
}

// Config is the subset of spec §6's configuration tree a driver
// constructor needs, already resolved out of the YAML variant tree by
// the root facade.
type Config struct {
	Namespace string
	DataDir   string
	Database  DatabaseConfig
	Shard     master.ShardPredicate

	HitThreshold int

	ColorWeight    float32
	ColorMethod    feature.ColorMethod
	ColorThreshold float32
	RerankMethod   feature.RerankMethod
	FirstScale     int
	Strip          bool
}

func (c Config) hitThreshold() int {
	if c.HitThreshold <= 0 {
		return 8
	}
	return c.HitThreshold
}

func (c Config) firstScale() int {
	if c.FirstScale <= 0 {
		return feature.DefaultFirstScale
	}
	return c.FirstScale
}

func (c Config) openRelation(family string) (master.Relation, error) {
	var rel master.Relation
	switch c.Database.Driver {
	case "", "sqlite3":
		rel = master.NewSQLite(c.Database.DSN, c.Namespace, family)
	case "mysql":
		rel = master.NewMySQL(c.Database.DSN, c.Namespace, family)
	case "pgsql":
		rel = master.NewPgsql(c.Database.DSN, c.Namespace, family)
	default:
		return nil, ErrUnknownDatabaseDriver
	}
	if err := rel.Open(); err != nil {
		return nil, err
	}
	return rel, nil
}

// Driver is the facade's dispatch target (spec §6), implemented once
// per feature family × storage backend combination.
type Driver interface {
	Open() error
	Close() error
	Active() bool
	Count() (int64, error)

	CreateDatabase() error
	DropDatabase() error
	DropIndex() error

	Insert(q Query) (otid.ID, error)
	Remove(id otid.ID) error
	Exists(id otid.ID) (bool, error)

	Search(n int, q Query) ([]Result, error)
	Similarity(a, b Query) (float32, error)

	FeatureString(q Query) (string, error)

	// Set/Get/Unset/Invoke are the family-specific control channel
	// (spec §6): color_weight, color_method, color_threshold,
	// rerank_method, strip are readable/writable settings; update_idf
	// and print_idf are Invoke-only actions. Unknown keys/methods are
	// ErrInvalidArguments, not silently ignored.
	Set(key, value string) error
	Get(key string) (string, error)
	Unset(key string) error
	Invoke(method, in string) (string, error)

	Pull() error
	Vacuum() error
}
