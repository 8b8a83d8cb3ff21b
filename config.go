package otama

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/otama-go/otama/pkg/driver"
	"github.com/otama-go/otama/pkg/feature"
	"github.com/otama-go/otama/pkg/master"
	"github.com/otama-go/otama/pkg/variant"
)

// Config is the parsed form of spec §6's YAML configuration tree: the
// facade-level settings plus the driver.Config a registry constructor
// needs. LogPath/LogLevel feed SetLogOutput; everything else is
// resolved from the variant tree the YAML unmarshals into.
type Config struct {
	Namespace   string
	DriverName  string
	StorageKind driver.StorageKind

	Driver driver.Config

	LogPath  string
	LogLevel LogLevel
}

// LoadConfigFile reads and parses a YAML configuration file the way
// spec §6's open_path does: "loaded into a variant tree" first, then
// walked into the typed Config a driver constructor consumes.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("load_config_file", fmt.Errorf("%w: %v", ErrSystem, err))
	}
	return LoadConfig(data)
}

// LoadConfig parses raw YAML bytes the same way LoadConfigFile does.
func LoadConfig(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, WrapError("load_config", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	arena := variant.NewArena()
	root := fromYAML(arena, raw)
	if !root.IsHash() {
		return nil, WrapError("load_config", fmt.Errorf("%w: config root is not a mapping", ErrInvalidArguments))
	}
	return configFromVariant(root)
}

// fromYAML converts the generic tree yaml.Unmarshal produces (into
// `any`) into the arena-scoped variant.Value tree spec §6 says
// configuration is loaded into.
func fromYAML(arena *variant.Arena, node any) *variant.Value {
	v := arena.New()
	fillFromYAML(v, node)
	return v
}

// fillFromYAML populates an already-allocated variant.Value in place,
// recursing through HashAt/ArrayAt rather than building detached
// sub-values and copying them in (variant.Value embeds a sync.Mutex,
// so it must never be copied by value).
func fillFromYAML(v *variant.Value, node any) {
	switch n := node.(type) {
	case nil:
		v.SetNull()
	case map[string]any:
		v.SetHash()
		for key, child := range n {
			fillFromYAML(v.HashAt(key), child)
		}
	case []any:
		v.SetArray()
		for i, child := range n {
			fillFromYAML(v.ArrayAt(int64(i)), child)
		}
	case string:
		v.SetString(n)
	case int:
		v.SetInt(int64(n))
	case int64:
		v.SetInt(n)
	case float64:
		v.SetFloat(float32(n))
	case bool:
		if n {
			v.SetInt(1)
		} else {
			v.SetInt(0)
		}
	default:
		v.SetString(fmt.Sprintf("%v", n))
	}
}

func stringField(v *variant.Value, key, def string) string {
	if s, ok := v.HashAtString(key); ok && s != "" {
		return s
	}
	return def
}

func floatField(v *variant.Value, key string, def float32) float32 {
	if !v.HashExist(key) {
		return def
	}
	return v.HashAt(key).ToFloat()
}

func intField(v *variant.Value, key string, def int) int {
	if !v.HashExist(key) {
		return def
	}
	return int(v.HashAt(key).ToInt())
}

func boolField(v *variant.Value, key string, def bool) bool {
	if !v.HashExist(key) {
		return def
	}
	return v.HashAt(key).ToBool()
}

// shardField reads driver.shard, which spec §6 allows as either a
// single string or an array of strings; both forms join into the same
// comma-separated form ExpandShardRanges parses.
func shardField(v *variant.Value) (master.ShardPredicate, error) {
	if !v.HashExist("shard") {
		return master.ShardPredicate{}, nil
	}
	shard := v.HashAt("shard")
	if shard.IsArray() {
		var parts []string
		for i := int64(0); i < shard.ArrayCount(); i++ {
			parts = append(parts, shard.ArrayAt(i).ToString())
		}
		spec := ""
		for i, p := range parts {
			if i > 0 {
				spec += ","
			}
			spec += p
		}
		return master.ExpandShardRanges(spec)
	}
	return master.ExpandShardRanges(shard.ToString())
}

func configFromVariant(root *variant.Value) (*Config, error) {
	cfg := &Config{}

	cfg.Namespace = stringField(root, "namespace", "")
	cfg.LogPath = stringField(root, "log", "")
	if level, ok := ParseLogLevel(os.Getenv("OTAMA_LOG_LEVEL")); ok {
		cfg.LogLevel = level
	} else {
		cfg.LogLevel = LevelNotice
	}

	if !root.HashExist("driver") {
		return nil, WrapError("load_config", fmt.Errorf("%w: missing driver section", ErrInvalidArguments))
	}
	driverSection := root.HashAt("driver")

	cfg.DriverName = stringField(driverSection, "name", "")
	if cfg.DriverName == "" {
		return nil, WrapError("load_config", fmt.Errorf("%w: driver.name is required", ErrInvalidArguments))
	}

	shard, err := shardField(driverSection)
	if err != nil {
		return nil, WrapError("load_config", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	dbCfg := driver.DatabaseConfig{Driver: "sqlite3"}
	if root.HashExist("database") {
		db := root.HashAt("database")
		dbCfg.Driver = stringField(db, "driver", "sqlite3")
		dbCfg.DSN = buildDSN(dbCfg.Driver, db)
	}

	cfg.Driver = driver.Config{
		Namespace:      cfg.Namespace,
		DataDir:        stringField(driverSection, "data_dir", "."),
		Database:       dbCfg,
		Shard:          shard,
		HitThreshold:   intField(driverSection, "hit_threshold", 0),
		ColorWeight:    floatField(driverSection, "color_weight", 0),
		ColorMethod:    feature.ColorMethod(stringField(driverSection, "color_method", string(feature.ColorMethodLinear))),
		ColorThreshold: floatField(driverSection, "color_threshold", 0),
		RerankMethod:   feature.RerankMethod(stringField(driverSection, "rerank_method", string(feature.RerankNone))),
		FirstScale:     intField(driverSection, "first_scale", 0),
		Strip:          boolField(driverSection, "strip", false),
	}

	if boolField(driverSection, "keep_alive", false) {
		cfg.StorageKind = driver.StorageDisk
	} else {
		cfg.StorageKind = driver.StorageBucket
	}

	return cfg, nil
}

// buildDSN renders the connection string each pkg/master dialect
// constructor expects from the discrete host/port/name/user/password
// keys spec §6 lists under `database`.
func buildDSN(dialect string, db *variant.Value) string {
	host := stringField(db, "host", "127.0.0.1")
	name := stringField(db, "name", "otama")
	user := stringField(db, "user", "")
	password := stringField(db, "password", "")
	port := intField(db, "port", 0)

	switch dialect {
	case "mysql":
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", user, password, host, port, name)
	case "pgsql":
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, name)
	default: // sqlite3
		return stringField(db, "name", name+".db")
	}
}
