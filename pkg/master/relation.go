// Package master implements the master SQL relation the pull protocol
// (spec §4.7) reconciles local indexes against, and the insert/remove
// operations (spec §4.8) that write to it. Grounded on
// original_source/src/otama_dbi_driver.hpp for the query shapes and on
// pkg/core/store_init.go for how the teacher wires a database/sql
// driver, builds its schema, and logs around it.
package master

import (
	"fmt"
	"sort"
	"strings"
)

// PullLimit bounds how many rows a single pull iteration fetches
// (spec §4.7: "LIMIT PULL_LIMIT (100_000)").
const PullLimit = 100_000

// Row is one record fetched by the pull protocol's new-records phase.
type Row struct {
	ID       int64
	OtamaID  string
	Vector   string
	CommitID int64
}

// FlagRow is one record fetched by the pull protocol's flag-update phase.
type FlagRow struct {
	ID       int64
	Flag     int
	CommitID int64
}

// ShardPredicate restricts a replica to a subset of the master
// relation by otama_id hex prefix (spec §4.7: "a set of otama_id LIKE
// 'X%' clauses AND-joined"). An empty predicate selects everything.
type ShardPredicate struct {
	Prefixes []string
}

func (s ShardPredicate) Empty() bool { return len(s.Prefixes) == 0 }

// ExpandShardRanges parses a comma-separated list of single hex
// characters and inclusive ranges ("a-f,0-3") into the flat prefix
// list a ShardPredicate holds.
func ExpandShardRanges(spec string) (ShardPredicate, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ShardPredicate{}, nil
	}
	const alphabet = "0123456789abcdef"
	seen := map[byte]bool{}
	var prefixes []string
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		lo, hi := token, token
		if i := strings.IndexByte(token, '-'); i >= 0 {
			lo, hi = token[:i], token[i+1:]
		}
		if len(lo) != 1 || len(hi) != 1 {
			return ShardPredicate{}, fmt.Errorf("master: invalid shard token %q", token)
		}
		loIdx := strings.IndexByte(alphabet, lo[0])
		hiIdx := strings.IndexByte(alphabet, hi[0])
		if loIdx < 0 || hiIdx < 0 || loIdx > hiIdx {
			return ShardPredicate{}, fmt.Errorf("master: invalid shard token %q", token)
		}
		for i := loIdx; i <= hiIdx; i++ {
			c := alphabet[i]
			if !seen[c] {
				seen[c] = true
				prefixes = append(prefixes, string(c))
			}
		}
	}
	sort.Strings(prefixes)
	return ShardPredicate{Prefixes: prefixes}, nil
}

// Relation is the abstract master SQL table the driver framework pulls
// from and writes to; TableName is namespace_family or family
// (spec §6: "table name = namespace_family or family name").
type Relation interface {
	Open() error
	Close() error

	CreateTable() error
	DropTable() error

	Count() (int64, error)

	// MaxIDs is phase 1's bootstrap query.
	MaxIDs(shard ShardPredicate) (maxID, maxCommit int64, err error)

	// FetchNew is phase 1's windowed scan.
	FetchNew(lastNo, maxID int64, shard ShardPredicate, limit int) ([]Row, error)

	// FetchFlagUpdates is phase 2's windowed scan.
	FetchFlagUpdates(lastCommitNo, maxCommit int64, shard ShardPredicate, limit int) ([]FlagRow, error)

	// ExistsByOtamaID reports whether a row with this hex id exists and
	// its numeric id if so (spec §4.8: insert's exists_master check).
	ExistsByOtamaID(otamaID string) (id int64, exists bool, err error)

	// InsertIfAbsent performs the idempotent "INSERT ... WHERE NOT
	// EXISTS" pattern and returns the row's id, inserting only when no
	// row with this otamaID exists yet.
	InsertIfAbsent(otamaID, vector string) (id int64, inserted bool, err error)

	// UpdateFlag sets flag and allocates a fresh commit_id, used both by
	// insert's un-tombstone path and by remove.
	UpdateFlag(otamaID string, flag int) error
}

func tableName(namespace, family string) string {
	if namespace == "" {
		return family
	}
	return namespace + "_" + family
}

func (s ShardPredicate) clause(column string, placeholder func(i int) string, argOffset int) (string, []any) {
	if s.Empty() {
		return "", nil
	}
	parts := make([]string, len(s.Prefixes))
	args := make([]any, len(s.Prefixes))
	for i, p := range s.Prefixes {
		parts[i] = fmt.Sprintf("%s LIKE %s", column, placeholder(argOffset+i))
		args[i] = p + "%"
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
