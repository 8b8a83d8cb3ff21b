package master

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type pgsqlOps struct{}

func (pgsqlOps) driverName() string { return "postgres" }

func (pgsqlOps) placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (o pgsqlOps) sequenceName(table string) string { return table + "_commit_id_seq" }

func (o pgsqlOps) createTableSQL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        BIGSERIAL PRIMARY KEY,
			otama_id  CHAR(40) UNIQUE,
			vector    TEXT NOT NULL,
			flag      INT DEFAULT 0,
			commit_id BIGINT
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_otama_id ON %s(otama_id)`, table, table),
		fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS %s`, o.sequenceName(table)),
	}
}

func (o pgsqlOps) dropTableSQL(table string) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", table),
		fmt.Sprintf("DROP SEQUENCE IF EXISTS %s", o.sequenceName(table)),
	}
}

// nextCommitID uses a real sequence (GLOSSARY: "Shard predicate...";
// spec §6 names nextval explicitly for pgsql's commit_id allocation)
// rather than the MAX(commit_id)+1 transaction trick sqlite3/mysql
// fall back to.
func (o pgsqlOps) nextCommitID(tx *sql.Tx, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT nextval('%s')", o.sequenceName(table))
	if err := tx.QueryRow(query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (o pgsqlOps) insertIfAbsent(tx *sql.Tx, table, otamaID, vector string, commitID int64) (int64, bool, error) {
	return insertIfAbsentReturning(tx, table, o.placeholder, otamaID, vector, commitID)
}

// NewPgsql builds a master Relation backed by github.com/lib/pq
// (spec's database.driver = "pgsql").
func NewPgsql(dsn, namespace, family string) Relation {
	return newSQLRelation(dsn, namespace, family, pgsqlOps{})
}
