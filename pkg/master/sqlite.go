package master

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite3 driver, same one pkg/core wires in
)

type sqliteOps struct{}

func (sqliteOps) driverName() string { return "sqlite" }

func (sqliteOps) placeholder(int) string { return "?" }

func (sqliteOps) createTableSQL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			otama_id  CHAR(40) UNIQUE,
			vector    TEXT NOT NULL,
			flag      INTEGER DEFAULT 0,
			commit_id BIGINT
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_otama_id ON %s(otama_id)`, table, table),
	}
}

func (sqliteOps) dropTableSQL(table string) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", table)}
}

func (sqliteOps) nextCommitID(tx *sql.Tx, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(commit_id),0)+1 FROM %s", table)
	if err := tx.QueryRow(query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (sqliteOps) insertIfAbsent(tx *sql.Tx, table, otamaID, vector string, commitID int64) (int64, bool, error) {
	return insertIfAbsentLastInsertID(tx, table, sqliteOps{}.placeholder, otamaID, vector, commitID)
}

// NewSQLite builds a master Relation backed by modernc.org/sqlite,
// the same driver pkg/core's SQLiteStore opens (spec's
// database.driver = "sqlite3").
func NewSQLite(dsn, namespace, family string) Relation {
	return newSQLRelation(dsn, namespace, family, sqliteOps{})
}
