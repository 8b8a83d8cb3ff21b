package master

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlOps struct{}

func (mysqlOps) driverName() string { return "mysql" }

func (mysqlOps) placeholder(int) string { return "?" }

func (mysqlOps) createTableSQL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        BIGINT AUTO_INCREMENT PRIMARY KEY,
			otama_id  CHAR(40) UNIQUE,
			vector    TEXT NOT NULL,
			flag      INT DEFAULT 0,
			commit_id BIGINT
		)`, table),
		fmt.Sprintf(`CREATE INDEX %s_otama_id ON %s(otama_id)`, table, table),
	}
}

func (mysqlOps) dropTableSQL(table string) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", table)}
}

func (mysqlOps) nextCommitID(tx *sql.Tx, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(commit_id),0)+1 FROM %s", table)
	if err := tx.QueryRow(query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (mysqlOps) insertIfAbsent(tx *sql.Tx, table, otamaID, vector string, commitID int64) (int64, bool, error) {
	return insertIfAbsentLastInsertID(tx, table, mysqlOps{}.placeholder, otamaID, vector, commitID)
}

// NewMySQL builds a master Relation backed by
// github.com/go-sql-driver/mysql (spec's database.driver = "mysql").
func NewMySQL(dsn, namespace, family string) Relation {
	return newSQLRelation(dsn, namespace, family, mysqlOps{})
}
