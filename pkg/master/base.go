package master

import (
	"database/sql"
	"fmt"
)

// dialectOps is the handful of operations that differ across sqlite3,
// mysql, and pgsql: DDL syntax, placeholder style, and how a fresh row
// / fresh commit_id is produced.
type dialectOps interface {
	driverName() string
	createTableSQL(table string) []string
	dropTableSQL(table string) []string
	placeholder(i int) string
	insertIfAbsent(tx *sql.Tx, table, otamaID, vector string, commitID int64) (id int64, inserted bool, err error)
	nextCommitID(tx *sql.Tx, table string) (int64, error)
}

// sqlRelation is the shared Relation implementation: schema creation,
// the pull protocol's windowed scans, and insert/remove all flow
// through here the same way regardless of dialect; only dialectOps
// varies. Grounded on pkg/core/store_init.go's sql.Open/connection-pool
// shape.
type sqlRelation struct {
	dsn   string
	table string
	ops   dialectOps
	db    *sql.DB
}

func newSQLRelation(dsn, namespace, family string, ops dialectOps) *sqlRelation {
	return &sqlRelation{dsn: dsn, table: tableName(namespace, family), ops: ops}
}

func (r *sqlRelation) Open() error {
	db, err := sql.Open(r.ops.driverName(), r.dsn)
	if err != nil {
		return fmt.Errorf("master: open %s: %w", r.ops.driverName(), err)
	}
	r.db = db
	return nil
}

func (r *sqlRelation) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *sqlRelation) CreateTable() error {
	for _, stmt := range r.ops.createTableSQL(r.table) {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("master: create table: %w", err)
		}
	}
	return nil
}

func (r *sqlRelation) DropTable() error {
	for _, stmt := range r.ops.dropTableSQL(r.table) {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("master: drop table: %w", err)
		}
	}
	return nil
}

func (r *sqlRelation) Count() (int64, error) {
	var n int64
	err := r.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("master: count: %w", err)
	}
	return n, nil
}

func (r *sqlRelation) MaxIDs(shard ShardPredicate) (maxID, maxCommit int64, err error) {
	where, args := shard.clause("otama_id", r.ops.placeholder, 1)
	query := fmt.Sprintf("SELECT COALESCE(MAX(id),0), COALESCE(MAX(commit_id),0) FROM %s", r.table)
	if where != "" {
		query += " WHERE " + where
	}
	row := r.db.QueryRow(query, args...)
	if err := row.Scan(&maxID, &maxCommit); err != nil {
		return 0, 0, fmt.Errorf("master: max ids: %w", err)
	}
	return maxID, maxCommit, nil
}

func (r *sqlRelation) FetchNew(lastNo, maxID int64, shard ShardPredicate, limit int) ([]Row, error) {
	args := []any{lastNo, maxID}
	where, shardArgs := shard.clause("otama_id", r.ops.placeholder, 3)
	query := fmt.Sprintf(
		"SELECT id, otama_id, vector, commit_id FROM %s WHERE id > %s AND id <= %s",
		r.table, r.ops.placeholder(1), r.ops.placeholder(2),
	)
	if where != "" {
		query += " AND " + where
		args = append(args, shardArgs...)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT %d", limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("master: fetch new: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.OtamaID, &row.Vector, &row.CommitID); err != nil {
			return nil, fmt.Errorf("master: fetch new scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *sqlRelation) FetchFlagUpdates(lastCommitNo, maxCommit int64, shard ShardPredicate, limit int) ([]FlagRow, error) {
	args := []any{lastCommitNo, maxCommit}
	where, shardArgs := shard.clause("otama_id", r.ops.placeholder, 3)
	query := fmt.Sprintf(
		"SELECT id, flag, commit_id FROM %s WHERE commit_id > %s AND commit_id <= %s",
		r.table, r.ops.placeholder(1), r.ops.placeholder(2),
	)
	if where != "" {
		query += " AND " + where
		args = append(args, shardArgs...)
	}
	query += fmt.Sprintf(" ORDER BY commit_id LIMIT %d", limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("master: fetch flag updates: %w", err)
	}
	defer rows.Close()

	var out []FlagRow
	for rows.Next() {
		var row FlagRow
		if err := rows.Scan(&row.ID, &row.Flag, &row.CommitID); err != nil {
			return nil, fmt.Errorf("master: fetch flag updates scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *sqlRelation) ExistsByOtamaID(otamaID string) (int64, bool, error) {
	query := fmt.Sprintf("SELECT id FROM %s WHERE otama_id = %s", r.table, r.ops.placeholder(1))
	var id int64
	err := r.db.QueryRow(query, otamaID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("master: exists: %w", err)
	}
	return id, true, nil
}

func (r *sqlRelation) InsertIfAbsent(otamaID, vector string) (int64, bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("master: insert: %w", err)
	}
	defer tx.Rollback()

	commitID, err := r.ops.nextCommitID(tx, r.table)
	if err != nil {
		return 0, false, fmt.Errorf("master: insert: %w", err)
	}
	id, inserted, err := r.ops.insertIfAbsent(tx, r.table, otamaID, vector, commitID)
	if err != nil {
		return 0, false, fmt.Errorf("master: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("master: insert: %w", err)
	}
	return id, inserted, nil
}

func (r *sqlRelation) UpdateFlag(otamaID string, flag int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("master: update flag: %w", err)
	}
	defer tx.Rollback()

	commitID, err := r.ops.nextCommitID(tx, r.table)
	if err != nil {
		return fmt.Errorf("master: update flag: %w", err)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET flag = %s, commit_id = %s WHERE otama_id = %s",
		r.table, r.ops.placeholder(1), r.ops.placeholder(2), r.ops.placeholder(3),
	)
	if _, err := tx.Exec(query, flag, commitID, otamaID); err != nil {
		return fmt.Errorf("master: update flag: %w", err)
	}
	return tx.Commit()
}

var _ Relation = (*sqlRelation)(nil)

// insertIfAbsentLastInsertID implements the "INSERT ... WHERE NOT
// EXISTS" pattern for drivers that support sql.Result.LastInsertId
// (sqlite3, mysql).
func insertIfAbsentLastInsertID(tx *sql.Tx, table string, ph func(int) string, otamaID, vector string, commitID int64) (int64, bool, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (otama_id, vector, flag, commit_id) SELECT %s, %s, 0, %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE otama_id = %s)",
		table, ph(1), ph(2), ph(3), table, ph(4),
	)
	res, err := tx.Exec(query, otamaID, vector, commitID, otamaID)
	if err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		var id int64
		lookup := fmt.Sprintf("SELECT id FROM %s WHERE otama_id = %s", table, ph(1))
		if err := tx.QueryRow(lookup, otamaID).Scan(&id); err != nil {
			return 0, false, err
		}
		return id, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// insertIfAbsentReturning implements the same pattern for drivers that
// support RETURNING instead of LastInsertId (pgsql).
func insertIfAbsentReturning(tx *sql.Tx, table string, ph func(int) string, otamaID, vector string, commitID int64) (int64, bool, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (otama_id, vector, flag, commit_id) SELECT %s, %s, 0, %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE otama_id = %s) RETURNING id",
		table, ph(1), ph(2), ph(3), table, ph(4),
	)
	var id int64
	err := tx.QueryRow(query, otamaID, vector, commitID, otamaID).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}
	lookup := fmt.Sprintf("SELECT id FROM %s WHERE otama_id = %s", table, ph(1))
	if err := tx.QueryRow(lookup, otamaID).Scan(&id); err != nil {
		return 0, false, err
	}
	return id, false, nil
}
