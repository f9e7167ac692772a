// Package sqlitestore is a store.Repository adapter backed by
// database/sql and modernc.org/sqlite. It is the reference adapter: the
// one the engine's own test suite runs against, and the one cmd/nstree
// uses for local trees.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"nestedset/audit"
	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

// pragmas applied to every connection on open, matching the reference
// codebase's apply-on-open pattern.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Store wraps a SQLite connection pool and implements store.Repository.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// applies the standard pragmas. It does not create the host table; the
// caller passes its own schema SQL (see ExecSchema) or manages
// migrations itself.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %q: %w", path, err)
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlitestore: applying %q: %w", pragma, err)
		}
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureAuditSchema creates the audit_log table if it does not already
// exist, using the SQLite variant of the audit schema.
func (s *Store) EnsureAuditSchema(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, audit.SQLiteSchema)
	if err != nil {
		return fmt.Errorf("sqlitestore: creating audit schema: %w", err)
	}
	return nil
}

// ExecSchema runs an arbitrary DDL statement (typically a CREATE TABLE IF
// NOT EXISTS for the caller's host table), for callers that manage their
// own schema rather than relying on a pre-existing table.
func (s *Store) ExecSchema(ctx context.Context, ddl string) error {
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlitestore: applying schema: %w", err)
	}
	return nil
}

// Transact implements store.Repository.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}

	if err := fn(ctx, &tx{sqlTx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// tx implements store.Tx over one *sql.Tx.
type tx struct {
	sqlTx *sql.Tx
}

func (t *tx) Insert(ctx context.Context, table string, values nestedset.Row, returning ...string) (nestedset.Row, error) {
	cols := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for col, val := range values {
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		args = append(args, val)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	result, err := t.sqlTx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: insert into %s: %w", table, err)
	}

	inserted := values.Clone()
	if len(returning) > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: insert into %s: last insert id: %w", table, err)
		}
		for _, col := range returning {
			if _, already := inserted[col]; !already {
				inserted[col] = id
			}
		}
	}
	return inserted, nil
}

func (t *tx) UpdateAll(ctx context.Context, q treequery.Query, ops store.UpdateOps) (int64, error) {
	var sets []string
	var args []any

	for col, val := range ops.Set {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	for col, delta := range ops.Increment {
		sets = append(sets, fmt.Sprintf("%s = %s + ?", col, col))
		args = append(args, delta)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	where := q.WhereClause(placeholder)
	whereArgs := q.Args()
	args = append(args, whereArgs...)

	stmt := fmt.Sprintf("UPDATE %s SET %s", q.Table(), strings.Join(sets, ", "))
	if where != "" {
		stmt += " " + where
	}
	result, err := t.sqlTx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: update %s: %w", q.Table(), err)
	}
	return result.RowsAffected()
}

func (t *tx) DeleteAll(ctx context.Context, q treequery.Query) (int64, error) {
	where := q.WhereClause(placeholder)
	stmt := fmt.Sprintf("DELETE FROM %s", q.Table())
	if where != "" {
		stmt += " " + where
	}
	result, err := t.sqlTx.ExecContext(ctx, stmt, q.Args()...)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: delete from %s: %w", q.Table(), err)
	}
	return result.RowsAffected()
}

func (t *tx) Get(ctx context.Context, table, pkCol string, pk any) (nestedset.Row, error) {
	rows, err := t.query(ctx, treequery.New(table).And(pkCol+" = ?", pk).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (t *tx) Reload(ctx context.Context, table string, row nestedset.Row, pkCol string) (nestedset.Row, error) {
	reloaded, err := t.Get(ctx, table, pkCol, row[pkCol])
	if err != nil {
		return nil, err
	}
	if reloaded == nil {
		return nil, fmt.Errorf("sqlitestore: reload %s: row %v no longer exists", table, row[pkCol])
	}
	return reloaded, nil
}

func (t *tx) Exists(ctx context.Context, q treequery.Query) (bool, error) {
	count, err := t.Aggregate(ctx, q, "COUNT", "*")
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *tx) Aggregate(ctx context.Context, q treequery.Query, fn, col string) (int64, error) {
	where := q.WhereClause(placeholder)
	stmt := fmt.Sprintf("SELECT %s(%s) FROM %s", fn, col, q.Table())
	if where != "" {
		stmt += " " + where
	}
	var result sql.NullInt64
	if err := t.sqlTx.QueryRowContext(ctx, stmt, q.Args()...).Scan(&result); err != nil {
		return 0, fmt.Errorf("sqlitestore: aggregate on %s: %w", q.Table(), err)
	}
	return result.Int64, nil
}

func (t *tx) Select(ctx context.Context, q treequery.Query) ([]nestedset.Row, error) {
	return t.query(ctx, q)
}

func (t *tx) query(ctx context.Context, q treequery.Query) ([]nestedset.Row, error) {
	stmt, args := q.SQL()
	rows, err := t.sqlTx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query %s: %w", q.Table(), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: columns: %w", err)
	}

	var out []nestedset.Row
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		values := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		row := make(nestedset.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// placeholder renders the i'th (1-indexed) positional placeholder in
// SQLite's style, which is position-independent.
func placeholder(i int) string {
	return "?"
}
