// Package pqstore is a store.Repository adapter backed by database/sql
// and github.com/lib/pq, for deployments that want a shared PostgreSQL
// database instead of per-tenant SQLite files. It differs from
// store/sqlitestore only in placeholder style ($1, $2, ...) and in using
// RETURNING to fetch server-assigned primary keys on insert.
package pqstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"nestedset/audit"
	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

// Store wraps a PostgreSQL connection pool and implements store.Repository.
type Store struct {
	conn *sql.DB
}

// Open opens a PostgreSQL database using dsn (a libpq connection string
// or URL).
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pqstore: opening: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureAuditSchema creates the audit_log table if it does not already
// exist, using the PostgreSQL variant of the audit schema.
func (s *Store) EnsureAuditSchema(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, audit.PostgresSchema)
	if err != nil {
		return fmt.Errorf("pqstore: creating audit schema: %w", err)
	}
	return nil
}

// Transact implements store.Repository.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pqstore: begin: %w", err)
	}

	if err := fn(ctx, &tx{sqlTx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("pqstore: commit: %w", err)
	}
	return nil
}

type tx struct {
	sqlTx *sql.Tx
}

// dollarPlaceholder renders the i'th (1-indexed) positional placeholder
// in PostgreSQL's style.
func dollarPlaceholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

func (t *tx) Insert(ctx context.Context, table string, values nestedset.Row, returning ...string) (nestedset.Row, error) {
	cols := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	i := 1
	for col, val := range values {
		cols = append(cols, col)
		placeholders = append(placeholders, dollarPlaceholder(i))
		args = append(args, val)
		i++
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	inserted := values.Clone()
	if len(returning) > 0 {
		stmt += " RETURNING " + strings.Join(returning, ", ")
		scanTargets := make([]any, len(returning))
		scanned := make([]any, len(returning))
		for j := range scanned {
			scanTargets[j] = &scanned[j]
		}
		if err := t.sqlTx.QueryRowContext(ctx, stmt, args...).Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("pqstore: insert into %s: %w", table, err)
		}
		for j, col := range returning {
			inserted[col] = scanned[j]
		}
		return inserted, nil
	}

	if _, err := t.sqlTx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("pqstore: insert into %s: %w", table, err)
	}
	return inserted, nil
}

func (t *tx) UpdateAll(ctx context.Context, q treequery.Query, ops store.UpdateOps) (int64, error) {
	var sets []string
	var args []any
	i := 1

	for col, val := range ops.Set {
		sets = append(sets, fmt.Sprintf("%s = %s", col, dollarPlaceholder(i)))
		args = append(args, val)
		i++
	}
	for col, delta := range ops.Increment {
		sets = append(sets, fmt.Sprintf("%s = %s + %s", col, col, dollarPlaceholder(i)))
		args = append(args, delta)
		i++
	}
	if len(sets) == 0 {
		return 0, nil
	}

	where := q.WhereClause(func(argIdx int) string { return dollarPlaceholder(i - 1 + argIdx) })
	args = append(args, q.Args()...)

	stmt := fmt.Sprintf("UPDATE %s SET %s", q.Table(), strings.Join(sets, ", "))
	if where != "" {
		stmt += " " + where
	}
	result, err := t.sqlTx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("pqstore: update %s: %w", q.Table(), err)
	}
	return result.RowsAffected()
}

func (t *tx) DeleteAll(ctx context.Context, q treequery.Query) (int64, error) {
	where := q.WhereClause(dollarPlaceholder)
	stmt := fmt.Sprintf("DELETE FROM %s", q.Table())
	if where != "" {
		stmt += " " + where
	}
	result, err := t.sqlTx.ExecContext(ctx, stmt, q.Args()...)
	if err != nil {
		return 0, fmt.Errorf("pqstore: delete from %s: %w", q.Table(), err)
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
		return nil, fmt.Errorf("pqstore: reload %s: row %v no longer exists", table, row[pkCol])
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
	where := q.WhereClause(dollarPlaceholder)
	stmt := fmt.Sprintf("SELECT %s(%s) FROM %s", fn, col, q.Table())
	if where != "" {
		stmt += " " + where
	}
	var result sql.NullInt64
	if err := t.sqlTx.QueryRowContext(ctx, stmt, q.Args()...).Scan(&result); err != nil {
		return 0, fmt.Errorf("pqstore: aggregate on %s: %w", q.Table(), err)
	}
	return result.Int64, nil
}

func (t *tx) Select(ctx context.Context, q treequery.Query) ([]nestedset.Row, error) {
	return t.query(ctx, q)
}

func (t *tx) query(ctx context.Context, q treequery.Query) ([]nestedset.Row, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s", columnList(q.Columns()), q.Table())
	where := q.WhereClause(dollarPlaceholder)
	if where != "" {
		stmt += " " + where
	}
	if q.Order() != "" {
		stmt += " ORDER BY " + q.Order()
	}
	if q.LimitN() > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.LimitN())
	}

	rows, err := t.sqlTx.QueryContext(ctx, stmt, q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("pqstore: query %s: %w", q.Table(), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("pqstore: columns: %w", err)
	}

	var out []nestedset.Row
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		values := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("pqstore: scan: %w", err)
		}
		row := make(nestedset.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func columnList(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
