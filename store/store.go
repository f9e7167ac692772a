// Package store defines the narrow repository adapter contract the
// mutation engine consumes: transact, insert, update_all, delete_all,
// get, reload, exists, aggregate. The core never talks to database/sql
// directly; it talks to this interface, so any dialect that can satisfy
// it (see store/sqlitestore, store/pqstore) can back a tree.
package store

import (
	"context"

	"nestedset/nestedset"
	"nestedset/treequery"
)

// UpdateOps describes a bulk update: columns to overwrite with literal
// values, and columns to increment (possibly negatively) by a delta.
// Increment and Set may both be used in the same call; Increment is
// applied as "col = col + delta" so it composes with concurrent
// increments from other rows' perspective within the same statement.
type UpdateOps struct {
	Set       map[string]any
	Increment map[string]int64
}

// Tx is the subset of repository operations available inside one
// transaction, the only place mutations are allowed to happen.
type Tx interface {
	// Insert inserts values into table and returns the inserted row,
	// including any columns the database itself computed (typically the
	// primary key), named in returning. If returning is empty the
	// adapter returns whatever columns it can cheaply produce.
	Insert(ctx context.Context, table string, values nestedset.Row, returning ...string) (nestedset.Row, error)

	// UpdateAll applies ops to every row matching q, returning the count
	// of rows affected.
	UpdateAll(ctx context.Context, q treequery.Query, ops UpdateOps) (int64, error)

	// DeleteAll deletes every row matching q, returning the count of rows
	// affected.
	DeleteAll(ctx context.Context, q treequery.Query) (int64, error)

	// Get retrieves a single row by primary key, or nestedset.ErrTargetIsNew-
	// adjacent behaviour is the caller's concern: Get returns a nil Row and
	// a nil error when no row matches pk.
	Get(ctx context.Context, table, pkCol string, pk any) (nestedset.Row, error)

	// Reload re-reads row by its primary key (row[pkCol]), returning the
	// current persisted state.
	Reload(ctx context.Context, table string, row nestedset.Row, pkCol string) (nestedset.Row, error)

	// Exists reports whether any row matches q.
	Exists(ctx context.Context, q treequery.Query) (bool, error)

	// Aggregate evaluates a SQL aggregate function (e.g. "COUNT", "MAX")
	// over col for rows matching q.
	Aggregate(ctx context.Context, q treequery.Query, fn, col string) (int64, error)

	// Select returns every row matching q, respecting its projection,
	// order, and limit. The mutation engine itself never needs more than
	// one row at a time (Get/Reload suffice); Select exists for the
	// query-builder consumers (memtree callers, the CLI, the HTTP API).
	Select(ctx context.Context, q treequery.Query) ([]nestedset.Row, error)
}

// Repository wraps a single transactional entry point. Every mutation in
// nestedset/engine calls Transact exactly once; if fn returns an error the
// whole transaction rolls back and that error propagates unwrapped to the
// engine's caller (the engine wraps adapter failures itself where useful,
// e.g. to add the operation name).
type Repository interface {
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
