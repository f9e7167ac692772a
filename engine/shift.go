package engine

import (
	"context"
	"fmt"

	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

// shift is the gap-shift primitive: within the scope derived from
// scopeRow (the tree discriminator value of scopeRow, or the unfiltered
// table in single-tree mode), every node whose lft >= start is
// incremented by delta, then every node whose rgt >= start is
// incremented by delta. Two statements are required because the
// predicates differ; delta may be negative to close a gap.
func (e Engine) shift(ctx context.Context, tx store.Tx, scopeRow nestedset.Row, start, delta int64) error {
	if delta == 0 {
		return nil
	}

	lftQuery := e.scopeQuery(scopeRow).And(e.Schema.Lft+" >= ?", start)
	if _, err := tx.UpdateAll(ctx, lftQuery, store.UpdateOps{Increment: map[string]int64{e.Schema.Lft: delta}}); err != nil {
		return fmt.Errorf("shift lft: %w", err)
	}

	rgtQuery := e.scopeQuery(scopeRow).And(e.Schema.Rgt+" >= ?", start)
	if _, err := tx.UpdateAll(ctx, rgtQuery, store.UpdateOps{Increment: map[string]int64{e.Schema.Rgt: delta}}); err != nil {
		return fmt.Errorf("shift rgt: %w", err)
	}

	return nil
}

// scopeQuery returns an unfiltered query against the host table, scoped
// to scopeRow's tree when multi-tree mode is enabled.
func (e Engine) scopeQuery(scopeRow nestedset.Row) treequery.Query {
	q := treequery.New(e.Schema.Table)
	if col, ok := e.Schema.TreeColumn(); ok {
		q = q.And(col+" = ?", scopeRow[col])
	}
	return q
}
