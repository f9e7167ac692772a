// Package engine implements the transactional Nested Sets mutation
// algorithms: insert, move (within and across trees), promotion to root,
// and the two deletion shapes. Every exported method wraps exactly one
// store.Repository.Transact call; a failure at any step aborts the whole
// change and the store is left byte-identical to its pre-state.
package engine

import (
	"context"
	"fmt"

	"nestedset/audit"
	"nestedset/nestedset"
	"nestedset/predicate"
	"nestedset/store"
	"nestedset/treequery"
)

// Engine binds a Schema and a Repository together with the operations
// that mutate it. Audit, when non-nil, is called once per committed
// mutation inside the same transaction.
type Engine struct {
	Schema nestedset.Schema
	Repo   store.Repository
	Audit  audit.Recorder
	Actor  string
}

// New returns an Engine over schema and repo with no audit recorder.
func New(schema nestedset.Schema, repo store.Repository) Engine {
	return Engine{Schema: schema, Repo: repo}
}

// WithAudit returns a copy of e that records every committed mutation via
// rec, attributing entries to actor.
func (e Engine) WithAudit(rec audit.Recorder, actor string) Engine {
	e.Audit = rec
	e.Actor = actor
	return e
}

// MakeRoot creates the first (single-tree) or an independent (multi-tree)
// root from node's payload. It fails with nestedset.ErrRootAlreadyExists
// in single-tree mode when a root already exists.
func (e Engine) MakeRoot(ctx context.Context, node nestedset.Row) (nestedset.Row, error) {
	if err := e.Schema.Validate(); err != nil {
		return nil, err
	}
	var result nestedset.Row
	err := e.Repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if !e.Schema.MultiTree() {
			exists, err := tx.Exists(ctx, treequery.New(e.Schema.Table).And(e.Schema.Lft+" = 1"))
			if err != nil {
				return fmt.Errorf("make_root: checking existing root: %w", err)
			}
			if exists {
				return nestedset.ErrRootAlreadyExists
			}
		}

		values := node.Clone()
		values[e.Schema.Lft] = int64(1)
		values[e.Schema.Rgt] = int64(2)
		values[e.Schema.Depth] = int64(0)

		inserted, err := tx.Insert(ctx, e.Schema.Table, values, e.Schema.PrimaryKey)
		if err != nil {
			return fmt.Errorf("make_root: insert: %w", err)
		}

		if col, ok := e.Schema.TreeColumn(); ok {
			pk := e.Schema.PK(inserted)
			setTree := treequery.New(e.Schema.Table).And(e.Schema.PrimaryKey+" = ?", pk)
			if _, err := tx.UpdateAll(ctx, setTree, store.UpdateOps{Set: map[string]any{col: pk}}); err != nil {
				return fmt.Errorf("make_root: set tree: %w", err)
			}
			inserted, err = tx.Reload(ctx, e.Schema.Table, inserted, e.Schema.PrimaryKey)
			if err != nil {
				return fmt.Errorf("make_root: reload: %w", err)
			}
		}

		result = inserted
		return e.recordAudit(ctx, tx, "make_root", result)
	})
	return result, err
}

// PrependTo, AppendTo, InsertBefore, InsertAfter dispatch to Move with the
// matching Position. Each is an insert when node is unpersisted, a move
// when node is already persisted.
func (e Engine) PrependTo(ctx context.Context, node, target nestedset.Row) (nestedset.Row, error) {
	return e.Move(ctx, Prepend, node, target)
}

func (e Engine) AppendTo(ctx context.Context, node, target nestedset.Row) (nestedset.Row, error) {
	return e.Move(ctx, Append, node, target)
}

func (e Engine) InsertBefore(ctx context.Context, node, target nestedset.Row) (nestedset.Row, error) {
	return e.Move(ctx, Before, node, target)
}

func (e Engine) InsertAfter(ctx context.Context, node, target nestedset.Row) (nestedset.Row, error) {
	return e.Move(ctx, After, node, target)
}

// Move places node at position pos relative to target. If node is not yet
// persisted this inserts it; otherwise it relocates node's whole subtree,
// possibly across independent trees.
func (e Engine) Move(ctx context.Context, pos Position, node, target nestedset.Row) (nestedset.Row, error) {
	if err := e.Schema.Validate(); err != nil {
		return nil, err
	}
	var result nestedset.Row
	err := e.Repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		freshTarget, err := e.reload(ctx, tx, target)
		if err != nil {
			return err
		}

		if !e.Schema.IsPersisted(node) {
			if pos.isRelativeToRoot() && predicate.IsRoot(e.Schema, freshTarget) {
				return nestedset.ErrCannotInsertBeforeRoot
			}
			result, err = e.insert(ctx, tx, pos, node, freshTarget)
			return err
		}

		freshNode, err := e.reload(ctx, tx, node)
		if err != nil {
			return err
		}
		if err := e.validateMove(freshNode, freshTarget, pos); err != nil {
			return err
		}
		result, err = e.move(ctx, tx, pos, freshNode, freshTarget)
		return err
	})
	return result, err
}

// reload re-reads row by its primary key, failing with
// nestedset.ErrTargetIsNew when row carries no primary key yet.
func (e Engine) reload(ctx context.Context, tx store.Tx, row nestedset.Row) (nestedset.Row, error) {
	if !e.Schema.IsPersisted(row) {
		return nil, nestedset.ErrTargetIsNew
	}
	reloaded, err := tx.Reload(ctx, e.Schema.Table, row, e.Schema.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	return reloaded, nil
}

// validateMove runs the structural preconditions for a move (not an
// insert): self-move, before/after a root, and move-to-descendant.
func (e Engine) validateMove(node, target nestedset.Row, pos Position) error {
	if pos.isRelativeToRoot() && predicate.IsRoot(e.Schema, target) {
		return nestedset.ErrCannotMoveBeforeAfterRoot
	}
	if e.Schema.PK(node) == e.Schema.PK(target) {
		return nestedset.ErrCannotMoveToItself
	}
	if e.Schema.SameTree(node, target) &&
		e.Schema.LftOf(target) > e.Schema.LftOf(node) &&
		e.Schema.RgtOf(target) < e.Schema.RgtOf(node) {
		return nestedset.ErrCannotMoveToDescendant
	}
	return nil
}

// insert implements §4.1's insert algorithm: shift the destination scope
// open by 2, then insert the new row at the freed gap.
func (e Engine) insert(ctx context.Context, tx store.Tx, pos Position, node, target nestedset.Row) (nestedset.Row, error) {
	destLft, depthDelta := pos.destination(e.Schema.LftOf(target), e.Schema.RgtOf(target), e.Schema.DepthOf(target))

	if err := e.shift(ctx, tx, target, destLft, 2); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	values := node.Clone()
	values[e.Schema.Lft] = destLft
	values[e.Schema.Rgt] = destLft + 1
	values[e.Schema.Depth] = e.Schema.DepthOf(target) + depthDelta
	if col, ok := e.Schema.TreeColumn(); ok {
		values[col] = target[col]
	}

	inserted, err := tx.Insert(ctx, e.Schema.Table, values, e.Schema.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	if err := e.recordAudit(ctx, tx, "insert:"+pos.String(), inserted); err != nil {
		return nil, err
	}
	return inserted, nil
}

// move implements §4.1's move-within-tree and move-between-trees
// algorithms, which are structurally identical except for which scope
// each shift/update is performed against.
func (e Engine) move(ctx context.Context, tx store.Tx, pos Position, node, target nestedset.Row) (nestedset.Row, error) {
	l, r, d := e.Schema.LftOf(node), e.Schema.RgtOf(node), e.Schema.DepthOf(node)
	w := r - l + 1

	tl, tr, td := e.Schema.LftOf(target), e.Schema.RgtOf(target), e.Schema.DepthOf(target)
	destLft, depthDelta := pos.destination(tl, tr, td)
	newDepth := td + depthDelta

	crossTree := e.Schema.MultiTree() && !e.Schema.SameTree(node, target)

	// Step: shift the destination scope open by w.
	if err := e.shift(ctx, tx, target, destLft, w); err != nil {
		return nil, fmt.Errorf("move: open destination: %w", err)
	}

	// Account for the destination shift having pushed node's own range
	// when it shares the destination scope and sits at or after destLft.
	adjustedSrcLft, adjustedSrcRgt := l, r
	if !crossTree && l >= destLft {
		adjustedSrcLft = l + w
		adjustedSrcRgt = r + w
	}

	moveDistance := destLft - adjustedSrcLft
	depthChange := newDepth - d

	subtree := treequery.New(e.Schema.Table).
		And(e.Schema.Lft+" >= ?", adjustedSrcLft).
		And(e.Schema.Rgt+" <= ?", adjustedSrcRgt)
	ops := store.UpdateOps{Increment: map[string]int64{}}
	if moveDistance != 0 {
		ops.Increment[e.Schema.Lft] = moveDistance
		ops.Increment[e.Schema.Rgt] = moveDistance
	}
	if depthChange != 0 {
		ops.Increment[e.Schema.Depth] = depthChange
	}
	if col, ok := e.Schema.TreeColumn(); ok {
		subtree = subtree.And(col+" = ?", node[col])
		if crossTree {
			ops.Set = map[string]any{col: target[col]}
		}
	}
	if _, err := tx.UpdateAll(ctx, subtree, ops); err != nil {
		return nil, fmt.Errorf("move: relocate subtree: %w", err)
	}

	// Step: shift the vacated source gap closed by w, in the source's
	// original scope (node still holds its pre-move tree value here).
	if err := e.shift(ctx, tx, node, adjustedSrcRgt+1, -w); err != nil {
		return nil, fmt.Errorf("move: close source: %w", err)
	}

	reloaded, err := tx.Reload(ctx, e.Schema.Table, node, e.Schema.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("move: reload: %w", err)
	}
	if err := e.recordAudit(ctx, tx, "move:"+pos.String(), reloaded); err != nil {
		return nil, err
	}
	return reloaded, nil
}

// DeleteWithChildren removes node's entire subtree and returns the number
// of rows deleted.
func (e Engine) DeleteWithChildren(ctx context.Context, node nestedset.Row) (int64, error) {
	if err := e.Schema.Validate(); err != nil {
		return 0, err
	}
	var count int64
	err := e.Repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		fresh, err := e.reload(ctx, tx, node)
		if err != nil {
			return err
		}
		l, r := e.Schema.LftOf(fresh), e.Schema.RgtOf(fresh)

		del := treequery.New(e.Schema.Table).
			And(e.Schema.Lft+" >= ?", l).
			And(e.Schema.Rgt+" <= ?", r)
		if col, ok := e.Schema.TreeColumn(); ok {
			del = del.And(col+" = ?", fresh[col])
		}
		n, err := tx.DeleteAll(ctx, del)
		if err != nil {
			return fmt.Errorf("delete_with_children: %w", err)
		}
		count = n

		if err := e.shift(ctx, tx, fresh, r+1, -(r - l + 1)); err != nil {
			return fmt.Errorf("delete_with_children: close gap: %w", err)
		}
		return e.recordAudit(ctx, tx, "delete_with_children", fresh)
	})
	return count, err
}

// DeleteNode removes node alone, promoting its children (if any) up one
// level and shifting them left to close the gap. It fails with
// nestedset.ErrCannotDeleteNonEmptyRoot when node is a root with children;
// an empty root may be deleted.
func (e Engine) DeleteNode(ctx context.Context, node nestedset.Row) (nestedset.Row, error) {
	if err := e.Schema.Validate(); err != nil {
		return nil, err
	}
	var result nestedset.Row
	err := e.Repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		fresh, err := e.reload(ctx, tx, node)
		if err != nil {
			return err
		}
		l, r := e.Schema.LftOf(fresh), e.Schema.RgtOf(fresh)
		hasChildren := r-l > 1

		if predicate.IsRoot(e.Schema, fresh) && hasChildren {
			return nestedset.ErrCannotDeleteNonEmptyRoot
		}

		if _, err := tx.DeleteAll(ctx, treequery.New(e.Schema.Table).And(e.Schema.PrimaryKey+" = ?", e.Schema.PK(fresh))); err != nil {
			return fmt.Errorf("delete_node: %w", err)
		}

		if hasChildren {
			promote := treequery.New(e.Schema.Table).
				And(e.Schema.Lft+" > ?", l).
				And(e.Schema.Rgt+" < ?", r)
			if col, ok := e.Schema.TreeColumn(); ok {
				promote = promote.And(col+" = ?", fresh[col])
			}
			if _, err := tx.UpdateAll(ctx, promote, store.UpdateOps{Increment: map[string]int64{
				e.Schema.Lft:   -1,
				e.Schema.Rgt:   -1,
				e.Schema.Depth: -1,
			}}); err != nil {
				return fmt.Errorf("delete_node: promote children: %w", err)
			}
		}

		if err := e.shift(ctx, tx, fresh, r+1, -2); err != nil {
			return fmt.Errorf("delete_node: close gap: %w", err)
		}

		result = fresh
		return e.recordAudit(ctx, tx, "delete_node", fresh)
	})
	return result, err
}

// MakeRootFrom detaches node's subtree and renumbers it into a new,
// independent tree rooted at node, with tree set to node's own primary
// key. It requires multi-tree mode (nestedset.ErrTreeRequired otherwise)
// and fails with nestedset.ErrAlreadyRoot when node is already a root.
func (e Engine) MakeRootFrom(ctx context.Context, node nestedset.Row) (nestedset.Row, error) {
	if err := e.Schema.Validate(); err != nil {
		return nil, err
	}
	if !e.Schema.MultiTree() {
		return nil, nestedset.ErrTreeRequired
	}

	var result nestedset.Row
	err := e.Repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		fresh, err := e.reload(ctx, tx, node)
		if err != nil {
			return err
		}
		if predicate.IsRoot(e.Schema, fresh) {
			return nestedset.ErrAlreadyRoot
		}

		col, _ := e.Schema.TreeColumn()
		l, r, d := e.Schema.LftOf(fresh), e.Schema.RgtOf(fresh), e.Schema.DepthOf(fresh)
		w := r - l + 1
		oldTree := fresh[col]
		pk := e.Schema.PK(fresh)

		subtree := treequery.New(e.Schema.Table).
			And(e.Schema.Lft+" >= ?", l).
			And(e.Schema.Rgt+" <= ?", r).
			And(col+" = ?", oldTree)
		if _, err := tx.UpdateAll(ctx, subtree, store.UpdateOps{
			Increment: map[string]int64{e.Schema.Lft: 1 - l, e.Schema.Rgt: 1 - l, e.Schema.Depth: -d},
			Set:       map[string]any{col: pk},
		}); err != nil {
			return fmt.Errorf("make_root_from: renumber subtree: %w", err)
		}

		closeLft := treequery.New(e.Schema.Table).And(col+" = ?", oldTree).And(e.Schema.Lft+" > ?", r)
		if _, err := tx.UpdateAll(ctx, closeLft, store.UpdateOps{Increment: map[string]int64{e.Schema.Lft: -w}}); err != nil {
			return fmt.Errorf("make_root_from: close lft gap: %w", err)
		}
		closeRgt := treequery.New(e.Schema.Table).And(col+" = ?", oldTree).And(e.Schema.Rgt+" > ?", r)
		if _, err := tx.UpdateAll(ctx, closeRgt, store.UpdateOps{Increment: map[string]int64{e.Schema.Rgt: -w}}); err != nil {
			return fmt.Errorf("make_root_from: close rgt gap: %w", err)
		}

		reloaded, err := tx.Reload(ctx, e.Schema.Table, fresh, e.Schema.PrimaryKey)
		if err != nil {
			return fmt.Errorf("make_root_from: reload: %w", err)
		}
		result = reloaded
		return e.recordAudit(ctx, tx, "make_root_from", reloaded)
	})
	return result, err
}

func (e Engine) recordAudit(ctx context.Context, tx store.Tx, op string, row nestedset.Row) error {
	if e.Audit == nil {
		return nil
	}
	entry := audit.Entry{
		Actor:  e.Actor,
		Op:     op,
		Table:  e.Schema.Table,
		Tree:   e.Schema.TreeOf(row),
		NodePK: e.Schema.PK(row),
	}
	if err := e.Audit.Record(ctx, tx, entry); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}
