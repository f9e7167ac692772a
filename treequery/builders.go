package treequery

import (
	"fmt"

	"nestedset/nestedset"
)

// scoped returns a Query against schema's table, with the tree == x.tree
// predicate attached when schema is in multi-tree mode.
func scoped(schema nestedset.Schema, x nestedset.Row) Query {
	q := New(schema.Table)
	if col, ok := schema.TreeColumn(); ok {
		q = q.And(col+" = ?", x[col])
	}
	return q
}

// Ancestors returns every node strictly containing x's range: the chain
// of x's ancestors, ordered nearest-root first. depthLimit, when > 0,
// restricts the result to ancestors within depthLimit levels of x (i.e.
// n.depth >= x.depth - depthLimit).
func Ancestors(schema nestedset.Schema, x nestedset.Row, depthLimit int) Query {
	q := scoped(schema, x).
		And(schema.Lft+" < ?", schema.LftOf(x)).
		And(schema.Rgt+" > ?", schema.RgtOf(x)).
		OrderBy(schema.Lft + " ASC")
	if depthLimit > 0 {
		q = q.And(schema.Depth+" >= ?", schema.DepthOf(x)-int64(depthLimit))
	}
	return q
}

// Descendants returns every node strictly contained by x's range, ordered
// by lft ascending. depthLimit, when > 0, restricts the result to
// descendants within depthLimit levels of x.
func Descendants(schema nestedset.Schema, x nestedset.Row, depthLimit int) Query {
	q := scoped(schema, x).
		And(schema.Lft+" > ?", schema.LftOf(x)).
		And(schema.Rgt+" < ?", schema.RgtOf(x)).
		OrderBy(schema.Lft + " ASC")
	if depthLimit > 0 {
		q = q.And(schema.Depth+" <= ?", schema.DepthOf(x)+int64(depthLimit))
	}
	return q
}

// DirectChildren returns x's immediate children: Descendants with a depth
// limit of 1.
func DirectChildren(schema nestedset.Schema, x nestedset.Row) Query {
	return Descendants(schema, x, 1)
}

// Leaves returns every descendant of x with no children of its own,
// identified by rgt = lft + 1. This trusts well-formed storage; it does
// not re-validate ranges.
func Leaves(schema nestedset.Schema, x nestedset.Row) Query {
	return Descendants(schema, x, 0).
		And(schema.Rgt + " = " + schema.Lft + " + 1")
}

// PrevSibling returns a query for x's immediately preceding sibling, if
// any (limit 1).
func PrevSibling(schema nestedset.Schema, x nestedset.Row) Query {
	return scoped(schema, x).
		And(schema.Rgt+" = ?", schema.LftOf(x)-1).
		Limit(1)
}

// NextSibling returns a query for x's immediately following sibling, if
// any (limit 1).
func NextSibling(schema nestedset.Schema, x nestedset.Row) Query {
	return scoped(schema, x).
		And(schema.Lft+" = ?", schema.RgtOf(x)+1).
		Limit(1)
}

// Siblings returns every other node at x's depth whose range falls within
// x's immediate parent's range, excluding x itself. A root has no parent
// range, so it has no siblings by construction (not even other roots in
// other scopes, which And(tree = ?) already excludes).
func Siblings(schema nestedset.Schema, x nestedset.Row) Query {
	parentLft := parentBoundSubquery(schema, x, schema.Lft)
	parentRgt := parentBoundSubquery(schema, x, schema.Rgt)
	return scoped(schema, x).
		And(schema.Depth+" = ?", schema.DepthOf(x)).
		And(schema.PrimaryKey+" != ?", schema.PK(x)).
		And(schema.Lft+" > ("+parentLft+")").
		And(schema.Rgt+" < ("+parentRgt+")").
		OrderBy(schema.Lft + " ASC")
}

// parentBoundSubquery renders a scalar subquery selecting the named bound
// column (lft or rgt) of x's tightest containing ancestor.
func parentBoundSubquery(schema nestedset.Schema, x nestedset.Row, boundCol string) string {
	stmt := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s < %d AND %s > %d AND %s = %d",
		boundCol, schema.Table,
		schema.Lft, schema.LftOf(x),
		schema.Rgt, schema.RgtOf(x),
		schema.Depth, schema.DepthOf(x)-1,
	)
	if col, ok := schema.TreeColumn(); ok {
		stmt += fmt.Sprintf(" AND %s = %v", col, x[col])
	}
	stmt += fmt.Sprintf(" ORDER BY %s DESC LIMIT 1", schema.Lft)
	return stmt
}

// Roots returns every node with lft = 1 (one per scope), ordered by lft
// ascending. Since every root has lft = 1, the order among the roots of
// different trees is not defined.
func Roots(schema nestedset.Schema) Query {
	return New(schema.Table).
		And(schema.Lft + " = 1").
		OrderBy(schema.Lft + " ASC")
}

// Root returns a query for the root of x's scope (limit 1).
func Root(schema nestedset.Schema, x nestedset.Row) Query {
	return scoped(schema, x).
		And(schema.Lft + " = 1").
		Limit(1)
}

// Subtree returns x together with every node it strictly or non-strictly
// contains (i.e. x itself plus Descendants), ordered by lft ascending.
func Subtree(schema nestedset.Schema, x nestedset.Row) Query {
	return scoped(schema, x).
		And(schema.Lft+" >= ?", schema.LftOf(x)).
		And(schema.Rgt+" <= ?", schema.RgtOf(x)).
		OrderBy(schema.Lft + " ASC")
}

// AtDepth returns every node at the given depth, ordered by lft ascending.
// When scope is non-nil, the result is additionally scoped to scope's
// tree in multi-tree mode.
func AtDepth(schema nestedset.Schema, depth int, scope nestedset.Row) Query {
	q := New(schema.Table).And(schema.Depth+" = ?", depth).OrderBy(schema.Lft + " ASC")
	if col, ok := schema.TreeColumn(); ok && scope != nil {
		q = q.And(col+" = ?", scope[col])
	}
	return q
}

// InTree returns every node whose tree discriminator equals id.
func InTree(schema nestedset.Schema, id any) Query {
	col, ok := schema.TreeColumn()
	if !ok {
		return New(schema.Table)
	}
	return New(schema.Table).And(col+" = ?", id)
}
