// Package predicate holds pure inspectors of a single node or node pair.
// Every function here is schema-aware but side-effect-free: no query is
// built, no statement is executed.
package predicate

import "nestedset/nestedset"

// IsRoot reports whether n is a scope's root: lft = 1.
func IsRoot(schema nestedset.Schema, n nestedset.Row) bool {
	return schema.LftOf(n) == 1
}

// IsLeaf reports whether n has no children: rgt - lft = 1. This trusts
// well-formed storage; a node with drifted boundaries may be misreported.
// See memtree.ValidateTree for an explicit integrity check.
func IsLeaf(schema nestedset.Schema, n nestedset.Row) bool {
	return schema.RgtOf(n)-schema.LftOf(n) == 1
}

// DescendantOf reports whether n is strictly contained within p's range,
// within the same scope.
func DescendantOf(schema nestedset.Schema, n, p nestedset.Row) bool {
	if !schema.SameTree(n, p) {
		return false
	}
	return schema.LftOf(n) > schema.LftOf(p) && schema.RgtOf(n) < schema.RgtOf(p)
}

// ChildOf reports whether n is a direct child of p: a descendant exactly
// one depth level below p.
func ChildOf(schema nestedset.Schema, n, p nestedset.Row) bool {
	return DescendantOf(schema, n, p) && schema.DepthOf(n) == schema.DepthOf(p)+1
}

// DescendantCount returns the number of nodes strictly contained in n's
// range: (rgt - lft - 1) / 2.
func DescendantCount(schema nestedset.Schema, n nestedset.Row) int64 {
	return (schema.RgtOf(n) - schema.LftOf(n) - 1) / 2
}

// CompatibleSchemas reports whether a and b were both produced against the
// same host table and primary key, the minimal check this package can
// perform without a full Schema equality (Schema carries a TreeMode
// interface value, which is not comparable with ==). Callers needing a
// hard guarantee should compare the Schema values they constructed
// themselves rather than infer it from rows.
func CompatibleSchemas(a, b nestedset.Schema) bool {
	return a.Table == b.Table && a.PrimaryKey == b.PrimaryKey
}
