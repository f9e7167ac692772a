// Package memtree provides in-memory helpers that operate on already
// fetched rows: rebuilding a hierarchy from a flat lft/rgt listing,
// flattening it back out, rendering paths and indentation, validating
// well-formedness, and computing lft/rgt/depth from a plain nested
// hierarchy.
package memtree

import (
	"fmt"
	"sort"
	"strings"

	"nestedset/nestedset"
)

// Nested pairs a row with its already-built children, in lft order.
type Nested struct {
	Row      nestedset.Row
	Children []Nested
}

// FlatEntry is one row of an in-order traversal, paired with its depth.
type FlatEntry struct {
	Row   nestedset.Row
	Depth int
}

// BuildTree groups a flat, lft-ordered row listing into a forest. rows
// need not be pre-sorted; BuildTree sorts a copy by lft before grouping.
// childKey is unused by the Nested-returning form; it exists so callers
// that want plain Row values with an embedded children slice can pass it
// to Nested.Flatten-style helpers layered on top (kept here only to match
// the documented signature).
func BuildTree(rows []nestedset.Row, schema nestedset.Schema, childKey string) []Nested {
	sorted := make([]nestedset.Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return schema.LftOf(sorted[i]) < schema.LftOf(sorted[j])
	})
	tree, _ := buildLevel(sorted, schema)
	return tree
}

// buildLevel consumes a prefix of remaining and returns the Nested values
// for one level, plus the unconsumed remainder.
func buildLevel(remaining []nestedset.Row, schema nestedset.Schema) ([]Nested, []nestedset.Row) {
	var level []Nested
	for len(remaining) > 0 {
		node := remaining[0]
		r := schema.RgtOf(node)
		rest := remaining[1:]

		// The contiguous prefix of rest with rgt < r belongs to node's
		// subtree; everything after belongs to a sibling or ancestor.
		cut := 0
		for cut < len(rest) && schema.RgtOf(rest[cut]) < r {
			cut++
		}

		children, _ := buildLevel(rest[:cut], schema)
		level = append(level, Nested{Row: node, Children: children})
		remaining = rest[cut:]
	}
	return level, remaining
}

// FlattenTree performs an in-order (pre-order) traversal of tree,
// producing FlatEntry pairs whose Row copies never carry a children
// collection. childKey is accepted to mirror BuildTree's signature but is
// unused: Nested already separates Row from Children.
func FlattenTree(tree []Nested, childKey string) []FlatEntry {
	var out []FlatEntry
	var walk func(nodes []Nested, depth int)
	walk = func(nodes []Nested, depth int) {
		for _, n := range nodes {
			out = append(out, FlatEntry{Row: n.Row, Depth: depth})
			walk(n.Children, depth+1)
		}
	}
	walk(tree, 0)
	return out
}

// PathString renders ancestors followed by node, each projected through
// nameField, joined by separator.
func PathString(node nestedset.Row, ancestors []nestedset.Row, schema nestedset.Schema, separator, nameField string) string {
	parts := make([]string, 0, len(ancestors)+1)
	for _, a := range ancestors {
		parts = append(parts, fmt.Sprint(a[nameField]))
	}
	parts = append(parts, fmt.Sprint(node[nameField]))
	return strings.Join(parts, separator)
}

// Indent returns indentString repeated once per depth level, followed by
// prefix; a root (depth 0) renders as the empty string, without prefix.
func Indent(node nestedset.Row, schema nestedset.Schema, indentString, prefix string) string {
	depth := int(schema.DepthOf(node))
	if depth <= 0 {
		return ""
	}
	return strings.Repeat(indentString, depth) + prefix
}

// InvalidLftRgtError reports a row whose lft is not strictly less than
// its rgt.
type InvalidLftRgtError struct {
	Row nestedset.Row
}

func (e InvalidLftRgtError) Error() string {
	return fmt.Sprintf("memtree: invalid lft/rgt on row %v", e.Row)
}

// OverlapError reports a row whose range straddles a preceding open
// range without being fully contained by it.
type OverlapError struct {
	Row nestedset.Row
}

func (e OverlapError) Error() string {
	return fmt.Sprintf("memtree: overlapping range on row %v", e.Row)
}

// InvalidDepthError reports a row whose depth does not match the nesting
// level implied by its position in the sweep.
type InvalidDepthError struct {
	Row      nestedset.Row
	Expected int
}

func (e InvalidDepthError) Error() string {
	return fmt.Sprintf("memtree: row %v has the wrong depth, expected %d", e.Row, e.Expected)
}

type frame struct {
	rgt int64
}

// ValidateTree checks lft < rgt, P3, and depth consistency across rows
// (which need not be pre-sorted) via a single sorted sweep with a stack of
// open frames. It does not check that rgt - lft is odd, nor P4 (contiguity of the full 1..2N range)
// directly; callers that need that guarantee call it alongside an
// Aggregate-based count comparison, since ValidateTree operates purely
// in memory over whatever rows were handed to it (possibly a subtree,
// not the whole scope).
func ValidateTree(rows []nestedset.Row, schema nestedset.Schema) error {
	sorted := make([]nestedset.Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return schema.LftOf(sorted[i]) < schema.LftOf(sorted[j])
	})

	var stack []frame
	for _, row := range sorted {
		l, r, d := schema.LftOf(row), schema.RgtOf(row), schema.DepthOf(row)
		if l >= r {
			return InvalidLftRgtError{Row: row}
		}

		for len(stack) > 0 && stack[len(stack)-1].rgt < l {
			stack = stack[:len(stack)-1]
		}

		if len(stack) > 0 && stack[len(stack)-1].rgt < r {
			return OverlapError{Row: row}
		}

		if int(d) != len(stack) {
			return InvalidDepthError{Row: row, Expected: len(stack)}
		}

		stack = append(stack, frame{rgt: r})
	}
	return nil
}

// HierarchyNode is the plain-nested-data input to RebuildFromHierarchy: a
// payload row together with its children, unordered within a level only
// by whatever order the caller supplies (depth-first assignment uses that
// order directly).
type HierarchyNode struct {
	Payload  nestedset.Row
	Children []HierarchyNode
}

// RebuiltEntry is one output of RebuildFromHierarchy: the original
// payload annotated with freshly computed lft, rgt, and depth.
type RebuiltEntry struct {
	Payload nestedset.Row
	Lft     int64
	Rgt     int64
	Depth   int64
}

// RebuildFromHierarchy assigns lft/rgt/depth to a plain nested hierarchy
// via a depth-first walk with a monotonically increasing counter,
// starting lft numbering at 1. childKey is accepted to mirror the
// documented signature; HierarchyNode already carries children
// structurally so it is otherwise unused.
func RebuildFromHierarchy(data []HierarchyNode, childKey string) []RebuiltEntry {
	counter := int64(1)
	var out []RebuiltEntry
	var walk func(nodes []HierarchyNode, depth int64)
	walk = func(nodes []HierarchyNode, depth int64) {
		for _, n := range nodes {
			lft := counter
			counter++
			walk(n.Children, depth+1)
			rgt := counter
			counter++
			out = append(out, RebuiltEntry{Payload: n.Payload, Lft: lft, Rgt: rgt, Depth: depth})
		}
	}
	walk(data, 0)
	sort.Slice(out, func(i, j int) bool { return out[i].Lft < out[j].Lft })
	return out
}
