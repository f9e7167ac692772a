package memtree

import (
	"testing"

	"nestedset/nestedset"
)

func testSchema() nestedset.Schema {
	return nestedset.Schema{
		Table:      "nodes",
		PrimaryKey: "id",
		Lft:        "lft",
		Rgt:        "rgt",
		Depth:      "depth",
		Tree:       nestedset.TreeDisabled,
	}
}

func row(id, lft, rgt, depth int64) nestedset.Row {
	return nestedset.Row{"id": id, "lft": lft, "rgt": rgt, "depth": depth}
}

func TestBuildTreeAndFlattenRoundTrip(t *testing.T) {
	schema := testSchema()
	rows := []nestedset.Row{
		row(1, 1, 10, 0),
		row(2, 2, 5, 1),
		row(3, 3, 4, 2),
		row(4, 6, 9, 1),
		row(5, 7, 8, 2),
	}

	forest := BuildTree(rows, schema, "children")
	if len(forest) != 1 {
		t.Fatalf("expected a single root, got %d", len(forest))
	}
	if len(forest[0].Children) != 2 {
		t.Fatalf("expected root to have 2 children, got %d", len(forest[0].Children))
	}

	flat := FlattenTree(forest, "children")
	if len(flat) != len(rows) {
		t.Fatalf("expected %d flattened entries, got %d", len(rows), len(flat))
	}
	for i, entry := range flat {
		if entry.Row["id"] != rows[i]["id"] {
			t.Fatalf("entry %d: expected id %v, got %v", i, rows[i]["id"], entry.Row["id"])
		}
		if int64(entry.Depth) != schema.DepthOf(rows[i]) {
			t.Fatalf("entry %d: expected depth %d, got %d", i, schema.DepthOf(rows[i]), entry.Depth)
		}
	}
}

func TestBuildTreeUnsortedInput(t *testing.T) {
	schema := testSchema()
	rows := []nestedset.Row{
		row(3, 3, 4, 2),
		row(1, 1, 10, 0),
		row(5, 7, 8, 2),
		row(2, 2, 5, 1),
		row(4, 6, 9, 1),
	}

	forest := BuildTree(rows, schema, "children")
	flat := FlattenTree(forest, "children")
	wantOrder := []int64{1, 2, 3, 4, 5}
	for i, entry := range flat {
		if entry.Row["id"] != wantOrder[i] {
			t.Fatalf("position %d: expected id %d, got %v", i, wantOrder[i], entry.Row["id"])
		}
	}
}

func TestValidateTreeAcceptsWellFormed(t *testing.T) {
	schema := testSchema()
	rows := []nestedset.Row{
		row(1, 1, 10, 0),
		row(2, 2, 5, 1),
		row(3, 3, 4, 2),
		row(4, 6, 9, 1),
	}
	if err := ValidateTree(rows, schema); err != nil {
		t.Fatalf("expected valid tree, got %v", err)
	}
}

func TestValidateTreeDetectsInvalidLftRgt(t *testing.T) {
	schema := testSchema()
	rows := []nestedset.Row{
		row(1, 1, 10, 0),
		row(2, 5, 5, 1),
	}
	err := ValidateTree(rows, schema)
	if _, ok := err.(InvalidLftRgtError); !ok {
		t.Fatalf("expected InvalidLftRgtError, got %v", err)
	}
}

func TestValidateTreeDetectsOverlap(t *testing.T) {
	schema := testSchema()
	rows := []nestedset.Row{
		row(1, 1, 10, 0),
		row(2, 2, 5, 1),
		row(3, 4, 7, 2),
	}
	err := ValidateTree(rows, schema)
	if _, ok := err.(OverlapError); !ok {
		t.Fatalf("expected OverlapError, got %v", err)
	}
}

func TestValidateTreeDetectsWrongDepth(t *testing.T) {
	schema := testSchema()
	rows := []nestedset.Row{
		row(1, 1, 10, 0),
		row(2, 2, 5, 5),
	}
	err := ValidateTree(rows, schema)
	if _, ok := err.(InvalidDepthError); !ok {
		t.Fatalf("expected InvalidDepthError, got %v", err)
	}
}

func TestRebuildFromHierarchyAssignsContiguousBounds(t *testing.T) {
	data := []HierarchyNode{
		{
			Payload: nestedset.Row{"name": "root"},
			Children: []HierarchyNode{
				{Payload: nestedset.Row{"name": "a"}},
				{
					Payload: nestedset.Row{"name": "b"},
					Children: []HierarchyNode{
						{Payload: nestedset.Row{"name": "b1"}},
					},
				},
			},
		},
	}

	entries := RebuildFromHierarchy(data, "children")
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	schema := testSchema()
	rows := make([]nestedset.Row, len(entries))
	for i, e := range entries {
		r := e.Payload.Clone()
		r["lft"] = e.Lft
		r["rgt"] = e.Rgt
		r["depth"] = e.Depth
		rows[i] = r
	}
	if err := ValidateTree(rows, schema); err != nil {
		t.Fatalf("rebuilt tree is invalid: %v", err)
	}

	if entries[0].Lft != 1 {
		t.Fatalf("expected the root's lft to be 1, got %d", entries[0].Lft)
	}
	maxRgt := int64(0)
	for _, e := range entries {
		if e.Rgt > maxRgt {
			maxRgt = e.Rgt
		}
	}
	if maxRgt != int64(2*len(entries)) {
		t.Fatalf("expected max rgt to be %d, got %d", 2*len(entries), maxRgt)
	}
}

func TestIndent(t *testing.T) {
	schema := testSchema()
	if got := Indent(row(1, 1, 2, 0), schema, "  ", "- "); got != "" {
		t.Fatalf("expected root to render as the empty string, got %q", got)
	}
	if got := Indent(row(2, 2, 3, 2), schema, "  ", "- "); got != "    - " {
		t.Fatalf("expected depth-2 indent, got %q", got)
	}
}

func TestPathString(t *testing.T) {
	schema := testSchema()
	ancestors := []nestedset.Row{
		{"id": int64(1), "name": "root"},
		{"id": int64(2), "name": "a"},
	}
	node := nestedset.Row{"id": int64(3), "name": "a1"}
	got := PathString(node, ancestors, schema, "/", "name")
	if got != "root/a/a1" {
		t.Fatalf("expected %q, got %q", "root/a/a1", got)
	}
}
