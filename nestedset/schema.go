// Package nestedset defines the schema descriptor and shared row type that
// every other package in this module threads through: the query builder,
// the in-memory helpers, the predicates, and the mutation engine all take a
// Schema and operate on Row values, never a concrete host struct.
package nestedset

// Row is the generic representation of a persisted or in-memory node: a map
// keyed by column name. The core never knows the host table's payload
// columns, so it reads and writes only the columns named by Schema and
// leaves everything else untouched.
type Row map[string]any

// Int returns row[col] coerced to int64, or (0, false) if absent or not an
// int64, int or int32. SQLite and PostgreSQL drivers both hand back int64 for INTEGER
// columns, but literal Rows built by callers may use plain int.
func (r Row) Int(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case nil:
		return 0, false
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TreeMode is a closed sum type: either tree scoping is disabled, or it is
// enabled with a named discriminator column. Code branches on this variant
// once, at the call sites that need it, instead of re-checking a boolean
// flag scattered through the mutation engine and query builder.
type TreeMode interface {
	treeMode()
}

// treeDisabled is the TreeMode for single-tree schemas.
type treeDisabled struct{}

func (treeDisabled) treeMode() {}

// TreeDisabled is the TreeMode value for single-tree schemas: only one root
// may ever exist, and no tree column is read or written.
var TreeDisabled TreeMode = treeDisabled{}

// TreeEnabled is the TreeMode value for multi-tree schemas: the named
// column discriminates independent Nested Sets domains within one table.
type TreeEnabled struct {
	Column string
}

func (TreeEnabled) treeMode() {}

// Schema is the node-schema descriptor: the attribute names for lft, rgt,
// depth, and (optionally) the tree discriminator, plus the primary-key
// column name and the host table name. Every operation in this module
// takes a Schema by value.
type Schema struct {
	Table      string
	PrimaryKey string
	Lft        string
	Rgt        string
	Depth      string
	Tree       TreeMode
}

// Validate reports ErrSchemaNotConfigured when s is missing a column name
// every operation in this module assumes is set: the host table, the
// primary key, or any of the three range columns. Engine calls this once
// per exported method so a zero-value or partially-built Schema fails
// fast, before a transaction is even opened, rather than producing SQL
// referencing an empty column name.
func (s Schema) Validate() error {
	if s.Table == "" || s.PrimaryKey == "" || s.Lft == "" || s.Rgt == "" || s.Depth == "" {
		return ErrSchemaNotConfigured
	}
	return nil
}

// MultiTree reports whether this schema has tree scoping enabled.
func (s Schema) MultiTree() bool {
	_, ok := s.Tree.(TreeEnabled)
	return ok
}

// TreeColumn returns the tree discriminator column name and true when
// multi-tree mode is enabled, or ("", false) in single-tree mode.
func (s Schema) TreeColumn() (string, bool) {
	if te, ok := s.Tree.(TreeEnabled); ok {
		return te.Column, true
	}
	return "", false
}

// PK returns the primary-key value of row, or nil if the row is new
// (unpersisted).
func (s Schema) PK(row Row) any {
	return row[s.PrimaryKey]
}

// IsPersisted reports whether row carries a non-nil primary key.
func (s Schema) IsPersisted(row Row) bool {
	return row[s.PrimaryKey] != nil
}

// LftOf, RgtOf, DepthOf, TreeOf read the range fields off row according to
// the schema's column names, returning 0 when the row lacks them.
func (s Schema) LftOf(row Row) int64 {
	v, _ := row.Int(s.Lft)
	return v
}

func (s Schema) RgtOf(row Row) int64 {
	v, _ := row.Int(s.Rgt)
	return v
}

func (s Schema) DepthOf(row Row) int64 {
	v, _ := row.Int(s.Depth)
	return v
}

// TreeOf returns the tree discriminator value of row, or nil in
// single-tree mode or when the row has none set.
func (s Schema) TreeOf(row Row) any {
	col, ok := s.TreeColumn()
	if !ok {
		return nil
	}
	return row[col]
}

// SameTree reports whether a and b are in the same scope under s: always
// true in single-tree mode, otherwise true when their tree values compare
// equal (including both nil, i.e. both unset).
func (s Schema) SameTree(a, b Row) bool {
	col, ok := s.TreeColumn()
	if !ok {
		return true
	}
	return a[col] == b[col]
}
