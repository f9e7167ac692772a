// Package treequery builds composable, dialect-agnostic queries over a
// Nested Sets host table. Builder functions never execute anything; a
// Query is a value the caller hands to a nestedset/store.Repository (or
// appends further predicates to first).
package treequery

import "fmt"

// Query is an immutable, composable value describing a SELECT-shaped
// filter over one table: a list of ANDed predicate fragments with
// positional args, an optional column projection, order, and limit. Every
// method returns a new Query; the receiver is never mutated.
type Query struct {
	table   string
	cols    []string
	conds   []string
	args    []any
	orderBy string
	limit   int
}

// New starts a Query against table.
func New(table string) Query {
	return Query{table: table}
}

// Table returns the host table name.
func (q Query) Table() string { return q.table }

// And returns a copy of q with an additional ANDed predicate fragment.
// cond uses "?" placeholders; args are positional.
func (q Query) And(cond string, args ...any) Query {
	out := q.clone()
	out.conds = append(out.conds, cond)
	out.args = append(out.args, args...)
	return out
}

// Select returns a copy of q projecting only the named columns. Without a
// call to Select, the query projects every column ("*").
func (q Query) Select(cols ...string) Query {
	out := q.clone()
	out.cols = append([]string(nil), cols...)
	return out
}

// OrderBy returns a copy of q ordered by the given SQL fragment, e.g.
// "lft ASC".
func (q Query) OrderBy(order string) Query {
	out := q.clone()
	out.orderBy = order
	return out
}

// Limit returns a copy of q limited to n rows. n <= 0 means no limit.
func (q Query) Limit(n int) Query {
	out := q.clone()
	out.limit = n
	return out
}

// Conds and Args expose the accumulated predicate fragments and their
// positional arguments, in the order they were added, for adapters that
// compile their own dialect-specific SQL.
func (q Query) Conds() []string { return append([]string(nil), q.conds...) }
func (q Query) Args() []any     { return append([]any(nil), q.args...) }
func (q Query) Columns() []string {
	if len(q.cols) == 0 {
		return []string{"*"}
	}
	return append([]string(nil), q.cols...)
}
func (q Query) Order() string { return q.orderBy }
func (q Query) LimitN() int   { return q.limit }

func (q Query) clone() Query {
	out := Query{
		table:   q.table,
		orderBy: q.orderBy,
		limit:   q.limit,
	}
	out.cols = append([]string(nil), q.cols...)
	out.conds = append([]string(nil), q.conds...)
	out.args = append([]any(nil), q.args...)
	return out
}

// WhereClause renders the accumulated conditions as a single "WHERE ..."
// SQL fragment (empty string if there are none), with placeholders
// substituted by placeholder(i) for the i-th positional argument
// (1-indexed), so each adapter can supply its own placeholder style
// ("?" for SQLite, "$1" for PostgreSQL).
func (q Query) WhereClause(placeholder func(i int) string) string {
	if len(q.conds) == 0 {
		return ""
	}
	clause := "WHERE "
	argIdx := 0
	for i, cond := range q.conds {
		if i > 0 {
			clause += " AND "
		}
		clause += "(" + substitutePlaceholders(cond, &argIdx, placeholder) + ")"
	}
	return clause
}

// substitutePlaceholders walks cond left to right, replacing every "?"
// with placeholder(argIdx), incrementing argIdx per replacement.
func substitutePlaceholders(cond string, argIdx *int, placeholder func(i int) string) string {
	out := make([]byte, 0, len(cond))
	for i := 0; i < len(cond); i++ {
		if cond[i] == '?' {
			*argIdx++
			out = append(out, placeholder(*argIdx)...)
			continue
		}
		out = append(out, cond[i])
	}
	return string(out)
}

// SQL renders a full "SELECT ... FROM ... WHERE ... ORDER BY ... LIMIT ..."
// statement using "?" placeholders, for adapters (like the SQLite one)
// that use positional "?" markers natively.
func (q Query) SQL() (string, []any) {
	stmt := fmt.Sprintf("SELECT %s FROM %s", columnList(q.Columns()), q.table)
	where := q.WhereClause(func(int) string { return "?" })
	if where != "" {
		stmt += " " + where
	}
	if q.orderBy != "" {
		stmt += " ORDER BY " + q.orderBy
	}
	if q.limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.limit)
	}
	return stmt, q.Args()
}

func columnList(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
