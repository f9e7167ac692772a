// Package audit provides a hash-chained, append-only log of mutation
// events: one entry per committed Nested Sets mutation, written inside the
// same transaction as the mutation itself so a rolled-back mutation never
// produces an entry. The chain shape mirrors the reference codebase's ref
// history: each entry points at the previous entry for the same table via
// a content-addressed id.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        []byte
	Parent    []byte
	Time      int64
	Actor     string
	Op        string
	Table     string
	Tree      any
	NodePK    any
	Detail    json.RawMessage
}

// Recorder is the narrow interface the mutation engine calls once per
// committed mutation when audit logging is configured.
type Recorder interface {
	Record(ctx context.Context, tx store.Tx, entry Entry) error
}

// chainEntry is the canonical, fixed-field-order form hashed to produce Entry.ID;
// json.Marshal on a struct already emits fields in a fixed declared order,
// which is what "canonical" means here (no map key reordering needed,
// unlike the reference codebase's CanonicalJSON helper for arbitrary
// map[string]interface{} payloads).
type chainEntry struct {
	Parent string          `json:"parent,omitempty"`
	Time   int64           `json:"time"`
	Actor  string          `json:"actor"`
	Op     string          `json:"op"`
	Table  string          `json:"table"`
	Tree   any             `json:"tree,omitempty"`
	NodePK any             `json:"node_pk,omitempty"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Table is the name of the host table holding the audit log.
const Table = "audit_log"

// SQLRecorder is the shipped Recorder implementation: it writes to a table
// named audit_log with columns (id, parent, time, actor, op, host_table,
// tree, node_pk, detail), created by the same schema the SQLite and
// PostgreSQL adapters embed.
type SQLRecorder struct{}

// NewSQLRecorder returns a Recorder backed by the audit_log table.
func NewSQLRecorder() SQLRecorder { return SQLRecorder{} }

// Record appends entry to the audit_log table within tx, after chaining
// its Parent to the most recent entry for entry.Table and computing a
// content-addressed ID over the canonical encoding.
func (SQLRecorder) Record(ctx context.Context, tx store.Tx, entry Entry) error {
	if entry.Time == 0 {
		entry.Time = time.Now().UnixMilli()
	}
	if entry.Actor == "" {
		entry.Actor = uuid.NewString()
	}

	last, err := latestEntry(ctx, tx, entry.Table)
	if err != nil {
		return err
	}
	if last != nil {
		entry.Parent = last.ID
	}

	id, canonical, err := hashEntry(entry)
	if err != nil {
		return err
	}
	entry.ID = id

	_, err = tx.Insert(ctx, Table, nestedset.Row{
		"id":         entry.ID,
		"parent":     nullableBytes(entry.Parent),
		"time":       entry.Time,
		"actor":      entry.Actor,
		"op":         entry.Op,
		"host_table": entry.Table,
		"tree":       entry.Tree,
		"node_pk":    entry.NodePK,
		"detail":     string(canonical),
	})
	return err
}

// latestEntry returns the most recently written entry for table, or nil
// when the chain is empty.
func latestEntry(ctx context.Context, tx store.Tx, table string) (*Entry, error) {
	q := treequery.New(Table).
		And("host_table = ?", table).
		OrderBy("seq DESC").
		Limit(1)
	rows, err := tx.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	id, _ := row["id"].([]byte)
	return &Entry{ID: id}, nil
}

func hashEntry(entry Entry) (id []byte, canonical []byte, err error) {
	canonical, err = json.Marshal(chainEntry{
		Parent: string(entry.Parent),
		Time:   entry.Time,
		Actor:  entry.Actor,
		Op:     entry.Op,
		Table:  entry.Table,
		Tree:   entry.Tree,
		NodePK: entry.NodePK,
		Detail: entry.Detail,
	})
	if err != nil {
		return nil, nil, err
	}
	sum := blake3.Sum256(canonical)
	return sum[:], canonical, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// SQLiteSchema is the SQL used to create the audit_log table on SQLite,
// embedded by store/sqlitestore.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         BLOB NOT NULL,
	parent     BLOB,
	time       INTEGER NOT NULL,
	actor      TEXT NOT NULL,
	op         TEXT NOT NULL,
	host_table TEXT NOT NULL,
	tree       INTEGER,
	node_pk    INTEGER,
	detail     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_host_table_idx ON audit_log(host_table, time);
`

// PostgresSchema is the SQL used to create the audit_log table on
// PostgreSQL, embedded by store/pqstore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq        BIGSERIAL PRIMARY KEY,
	id         BYTEA NOT NULL,
	parent     BYTEA,
	time       BIGINT NOT NULL,
	actor      TEXT NOT NULL,
	op         TEXT NOT NULL,
	host_table TEXT NOT NULL,
	tree       BIGINT,
	node_pk    BIGINT,
	detail     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_host_table_idx ON audit_log(host_table, time);
`
