package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"nestedset/audit"
	"nestedset/store"
	"nestedset/store/sqlitestore"
)

func newAuditTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "ws-test")
	if err != nil {
		t.Fatalf("mkdirtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := sqlitestore.Open(filepath.Join(dir, "tree.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.ExecSchema(context.Background(), audit.SQLiteSchema); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	return st
}

func recordEntry(t *testing.T, st *sqlitestore.Store, op string, nodePK any) {
	t.Helper()
	rec := audit.NewSQLRecorder()
	err := st.Transact(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return rec.Record(ctx, tx, audit.Entry{
			Op:     op,
			Table:  "nodes",
			NodePK: nodePK,
		})
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}
}

func TestPollAuditLogReturnsEntriesAfterSeq(t *testing.T) {
	st := newAuditTestStore(t)
	recordEntry(t, st, "insert", int64(1))
	recordEntry(t, st, "move", int64(1))

	entries, newSeq, err := pollAuditLog(context.Background(), st, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Op != "insert" || entries[1].Op != "move" {
		t.Fatalf("unexpected ops: %+v", entries)
	}
	if newSeq != entries[1].Seq {
		t.Fatalf("expected newSeq to track the last entry's seq, got %d vs %d", newSeq, entries[1].Seq)
	}
}

func TestPollAuditLogOnlyReturnsEntriesAfterGivenSeq(t *testing.T) {
	st := newAuditTestStore(t)
	recordEntry(t, st, "insert", int64(1))

	first, firstSeq, err := pollAuditLog(context.Background(), st, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(first))
	}

	recordEntry(t, st, "delete", int64(1))

	second, secondSeq, err := pollAuditLog(context.Background(), st, firstSeq)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected 1 new entry, got %d", len(second))
	}
	if second[0].Op != "delete" {
		t.Fatalf("expected the delete entry, got %q", second[0].Op)
	}
	if secondSeq <= firstSeq {
		t.Fatalf("expected newSeq to advance, got %d after %d", secondSeq, firstSeq)
	}
}

func TestPollAuditLogEmptyWhenNothingNew(t *testing.T) {
	st := newAuditTestStore(t)
	recordEntry(t, st, "insert", int64(1))

	_, lastSeq, err := pollAuditLog(context.Background(), st, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	entries, newSeq, err := pollAuditLog(context.Background(), st, lastSeq)
	if err != nil {
		t.Fatalf("poll again: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no new entries, got %d", len(entries))
	}
	if newSeq != lastSeq {
		t.Fatalf("expected newSeq unchanged at %d, got %d", lastSeq, newSeq)
	}
}
