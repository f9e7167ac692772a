package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "sqlitestore-test")
	if err != nil {
		t.Fatalf("mkdirtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := Open(filepath.Join(dir, "tree.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ddl := `CREATE TABLE nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lft INTEGER NOT NULL,
		rgt INTEGER NOT NULL,
		depth INTEGER NOT NULL,
		name TEXT
	);`
	if err := st.ExecSchema(context.Background(), ddl); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	return st
}

func TestInsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var inserted nestedset.Row
	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inserted, err = tx.Insert(ctx, "nodes", nestedset.Row{"lft": int64(1), "rgt": int64(2), "depth": int64(0), "name": "root"}, "id")
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted["id"] == nil {
		t.Fatalf("expected insert to populate id")
	}

	var fetched nestedset.Row
	err = st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		fetched, err = tx.Get(ctx, "nodes", "id", inserted["id"])
		return err
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched["name"] != "root" {
		t.Fatalf("expected name %q, got %v", "root", fetched["name"])
	}
}

func TestInsertWithoutReturningLeavesPrimaryKeyUnset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var inserted nestedset.Row
	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inserted, err = tx.Insert(ctx, "nodes", nestedset.Row{"lft": int64(1), "rgt": int64(2), "depth": int64(0), "name": "root"})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok := inserted["id"]; ok {
		t.Fatalf("expected no id populated without a returning column, got %v", inserted["id"])
	}
}

func TestGetMissingReturnsNilRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var fetched nestedset.Row
	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		fetched, err = tx.Get(ctx, "nodes", "id", int64(999))
		return err
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected nil row for a missing id, got %v", fetched)
	}
}

func TestUpdateAllWithIncrementAndSet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.Insert(ctx, "nodes", nestedset.Row{"lft": int64(i + 1), "rgt": int64(i + 2), "depth": int64(0), "name": "n"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var affected int64
	err = st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		affected, err = tx.UpdateAll(ctx, treequery.New("nodes").And("lft >= ?", int64(2)), store.UpdateOps{
			Increment: map[string]int64{"lft": 10, "rgt": 10},
			Set:       map[string]any{"name": "moved"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("update all: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected 2 rows affected, got %d", affected)
	}

	var rows []nestedset.Row
	err = st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rows, err = tx.Select(ctx, treequery.New("nodes").OrderBy("lft ASC"))
		return err
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rows[0]["lft"] != int64(1) || rows[0]["name"] != "n" {
		t.Fatalf("expected first row untouched, got %+v", rows[0])
	}
	if rows[1]["lft"] != int64(12) || rows[1]["name"] != "moved" {
		t.Fatalf("expected second row shifted and renamed, got %+v", rows[1])
	}
}

func TestDeleteAll(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Insert(ctx, "nodes", nestedset.Row{"lft": int64(1), "rgt": int64(2), "depth": int64(0), "name": "a"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var count int64
	err = st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		count, err = tx.DeleteAll(ctx, treequery.New("nodes").And("name = ?", "a"))
		return err
	})
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row deleted, got %d", count)
	}
}

func TestExistsAndAggregate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.Insert(ctx, "nodes", nestedset.Row{"lft": int64(i), "rgt": int64(i + 1), "depth": int64(0)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var exists bool
	var count int64
	err = st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		exists, err = tx.Exists(ctx, treequery.New("nodes").And("lft = ?", int64(1)))
		if err != nil {
			return err
		}
		count, err = tx.Aggregate(ctx, treequery.New("nodes"), "COUNT", "*")
		return err
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !exists {
		t.Fatalf("expected a row with lft=1 to exist")
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestTransactRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sentinel := context.DeadlineExceeded
	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Insert(ctx, "nodes", nestedset.Row{"lft": int64(1), "rgt": int64(2), "depth": int64(0)}); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected the sentinel error to propagate, got %v", err)
	}

	var count int64
	err = st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		count, err = tx.Aggregate(ctx, treequery.New("nodes"), "COUNT", "*")
		return err
	})
	if err != nil {
		t.Fatalf("count after rollback: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected the insert to have been rolled back, got count %d", count)
	}
}

func TestReloadMissingRowErrors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Reload(ctx, "nodes", nestedset.Row{"id": int64(999)}, "id")
		return err
	})
	if err == nil {
		t.Fatalf("expected an error reloading a missing row")
	}
}
