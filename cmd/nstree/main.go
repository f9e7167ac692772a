// Command nstree is a local CLI over a single SQLite-backed Nested Sets
// table: create trees, insert and move nodes, delete subtrees, render and
// validate the tree, and bulk import/export.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nestedset/audit"
	"nestedset/engine"
	"nestedset/nestedset"
	"nestedset/store/sqlitestore"
)

var (
	dbPath       string
	tableName    string
	treeColumn   string
	auditEnabled bool
)

var rootCmd = &cobra.Command{
	Use:     "nstree",
	Short:   "nstree manages a Nested Sets tree stored in SQLite",
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./tree.db", "path to the SQLite database file")
	rootCmd.PersistentFlags().StringVar(&tableName, "table", "nodes", "host table name")
	rootCmd.PersistentFlags().StringVar(&treeColumn, "tree-column", "", "tree discriminator column; empty disables multi-tree mode")
	rootCmd.PersistentFlags().BoolVar(&auditEnabled, "audit", true, "record every mutation to the audit log")

	rootCmd.AddCommand(initCmd, rootNodeCmd, insertCmd, moveCmd, rmCmd, mvRootCmd, treeCmd, validateCmd, importCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// schema builds the nestedset.Schema nstree assumes for its host table:
// an integer primary key "id", lft/rgt/depth, an arbitrary-typed payload
// column "payload", and an optional "tree" discriminator.
func schema() nestedset.Schema {
	mode := nestedset.TreeDisabled
	if treeColumn != "" {
		mode = nestedset.TreeEnabled{Column: treeColumn}
	}
	return nestedset.Schema{
		Table:      tableName,
		PrimaryKey: "id",
		Lft:        "lft",
		Rgt:        "rgt",
		Depth:      "depth",
		Tree:       mode,
	}
}

const hostSchemaSQL = `
CREATE TABLE IF NOT EXISTS %s (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	lft     INTEGER NOT NULL,
	rgt     INTEGER NOT NULL,
	depth   INTEGER NOT NULL,
	tree    INTEGER,
	payload TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS %s_lft_idx ON %s(lft);
CREATE INDEX IF NOT EXISTS %s_tree_idx ON %s(tree);
`

func openStore() (*sqlitestore.Store, error) {
	st, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func createHostSchema(st *sqlitestore.Store) error {
	ddl := fmt.Sprintf(hostSchemaSQL, tableName, tableName, tableName, tableName, tableName)
	return st.ExecSchema(context.Background(), ddl)
}

func newEngine(st *sqlitestore.Store) engine.Engine {
	e := engine.New(schema(), st)
	if auditEnabled {
		e = e.WithAudit(audit.NewSQLRecorder(), "")
	}
	return e
}
