package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"nestedset/engine"
	"nestedset/nestedset"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create the host table and audit log in the database file",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.EnsureAuditSchema(context.Background()); err != nil {
			return err
		}
		return createHostSchema(st)
	},
}

var rootNodeCmd = &cobra.Command{
	Use:   "root <name>",
	Short: "create a root node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		row, err := newEngine(st).MakeRoot(cmd.Context(), nestedset.Row{"payload": payloadJSON(args[0])})
		if err != nil {
			return err
		}
		return printRow(row)
	},
}

var (
	insertPosition string
	insertTarget   int64
)

var insertCmd = &cobra.Command{
	Use:   "insert <payload-json>",
	Short: "insert a new node relative to --target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := engine.ParsePosition(insertPosition)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		payload := nestedset.Row{"payload": args[0]}
		target := nestedset.Row{"id": insertTarget}
		row, err := newEngine(st).Move(cmd.Context(), pos, payload, target)
		if err != nil {
			return err
		}
		return printRow(row)
	},
}

var (
	movePosition string
	moveTarget   int64
	moveNode     int64
)

var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "move an existing node relative to --target",
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := engine.ParsePosition(movePosition)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		node := nestedset.Row{"id": moveNode}
		target := nestedset.Row{"id": moveTarget}
		row, err := newEngine(st).Move(cmd.Context(), pos, node, target)
		if err != nil {
			return err
		}
		return printRow(row)
	},
}

var rmWithChildren bool

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "delete a node, or a whole subtree with --with-children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		node := nestedset.Row{"id": id}
		e := newEngine(st)
		if rmWithChildren {
			count, err := e.DeleteWithChildren(cmd.Context(), node)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d rows\n", count)
			return nil
		}

		row, err := e.DeleteNode(cmd.Context(), node)
		if err != nil {
			return err
		}
		return printRow(row)
	},
}

var mvRootCmd = &cobra.Command{
	Use:   "mv-root <id>",
	Short: "detach a node's subtree into its own independent tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		row, err := newEngine(st).MakeRootFrom(cmd.Context(), nestedset.Row{"id": id})
		if err != nil {
			return err
		}
		return printRow(row)
	},
}

func init() {
	insertCmd.Flags().StringVar(&insertPosition, "position", "append", "prepend|append|before|after")
	insertCmd.Flags().Int64Var(&insertTarget, "target", 0, "primary key of the target node")

	moveCmd.Flags().StringVar(&movePosition, "position", "append", "prepend|append|before|after")
	moveCmd.Flags().Int64Var(&moveTarget, "target", 0, "primary key of the target node")
	moveCmd.Flags().Int64Var(&moveNode, "node", 0, "primary key of the node to move")

	rmCmd.Flags().BoolVar(&rmWithChildren, "with-children", false, "delete the whole subtree instead of promoting children")
}

// payloadJSON wraps a bare name string into the minimal JSON object
// nstree's default host schema expects in its payload column.
func payloadJSON(name string) string {
	b, _ := json.Marshal(map[string]string{"name": name})
	return string(b)
}

func printRow(row nestedset.Row) error {
	b, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
