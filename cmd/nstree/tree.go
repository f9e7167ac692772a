package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"nestedset/memtree"
	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

var (
	treeDepthLimit int
	treeColor      bool
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "print the tree, indented by depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var rows []nestedset.Row
		err = st.Transact(cmd.Context(), func(ctx context.Context, tx store.Tx) error {
			q := treequery.New(tableName)
			if treeDepthLimit > 0 {
				q = q.And("depth <= ?", treeDepthLimit)
			}
			var err error
			rows, err = tx.Select(ctx, q)
			return err
		})
		if err != nil {
			return err
		}

		s := schema()
		forest := memtree.BuildTree(rows, s, "children")
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

		for _, entry := range memtree.FlattenTree(forest, "children") {
			line := memtree.Indent(entry.Row, s, "  ", "- ") + fmt.Sprint(entry.Row["payload"])
			if treeColor {
				line = style.Render(line)
			}
			fmt.Println(line)
		}
		fmt.Printf("%s nodes\n", humanize.Comma(int64(len(rows))))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "check the tree for structural inconsistencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		s := schema()
		var rows []nestedset.Row
		err = st.Transact(cmd.Context(), func(ctx context.Context, tx store.Tx) error {
			var err error
			rows, err = tx.Select(ctx, treequery.New(tableName))
			return err
		})
		if err != nil {
			return err
		}

		if col, ok := s.TreeColumn(); ok {
			byTree := make(map[any][]nestedset.Row)
			for _, row := range rows {
				byTree[row[col]] = append(byTree[row[col]], row)
			}
			for tree, scoped := range byTree {
				if err := memtree.ValidateTree(scoped, s); err != nil {
					return fmt.Errorf("tree %v: %w", tree, err)
				}
			}
			fmt.Println("ok")
			return nil
		}

		if err := memtree.ValidateTree(rows, s); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	treeCmd.Flags().IntVar(&treeDepthLimit, "depth", 0, "limit output to this depth (0 = unlimited)")
	treeCmd.Flags().BoolVar(&treeColor, "color", isatty.IsTerminal(os.Stdout.Fd()), "colorize output (auto-detected from the terminal when not set)")
}
