package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nestedset/memtree"
	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

// yamlNode is the on-disk shape `nstree import` reads: a name, an
// arbitrary payload map, and nested children. It is converted into
// memtree.HierarchyNode before being handed to RebuildFromHierarchy.
type yamlNode struct {
	Name     string                 `yaml:"name"`
	Payload  map[string]interface{} `yaml:"payload,omitempty"`
	Children []yamlNode             `yaml:"children,omitempty"`
}

func (n yamlNode) toHierarchy() memtree.HierarchyNode {
	payload := map[string]interface{}{"name": n.Name}
	for k, v := range n.Payload {
		payload[k] = v
	}
	encoded, _ := json.Marshal(payload)

	children := make([]memtree.HierarchyNode, len(n.Children))
	for i, c := range n.Children {
		children[i] = c.toHierarchy()
	}
	return memtree.HierarchyNode{
		Payload:  nestedset.Row{"payload": string(encoded)},
		Children: children,
	}
}

var importTreeValue string

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "bulk-load a tree from a YAML hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var roots []yamlNode
		if err := yaml.Unmarshal(data, &roots); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		hierarchy := make([]memtree.HierarchyNode, len(roots))
		for i, r := range roots {
			hierarchy[i] = r.toHierarchy()
		}

		entries := memtree.RebuildFromHierarchy(hierarchy, "children")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		s := schema()
		err = st.Transact(cmd.Context(), func(ctx context.Context, tx store.Tx) error {
			for _, e := range entries {
				values := e.Payload.Clone()
				values[s.Lft] = e.Lft
				values[s.Rgt] = e.Rgt
				values[s.Depth] = e.Depth
				if col, ok := s.TreeColumn(); ok {
					values[col] = importTreeValue
				}
				if _, err := tx.Insert(ctx, s.Table, values); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		fmt.Printf("imported %s nodes\n", humanize.Comma(int64(len(entries))))
		return nil
	},
}

var exportZstd bool

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "dump every row of the table, in lft order, to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var rows []nestedset.Row
		err = st.Transact(cmd.Context(), func(ctx context.Context, tx store.Tx) error {
			var err error
			rows, err = tx.Select(ctx, treequery.New(tableName).OrderBy("lft ASC"))
			return err
		})
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}

		out := encoded
		size := len(encoded)
		if exportZstd {
			enc, err := zstd.NewWriter(nil)
			if err != nil {
				return err
			}
			out = enc.EncodeAll(encoded, nil)
			enc.Close()
		}

		if err := os.WriteFile(args[0], out, 0o644); err != nil {
			return err
		}

		fmt.Printf("exported %s nodes (%s", humanize.Comma(int64(len(rows))), humanize.Bytes(uint64(size)))
		if exportZstd {
			fmt.Printf(" -> %s compressed", humanize.Bytes(uint64(len(out))))
		}
		fmt.Println(")")
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importTreeValue, "tree", "", "tree discriminator value to assign every imported row")
	exportCmd.Flags().BoolVar(&exportZstd, "zstd", false, "compress the export with zstd")
}
