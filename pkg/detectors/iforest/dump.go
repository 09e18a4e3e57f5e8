package iforest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// DumpFormat selects how Dump renders the trees.
type DumpFormat string

const (
	// DumpText renders each tree as an indented outline.
	DumpText DumpFormat = "text"
	// DumpTable renders one table row per node.
	DumpTable DumpFormat = "table"
	// DumpJSON renders a nested JSON document.
	DumpJSON DumpFormat = "json"
)

// Dump writes every tree of a built forest to w.
func (f *IsolationForest) Dump(w io.Writer, format DumpFormat) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return fmt.Errorf("dump: forest not built: %w", ErrInvalidState)
	}

	var err error
	switch format {
	case DumpText, "":
		err = dumpText(w, f.trees)
	case DumpTable:
		err = dumpTable(w, f.trees)
	case DumpJSON:
		err = dumpJSON(w, f.trees)
	default:
		return fmt.Errorf("dump: %q: %w", format, ErrUnknownDumpFormat)
	}
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return nil
}

func dumpText(w io.Writer, trees []*Tree) error {
	var sb strings.Builder
	for i, t := range trees {
		fmt.Fprintf(&sb, "tree %d (nodes=%d depth=%d)\n", i, t.Len(), t.Depth())
		t.Walk(func(n NodeInfo) {
			indent := strings.Repeat("  ", n.Depth+1)
			if n.Internal {
				fmt.Fprintf(&sb, "%s%s < %g\n", indent, n.Feature, n.Split)
				return
			}
			fmt.Fprintf(&sb, "%sleaf size=%d\n", indent, n.Size)
		})
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func dumpTable(w io.Writer, trees []*Tree) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Tree", "Node", "Depth", "Kind", "Feature", "Split", "Size", "Left", "Right"})
	for i, t := range trees {
		t.Walk(func(n NodeInfo) {
			if n.Internal {
				tw.AppendRow(table.Row{i, n.ID, n.Depth, "internal", n.Feature, n.Split, "", n.Left, n.Right})
				return
			}
			tw.AppendRow(table.Row{i, n.ID, n.Depth, "external", "", "", n.Size, "", ""})
		})
		if i < len(trees)-1 {
			tw.AppendSeparator()
		}
	}
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

type jsonNode struct {
	Kind    string    `json:"kind"`
	Feature string    `json:"feature,omitempty"`
	Split   *float64  `json:"split,omitempty"`
	Size    *int      `json:"size,omitempty"`
	Left    *jsonNode `json:"left,omitempty"`
	Right   *jsonNode `json:"right,omitempty"`
}

type jsonTree struct {
	Index       int       `json:"index"`
	HeightLimit int       `json:"height_limit"`
	Root        *jsonNode `json:"root"`
}

func dumpJSON(w io.Writer, trees []*Tree) error {
	doc := make([]jsonTree, len(trees))
	for i, t := range trees {
		doc[i] = jsonTree{Index: i, HeightLimit: t.heightLimit, Root: t.jsonNode(0)}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (t *Tree) jsonNode(i int32) *jsonNode {
	n := t.nodes[i]
	if n.Kind == nodeExternal {
		size := n.Size
		return &jsonNode{Kind: "external", Size: &size}
	}
	split := n.Split
	return &jsonNode{
		Kind:    "internal",
		Feature: n.Feature,
		Split:   &split,
		Left:    t.jsonNode(n.Left),
		Right:   t.jsonNode(n.Right),
	}
}
