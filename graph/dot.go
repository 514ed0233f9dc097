// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"io"
	"strings"
)

// WriteDot writes the graph in Graphviz DOT format. Passes are boxes,
// resource versions are ellipses, imported resources are double circles.
// After Compile, culled passes are drawn dashed.
func (g *Graph) WriteDot(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("digraph framegraph {\n")
	sb.WriteString("\trankdir=LR;\n")

	for _, p := range g.passes {
		style := ""
		if p.index < len(g.culled) && g.culled[p.index] {
			style = ", style=dashed"
		} else if p.sideEffect {
			style = ", style=bold"
		}
		fmt.Fprintf(&sb, "\tp%d [shape=box, label=%q%s];\n", p.index, p.name, style)
	}

	for idx, r := range g.resources {
		shape := "ellipse"
		if r.imported != nil {
			shape = "doublecircle"
		}
		for v := range r.writers {
			if v == 0 && r.imported == nil && len(r.readers[0]) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "\tr%dv%d [shape=%s, label=%q];\n", idx, v, shape, fmt.Sprintf("%s v%d", r.name, v))
		}
	}

	for idx, r := range g.resources {
		for v, w := range r.writers {
			if w >= 0 {
				fmt.Fprintf(&sb, "\tp%d -> r%dv%d;\n", w, idx, v)
			}
			for _, rd := range r.readers[v] {
				fmt.Fprintf(&sb, "\tr%dv%d -> p%d;\n", idx, v, rd)
			}
		}
	}

	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
