// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
)

// TreeNode is one line of a rendered tree.
type TreeNode struct {
	// Label is the main text, e.g. a task title.
	Label string

	// Detail is shown muted after the label, e.g. "[Done] HIGH".
	Detail string

	// ID is appended in machine output so scripts can act on rows.
	ID string

	Children []*TreeNode
}

// Tree prints nodes as an indented tree.
//
// Rich and plain output use box-drawing branches:
//
//	Launch
//	├── Write post [Todo]
//	│   └── Outline
//	└── Ship
//
// Machine output prints one "depth<TAB>id<TAB>label<TAB>detail" row per
// node, depth-first.
func (p *Printer) Tree(nodes []*TreeNode) {
	if p.level == LevelMachine {
		p.machineTree(nodes, 0)
		return
	}
	p.drawTree(nodes, "")
}

func (p *Printer) machineTree(nodes []*TreeNode, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(p.w, "%d\t%s\t%s\t%s\n", depth, n.ID, n.Label, n.Detail)
		p.machineTree(n.Children, depth+1)
	}
}

func (p *Printer) drawTree(nodes []*TreeNode, prefix string) {
	for i, n := range nodes {
		last := i == len(nodes)-1
		branch, next := "├── ", "│   "
		if last {
			branch, next = "└── ", "    "
		}
		var b strings.Builder
		b.WriteString(p.style(Styles.Muted, prefix+branch))
		b.WriteString(n.Label)
		if n.Detail != "" {
			b.WriteString(" ")
			b.WriteString(p.style(Styles.Subtitle, n.Detail))
		}
		fmt.Fprintln(p.w, b.String())
		p.drawTree(n.Children, prefix+next)
	}
}
