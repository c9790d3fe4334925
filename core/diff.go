// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"maps"
)

// DiffOpKind is the kind of a structural change to a node.
type DiffOpKind string

const (
	DiffInsert DiffOpKind = "insert"
	DiffUpdate DiffOpKind = "update"
	DiffDelete DiffOpKind = "delete"
)

// DiffOp is a single structural change. Index is the position of the node in
// the target node list for inserts and updates.
type DiffOp struct {
	Op     DiffOpKind `json:"op"`
	NodeID string     `json:"nodeId"`
	Index  int        `json:"index"`
	Node   *Node      `json:"node,omitempty"`
}

// Diff is an ordered list of operations turning one node list into another.
type Diff struct {
	Ops []DiffOp `json:"ops"`
}

// IsEmpty reports whether the diff carries no changes.
func (d Diff) IsEmpty() bool {
	return len(d.Ops) == 0
}

// DiffNodes computes the operations that turn prev into next.
// Deletes come first, then inserts and updates in next's order.
func DiffNodes(prev, next []Node) Diff {
	prevByID := make(map[string]Node, len(prev))
	for _, n := range prev {
		prevByID[n.ID] = n
	}
	nextIDs := make(map[string]struct{}, len(next))
	for _, n := range next {
		nextIDs[n.ID] = struct{}{}
	}

	var ops []DiffOp
	for _, n := range prev {
		if _, ok := nextIDs[n.ID]; !ok {
			ops = append(ops, DiffOp{Op: DiffDelete, NodeID: n.ID})
		}
	}
	for i, n := range next {
		old, existed := prevByID[n.ID]
		switch {
		case !existed:
			node := n.Clone()
			ops = append(ops, DiffOp{Op: DiffInsert, NodeID: n.ID, Index: i, Node: &node})
		case !nodesEqual(old, n) || positionOf(prev, n.ID) != i:
			node := n.Clone()
			ops = append(ops, DiffOp{Op: DiffUpdate, NodeID: n.ID, Index: i, Node: &node})
		}
	}
	return Diff{Ops: ops}
}

// Apply replays the diff on top of prev and returns the resulting node list.
func (d Diff) Apply(prev []Node) ([]Node, error) {
	out := make([]Node, 0, len(prev))
	for _, n := range prev {
		out = append(out, n.Clone())
	}

	for _, op := range d.Ops {
		switch op.Op {
		case DiffDelete:
			idx := positionOf(out, op.NodeID)
			if idx < 0 {
				return nil, fmt.Errorf("%w: delete of unknown node %q", ErrInvalidDiff, op.NodeID)
			}
			out = append(out[:idx], out[idx+1:]...)
		case DiffInsert, DiffUpdate:
			if op.Node == nil {
				return nil, fmt.Errorf("%w: %s of node %q without body", ErrInvalidDiff, op.Op, op.NodeID)
			}
			if idx := positionOf(out, op.NodeID); idx >= 0 {
				out = append(out[:idx], out[idx+1:]...)
			} else if op.Op == DiffUpdate {
				return nil, fmt.Errorf("%w: update of unknown node %q", ErrInvalidDiff, op.NodeID)
			}
			at := op.Index
			if at < 0 || at > len(out) {
				at = len(out)
			}
			out = append(out, Node{})
			copy(out[at+1:], out[at:])
			out[at] = op.Node.Clone()
		default:
			return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidDiff, op.Op)
		}
	}
	return out, nil
}

func positionOf(nodes []Node, id string) int {
	for i, n := range nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func nodesEqual(a, b Node) bool {
	return a.ID == b.ID &&
		a.ParentID == b.ParentID &&
		a.Text == b.Text &&
		a.Level == b.Level &&
		maps.Equal(a.Attrs, b.Attrs)
}
