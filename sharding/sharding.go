// Package sharding partitions a document's node list into contiguous,
// bounded groups and reassembles them.
package sharding

import (
	"slices"

	"github.com/poiesic/docvault/core"
)

// DefaultSize is the number of nodes per shard unless configured otherwise.
const DefaultSize = 100

// Group is a contiguous run of nodes with its inclusive index range.
type Group struct {
	Range core.LevelRange
	Nodes []core.Node
}

// Split partitions nodes into groups of at most size nodes, in order.
// A non-positive size selects DefaultSize. An empty input yields no groups.
func Split(nodes []core.Node, size int) []Group {
	if size <= 0 {
		size = DefaultSize
	}
	groups := make([]Group, 0, (len(nodes)+size-1)/size)
	for start := 0; start < len(nodes); start += size {
		end := min(start+size, len(nodes))
		groups = append(groups, Group{
			Range: core.LevelRange{Start: start, End: end - 1},
			Nodes: slices.Clone(nodes[start:end]),
		})
	}
	return groups
}

// Merge concatenates groups ordered by range start.
func Merge(groups []Group) []core.Node {
	sorted := slices.Clone(groups)
	slices.SortStableFunc(sorted, func(a, b Group) int {
		return a.Range.Start - b.Range.Start
	})
	var out []core.Node
	for _, g := range sorted {
		out = append(out, g.Nodes...)
	}
	return out
}

// Count returns the number of shards Split would produce.
func Count(nodeCount, size int) int {
	if size <= 0 {
		size = DefaultSize
	}
	return (nodeCount + size - 1) / size
}
