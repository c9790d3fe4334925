package sharding

import (
	"fmt"
	"testing"

	"github.com/poiesic/docvault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeNodes(n int) []core.Node {
	out := make([]core.Node, n)
	for i := range out {
		out[i] = core.Node{ID: fmt.Sprintf("n%d", i), Text: fmt.Sprintf("node %d", i)}
	}
	return out
}

func TestSplitRanges(t *testing.T) {
	groups := Split(makeNodes(250), 100)
	require.Len(t, groups, 3)
	assert.Equal(t, core.LevelRange{Start: 0, End: 99}, groups[0].Range)
	assert.Equal(t, core.LevelRange{Start: 100, End: 199}, groups[1].Range)
	assert.Equal(t, core.LevelRange{Start: 200, End: 249}, groups[2].Range)
	assert.Len(t, groups[2].Nodes, 50)
	assert.Equal(t, 3, Count(250, 100))
}

func TestSplitEdgeCases(t *testing.T) {
	assert.Empty(t, Split(nil, 100))
	assert.Len(t, Split(makeNodes(100), 100), 1)
	assert.Len(t, Split(makeNodes(101), 100), 2)
	assert.Len(t, Split(makeNodes(250), 0), 3, "non-positive size uses default")
	assert.Equal(t, 0, Count(0, 100))
}

func TestMergeReassembles(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101, 250, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			nodes := makeNodes(n)
			groups := Split(nodes, 100)

			// order of the stored groups must not matter
			for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
				groups[i], groups[j] = groups[j], groups[i]
			}
			merged := Merge(groups)
			if n == 0 {
				assert.Empty(t, merged)
				return
			}
			assert.Equal(t, nodes, merged)
		})
	}
}

func TestSplitDoesNotAlias(t *testing.T) {
	nodes := makeNodes(3)
	groups := Split(nodes, 2)
	groups[0].Nodes[0].Text = "changed"
	assert.Equal(t, "node 0", nodes[0].Text)
}
