package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildrenParentInverse(t *testing.T) {
	for _, total := range []int{1, 2, 3, 5, 15, 16, 17, 100} {
		t.Run(fmt.Sprintf("Nodes=%d", total), func(t *testing.T) {
			seen := map[int]int{}
			for rank := 0; rank < total; rank++ {
				for _, child := range Children(rank, total) {
					require.Less(t, child, total)
					assert.Equal(t, rank, Parent(child))
					seen[child]++
				}
			}
			// Every non-root rank has exactly one parent.
			require.Len(t, seen, total-1)
			for child, count := range seen {
				assert.NotZero(t, child)
				assert.Equal(t, 1, count)
			}
		})
	}
}

func TestSingleNode(t *testing.T) {
	assert.Empty(t, Children(0, 1))
	assert.Equal(t, 0, Parent(0))
	assert.True(t, IsRoot(Parent(0)))
}

func TestChildrenOrder(t *testing.T) {
	assert.Equal(t, []int{1, 2}, Children(0, 5))
	assert.Equal(t, []int{3, 4}, Children(1, 5))
	assert.Empty(t, Children(2, 5))
	assert.Equal(t, []int{5}, Children(2, 6))
	assert.Equal(t, []int{1}, Children(0, 2))
}

func TestDepth(t *testing.T) {
	expected := []int{0, 1, 1, 2, 2, 2, 2, 3}
	for rank, depth := range expected {
		assert.Equal(t, depth, Depth(rank), "rank %d", rank)
	}
	assert.Equal(t, 0, Height(1))
	assert.Equal(t, 2, Height(5))
	assert.Equal(t, 3, Height(8))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(0, 1))
	require.NoError(t, Validate(4, 5))
	require.Error(t, Validate(5, 5))
	require.Error(t, Validate(-1, 5))
	require.Error(t, Validate(0, 0))
}
