// Package topology maps ranks onto an implicit, complete
// binary tree.
//
// Rank 0 is the root. The children of rank r are 2r+1
// and 2r+2, whenever those ranks exist.
package topology

import "fmt"

// Parent returns the parent of a rank.
//
// The root is its own parent, so callers that send to a
// parent must check for the root first.
func Parent(rank int) int {
	if rank <= 0 {
		return 0
	}
	return (rank - 1) / 2
}

// Children returns the children of a rank in a tree with
// total nodes, in ascending order.
//
// The result has zero, one, or two entries.
func Children(rank, total int) []int {
	if total < 2 {
		return nil
	}
	var res []int
	for i := 1; i <= 2; i++ {
		if child := rank*2 + i; child < total {
			res = append(res, child)
		}
	}
	return res
}

// IsRoot checks if a rank is the root of the tree.
func IsRoot(rank int) bool {
	return rank == 0
}

// Depth returns the number of edges between a rank and
// the root.
func Depth(rank int) int {
	var depth int
	for rank > 0 {
		rank = Parent(rank)
		depth++
	}
	return depth
}

// Height returns the depth of the deepest rank in a tree
// with total nodes.
func Height(total int) int {
	if total < 1 {
		return 0
	}
	return Depth(total - 1)
}

// Validate checks that a rank can exist in a tree with
// total nodes.
func Validate(rank, total int) error {
	if total < 1 {
		return fmt.Errorf("invalid node count: %d", total)
	}
	if rank < 0 || rank >= total {
		return fmt.Errorf("rank %d out of range [0, %d)", rank, total)
	}
	return nil
}
