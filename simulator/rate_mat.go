package simulator

// An Axis selects one line of a RateMat.
type Axis int

const (
	// Outgoing is a row: the traffic leaving one node.
	Outgoing Axis = iota

	// Incoming is a column: the traffic entering one node.
	Incoming
)

// A RateMat holds a transfer rate for every ordered pair
// of nodes, indexed by rank.
type RateMat struct {
	numNodes int
	rates    []float64
}

// NewRateMat creates an all-zero matrix.
func NewRateMat(numNodes int) *RateMat {
	return &RateMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of nodes.
func (r *RateMat) NumNodes() int {
	return r.numNodes
}

// Get returns the rate from src to dst.
func (r *RateMat) Get(src, dst int) float64 {
	return r.rates[r.index(src, dst)]
}

// Set changes the rate from src to dst.
func (r *RateMat) Set(src, dst int, value float64) {
	r.rates[r.index(src, dst)] = value
}

// Add increases the rate from src to dst.
func (r *RateMat) Add(src, dst int, delta float64) {
	r.rates[r.index(src, dst)] += delta
}

// Sum adds up the rates along one node's row or column.
func (r *RateMat) Sum(axis Axis, node int) float64 {
	var sum float64
	r.each(axis, node, func(i int) {
		sum += r.rates[i]
	})
	return sum
}

// Scale multiplies the rates along one node's row or
// column.
func (r *RateMat) Scale(axis Axis, node int, scale float64) {
	r.each(axis, node, func(i int) {
		r.rates[i] *= scale
	})
}

func (r *RateMat) each(axis Axis, node int, f func(i int)) {
	for other := 0; other < r.numNodes; other++ {
		if axis == Outgoing {
			f(r.index(node, other))
		} else {
			f(r.index(other, node))
		}
	}
}

func (r *RateMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= r.numNodes || dst >= r.numNodes {
		panic("index out of bounds")
	}
	return src*r.numNodes + dst
}
