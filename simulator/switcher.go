package simulator

// A Switcher decides how fast data moves between nodes
// that are sending at the same time, including what
// happens when a node is oversubscribed.
type Switcher interface {
	// SwitchedRates receives a 1 for every pair of nodes
	// with data in flight and a 0 everywhere else, and
	// replaces each entry with the pair's transfer rate.
	SwitchedRates(mat *RateMat)
}

// A GreedyDropSwitcher splits each node's upload rate
// evenly across its active destinations, then drops
// incoming data uniformly when a node's download rate is
// exceeded.
//
// This amounts to normalizing the rows of the matrix and
// then the columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher where
// every node uploads and downloads at the same rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{SendRates: rates, RecvRates: rates}
}

// NumNodes returns the number of nodes on the switch.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates applies the switching rules.
func (g *GreedyDropSwitcher) SwitchedRates(mat *RateMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}
	for node := 0; node < g.NumNodes(); node++ {
		if active := mat.Sum(Outgoing, node); active > 0 {
			mat.Scale(Outgoing, node, g.SendRates[node]/active)
		}
	}
	for node := 0; node < g.NumNodes(); node++ {
		if incoming := mat.Sum(Incoming, node); incoming > g.RecvRates[node] {
			mat.Scale(Incoming, node, g.RecvRates[node]/incoming)
		}
	}
}
