package allreduce

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/treecomm/collcomm"
	"github.com/unixpickle/treecomm/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
func RunAllreducerTests(t *testing.T, newReducer Factory) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 1337} {
			for _, randomized := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(testName, func(t *testing.T) {
					loop := simulator.NewEventLoop()
					vectors := make([][]float64, numNodes)
					nodes := make([]*simulator.Node, numNodes)
					sum := make([]float64, size)
					for i := range nodes {
						vectors[i] = make([]float64, size)
						for j := range vectors[i] {
							vectors[i][j] = rand.NormFloat64()
							sum[j] += vectors[i][j]
						}
						nodes[i] = simulator.NewNode()
					}

					var network simulator.Network
					if randomized {
						network = simulator.RandomNetwork{}
					} else {
						switcher := simulator.NewGreedyDropSwitcher(numNodes, 1e6)
						network = simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
					}

					sim := &Simulation{
						Network:      network,
						Nodes:        nodes,
						Vectors:      vectors,
						PollInterval: 1e-2,
						ReduceFn: func(h *simulator.Handle) collcomm.ReduceFn {
							return collcomm.Sum
						},
					}
					results, err := sim.Run(loop, newReducer)
					if err != nil {
						t.Fatal(err)
					}

					verifyReductionResults(t, results, sum)
				})
			}
		}
	}
}

func verifyReductionResults(t *testing.T, results []Result, expected []float64) {
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
	}
	for i, res := range results[1:] {
		if len(res.Vector) != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i+1, len(res.Vector), len(expected))
			continue
		}
		for j, actual := range res.Vector {
			if actual != results[0].Vector[j] {
				t.Errorf("result %d is not identical to result 0", i+1)
				break
			}
		}
	}

	if len(results[0].Vector) != len(expected) {
		t.Fatalf("result 0 has length %d but expected %d", len(results[0].Vector), len(expected))
	}
	for i, x := range expected {
		if math.Abs(x-results[0].Vector[i]) > 1e-5 {
			t.Errorf("sum is incorrect (expected %f but got %f at component %d)",
				x, results[0].Vector[i], i)
			break
		}
	}
}
