package main

import (
	"fmt"
	"strconv"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/treecomm/collcomm"
	"github.com/unixpickle/treecomm/collcomm/allreduce"
	"github.com/unixpickle/treecomm/simulator"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
}

// Run creates a network, runs one allreduce of a zero
// vector on every node, and returns the virtual time it
// took.
func (r *RunInfo) Run(size int, pollInterval float64) float64 {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, r.NumNodes)
	vectors := make([][]float64, r.NumNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
		vectors[i] = make([]float64, size)
	}
	switcher := simulator.NewGreedyDropSwitcher(r.NumNodes, r.Rate)
	sim := &allreduce.Simulation{
		Network:      simulator.NewSwitcherNetwork(switcher, nodes, r.Latency),
		Nodes:        nodes,
		Vectors:      vectors,
		PollInterval: pollInterval,
		ReduceFn:     FakeReduce,
	}
	results, err := sim.Run(loop, allreduce.NewTree)
	essentials.Must(err)
	for _, res := range results {
		essentials.Must(res.Err)
	}
	return loop.Time()
}

func main() {
	logger.New("WARN")

	pollIntervals := []float64{1e-4, 1e-3, 1e-2}
	runs := []RunInfo{
		{
			NumNodes: 2,
			Latency:  0.1,
			Rate:     1e6,
		},
		{
			NumNodes: 16,
			Latency:  1e-3,
			Rate:     1e6,
		},
		{
			NumNodes: 32,
			Latency:  0.1,
			Rate:     1e9,
		},
		{
			NumNodes: 32,
			Latency:  1e-4,
			Rate:     1e9,
		},
	}
	vecSizes := []int{10, 10000}

	// Markdown table header.
	fmt.Print("| Nodes | Latency | NIC rate | Size ")
	for _, interval := range pollIntervals {
		fmt.Printf("| Poll %s ", strconv.FormatFloat(interval, 'E', -1, 64))
	}
	fmt.Println("|")
	for i := 0; i < 4+len(pollIntervals); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		for _, size := range vecSizes {
			fmt.Printf(
				"| %d | %s | %s | %d ",
				runInfo.NumNodes,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				size,
			)
			for _, interval := range pollIntervals {
				fmt.Printf("| %f ", runInfo.Run(size, interval))
			}
			fmt.Println("|")
		}
	}
}

// FakeReduce creates a ReduceFn that charges virtual time
// for its work but does no actual arithmetic.
func FakeReduce(h *simulator.Handle) collcomm.ReduceFn {
	return func(vecs ...[]float64) []float64 {
		h.Sleep(allreduce.FlopTime * float64(len(vecs)*len(vecs[0])))
		return make([]float64, len(vecs[0]))
	}
}
