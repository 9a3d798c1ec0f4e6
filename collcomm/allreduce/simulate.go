package allreduce

import (
	"context"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/treecomm/collcomm"
	"github.com/unixpickle/treecomm/simtransport"
	"github.com/unixpickle/treecomm/simulator"
)

// A Simulation runs one allreduce round on every node of
// a simulated network.
type Simulation struct {
	Network simulator.Network
	Nodes   []*simulator.Node

	// Vectors holds each rank's input.
	Vectors [][]float64

	// PollInterval is the virtual time between polls.
	PollInterval float64

	// ReduceFn creates each node's reduction function.
	// It receives the node's handle so that it can charge
	// virtual time for the work it does.
	ReduceFn func(h *simulator.Handle) collcomm.ReduceFn

	// Options are passed to every Waypoint.
	Options []collcomm.Option
}

// Run runs the simulation on loop and returns every
// rank's result.
func (s *Simulation) Run(loop *simulator.EventLoop, newReducer Factory) ([]Result, error) {
	results := make([]Result, len(s.Nodes))
	simtransport.Spawn(loop, s.Network, s.Nodes, func(tr *simtransport.Transport) {
		rank := tr.Rank()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sched := simtransport.NewScheduler(tr.Handle, s.PollInterval)
		opts := append([]collcomm.Option{
			collcomm.WithScheduler(sched),
			collcomm.WithBufferSize(BufferSize(len(s.Vectors[rank]))),
		}, s.Options...)
		w, err := collcomm.NewWaypoint(tr, opts...)
		essentials.Must(err)

		reducer := newReducer(w, s.ReduceFn(tr.Handle))
		reducer.Allreduce(s.Vectors[rank], func(r Result) {
			results[rank] = r
			cancel()
		})
		sched.Run(ctx)
	})
	if err := loop.Run(); err != nil {
		return nil, err
	}
	return results, nil
}
