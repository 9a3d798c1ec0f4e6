package simtransport

import (
	"context"
	"sync"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/treecomm/collcomm"
	"github.com/unixpickle/treecomm/simulator"
	"github.com/unixpickle/treecomm/transport"
)

// countdown cancels a context after n calls to done.
type countdown struct {
	lock   sync.Mutex
	n      int
	cancel context.CancelFunc
}

func (c *countdown) done() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.n--
	if c.n == 0 {
		c.cancel()
	}
}

func newNodes(n int) []*simulator.Node {
	nodes := make([]*simulator.Node, n)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	return nodes
}

func TestTransportSendRecv(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := newNodes(2)

	Spawn(loop, simulator.RandomNetwork{}, nodes, func(tr *Transport) {
		if tr.Rank() == 0 {
			req := tr.Send(1, []byte("hello"))
			for {
				status := tr.Test(req)
				if status.Ready {
					assert.True(t, status.OK)
					assert.Equal(t, 5, status.Size)
					assert.Equal(t, 1, status.Source)
					return
				}
				tr.Handle.Sleep(0.1)
			}
		}
		buf := make([]byte, 3)
		req := tr.RecvAny(buf)
		for !tr.Test(req).Ready {
			tr.Handle.Sleep(0.1)
		}
		status := tr.Test(req)
		assert.False(t, status.OK)
		assert.ErrorIs(t, status.Err, transport.ErrTruncated)
		assert.Equal(t, 0, status.Source)
		assert.Equal(t, []byte("hel"), buf)
	})

	require.NoError(t, loop.Run())
}

func TestTransportInvalidRank(t *testing.T) {
	loop := simulator.NewEventLoop()
	Spawn(loop, simulator.RandomNetwork{}, newNodes(2), func(tr *Transport) {
		status := tr.Test(tr.Send(2, []byte{1}))
		assert.True(t, status.Ready)
		assert.ErrorIs(t, status.Err, transport.ErrInvalidRank)
	})
	require.NoError(t, loop.Run())
}

func TestWaypointBroadcast(t *testing.T) {
	logger.New("NOOP")
	loop := simulator.NewEventLoop()
	nodes := newNodes(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two children receive, and the root sees one result.
	remaining := &countdown{n: 3, cancel: cancel}
	var lock sync.Mutex
	received := map[int][]byte{}
	receivedAt := map[int]float64{}
	var results []collcomm.Completion
	var doneAt float64

	Spawn(loop, simulator.RandomNetwork{}, nodes, func(tr *Transport) {
		sched := NewScheduler(tr.Handle, 0.01)
		w, err := collcomm.NewWaypoint(tr, collcomm.WithScheduler(sched),
			collcomm.WithBufferSize(16))
		if !assert.NoError(t, err) {
			cancel()
			return
		}
		w.RegisterHandler(collcomm.HandlerFuncs{
			Parent: func(data []byte) {
				lock.Lock()
				received[w.Rank()] = append([]byte{}, data...)
				receivedAt[w.Rank()] = tr.Handle.Time()
				lock.Unlock()
				remaining.done()
			},
		})
		if w.Rank() == 0 {
			w.SendToChildren([]byte{1, 2, 3, 4}, func(c collcomm.Completion) {
				lock.Lock()
				results = append(results, c)
				doneAt = tr.Handle.Time()
				lock.Unlock()
				remaining.done()
			})
		}
		assert.ErrorIs(t, sched.Run(ctx), context.Canceled)
	})

	require.NoError(t, loop.Run())
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, 8, results[0].Size)
	assert.Equal(t, map[int][]byte{1: {1, 2, 3, 4}, 2: {1, 2, 3, 4}}, received)

	// Every Scheduler polls at the same virtual times, so
	// a child sees its message no later than the root sees
	// the matching delivery report.
	require.Len(t, receivedAt, 2)
	for rank, at := range receivedAt {
		assert.GreaterOrEqual(t, doneAt, at, "child %d", rank)
	}
}

func TestWaypointPeerDown(t *testing.T) {
	logger.New("NOOP")
	loop := simulator.NewEventLoop()
	nodes := newNodes(3)
	network := simulator.NewOrderedNetwork(1000, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remaining := &countdown{n: 2, cancel: cancel}
	var result collcomm.Completion

	Spawn(loop, network, nodes, func(tr *Transport) {
		sched := NewScheduler(tr.Handle, 0.01)
		w, err := collcomm.NewWaypoint(tr, collcomm.WithScheduler(sched),
			collcomm.WithBufferSize(16))
		if !assert.NoError(t, err) {
			cancel()
			return
		}
		switch w.Rank() {
		case 0:
			network.SetDown(tr.Handle, nodes[2], true)
			w.SendToChildren([]byte{7}, func(c collcomm.Completion) {
				result = c
				remaining.done()
			})
		case 1:
			w.RegisterHandler(collcomm.HandlerFuncs{
				Parent: func(data []byte) { remaining.done() },
			})
		case 2:
			w.RegisterHandler(collcomm.HandlerFuncs{
				Parent: func(data []byte) { t.Error("down node received a message") },
			})
		}
		sched.Run(ctx)
	})

	require.NoError(t, loop.Run())
	assert.False(t, result.OK)
	assert.ErrorIs(t, result.Err, transport.ErrPeerDown)
	assert.Equal(t, 1, result.Size)
}
