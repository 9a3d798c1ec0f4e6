// Package simtransport runs tree collectives on top of a
// simulated network.
package simtransport

import (
	"context"

	"github.com/unixpickle/treecomm/simulator"
	"github.com/unixpickle/treecomm/transport"
)

// Transport is one node's view of a simulated network.
//
// All of its methods must be called from the Goroutine
// that owns Handle.
type Transport struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, indexed by rank.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network
}

// Spawn creates a Transport for every node in a network
// and calls f for each node in its own Goroutine.
func Spawn(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(t *Transport)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Transport{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Rank returns the current node's index in the list of
// ports.
func (t *Transport) Rank() int {
	return t.RankOf(t.Port)
}

// RankOf returns any port's rank.
func (t *Transport) RankOf(p *simulator.Port) int {
	for i, port := range t.Ports {
		if port == p {
			return i
		}
	}
	return -1
}

// Size returns the number of nodes.
func (t *Transport) Size() int {
	return len(t.Ports)
}

type sendRequest struct {
	done   *simulator.EventStream
	dst    int
	size   int
	status transport.Status
}

type recvRequest struct {
	buf    []byte
	status transport.Status
}

// Send schedules a copy of buf to be delivered to dst.
//
// The request completes when the network delivers or
// drops the message.
func (t *Transport) Send(dst int, buf []byte) transport.Request {
	if dst < 0 || dst >= len(t.Ports) {
		return &sendRequest{status: transport.Failed(dst, transport.ErrInvalidRank)}
	}
	req := &sendRequest{done: t.Handle.Stream(), dst: dst, size: len(buf)}
	t.Network.Send(t.Handle, &simulator.Message{
		Source:  t.Port,
		Dest:    t.Ports[dst],
		Message: append([]byte{}, buf...),
		Size:    float64(len(buf)),
		Done:    req.done,
	})
	return req
}

// RecvAny creates a request for the next message that
// arrives on the node's port.
func (t *Transport) RecvAny(buf []byte) transport.Request {
	return &recvRequest{buf: buf}
}

// Test checks for a delivery report or an incoming
// message without waiting.
func (t *Transport) Test(r transport.Request) transport.Status {
	switch req := r.(type) {
	case *sendRequest:
		if req.status.Ready {
			return req.status
		}
		event, ok := t.Handle.TryPoll(req.done)
		if !ok {
			return req.status
		}
		if event.Message.(*simulator.Delivery).OK {
			req.status = transport.Succeeded(req.dst, req.size)
		} else {
			req.status = transport.Failed(req.dst, transport.ErrPeerDown)
		}
		return req.status
	case *recvRequest:
		if req.status.Ready {
			return req.status
		}
		event, ok := t.Handle.TryPoll(t.Port.Incoming)
		if !ok {
			return req.status
		}
		msg := event.Message.(*simulator.Message)
		req.status = transport.Deliver(req.buf, t.RankOf(msg.Source), msg.Message.([]byte))
		return req.status
	default:
		panic("request was not created by this transport")
	}
}

// A Scheduler runs posted functions on a node's Goroutine
// after a fixed amount of virtual time.
type Scheduler struct {
	handle   *simulator.Handle
	stream   *simulator.EventStream
	interval float64
}

// NewScheduler creates a Scheduler that delays every
// posted function by interval.
func NewScheduler(h *simulator.Handle, interval float64) *Scheduler {
	return &Scheduler{handle: h, stream: h.Stream(), interval: interval}
}

// Post schedules f to run after the interval.
// It must be called from the handle's Goroutine.
func (s *Scheduler) Post(f func()) {
	s.handle.Schedule(s.stream, f, s.interval)
}

// Run runs posted functions until ctx is done.
//
// Cancellation is noticed the next time a posted function
// is due, so at least one function should be pending.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		event := s.handle.Poll(s.stream)
		if err := ctx.Err(); err != nil {
			return err
		}
		event.Message.(func())()
	}
}
