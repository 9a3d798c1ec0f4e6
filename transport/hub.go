package transport

import (
	"sync"

	"github.com/unixpickle/essentials"
)

// A Hub connects a fixed set of in-process endpoints.
//
// Sends are copied into the destination's inbox and
// complete immediately.
// It is safe to use the endpoints of a Hub from many
// Goroutines.
type Hub struct {
	lock    sync.Mutex
	inboxes [][]*hubPacket
	down    []bool
}

// NewHub creates a Hub with size endpoints.
func NewHub(size int) *Hub {
	return &Hub{
		inboxes: make([][]*hubPacket, size),
		down:    make([]bool, size),
	}
}

// Size returns the number of endpoints.
func (h *Hub) Size() int {
	return len(h.inboxes)
}

// Endpoint returns the Transport for a rank.
func (h *Hub) Endpoint(rank int) *HubEndpoint {
	if rank < 0 || rank >= h.Size() {
		panic("rank out of range")
	}
	return &HubEndpoint{hub: h, rank: rank}
}

// SetDown marks a rank as unreachable.
//
// While a rank is down, sends to and from it fail with
// ErrPeerDown and its queued messages are discarded.
func (h *Hub) SetDown(rank int, down bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.down[rank] = down
	if down {
		h.inboxes[rank] = nil
	}
}

// Queued returns the number of messages waiting for a
// rank to receive them.
func (h *Hub) Queued(rank int) int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.inboxes[rank])
}

type hubPacket struct {
	source int
	data   []byte
}

type hubRequest struct {
	// buf is nil for sends.
	buf    []byte
	status Status
}

// A HubEndpoint is one rank's Transport on a Hub.
type HubEndpoint struct {
	hub  *Hub
	rank int
}

// Rank returns the endpoint's rank.
func (e *HubEndpoint) Rank() int {
	return e.rank
}

// Size returns the number of ranks on the Hub.
func (e *HubEndpoint) Size() int {
	return e.hub.Size()
}

// Send copies buf into the destination's inbox.
func (e *HubEndpoint) Send(dst int, buf []byte) Request {
	h := e.hub
	if dst < 0 || dst >= h.Size() {
		return &hubRequest{status: Failed(dst, ErrInvalidRank)}
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if h.down[e.rank] || h.down[dst] {
		return &hubRequest{status: Failed(dst, ErrPeerDown)}
	}
	h.inboxes[dst] = append(h.inboxes[dst], &hubPacket{
		source: e.rank,
		data:   append([]byte{}, buf...),
	})
	return &hubRequest{status: Succeeded(dst, len(buf))}
}

// RecvAny creates a receive request for the next message
// in the inbox.
func (e *HubEndpoint) RecvAny(buf []byte) Request {
	return &hubRequest{buf: buf}
}

// Test checks a request for completion.
func (e *HubEndpoint) Test(r Request) Status {
	req := r.(*hubRequest)
	if req.status.Ready {
		return req.status
	}

	h := e.hub
	h.lock.Lock()
	defer h.lock.Unlock()

	inbox := h.inboxes[e.rank]
	if len(inbox) == 0 {
		return req.status
	}
	packet := inbox[0]
	essentials.OrderedDelete(&inbox, 0)
	h.inboxes[e.rank] = inbox

	req.status = Deliver(req.buf, packet.source, packet.data)
	return req.status
}
