// Package transport defines the point-to-point substrate
// used by tree collectives.
//
// A Transport only needs non-blocking sends, a receive
// that accepts data from any source, and a way to test
// outstanding requests for completion.
package transport

import "errors"

var (
	ErrTruncated   = errors.New("message larger than receive buffer")
	ErrInvalidRank = errors.New("rank out of range")
	ErrPeerDown    = errors.New("peer is unreachable")
	ErrClosed      = errors.New("transport closed")
	ErrUnavailable = errors.New("transport unavailable")
)

// A Request identifies one outstanding non-blocking
// operation.
// Its concrete type is private to the Transport that
// created it, and it may only be tested on that Transport.
type Request any

// Status is the result of testing a Request.
type Status struct {
	// Ready is false while the operation is in flight.
	// The other fields are only meaningful once Ready is
	// true.
	Ready bool

	// OK is false if the operation failed, in which case
	// Err describes the failure.
	OK  bool
	Err error

	// Source is the rank that sent a received message.
	// For sends, it is the destination rank.
	Source int

	// Size is the number of bytes transferred.
	Size int
}

// Transport is a non-blocking point-to-point messaging
// substrate keyed by integer ranks.
type Transport interface {
	// Rank returns the local rank, in [0, Size()).
	Rank() int

	// Size returns the fixed number of ranks.
	Size() int

	// Send starts sending buf to dst.
	// The caller must not modify buf until the request
	// completes.
	Send(dst int, buf []byte) Request

	// RecvAny starts receiving the next message from any
	// source into buf.
	RecvAny(buf []byte) Request

	// Test checks a request without blocking.
	//
	// Once a request is ready, further calls return the
	// same Status.
	// Test is only called from one goroutine at a time.
	Test(r Request) Status
}

// Failed creates a ready Status for a failed operation.
func Failed(peer int, err error) Status {
	return Status{Ready: true, Err: err, Source: peer}
}

// Succeeded creates a ready Status for a successful
// operation.
func Succeeded(peer, size int) Status {
	return Status{Ready: true, OK: true, Source: peer, Size: size}
}

// Deliver copies a message into a receive buffer and
// returns the resulting Status.
// Oversized messages are truncated and reported with
// ErrTruncated.
func Deliver(buf []byte, source int, data []byte) Status {
	n := copy(buf, data)
	if n < len(data) {
		return Status{Ready: true, Err: ErrTruncated, Source: source, Size: n}
	}
	return Succeeded(source, n)
}
