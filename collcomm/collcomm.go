// Package collcomm implements tree-shaped collective
// communication between a fixed set of ranks.
//
// Each process owns one Waypoint. A Waypoint sends to its
// parent or its children without blocking, keeps a
// receive armed at all times, and hands inbound messages
// to registered Handlers. Completions are discovered by
// polling, which happens on a single Goroutine.
package collcomm

import (
	"errors"

	"github.com/unixpickle/treecomm/transport"
)

// NoRank is the Peer of a Completion that does not refer
// to a single rank.
const NoRank = -1

// DefaultPendingWarning is the number of in-flight
// operations above which a Waypoint logs a warning.
const DefaultPendingWarning = 100

var (
	ErrNoParent       = errors.New("the root has no parent")
	ErrReceiveArmed   = errors.New("receive buffer already in use")
	ErrBufferSize     = errors.New("receive buffer size must be positive")
	ErrNoTransport    = errors.New("no transport provided")
	ErrConcurrentPoll = errors.New("PollOne called from more than one Goroutine")
)

// A Completion describes a finished operation.
type Completion struct {
	// OK is false if the operation failed, in which case
	// Err describes why.
	OK  bool
	Err error

	// Size is the number of bytes transferred.
	Size int

	// Peer is the sender of a received message or the
	// destination of a send.
	Peer int

	// ID names the operation in the Waypoint's debug logs.
	// A broadcast has one ID for all of its sends.
	ID string
}

func completionFromStatus(id string, s transport.Status) Completion {
	return Completion{OK: s.OK, Err: s.Err, Size: s.Size, Peer: s.Source, ID: id}
}

// A Callback is notified when an operation finishes.
//
// Callbacks run on the polling Goroutine and must not
// block. They may submit new operations.
type Callback func(c Completion)

// A Handler consumes inbound messages.
//
// The data slice is only valid until the method returns.
// Handlers that need the bytes afterwards must copy them.
type Handler interface {
	ReceivedFromParent(data []byte)
	ReceivedFromChild(data []byte, child int)
}

// HandlerFuncs is a Handler built from functions.
// Nil functions ignore their messages.
type HandlerFuncs struct {
	Parent func(data []byte)
	Child  func(data []byte, child int)
}

// ReceivedFromParent calls h.Parent, if set.
func (h HandlerFuncs) ReceivedFromParent(data []byte) {
	if h.Parent != nil {
		h.Parent(data)
	}
}

// ReceivedFromChild calls h.Child, if set.
func (h HandlerFuncs) ReceivedFromChild(data []byte, child int) {
	if h.Child != nil {
		h.Child(data, child)
	}
}

// A Scheduler runs a function again soon, on the polling
// Goroutine.
type Scheduler interface {
	Post(f func())
}

// Logger is the logging interface used by a Waypoint.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
