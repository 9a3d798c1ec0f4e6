package collcomm

import (
	"sync"

	"github.com/unixpickle/treecomm/transport"
)

type opKind int

const (
	opSend opKind = iota
	opRecv
)

func (k opKind) String() string {
	if k == opRecv {
		return "recv"
	}
	return "send"
}

// An operation is one outstanding request and the
// callback to run when it is ready.
type operation struct {
	id       string
	kind     opKind
	peer     int
	callback Callback

	// req is nil for operations that finished without
	// reaching the transport, in which case status is
	// already ready.
	req    transport.Request
	status transport.Status
}

func (o *operation) ready(t transport.Transport) bool {
	if !o.status.Ready && o.req != nil {
		o.status = t.Test(o.req)
	}
	return o.status.Ready
}

// A ledger tracks every outstanding operation.
//
// New operations are staged under a lock, so that any
// Goroutine (or a running callback) may submit work.
// The working set is only touched by the poller, which
// merges staged operations in at the start of a tick.
type ledger struct {
	lock     sync.Mutex
	staged   []*operation
	inFlight int

	// Owned by the polling Goroutine.
	active []*operation
}

func (l *ledger) submit(op *operation) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.staged = append(l.staged, op)
}

// collect moves staged operations into the working set
// and removes the ones that are ready, preserving the
// order of both groups.
func (l *ledger) collect(t transport.Transport) []*operation {
	l.lock.Lock()
	l.active = append(l.active, l.staged...)
	l.staged = nil
	l.lock.Unlock()

	var ready []*operation
	pending := l.active[:0]
	for _, op := range l.active {
		if op.ready(t) {
			ready = append(ready, op)
		} else {
			pending = append(pending, op)
		}
	}
	for i := len(pending); i < len(l.active); i++ {
		l.active[i] = nil
	}
	l.active = pending

	l.lock.Lock()
	l.inFlight = len(pending)
	l.lock.Unlock()

	return ready
}

// requeue puts ready operations back at the front of the
// working set, to be dispatched on the next tick.
func (l *ledger) requeue(ops []*operation) {
	l.active = append(append([]*operation{}, ops...), l.active...)
	l.lock.Lock()
	l.inFlight = len(l.active)
	l.lock.Unlock()
}

// pending counts staged operations and the working set as
// of the last tick.
func (l *ledger) pending() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.staged) + l.inFlight
}
