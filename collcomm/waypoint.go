package collcomm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
	"github.com/unixpickle/treecomm/topology"
	"github.com/unixpickle/treecomm/transport"
)

// Options configures a Waypoint.
type Options struct {
	// Log defaults to the process logger.
	Log Logger

	// Scheduler drives PollOne. If it is nil, the owner
	// of the Waypoint must call Tick itself.
	Scheduler Scheduler

	// PendingWarning is the number of in-flight operations
	// above which each tick logs a warning.
	PendingWarning int

	// BufferSize, if positive, sizes the receive buffer
	// and arms the first receive at construction.
	BufferSize int
}

// An Option modifies Options.
type Option func(o *Options)

// WithLogger sets the logger.
func WithLogger(log Logger) Option {
	return func(o *Options) {
		o.Log = log
	}
}

// WithScheduler sets the Scheduler that drives PollOne.
func WithScheduler(s Scheduler) Option {
	return func(o *Options) {
		o.Scheduler = s
	}
}

// WithPendingWarning sets the backlog warning threshold.
func WithPendingWarning(n int) Option {
	return func(o *Options) {
		o.PendingWarning = n
	}
}

// WithBufferSize sets the receive buffer size.
func WithBufferSize(size int) Option {
	return func(o *Options) {
		o.BufferSize = size
	}
}

// A Waypoint is one process's endpoint in the tree.
//
// Sends and handler registration are safe from any
// Goroutine. PollOne and Tick must only be called from
// the polling Goroutine.
type Waypoint struct {
	transport transport.Transport
	scheduler Scheduler
	log       Logger
	warnAt    int

	rank int
	size int

	ledger  ledger
	polling atomic.Bool

	lock     sync.Mutex
	handlers []Handler
	buffer   []byte
}

// NewWaypoint creates a Waypoint on top of a transport.
//
// If a Scheduler is provided, the first PollOne is posted
// to it immediately.
func NewWaypoint(t transport.Transport, opts ...Option) (*Waypoint, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	o := Options{PendingWarning: DefaultPendingWarning}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Log == nil {
		if logger.Sugar == nil {
			logger.New("INFO")
		}
		o.Log = logger.Sugar.WithServiceName("waypoint")
	}

	rank, size := t.Rank(), t.Size()
	if err := topology.Validate(rank, size); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}

	w := &Waypoint{
		transport: t,
		scheduler: o.Scheduler,
		log:       o.Log,
		warnAt:    o.PendingWarning,
		rank:      rank,
		size:      size,
	}
	if o.BufferSize > 0 {
		if err := w.SetBufferSize(o.BufferSize); err != nil {
			return nil, err
		}
	}
	w.log.Infof("waypoint %d/%d: parent=%d children=%v depth=%d/%d", rank, size, w.Parent(),
		w.Children(), topology.Depth(rank), topology.Height(size))
	if w.scheduler != nil {
		w.scheduler.Post(w.pollOne)
	}
	return w, nil
}

// Rank returns the current process's rank.
func (w *Waypoint) Rank() int {
	return w.rank
}

// TotalNodes returns the number of ranks in the tree.
func (w *Waypoint) TotalNodes() int {
	return w.size
}

// Parent returns the parent rank.
// The root is its own parent.
func (w *Waypoint) Parent() int {
	return topology.Parent(w.rank)
}

// Children returns the child ranks in ascending order.
func (w *Waypoint) Children() []int {
	return topology.Children(w.rank, w.size)
}

// SetBufferSize allocates the receive buffer and arms the
// first receive.
//
// It must be called once, before any messages arrive.
// Messages larger than the buffer fail to be received.
func (w *Waypoint) SetBufferSize(size int) error {
	if size <= 0 {
		return ErrBufferSize
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.buffer != nil {
		return ErrReceiveArmed
	}
	w.buffer = make([]byte, size)
	w.armReceive(w.buffer)
	return nil
}

// RegisterHandler adds a handler for inbound messages.
//
// Handlers are called in registration order and cannot be
// removed. Messages that arrive before a handler is
// registered are not replayed to it.
func (w *Waypoint) RegisterHandler(h Handler) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.handlers = append(w.handlers, h)
}

// SendToParent starts sending data to the parent.
//
// The callback reports the outcome; there is no other
// error path. On the root, the send is suppressed and the
// callback reports ErrNoParent.
// The caller must not modify data until the callback
// runs.
func (w *Waypoint) SendToParent(data []byte, cb Callback) {
	if topology.IsRoot(w.rank) {
		w.ledger.submit(&operation{
			id:       uuid.NewString(),
			kind:     opSend,
			peer:     w.rank,
			callback: cb,
			status:   transport.Failed(w.rank, ErrNoParent),
		})
		return
	}
	w.send(w.Parent(), data, cb)
}

// SendToChildren starts sending data to every child.
//
// The callback runs once, after all of the sends have
// finished. It reports success only if every send
// succeeded. With no children, it reports success with a
// Size of zero on the next tick.
// The caller must not modify data until the callback
// runs.
func (w *Waypoint) SendToChildren(data []byte, cb Callback) {
	w.broadcast(w.Children(), data, cb)
}

func (w *Waypoint) broadcast(dsts []int, data []byte, cb Callback) {
	if len(dsts) == 0 {
		w.ledger.submit(&operation{
			id:       uuid.NewString(),
			kind:     opSend,
			peer:     NoRank,
			callback: cb,
			status:   transport.Succeeded(NoRank, 0),
		})
		return
	}
	id := uuid.NewString()
	w.log.Debugf("broadcast %s: sending %d bytes to %v", id, len(data), dsts)
	f := newFanout(id, len(dsts), cb)
	for _, dst := range dsts {
		w.send(dst, data, f.complete)
	}
}

func (w *Waypoint) send(dst int, data []byte, cb Callback) {
	op := &operation{
		id:       uuid.NewString(),
		kind:     opSend,
		peer:     dst,
		callback: cb,
		req:      w.transport.Send(dst, data),
	}
	w.log.Debugf("op %s: send %d bytes to %d", op.id, len(data), dst)
	w.ledger.submit(op)
}

func (w *Waypoint) armReceive(buf []byte) {
	op := &operation{
		id:   uuid.NewString(),
		kind: opRecv,
		peer: NoRank,
		req:  w.transport.RecvAny(buf),
	}
	op.callback = func(c Completion) {
		w.received(buf, c)
	}
	w.ledger.submit(op)
}

func (w *Waypoint) received(buf []byte, c Completion) {
	// Re-arm before returning, even if a handler panics.
	defer w.armReceive(buf)

	if !c.OK {
		w.log.Errorf("receive failed (source %d): %v", c.Peer, c.Err)
		return
	}

	w.lock.Lock()
	handlers := append([]Handler{}, w.handlers...)
	w.lock.Unlock()

	data := buf[:c.Size]
	if c.Peer == w.Parent() {
		for _, h := range handlers {
			h.ReceivedFromParent(data)
		}
	} else {
		for _, h := range handlers {
			h.ReceivedFromChild(data, c.Peer)
		}
	}
}

// Pending returns the number of operations that have not
// been completed, as of the last tick.
func (w *Waypoint) Pending() int {
	return w.ledger.pending()
}

// PollOne runs one Tick and then posts itself to the
// Scheduler.
func (w *Waypoint) PollOne() int {
	n := w.Tick()
	if w.scheduler != nil {
		w.scheduler.Post(w.pollOne)
	}
	return n
}

func (w *Waypoint) pollOne() {
	w.PollOne()
}

// Tick tests every outstanding operation once and runs
// the callbacks of the finished ones, in order.
// It returns the number of finished operations.
//
// A finished receive is re-armed before Tick returns.
func (w *Waypoint) Tick() int {
	if !w.polling.CompareAndSwap(false, true) {
		panic(ErrConcurrentPoll)
	}
	defer w.polling.Store(false)

	ready := w.ledger.collect(w.transport)
	var dispatched int
	defer func() {
		// A panicking callback leaves the rest for the
		// next tick.
		if dispatched < len(ready) {
			w.ledger.requeue(ready[dispatched:])
		}
	}()
	for _, op := range ready {
		dispatched++
		c := completionFromStatus(op.id, op.status)
		if op.kind == opSend && !c.OK {
			w.log.Errorf("op %s: send to %d failed: %v", op.id, op.peer, c.Err)
		} else {
			w.log.Debugf("op %s: %s finished (peer %d, %d bytes)", op.id, op.kind, c.Peer, c.Size)
		}
		if op.callback != nil {
			op.callback(c)
		}
	}

	if n := len(w.ledger.active); n > w.warnAt {
		w.log.Warnf("a lot of pending operations in waypoint %d: %d", w.rank, n)
	}
	return len(ready)
}
