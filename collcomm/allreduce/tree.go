package allreduce

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/treecomm/collcomm"
)

// A TreeAllreducer performs a reduction by going up the
// tree to the root, and then back down the tree to the
// leaves.
//
// Every rank must call Allreduce the same number of times,
// in the same order. Rounds may overlap: a rank may start
// the next round before the previous one has finished.
type TreeAllreducer struct {
	w  *collcomm.Waypoint
	fn collcomm.ReduceFn

	lock      sync.Mutex
	nextRound uint64
	rounds    map[uint64]*treeRound
}

type treeRound struct {
	local    []float64
	started  bool
	reduced  bool
	children map[int][]float64
	done     func(r Result)
}

// NewTreeAllreducer registers a TreeAllreducer as a
// handler on w.
//
// The Waypoint's receive buffer must fit the encoded
// vectors; see BufferSize.
func NewTreeAllreducer(w *collcomm.Waypoint, fn collcomm.ReduceFn) *TreeAllreducer {
	t := &TreeAllreducer{
		w:      w,
		fn:     fn,
		rounds: map[uint64]*treeRound{},
	}
	w.RegisterHandler(t)
	return t
}

// Allreduce starts the next round with the local vector.
//
// The done callback receives the reduced vector.
// It usually runs on the polling Goroutine, but a tree
// with a single rank finishes immediately.
// The caller must not modify data until done is called.
func (t *TreeAllreducer) Allreduce(data []float64, done func(r Result)) {
	t.lock.Lock()
	id := t.nextRound
	t.nextRound++
	round := t.round(id)
	round.local = data
	round.started = true
	round.done = done
	reduced, ok := t.tryReduce(round)
	t.lock.Unlock()

	if ok {
		t.forward(id, reduced)
	}
}

// ReceivedFromChild records a child's partial reduction.
func (t *TreeAllreducer) ReceivedFromChild(data []byte, child int) {
	msg, err := decodeMessage(data)
	if err != nil {
		t.fail(t.lowestRound(), fmt.Errorf("from child %d: %w", child, err))
		return
	}

	if !t.isChild(child) {
		t.fail(msg.Round, fmt.Errorf("%w: rank %d is not a child", ErrBadMessage, child))
		return
	}

	t.lock.Lock()
	round := t.round(msg.Round)
	if _, ok := round.children[child]; ok {
		t.lock.Unlock()
		t.fail(msg.Round, fmt.Errorf("%w: duplicate vector from child %d", ErrBadMessage, child))
		return
	}
	round.children[child] = msg.Vector
	reduced, ok := t.tryReduce(round)
	t.lock.Unlock()

	if ok {
		t.forward(msg.Round, reduced)
	}
}

// ReceivedFromParent finishes a round with the fully
// reduced vector.
func (t *TreeAllreducer) ReceivedFromParent(data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		t.fail(t.lowestRound(), fmt.Errorf("from parent: %w", err))
		return
	}
	t.broadcast(msg.Round, msg.Vector)
}

// tryReduce applies the ReduceFn once the local vector and
// every child's vector are present.
func (t *TreeAllreducer) tryReduce(round *treeRound) ([]float64, bool) {
	if round.reduced || !round.started || len(round.children) < len(t.w.Children()) {
		return nil, false
	}
	round.reduced = true
	ranks := make([]int, 0, len(round.children))
	for rank := range round.children {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	vecs := [][]float64{round.local}
	for _, rank := range ranks {
		vecs = append(vecs, round.children[rank])
	}
	return t.fn(vecs...), true
}

// forward sends a partial reduction up the tree, or
// starts the broadcast at the root.
func (t *TreeAllreducer) forward(id uint64, reduced []float64) {
	if t.w.Rank() == t.w.Parent() {
		t.broadcast(id, reduced)
		return
	}
	t.w.SendToParent(encodeMessage(id, reduced), func(c collcomm.Completion) {
		if !c.OK {
			t.fail(id, fmt.Errorf("send to parent: %w", c.Err))
		}
	})
}

// broadcast passes the result to the children and
// finishes the round locally.
func (t *TreeAllreducer) broadcast(id uint64, reduced []float64) {
	if len(t.w.Children()) > 0 {
		t.w.SendToChildren(encodeMessage(id, reduced), func(c collcomm.Completion) {
			if !c.OK {
				t.fail(id, fmt.Errorf("send to children: %w", c.Err))
			}
		})
	}
	t.finish(id, Result{Vector: reduced})
}

func (t *TreeAllreducer) fail(id uint64, err error) {
	t.finish(id, Result{Err: err})
}

func (t *TreeAllreducer) finish(id uint64, r Result) {
	t.lock.Lock()
	round, ok := t.rounds[id]
	if ok {
		delete(t.rounds, id)
	}
	t.lock.Unlock()

	if ok && round.done != nil {
		round.done(r)
	}
}

func (t *TreeAllreducer) isChild(rank int) bool {
	for _, child := range t.w.Children() {
		if child == rank {
			return true
		}
	}
	return false
}

func (t *TreeAllreducer) lowestRound() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	res := t.nextRound
	for id := range t.rounds {
		if id < res {
			res = id
		}
	}
	return res
}

func (t *TreeAllreducer) round(id uint64) *treeRound {
	r, ok := t.rounds[id]
	if !ok {
		r = &treeRound{children: map[int][]float64{}}
		t.rounds[id] = r
	}
	return r
}
