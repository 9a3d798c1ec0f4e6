// Package allreduce implements algorithms for summing or
// maxing vectors across the ranks of a tree.
package allreduce

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/treecomm/collcomm"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

var ErrBadMessage = errors.New("malformed allreduce message")

// A Result is the outcome of one allreduce round.
type Result struct {
	Vector []float64
	Err    error
}

// An Allreducer applies a ReduceFn to vectors that are
// distributed across the ranks of a tree.
type Allreducer interface {
	// Allreduce starts a round with the local vector and
	// calls done with the result.
	Allreduce(data []float64, done func(r Result))
}

// A Factory attaches an Allreducer to a Waypoint.
type Factory func(w *collcomm.Waypoint, fn collcomm.ReduceFn) Allreducer

// NewTree is a Factory for TreeAllreducers.
func NewTree(w *collcomm.Waypoint, fn collcomm.ReduceFn) Allreducer {
	return NewTreeAllreducer(w, fn)
}

// message is the payload exchanged between ranks.
type message struct {
	Round  uint64    `cbor:"1,keyasint"`
	Vector []float64 `cbor:"2,keyasint"`
}

var encMode, decMode = newCodec()

func newCodec() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	essentials.Must(err)
	dm, err := cbor.DecOptions{}.DecMode()
	essentials.Must(err)
	return em, dm
}

func encodeMessage(round uint64, vec []float64) []byte {
	data, err := encMode.Marshal(message{Round: round, Vector: vec})
	essentials.Must(err)
	return data
}

func decodeMessage(data []byte) (*message, error) {
	var msg message
	if err := decMode.Unmarshal(data, &msg); err != nil {
		return nil, errors.Join(ErrBadMessage, err)
	}
	return &msg, nil
}

// BufferSize returns a receive buffer size that fits the
// messages of an allreduce over vectors of length n.
func BufferSize(n int) int {
	// Each float takes at most 9 bytes, plus headers for
	// the map, the round, and the array.
	return 9*n + 32
}
