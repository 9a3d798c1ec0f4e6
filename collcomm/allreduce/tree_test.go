package allreduce

import (
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/treecomm/collcomm"
	"github.com/unixpickle/treecomm/transport"
)

func TestTreeAllreducer(t *testing.T) {
	logger.New("NOOP")
	RunAllreducerTests(t, NewTree)
}

// hubReducers creates a TreeAllreducer per rank on a Hub.
func hubReducers(t *testing.T, size int, fn collcomm.ReduceFn) ([]*collcomm.Waypoint,
	[]*TreeAllreducer) {
	logger.New("NOOP")
	hub := transport.NewHub(size)
	ws := make([]*collcomm.Waypoint, size)
	reducers := make([]*TreeAllreducer, size)
	for i := range ws {
		w, err := collcomm.NewWaypoint(hub.Endpoint(i), collcomm.WithBufferSize(BufferSize(4)))
		require.NoError(t, err)
		ws[i] = w
		reducers[i] = NewTreeAllreducer(w, fn)
	}
	return ws, reducers
}

func tickAll(ws []*collcomm.Waypoint) {
	for {
		var n int
		for _, w := range ws {
			n += w.Tick()
		}
		if n == 0 {
			return
		}
	}
}

func TestTreeAllreducerRounds(t *testing.T) {
	ws, reducers := hubReducers(t, 6, collcomm.Max)

	results := make([][]Result, len(ws))
	for round := 0; round < 3; round++ {
		for i, r := range reducers {
			vec := []float64{float64(i + round), float64(-i), 0, 1}
			r.Allreduce(vec, func(res Result) {
				results[i] = append(results[i], res)
			})
		}
	}
	tickAll(ws)

	for i, rankResults := range results {
		require.Len(t, rankResults, 3, "rank %d", i)
		for round, res := range rankResults {
			require.NoError(t, res.Err)
			assert.Equal(t, []float64{float64(5 + round), 0, 0, 1}, res.Vector)
		}
	}
}

func TestTreeAllreducerLateStart(t *testing.T) {
	ws, reducers := hubReducers(t, 3, collcomm.Sum)

	var results []Result
	done := func(res Result) {
		results = append(results, res)
	}

	// The leaves report before the root has started.
	reducers[1].Allreduce([]float64{1, 2, 3, 4}, done)
	reducers[2].Allreduce([]float64{10, 20, 30, 40}, done)
	tickAll(ws)
	assert.Empty(t, results)

	reducers[0].Allreduce([]float64{100, 200, 300, 400}, done)
	tickAll(ws)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, []float64{111, 222, 333, 444}, res.Vector)
	}
}

func TestTreeAllreducerBadMessage(t *testing.T) {
	ws, reducers := hubReducers(t, 2, collcomm.Sum)

	var result Result
	reducers[0].Allreduce([]float64{1, 2, 3, 4}, func(res Result) {
		result = res
	})
	ws[1].SendToParent([]byte{0xff, 0x00}, nil)
	tickAll(ws)
	assert.ErrorIs(t, result.Err, ErrBadMessage)
}

func TestMessageCodec(t *testing.T) {
	vec := []float64{1.5, -2, 1e300, 0}
	data := encodeMessage(7, vec)
	assert.LessOrEqual(t, len(data), BufferSize(len(vec)))

	msg, err := decodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), msg.Round)
	assert.Equal(t, vec, msg.Vector)

	_, err = decodeMessage([]byte{0x1f})
	assert.ErrorIs(t, err, ErrBadMessage)
}
