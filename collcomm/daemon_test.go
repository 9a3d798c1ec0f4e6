package collcomm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/treecomm/daemon"
	"github.com/unixpickle/treecomm/transport"
)

func TestDaemonDriven(t *testing.T) {
	const size = 7

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub := transport.NewHub(size)
	arrived := make(chan int, size)
	ws := make([]*Waypoint, size)
	errs := make(chan error, size)
	for i := range ws {
		d := daemon.New(time.Millisecond)
		w, err := NewWaypoint(hub.Endpoint(i), WithLogger(&recordLogger{}),
			WithScheduler(d), WithBufferSize(8))
		require.NoError(t, err)
		ws[i] = w

		// Forward every message down the tree.
		w.RegisterHandler(HandlerFuncs{
			Parent: func(data []byte) {
				arrived <- w.Rank()
				w.SendToChildren(append([]byte{}, data...), nil)
			},
		})
		go func() {
			errs <- d.Run(ctx)
		}()
	}

	ws[0].SendToChildren([]byte("go"), nil)

	seen := map[int]bool{}
	for len(seen) < size-1 {
		select {
		case rank := <-arrived:
			seen[rank] = true
		case <-ctx.Done():
			t.Fatalf("only reached ranks %v", seen)
		}
	}
	assert.False(t, seen[0])

	cancel()
	for range ws {
		assert.ErrorIs(t, <-errs, context.Canceled)
	}
}
