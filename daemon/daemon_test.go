package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonOrder(t *testing.T) {
	d := New(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		d.Post(func() {
			order = append(order, i)
			if i == 4 {
				cancel()
			}
		})
	}
	err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDaemonRepost(t *testing.T) {
	d := New(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ticks int
	var repost func()
	repost = func() {
		ticks++
		// A reposted task waits for the next tick.
		assert.Zero(t, d.Pending())
		if ticks == 10 {
			cancel()
			return
		}
		d.Post(repost)
		assert.Equal(t, 1, d.Pending())
	}
	d.Post(repost)
	require.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.Equal(t, 10, ticks)
}

func TestDaemonCrossGoroutinePost(t *testing.T) {
	d := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count atomic.Int32
	for i := 0; i < 8; i++ {
		go d.Post(func() {
			if count.Add(1) == 8 {
				cancel()
			}
		})
	}
	require.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.EqualValues(t, 8, count.Load())
}
