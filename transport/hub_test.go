package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubSendRecv(t *testing.T) {
	hub := NewHub(3)
	a, b := hub.Endpoint(0), hub.Endpoint(2)

	buf := make([]byte, 16)
	recv := b.RecvAny(buf)
	require.False(t, b.Test(recv).Ready)

	payload := []byte{1, 2, 3}
	send := a.Send(2, payload)
	status := a.Test(send)
	require.True(t, status.Ready)
	require.True(t, status.OK)
	assert.Equal(t, 2, status.Source)
	assert.Equal(t, 3, status.Size)

	// The hub owns a copy of the payload.
	payload[0] = 0xff

	status = b.Test(recv)
	require.True(t, status.Ready)
	require.True(t, status.OK)
	assert.Equal(t, 0, status.Source)
	assert.Equal(t, []byte{1, 2, 3}, buf[:status.Size])

	// Ready requests are idempotent.
	assert.Equal(t, status, b.Test(recv))
	assert.Zero(t, hub.Queued(2))
}

func TestHubOrdering(t *testing.T) {
	hub := NewHub(2)
	a, b := hub.Endpoint(0), hub.Endpoint(1)
	for i := 0; i < 5; i++ {
		a.Send(1, []byte{byte(i)})
	}
	require.Equal(t, 5, hub.Queued(1))
	for i := 0; i < 5; i++ {
		buf := make([]byte, 1)
		status := b.Test(b.RecvAny(buf))
		require.True(t, status.OK)
		assert.Equal(t, byte(i), buf[0])
	}
}

func TestHubTruncated(t *testing.T) {
	hub := NewHub(2)
	hub.Endpoint(1).Send(0, []byte{1, 2, 3, 4})
	buf := make([]byte, 2)
	ep := hub.Endpoint(0)
	status := ep.Test(ep.RecvAny(buf))
	require.True(t, status.Ready)
	require.False(t, status.OK)
	assert.ErrorIs(t, status.Err, ErrTruncated)
	assert.Equal(t, 1, status.Source)
	assert.Equal(t, []byte{1, 2}, buf)
}

func TestHubFailures(t *testing.T) {
	hub := NewHub(2)
	a := hub.Endpoint(0)

	status := a.Test(a.Send(7, []byte{1}))
	require.True(t, status.Ready)
	assert.ErrorIs(t, status.Err, ErrInvalidRank)

	a.Send(1, []byte{1})
	hub.SetDown(1, true)
	assert.Zero(t, hub.Queued(1))

	status = a.Test(a.Send(1, []byte{1}))
	require.True(t, status.Ready)
	require.False(t, status.OK)
	assert.ErrorIs(t, status.Err, ErrPeerDown)

	hub.SetDown(1, false)
	status = a.Test(a.Send(1, []byte{1}))
	require.True(t, status.OK)
}
