package collcomm

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/treecomm/transport"
)

// recordLogger keeps log lines for assertions.
type recordLogger struct {
	lock     sync.Mutex
	debug    []string
	warnings []string
	errors   []string
}

func (r *recordLogger) Debugf(format string, args ...any) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.debug = append(r.debug, fmt.Sprintf(format, args...))
}

func (r *recordLogger) Infof(format string, args ...any) {}

func (r *recordLogger) Warnf(format string, args ...any) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *recordLogger) Errorf(format string, args ...any) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

// mentions reports whether a debug line contains s.
func (r *recordLogger) mentions(s string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, line := range r.debug {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func (r *recordLogger) counts() (warnings, errors int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.warnings), len(r.errors)
}

// manualTransport completes requests only when told to.
type manualTransport struct {
	rank, size int

	lock  sync.Mutex
	sends []*manualRequest
}

type manualRequest struct {
	dst    int
	size   int
	status transport.Status
}

func (m *manualTransport) Rank() int { return m.rank }

func (m *manualTransport) Size() int { return m.size }

func (m *manualTransport) Send(dst int, buf []byte) transport.Request {
	m.lock.Lock()
	defer m.lock.Unlock()
	req := &manualRequest{dst: dst, size: len(buf)}
	m.sends = append(m.sends, req)
	return req
}

func (m *manualTransport) RecvAny(buf []byte) transport.Request {
	return &manualRequest{dst: NoRank}
}

func (m *manualTransport) Test(r transport.Request) transport.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return r.(*manualRequest).status
}

// finishSends completes every outstanding send.
func (m *manualTransport) finishSends() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, req := range m.sends {
		req.status = transport.Succeeded(req.dst, req.size)
	}
	n := len(m.sends)
	m.sends = nil
	return n
}

// hubWaypoints creates one Waypoint per rank on a Hub.
func hubWaypoints(t *testing.T, hub *transport.Hub, log Logger, bufSize int) []*Waypoint {
	t.Helper()
	res := make([]*Waypoint, hub.Size())
	for i := range res {
		w, err := NewWaypoint(hub.Endpoint(i), WithLogger(log), WithBufferSize(bufSize))
		require.NoError(t, err)
		res[i] = w
	}
	return res
}

// tickAll polls every Waypoint until nothing finishes.
func tickAll(ws ...*Waypoint) {
	for {
		var n int
		for _, w := range ws {
			// The armed receive never finishes by itself,
			// so only count real progress.
			n += w.Tick()
		}
		if n == 0 {
			return
		}
	}
}

// messageLog records handler calls.
type messageLog struct {
	lock   sync.Mutex
	parent [][]byte
	child  [][]byte
	from   []int
}

func (m *messageLog) ReceivedFromParent(data []byte) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.parent = append(m.parent, append([]byte{}, data...))
}

func (m *messageLog) ReceivedFromChild(data []byte, child int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.child = append(m.child, append([]byte{}, data...))
	m.from = append(m.from, child)
}
