// Package tcptransport connects a fixed set of processes
// with one TCP connection per pair of ranks.
//
// Messages are framed with CBOR. Each connection has a
// reader Goroutine that feeds a bounded queue, and a
// writer Goroutine that drains the connection's pending
// sends. Requests are completed by polling with Test.
package tcptransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fxamacker/cbor/v2"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/treecomm/transport"
)

const dialRetryDelay = 50 * time.Millisecond

// Logger is the logging interface used by a Transport.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type hello struct {
	Rank int `cbor:"1,keyasint"`
	Size int `cbor:"2,keyasint"`
}

type frame struct {
	Data []byte `cbor:"1,keyasint"`
}

var encMode, decMode = newCodec()

func newCodec() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	essentials.Must(err)
	dm, err := cbor.DecOptions{}.DecMode()
	essentials.Must(err)
	return em, dm
}

// A Transport is a transport.Transport over TCP.
type Transport struct {
	rank int
	size int
	log  Logger

	// peers is indexed by rank; the local entry is nil.
	peers []*peer

	selfLock sync.Mutex
	self     lfq.SPSC[[]byte]

	// next is the first source tried by the next receive.
	// It is only used by the polling Goroutine.
	next int

	closed atomix.Uint32
	done   chan struct{}
	wg     sync.WaitGroup
}

// Open listens on the local address, connects to every
// other rank, and starts moving messages.
//
// Ranks dial the ranks below them and accept connections
// from the ranks above them. If the mesh is not complete
// within the Config's DialTimeout, Open fails with
// transport.ErrUnavailable.
//
// If log is nil, the process logger is used.
func Open(ctx context.Context, cfg Config, log Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	if log == nil {
		if logger.Sugar == nil {
			logger.New("INFO")
		}
		log = logger.Sugar.WithServiceName("tcptransport")
	}

	t := &Transport{
		rank:  cfg.Rank,
		size:  len(cfg.Addrs),
		log:   log,
		peers: make([]*peer, len(cfg.Addrs)),
		done:  make(chan struct{}),
	}
	t.self.Init(cfg.QueueDepth)

	if err := t.connect(ctx, cfg); err != nil {
		t.Close()
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	for _, p := range t.peers {
		if p != nil {
			t.wg.Add(2)
			go t.readLoop(p)
			go t.writeLoop(p)
		}
	}
	t.log.Infof("rank %d connected to %d peers", t.rank, t.size-1)
	return t, nil
}

func (t *Transport) connect(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addrs[t.rank])
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer func() {
		if stop() {
			ln.Close()
		}
	}()

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- t.acceptPeers(ctx, ln, cfg)
	}()

	var dialErr error
	for rank := 0; rank < t.rank; rank++ {
		if dialErr = t.dialPeer(ctx, rank, cfg); dialErr != nil {
			cancel()
			break
		}
	}
	return errors.Join(dialErr, <-acceptErr)
}

func (t *Transport) dialPeer(ctx context.Context, rank int, cfg Config) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", cfg.Addrs[rank])
		if err == nil {
			p := newPeer(rank, conn, cfg.QueueDepth)
			if err := p.enc.Encode(hello{Rank: t.rank, Size: t.size}); err != nil {
				conn.Close()
				return fmt.Errorf("handshake with rank %d: %w", rank, err)
			}
			t.peers[rank] = p
			return nil
		}
		t.log.Debugf("dial rank %d: %v", rank, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("dial rank %d: %w", rank, err)
		case <-time.After(dialRetryDelay):
		}
	}
}

func (t *Transport) acceptPeers(ctx context.Context, ln net.Listener, cfg Config) error {
	for remaining := t.size - t.rank - 1; remaining > 0; {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(deadline)
		}
		p := newPeer(-1, conn, cfg.QueueDepth)
		var h hello
		if err := p.dec.Decode(&h); err != nil {
			conn.Close()
			return fmt.Errorf("handshake: %w", err)
		}
		conn.SetReadDeadline(time.Time{})
		if h.Size != t.size || h.Rank <= t.rank || h.Rank >= t.size || t.peers[h.Rank] != nil {
			conn.Close()
			return fmt.Errorf("unexpected handshake from rank %d of %d", h.Rank, h.Size)
		}
		p.rank = h.Rank
		t.peers[h.Rank] = p
		remaining--
	}
	return nil
}

// Rank returns the local rank.
func (t *Transport) Rank() int {
	return t.rank
}

// Size returns the number of ranks.
func (t *Transport) Size() int {
	return t.size
}

type sendRequest struct {
	dst   int
	data  []byte
	state atomix.Uint32
	err   error

	// status is cached by the polling Goroutine.
	status transport.Status
}

func (s *sendRequest) finish(err error) {
	s.err = err
	s.state.Add(1)
}

type recvRequest struct {
	buf    []byte
	status transport.Status
}

// Send queues buf for delivery to dst.
//
// The request completes once the whole message has been
// written to the connection.
func (t *Transport) Send(dst int, buf []byte) transport.Request {
	req := &sendRequest{dst: dst, data: buf}
	switch {
	case dst < 0 || dst >= t.size:
		req.status = transport.Failed(dst, transport.ErrInvalidRank)
	case t.isClosed():
		req.status = transport.Failed(dst, transport.ErrClosed)
	case dst == t.rank:
		req.status = t.sendSelf(buf)
	default:
		t.peers[dst].push(req)
	}
	return req
}

func (t *Transport) sendSelf(buf []byte) transport.Status {
	data := append([]byte{}, buf...)
	t.selfLock.Lock()
	defer t.selfLock.Unlock()
	if err := t.self.Enqueue(&data); err != nil {
		return transport.Failed(t.rank, err)
	}
	return transport.Succeeded(t.rank, len(buf))
}

// RecvAny creates a request for the next message from any
// rank. Sources are served round-robin.
func (t *Transport) RecvAny(buf []byte) transport.Request {
	return &recvRequest{buf: buf}
}

// Test checks a request without blocking.
func (t *Transport) Test(r transport.Request) transport.Status {
	switch req := r.(type) {
	case *sendRequest:
		if req.status.Ready {
			return req.status
		}
		if req.state.Load() == 0 {
			if t.isClosed() {
				req.status = transport.Failed(req.dst, transport.ErrClosed)
			}
		} else {
			if req.err != nil {
				req.status = transport.Failed(req.dst, req.err)
			} else {
				req.status = transport.Succeeded(req.dst, len(req.data))
			}
		}
		return req.status
	case *recvRequest:
		if req.status.Ready {
			return req.status
		}
		if t.isClosed() {
			req.status = transport.Failed(-1, transport.ErrClosed)
			return req.status
		}
		for i := 0; i < t.size; i++ {
			src := (t.next + i) % t.size
			data, err := t.inbound(src).Dequeue()
			if err != nil {
				continue
			}
			t.next = (src + 1) % t.size
			req.status = transport.Deliver(req.buf, src, data)
			return req.status
		}
		return req.status
	default:
		panic("request was not created by this transport")
	}
}

func (t *Transport) inbound(rank int) *lfq.SPSC[[]byte] {
	if rank == t.rank {
		return &t.self
	}
	return &t.peers[rank].inbound
}

// Close shuts down every connection.
//
// Requests that have not completed fail with
// transport.ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Add(1) != 1 {
		return nil
	}
	close(t.done)
	var errs []error
	for _, p := range t.peers {
		if p != nil {
			if err := p.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	t.wg.Wait()
	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	return t.closed.Load() != 0
}

func (t *Transport) readLoop(p *peer) {
	defer t.wg.Done()
	var bo iox.Backoff
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			if !t.isClosed() {
				t.log.Warnf("connection to rank %d lost: %v", p.rank, err)
			}
			p.fail(err)
			return
		}
		for {
			err := p.inbound.Enqueue(&f.Data)
			if err == nil {
				break
			}
			if !iox.IsWouldBlock(err) || t.isClosed() {
				return
			}
			// The poller is behind; stop reading until it
			// catches up.
			bo.Wait()
		}
		bo.Reset()
	}
}

func (t *Transport) writeLoop(p *peer) {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			for _, req := range p.take() {
				req.finish(transport.ErrClosed)
			}
			return
		case <-p.wake:
		}
		for _, req := range p.take() {
			err := p.downErr()
			if err == nil {
				if err = p.enc.Encode(frame{Data: req.data}); err != nil {
					p.fail(err)
				}
			}
			if err != nil {
				err = fmt.Errorf("%w: %v", transport.ErrPeerDown, err)
			}
			req.finish(err)
		}
	}
}

type peer struct {
	rank    int
	conn    net.Conn
	enc     *cbor.Encoder
	dec     *cbor.Decoder
	inbound lfq.SPSC[[]byte]

	lock     sync.Mutex
	outbound []*sendRequest
	err      error
	wake     chan struct{}
}

func newPeer(rank int, conn net.Conn, queueDepth int) *peer {
	p := &peer{
		rank: rank,
		conn: conn,
		enc:  encMode.NewEncoder(conn),
		dec:  decMode.NewDecoder(conn),
		wake: make(chan struct{}, 1),
	}
	p.inbound.Init(queueDepth)
	return p
}

func (p *peer) push(req *sendRequest) {
	p.lock.Lock()
	p.outbound = append(p.outbound, req)
	p.lock.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *peer) take() []*sendRequest {
	p.lock.Lock()
	defer p.lock.Unlock()
	res := p.outbound
	p.outbound = nil
	return res
}

func (p *peer) fail(err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *peer) downErr() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.err
}
