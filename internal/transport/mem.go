package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memDatagram struct {
	b    []byte
	from net.Addr
}

// MemEndpoint is an in-process Endpoint. Datagrams are dropped when the
// peer's buffer is full, as a congested UDP socket would.
type MemEndpoint struct {
	addr      memAddr
	in        chan memDatagram
	peer      *MemEndpoint
	poll      time.Duration
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemPipe returns two connected endpoints named "a" and "b".
func NewMemPipe(poll time.Duration, buffer int) (*MemEndpoint, *MemEndpoint) {
	a := &MemEndpoint{addr: "mem-a", in: make(chan memDatagram, buffer), poll: poll, closed: make(chan struct{})}
	b := &MemEndpoint{addr: "mem-b", in: make(chan memDatagram, buffer), poll: poll, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (e *MemEndpoint) Send(b []byte) error {
	select {
	case <-e.closed:
		return net.ErrClosed
	default:
	}
	d := memDatagram{b: append([]byte(nil), b...), from: e.addr}
	select {
	case e.peer.in <- d:
	default:
	}
	return nil
}

func (e *MemEndpoint) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	timer := time.NewTimer(e.poll)
	defer timer.Stop()
	select {
	case d := <-e.in:
		return d.b, d.from, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-e.closed:
		return nil, nil, net.ErrClosed
	case <-timer.C:
		return nil, nil, ErrPollTimeout
	}
}

// Inject delivers raw bytes to e as if sent by its peer.
func (e *MemEndpoint) Inject(b []byte) {
	e.in <- memDatagram{b: b, from: e.peer.addr}
}

func (e *MemEndpoint) LocalAddr() net.Addr { return e.addr }

func (e *MemEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}
