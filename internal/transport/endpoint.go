package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrPollTimeout is returned by Endpoint.Receive when no datagram arrived
// within the poll interval. Callers treat it as an idle tick.
var ErrPollTimeout = errors.New("poll timeout")

const maxDatagramSize = 64 * 1024

// Endpoint is one side of the datagram network. Send targets the peer fixed
// at construction; Receive blocks for at most one poll interval. A single
// goroutine may call Receive while another calls Send.
type Endpoint interface {
	Send(b []byte) error
	Receive(ctx context.Context) ([]byte, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

// UDPEndpoint is an Endpoint backed by a bound UDP socket.
type UDPEndpoint struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	poll time.Duration
	buf  []byte
}

// ListenUDP binds local and sends to peer. poll bounds each Receive call.
func ListenUDP(local, peer string, poll time.Duration) (*UDPEndpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("resolve local %s: %w", local, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %s: %w", peer, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", local, err)
	}
	return &UDPEndpoint{conn: conn, peer: raddr, poll: poll, buf: make([]byte, maxDatagramSize)}, nil
}

// SetPeer changes the send destination. Not safe to call concurrently with Send.
func (e *UDPEndpoint) SetPeer(peer *net.UDPAddr) { e.peer = peer }

func (e *UDPEndpoint) Send(b []byte) error {
	_, err := e.conn.WriteToUDP(b, e.peer)
	return err
}

func (e *UDPEndpoint) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	deadline := time.Now().Add(e.poll)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := e.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}

	n, addr, err := e.conn.ReadFromUDP(e.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			return nil, nil, ErrPollTimeout
		}
		return nil, nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, addr, nil
}

func (e *UDPEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

func (e *UDPEndpoint) PeerAddr() net.Addr { return e.peer }

func (e *UDPEndpoint) Close() error { return e.conn.Close() }
