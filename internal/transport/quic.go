package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on QUIC endpoints.
const ALPN = "cats-datagram"

func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	}
}

// QUICEndpoint carries segments as unreliable QUIC datagrams (RFC 9221).
// QUIC only supplies the datagram path; reliability stays with the engines.
type QUICEndpoint struct {
	conn *quic.Conn
	poll time.Duration
}

// DialQUIC connects to a QUIC datagram endpoint at addr.
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, poll time.Duration) (*QUICEndpoint, error) {
	tlsConfig = tlsConfig.Clone()
	tlsConfig.NextProtos = []string{ALPN}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return &QUICEndpoint{conn: conn, poll: poll}, nil
}

func (e *QUICEndpoint) Send(b []byte) error {
	return e.conn.SendDatagram(b)
}

func (e *QUICEndpoint) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	pctx, cancel := context.WithTimeout(ctx, e.poll)
	defer cancel()

	b, err := e.conn.ReceiveDatagram(pctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, ErrPollTimeout
		}
		// any other error is the connection's close reason
		return nil, nil, fmt.Errorf("%w: %w", net.ErrClosed, err)
	}
	return b, e.conn.RemoteAddr(), nil
}

func (e *QUICEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

func (e *QUICEndpoint) PeerAddr() net.Addr { return e.conn.RemoteAddr() }

func (e *QUICEndpoint) Close() error {
	return e.conn.CloseWithError(0, "endpoint closed")
}

// QUICListener accepts QUIC datagram endpoints.
type QUICListener struct {
	listener *quic.Listener
}

// ListenQUIC starts a QUIC listener on addr.
func ListenQUIC(addr string, tlsConfig *tls.Config) (*QUICListener, error) {
	tlsConfig = tlsConfig.Clone()
	tlsConfig.NextProtos = []string{ALPN}
	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return &QUICListener{listener: listener}, nil
}

// Accept waits for the next peer.
func (l *QUICListener) Accept(ctx context.Context, poll time.Duration) (*QUICEndpoint, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &QUICEndpoint{conn: conn, poll: poll}, nil
}

// Addr returns the listener's network address
func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close closes the listener
func (l *QUICListener) Close() error {
	return l.listener.Close()
}
