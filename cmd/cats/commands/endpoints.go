package commands

import (
	"context"
	"fmt"

	"github.com/quantarax/cats/internal/quicutil"
	"github.com/quantarax/cats/internal/transport"
)

// openReceiverEndpoint binds the data address. In quic mode ready is called
// once the listener is up, before the sender connects; in udp mode it is
// called right after the socket is bound.
func openReceiverEndpoint(ctx context.Context, ready func() error) (transport.Endpoint, error) {
	poll := cfg.Transport.PollInterval
	switch cfg.Network.Mode {
	case "quic":
		tlsConfig, err := quicutil.ServerTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		ln, err := transport.ListenQUIC(cfg.Network.ReceiverAddr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Network.ReceiverAddr, err)
		}
		if err := ready(); err != nil {
			ln.Close()
			return nil, err
		}
		ep, err := ln.Accept(ctx, poll)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("failed to accept sender: %w", err)
		}
		return ep, nil
	default:
		ep, err := transport.ListenUDP(cfg.Network.ReceiverAddr, cfg.Network.AckAddr, poll)
		if err != nil {
			return nil, err
		}
		if err := ready(); err != nil {
			ep.Close()
			return nil, err
		}
		return ep, nil
	}
}

func openSenderEndpoint(ctx context.Context) (transport.Endpoint, error) {
	poll := cfg.Transport.PollInterval
	switch cfg.Network.Mode {
	case "quic":
		ep, err := transport.DialQUIC(ctx, cfg.Network.ReceiverAddr, quicutil.MakeClientTLSConfig(), poll)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.Network.ReceiverAddr, err)
		}
		return ep, nil
	default:
		return transport.ListenUDP(cfg.Network.SenderAddr, cfg.Network.ReceiverAddr, poll)
	}
}
