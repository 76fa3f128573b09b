package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/quantarax/cats/internal/segment"
)

var errUnexpectedKind = errors.New("unexpected segment kind")

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func peerAddr(ep Endpoint) net.Addr {
	if p, ok := ep.(interface{ PeerAddr() net.Addr }); ok {
		return p.PeerAddr()
	}
	return nil
}

func peerString(ep Endpoint) string {
	return addrString(peerAddr(ep))
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errUnexpectedKind):
		return "unexpected_kind"
	case errors.Is(err, segment.ErrChecksum):
		return "checksum"
	case errors.Is(err, segment.ErrTruncated):
		return "truncated"
	default:
		return "malformed"
	}
}
