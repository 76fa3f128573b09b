package transport

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
)

// LossConfig configures outbound impairment for a LossyEndpoint.
type LossConfig struct {
	DropRate float64 // probability a datagram is silently discarded
	DupRate  float64 // probability a delivered datagram is sent twice
	Seed     int64
}

// LossyEndpoint wraps an Endpoint and impairs its outbound datagrams.
type LossyEndpoint struct {
	Endpoint
	cfg        LossConfig
	mu         sync.Mutex
	rng        *rand.Rand
	dropped    atomic.Int64
	duplicated atomic.Int64
}

func NewLossyEndpoint(ep Endpoint, cfg LossConfig) *LossyEndpoint {
	return &LossyEndpoint{Endpoint: ep, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (l *LossyEndpoint) Send(b []byte) error {
	l.mu.Lock()
	drop := l.rng.Float64() < l.cfg.DropRate
	dup := !drop && l.rng.Float64() < l.cfg.DupRate
	l.mu.Unlock()

	if drop {
		l.dropped.Add(1)
		return nil
	}
	if err := l.Endpoint.Send(b); err != nil {
		return err
	}
	if dup {
		l.duplicated.Add(1)
		return l.Endpoint.Send(b)
	}
	return nil
}

// PeerAddr reports the wrapped endpoint's peer, if it has one.
func (l *LossyEndpoint) PeerAddr() net.Addr { return peerAddr(l.Endpoint) }

// Dropped returns how many datagrams were discarded.
func (l *LossyEndpoint) Dropped() int64 { return l.dropped.Load() }

// Duplicated returns how many datagrams were sent twice.
func (l *LossyEndpoint) Duplicated() int64 { return l.duplicated.Load() }
