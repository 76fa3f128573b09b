package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/quantarax/cats/internal/config"
	"github.com/quantarax/cats/internal/segment"
)

// fastTransport shortens every timer so engine tests finish quickly.
func fastTransport() config.Transport {
	cfg := config.DefaultTransport()
	cfg.Bandwidth = 1000
	cfg.AckTimeout = 60 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type delivery struct {
	payload []byte
	prio    segment.Priority
	seq     uint64
}

type deliveryLog struct {
	mu  sync.Mutex
	got []delivery
}

func (d *deliveryLog) deliver(payload []byte, prio segment.Priority, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, delivery{payload: payload, prio: prio, seq: seq})
}

func (d *deliveryLog) snapshot() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.got...)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustEncode(t *testing.T, s segment.Segment) []byte {
	t.Helper()
	b, err := segment.Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return b
}
