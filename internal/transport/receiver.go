package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantarax/cats/internal/observability"
	"github.com/quantarax/cats/internal/segment"
)

// DeliverFunc receives each distinct DATA segment exactly once, in arrival order.
type DeliverFunc func(payload []byte, prio segment.Priority, seq uint64)

// ReceiverStats is a point-in-time view of the receive engine.
type ReceiverStats struct {
	Received   int64
	Delivered  int64
	Duplicates int64
	AcksSent   int64
	Dropped    int64
	AckErrors  int64
}

// Receiver is the receive engine: it acknowledges every DATA segment,
// suppresses duplicates and hands new payloads to the application.
type Receiver struct {
	ep      Endpoint
	session string
	logger  *observability.Logger
	metrics *observability.Metrics
	sink    EventSink
	retry   time.Duration

	// seen is touched only by the listening goroutine. It grows for the
	// lifetime of the session.
	seen    map[uint64]struct{}
	deliver DeliverFunc

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	received   atomic.Int64
	delivered  atomic.Int64
	duplicates atomic.Int64
	acksSent   atomic.Int64
	dropped    atomic.Int64
	ackErrors  atomic.Int64
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger sets the structured logger.
func WithReceiverLogger(l *observability.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = l }
}

// WithReceiverMetrics enables Prometheus metrics.
func WithReceiverMetrics(m *observability.Metrics) ReceiverOption {
	return func(r *Receiver) { r.metrics = m }
}

// WithReceiverEvents sets the event sink.
func WithReceiverEvents(sink EventSink) ReceiverOption {
	return func(r *Receiver) { r.sink = sink }
}

// WithReceiverSession overrides the generated session id.
func WithReceiverSession(id string) ReceiverOption {
	return func(r *Receiver) { r.session = id }
}

// NewReceiver creates a receive engine over ep. ACKs are sent to the
// endpoint's peer. The endpoint is closed by Stop.
func NewReceiver(ep Endpoint, opts ...ReceiverOption) *Receiver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		ep:      ep,
		session: uuid.New().String(),
		logger:  observability.NewNopLogger(),
		sink:    nopSink{},
		retry:   50 * time.Millisecond,
		seen:    make(map[uint64]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithRole("receiver").WithSession(r.session)
	return r
}

// Session returns the engine's session id.
func (r *Receiver) Session() string { return r.session }

// Start begins listening. cb may be nil.
func (r *Receiver) Start(cb DeliverFunc) {
	r.startOnce.Do(func() {
		r.deliver = cb
		r.running.Store(true)
		r.wg.Add(1)
		go r.listen()
		r.logger.EngineStarted("receiver", r.ep.LocalAddr().String(), peerString(r.ep))
	})
}

// Stop ends the listening loop within one poll interval, waits for it and
// closes the endpoint.
func (r *Receiver) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.running.Store(false)
		err = r.ep.Close()
		r.logger.EngineStopped("receiver")
	})
	return err
}

// Running reports whether the listening loop is active.
func (r *Receiver) Running() bool { return r.running.Load() }

// Delivered returns how many distinct segments reached the callback.
func (r *Receiver) Delivered() int { return int(r.delivered.Load()) }

// Stats returns current counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Received:   r.received.Load(),
		Delivered:  r.delivered.Load(),
		Duplicates: r.duplicates.Load(),
		AcksSent:   r.acksSent.Load(),
		Dropped:    r.dropped.Load(),
		AckErrors:  r.ackErrors.Load(),
	}
}

func (r *Receiver) listen() {
	defer r.wg.Done()

	for {
		b, from, err := r.ep.Receive(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrPollTimeout) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				r.logger.Error(err, "data endpoint closed while running")
				return
			}
			r.logger.Error(err, "data receive failed")
			if !sleepCtx(r.ctx, r.retry) {
				return
			}
			continue
		}
		r.handle(b, addrString(from))
	}
}

func (r *Receiver) handle(b []byte, peer string) {
	log := r.logger.WithPeer(peer)
	seg, err := segment.Decode(b)
	if err == nil && seg.Kind != segment.KindData {
		err = errUnexpectedKind
	}
	if err != nil {
		r.dropped.Add(1)
		log.DatagramDropped(len(b), err)
		r.record(Event{Time: time.Now(), Type: EventDrop, Peer: peer, Info: err.Error()})
		if r.metrics != nil {
			r.metrics.RecordDrop(dropReason(err))
		}
		return
	}

	r.received.Add(1)
	r.sendAck(seg.SeqNum)

	ev := Event{
		Time:        time.Now(),
		Type:        EventDataRx,
		SeqNum:      seg.SeqNum,
		Priority:    seg.Priority.String(),
		PayloadSize: len(seg.Payload),
		Peer:        peer,
	}

	if _, dup := r.seen[seg.SeqNum]; dup {
		r.duplicates.Add(1)
		log.DuplicateReceived(seg.SeqNum)
		ev.Type = EventDuplicate
		ev.Info = "Duplicate"
		r.record(ev)
		if r.metrics != nil {
			r.metrics.RecordSegmentReceived(true, len(seg.Payload))
		}
		return
	}

	r.seen[seg.SeqNum] = struct{}{}
	r.delivered.Add(1)
	log.SegmentDelivered(seg.SeqNum, seg.Priority.String(), len(seg.Payload))
	r.record(ev)
	if r.metrics != nil {
		r.metrics.RecordSegmentReceived(false, len(seg.Payload))
	}
	if r.deliver != nil {
		r.deliver(seg.Payload, seg.Priority, seg.SeqNum)
	}
}

func (r *Receiver) sendAck(seq uint64) {
	wire, err := segment.Encode(segment.NewAck(seq))
	if err == nil {
		err = r.ep.Send(wire)
	}
	if err != nil {
		r.ackErrors.Add(1)
		r.logger.Error(err, "failed to send ack")
		return
	}
	r.acksSent.Add(1)
	r.record(Event{Time: time.Now(), Type: EventAckTx, SeqNum: seq, Peer: peerString(r.ep)})
	if r.metrics != nil {
		r.metrics.RecordAckSent()
	}
}

func (r *Receiver) record(ev Event) {
	ev.Role = RoleReceiver
	ev.Session = r.session
	r.sink.Record(ev)
}
