package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantarax/cats/internal/config"
	"github.com/quantarax/cats/internal/observability"
	"github.com/quantarax/cats/internal/ratelimit"
	"github.com/quantarax/cats/internal/segment"
)

// SenderStats is a point-in-time view of the send engine.
type SenderStats struct {
	Cwnd          int
	InFlight      int
	HighQueued    int
	LowQueued     int
	Sent          int64
	Retransmitted int64
	GivenUp       int64
	Acked         int64
	StaleAcks     int64
	SendErrors    int64
}

// Sender is the send engine: it segments application buffers, schedules
// them by strict priority under a congestion window and a pacing rate, and
// retransmits until acknowledged or given up.
type Sender struct {
	cfg     config.Transport
	ep      Endpoint
	state   *sendState
	pacer   *ratelimit.TokenBucket
	session string
	logger  *observability.Logger
	metrics *observability.Metrics
	sink    EventSink
	now     func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	sent          atomic.Int64
	retransmitted atomic.Int64
	givenUp       atomic.Int64
	acked         atomic.Int64
	staleAcks     atomic.Int64
	sendErrors    atomic.Int64
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger sets the structured logger.
func WithSenderLogger(l *observability.Logger) SenderOption {
	return func(s *Sender) { s.logger = l }
}

// WithSenderMetrics enables Prometheus metrics.
func WithSenderMetrics(m *observability.Metrics) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// WithSenderEvents sets the event sink.
func WithSenderEvents(sink EventSink) SenderOption {
	return func(s *Sender) { s.sink = sink }
}

// WithSenderSession overrides the generated session id.
func WithSenderSession(id string) SenderOption {
	return func(s *Sender) { s.session = id }
}

// NewSender creates a send engine over ep. The endpoint is owned by the
// Sender from here on and closed by Stop.
func NewSender(cfg config.Transport, ep Endpoint, opts ...SenderOption) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		cfg:     cfg,
		ep:      ep,
		state:   newSendState(cfg),
		pacer:   ratelimit.NewPacer(cfg.Bandwidth),
		session: uuid.New().String(),
		logger:  observability.NewNopLogger(),
		sink:    nopSink{},
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithRole("sender").WithSession(s.session)
	s.state.onQueued = s.recordQueued
	if s.metrics != nil {
		s.metrics.SetWindow(cfg.InitialCwnd, 0)
	}
	return s, nil
}

// Session returns the engine's session id.
func (s *Sender) Session() string { return s.session }

// Start launches the scheduling and ACK-intake workers.
func (s *Sender) Start() {
	s.startOnce.Do(func() {
		s.running.Store(true)
		s.wg.Add(2)
		go s.schedule()
		go s.receiveAcks()
		s.logger.EngineStarted("sender", s.ep.LocalAddr().String(), peerString(s.ep))
	})
}

// Stop terminates both workers, waits for them and closes the endpoint.
// Nothing is transmitted after Stop returns.
func (s *Sender) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.running.Store(false)
		err = s.ep.Close()
		s.logger.EngineStopped("sender")
	})
	return err
}

// Running reports whether the workers are active.
func (s *Sender) Running() bool { return s.running.Load() }

// Enqueue splits payload into segments tagged prio and queues them. It never
// blocks on the network and returns the assigned sequence numbers. Queues are
// unbounded: pacing callers is their own responsibility.
func (s *Sender) Enqueue(payload []byte, prio segment.Priority) []uint64 {
	segs := s.state.enqueue(payload, prio)
	if len(segs) == 0 {
		return nil
	}

	seqs := make([]uint64, len(segs))
	for i, seg := range segs {
		seqs[i] = seg.SeqNum
	}
	s.publishDepth()
	return seqs
}

// recordQueued emits ENQUEUE for seg. It runs inside sendState.enqueue so
// the row always precedes the segment's first DATA_TX.
func (s *Sender) recordQueued(seg segment.Segment) {
	s.record(Event{
		Time:        s.now(),
		Type:        EventEnqueue,
		SeqNum:      seg.SeqNum,
		Priority:    seg.Priority.String(),
		PayloadSize: len(seg.Payload),
		Queue:       seg.Priority.String(),
	})
	if s.metrics != nil {
		s.metrics.RecordEnqueued(seg.Priority.String())
	}
}

// Window returns the current congestion window and in-flight count.
func (s *Sender) Window() (cwnd, inFlight int) { return s.state.window() }

// Snapshot returns current counters and queue depths.
func (s *Sender) Snapshot() SenderStats {
	cwnd, inFlight := s.state.window()
	high, low := s.state.depths()
	return SenderStats{
		Cwnd:          cwnd,
		InFlight:      inFlight,
		HighQueued:    high,
		LowQueued:     low,
		Sent:          s.sent.Load(),
		Retransmitted: s.retransmitted.Load(),
		GivenUp:       s.givenUp.Load(),
		Acked:         s.acked.Load(),
		StaleAcks:     s.staleAcks.Load(),
		SendErrors:    s.sendErrors.Load(),
	}
}

// Idle reports whether every queued segment has been sent and acknowledged
// or given up.
func (s *Sender) Idle() bool {
	st := s.Snapshot()
	return st.InFlight == 0 && st.HighQueued == 0 && st.LowQueued == 0
}

// schedule is the pacing/dispatch loop. Each iteration runs the
// retransmission sweep, the pacing gate, the window gate and dispatch, in
// that order.
func (s *Sender) schedule() {
	defer s.wg.Done()

	for s.ctx.Err() == nil {
		now := s.now()
		s.reportSweep(s.state.sweep(now))

		if d := s.pacer.Delay(1); d > 0 {
			if !s.sleep(d) {
				return
			}
			continue
		}

		d, res := s.state.next(s.now())
		switch res {
		case dispatchWindowFull, dispatchIdle:
			if !s.sleep(s.cfg.PollInterval) {
				return
			}
			continue
		}

		s.pacer.Allow(1)
		s.transmit(d)
		s.publishDepth()
	}
}

func (s *Sender) publishDepth() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetQueueDepth(s.state.depths())
}

func (s *Sender) transmit(d dispatch) {
	seg := d.entry.seg
	wire, err := segment.Encode(seg)
	if err == nil {
		err = s.ep.Send(wire)
	}

	queue := d.entry.class.String()
	if err != nil {
		s.sendErrors.Add(1)
		s.logger.SendFailed(seg.SeqNum, err)
		s.record(Event{
			Time:     s.now(),
			Type:     EventSendError,
			SeqNum:   seg.SeqNum,
			Priority: seg.Priority.String(),
			Queue:    queue,
			Cwnd:     d.cwnd,
			InFlight: d.inFlight,
			Retry:    d.retry,
			Info:     err.Error(),
		})
		if s.metrics != nil {
			s.metrics.RecordSendError()
		}
		return
	}

	s.sent.Add(1)
	info := ""
	if !d.first {
		info = "Retransmission"
	}
	s.logger.SegmentSent(seg.SeqNum, seg.Priority.String(), queue, len(seg.Payload), d.cwnd, d.inFlight)
	s.record(Event{
		Time:        s.now(),
		Type:        EventDataTx,
		SeqNum:      seg.SeqNum,
		Priority:    seg.Priority.String(),
		PayloadSize: len(seg.Payload),
		Queue:       queue,
		Cwnd:        d.cwnd,
		InFlight:    d.inFlight,
		Retry:       d.retry,
		Info:        info,
	})
	if s.metrics != nil {
		s.metrics.RecordSegmentSent(queue, len(seg.Payload))
		s.metrics.SetWindow(d.cwnd, d.inFlight)
	}
}

func (s *Sender) reportSweep(actions []sweepAction) {
	for _, a := range actions {
		ev := Event{
			Time:        s.now(),
			SeqNum:      a.seg.SeqNum,
			Priority:    a.seg.Priority.String(),
			PayloadSize: len(a.seg.Payload),
			Cwnd:        a.cwnd,
			InFlight:    a.inFlight,
			Retry:       a.retry,
		}
		if a.giveUp {
			s.givenUp.Add(1)
			s.logger.SegmentGivenUp(a.seg.SeqNum, a.retry, a.cwnd)
			ev.Type = EventGiveUp
			ev.Info = "Max retries reached"
			if s.metrics != nil {
				s.metrics.RecordGiveUp()
			}
		} else {
			s.retransmitted.Add(1)
			s.logger.SegmentRetransmitted(a.seg.SeqNum, a.retry)
			ev.Type = EventRetransmit
			ev.Queue = segment.PriorityHigh.String()
			if s.metrics != nil {
				s.metrics.RecordRetransmit()
			}
		}
		s.record(ev)
		if s.metrics != nil {
			s.metrics.SetWindow(a.cwnd, a.inFlight)
		}
	}
}

// receiveAcks is the ACK-intake loop.
func (s *Sender) receiveAcks() {
	defer s.wg.Done()

	for {
		b, from, err := s.ep.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrPollTimeout) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Error(err, "ack endpoint closed while running")
				return
			}
			s.logger.Error(err, "ack receive failed")
			if !s.sleep(s.cfg.PollInterval) {
				return
			}
			continue
		}

		seg, err := segment.Decode(b)
		if err == nil && seg.Kind != segment.KindAck {
			err = errUnexpectedKind
		}
		if err != nil {
			s.logger.WithPeer(addrString(from)).DatagramDropped(len(b), err)
			s.record(Event{Time: s.now(), Type: EventDrop, Peer: addrString(from), Info: err.Error()})
			if s.metrics != nil {
				s.metrics.RecordDrop(dropReason(err))
			}
			continue
		}
		s.handleAck(seg.AckNum, addrString(from))
	}
}

func (s *Sender) handleAck(k uint64, peer string) {
	matched, cwnd, inFlight := s.state.ack(k)
	ev := Event{Time: s.now(), SeqNum: k, Cwnd: cwnd, InFlight: inFlight, Peer: peer}
	if matched {
		s.acked.Add(1)
		s.logger.AckReceived(k, cwnd, inFlight)
		ev.Type = EventAckRx
	} else {
		s.staleAcks.Add(1)
		ev.Type = EventAckStale
		ev.Info = "Duplicate or late ACK"
	}
	s.record(ev)
	if s.metrics != nil {
		s.metrics.RecordAck(matched)
		s.metrics.SetWindow(cwnd, inFlight)
	}
}

// sleep waits d or until Stop; it reports false on shutdown.
func (s *Sender) sleep(d time.Duration) bool {
	return sleepCtx(s.ctx, d)
}

func (s *Sender) record(ev Event) {
	ev.Role = RoleSender
	ev.Session = s.session
	s.sink.Record(ev)
}
