package transport

import (
	"slices"
	"sync"
	"time"

	"github.com/quantarax/cats/internal/config"
	"github.com/quantarax/cats/internal/segment"
)

// inflightRecord tracks a transmitted, unacknowledged DATA segment.
type inflightRecord struct {
	seg      segment.Segment
	lastSend time.Time
	retries  int
	// queued is set while a retransmit copy waits in the HIGH queue.
	queued bool
}

// sendState is the sender's single consistency unit: both queues, the
// in-flight table and the congestion window live behind one mutex.
type sendState struct {
	mu         sync.Mutex
	high       fifo
	low        fifo
	inflight   map[uint64]*inflightRecord
	cwnd       int
	maxCwnd    int
	nextSeq    uint64
	mss        int
	timeout    time.Duration
	maxRetries int

	// onQueued runs under mu for each new segment before it becomes
	// visible to dispatch. It must not call back into sendState.
	onQueued func(segment.Segment)
}

func newSendState(cfg config.Transport) *sendState {
	return &sendState{
		inflight:   make(map[uint64]*inflightRecord),
		cwnd:       cfg.InitialCwnd,
		maxCwnd:    cfg.MaxCwnd,
		mss:        cfg.MaxSegmentPayload,
		timeout:    cfg.AckTimeout,
		maxRetries: cfg.MaxRetries,
	}
}

func (st *sendState) queue(class segment.Priority) *fifo {
	if class == segment.PriorityHigh {
		return &st.high
	}
	return &st.low
}

// enqueue segments payload into chunks of at most mss bytes, numbers them
// consecutively and appends them to the queue for prio.
func (st *sendState) enqueue(payload []byte, prio segment.Priority) []segment.Segment {
	if len(payload) == 0 {
		return nil
	}
	buf := append([]byte(nil), payload...)

	st.mu.Lock()
	defer st.mu.Unlock()

	segs := make([]segment.Segment, 0, (len(buf)+st.mss-1)/st.mss)
	for off := 0; off < len(buf); off += st.mss {
		end := min(off+st.mss, len(buf))
		seg := segment.NewData(st.nextSeq, prio, buf[off:end:end])
		st.nextSeq++
		if st.onQueued != nil {
			st.onQueued(seg)
		}
		st.queue(prio).PushBack(queueEntry{seg: seg, class: prio})
		segs = append(segs, seg)
	}
	return segs
}

type sweepAction struct {
	seg      segment.Segment
	giveUp   bool
	retry    int
	cwnd     int
	inFlight int
}

// sweep re-queues timed-out records at the front of HIGH, or gives them up
// once their retry budget is spent. Each give-up halves cwnd.
func (st *sendState) sweep(now time.Time) []sweepAction {
	st.mu.Lock()
	defer st.mu.Unlock()

	var expired []uint64
	for seq, rec := range st.inflight {
		if now.Sub(rec.lastSend) > st.timeout {
			expired = append(expired, seq)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	slices.Sort(expired)

	actions := make([]sweepAction, 0, len(expired))
	var requeue []segment.Segment
	for _, seq := range expired {
		rec := st.inflight[seq]
		if rec.retries < st.maxRetries {
			rec.retries++
			rec.lastSend = now
			if !rec.queued {
				rec.queued = true
				requeue = append(requeue, rec.seg)
			}
			actions = append(actions, sweepAction{seg: rec.seg, retry: rec.retries})
			continue
		}
		delete(st.inflight, seq)
		st.cwnd = max(1, st.cwnd/2)
		actions = append(actions, sweepAction{seg: rec.seg, giveUp: true, retry: rec.retries})
	}

	// Lowest sequence number ends up at the head.
	for i := len(requeue) - 1; i >= 0; i-- {
		st.high.PushFront(queueEntry{seg: requeue[i], class: segment.PriorityHigh, retransmit: true})
	}

	for i := range actions {
		actions[i].cwnd = st.cwnd
		actions[i].inFlight = len(st.inflight)
	}
	return actions
}

type dispatchResult int

const (
	dispatchIdle dispatchResult = iota
	dispatchWindowFull
	dispatchReady
)

type dispatch struct {
	entry    queueEntry
	first    bool
	retry    int
	cwnd     int
	inFlight int
}

// next applies the window gate and pops the next entry, HIGH before LOW.
// The in-flight record is created or refreshed before the lock is released,
// so a concurrent ACK always sees a consistent slot count.
func (st *sendState) next(now time.Time) (dispatch, dispatchResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.inflight) >= st.cwnd {
		return dispatch{}, dispatchWindowFull
	}

	for {
		e, ok := st.high.PopFront()
		if !ok {
			e, ok = st.low.PopFront()
		}
		if !ok {
			return dispatch{}, dispatchIdle
		}

		seq := e.seg.SeqNum
		rec, exists := st.inflight[seq]
		if e.retransmit {
			if !exists {
				// acknowledged or given up while waiting in the queue
				continue
			}
			rec.queued = false
			rec.lastSend = now
			return dispatch{entry: e, retry: rec.retries, cwnd: st.cwnd, inFlight: len(st.inflight)}, dispatchReady
		}
		if exists {
			rec.lastSend = now
			return dispatch{entry: e, retry: rec.retries, cwnd: st.cwnd, inFlight: len(st.inflight)}, dispatchReady
		}

		st.inflight[seq] = &inflightRecord{seg: e.seg, lastSend: now}
		return dispatch{entry: e, first: true, cwnd: st.cwnd, inFlight: len(st.inflight)}, dispatchReady
	}
}

// ack clears the record for k and grows cwnd by one. It reports false for
// unknown or stale acknowledgments.
func (st *sendState) ack(k uint64) (matched bool, cwnd, inFlight int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.inflight[k]; !ok {
		return false, st.cwnd, len(st.inflight)
	}
	delete(st.inflight, k)
	st.cwnd = min(st.cwnd+1, st.maxCwnd)
	return true, st.cwnd, len(st.inflight)
}

func (st *sendState) window() (cwnd, inFlight int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cwnd, len(st.inflight)
}

func (st *sendState) depths() (high, low int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.high.Len(), st.low.Len()
}
