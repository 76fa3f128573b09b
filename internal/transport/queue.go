package transport

import "github.com/quantarax/cats/internal/segment"

// queueEntry is a DATA segment waiting for dispatch. class is the queue the
// transport placed it in, which differs from seg.Priority for retransmits.
type queueEntry struct {
	seg        segment.Segment
	class      segment.Priority
	retransmit bool
}

// fifo is an unbounded deque of queue entries.
type fifo struct {
	items []queueEntry
	head  int
}

func (q *fifo) Len() int { return len(q.items) - q.head }

func (q *fifo) PushBack(e queueEntry) {
	q.items = append(q.items, e)
}

func (q *fifo) PushFront(e queueEntry) {
	if q.head > 0 {
		q.head--
		q.items[q.head] = e
		return
	}
	q.items = append([]queueEntry{e}, q.items...)
}

func (q *fifo) PopFront() (queueEntry, bool) {
	if q.Len() == 0 {
		return queueEntry{}, false
	}
	e := q.items[q.head]
	q.items[q.head] = queueEntry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return e, true
}
