package transport

import "time"

// EventType classifies engine events handed to an EventSink.
type EventType int

const (
	EventEnqueue EventType = iota + 1
	EventDataTx
	EventRetransmit
	EventGiveUp
	EventAckRx
	EventAckStale
	EventSendError
	EventDataRx
	EventDuplicate
	EventAckTx
	EventDrop
)

func (e EventType) String() string {
	switch e {
	case EventEnqueue:
		return "ENQUEUE"
	case EventDataTx:
		return "DATA_TX"
	case EventRetransmit:
		return "RETRANSMIT"
	case EventGiveUp:
		return "GIVE_UP"
	case EventAckRx:
		return "ACK_RX"
	case EventAckStale:
		return "ACK_STALE"
	case EventSendError:
		return "SEND_ERROR"
	case EventDataRx:
		return "DATA_RX"
	case EventDuplicate:
		return "DUPLICATE"
	case EventAckTx:
		return "ACK_TX"
	case EventDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

// Engine roles stamped on every Event.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Event is one observability record. Fields that do not apply to a given
// type are left zero; Priority is empty for ACK events.
type Event struct {
	Time        time.Time
	Type        EventType
	Role        string
	Session     string
	SeqNum      uint64
	Priority    string
	PayloadSize int
	Queue       string
	Cwnd        int
	InFlight    int
	Retry       int
	Peer        string
	Info        string
}

// EventSink receives engine events. Implementations must be safe for
// concurrent use: the sender records from two goroutines.
type EventSink interface {
	Record(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Record(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Record(Event) {}
