package transport

import (
	"testing"
	"time"

	"github.com/quantarax/cats/internal/segment"
)

func TestEventType_String(t *testing.T) {
	tests := map[EventType]string{
		EventEnqueue:    "ENQUEUE",
		EventDataTx:     "DATA_TX",
		EventRetransmit: "RETRANSMIT",
		EventGiveUp:     "GIVE_UP",
		EventAckRx:      "ACK_RX",
		EventAckStale:   "ACK_STALE",
		EventSendError:  "SEND_ERROR",
		EventDataRx:     "DATA_RX",
		EventDuplicate:  "DUPLICATE",
		EventAckTx:      "ACK_TX",
		EventDrop:       "DROP",
		EventType(99):   "UNKNOWN",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}

func TestEngines_StampRoleAndSession(t *testing.T) {
	a, b := NewMemPipe(5*time.Millisecond, 8)
	events := &eventRecorder{}

	s, err := NewSender(fastTransport(), a, WithSenderEvents(events), WithSenderSession("snd"))
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	s.Enqueue([]byte("x"), segment.PriorityHigh)

	r := NewReceiver(b, WithReceiverEvents(events), WithReceiverSession("rcv"))
	r.Start(nil)
	defer r.Stop()
	b.Inject(mustEncode(t, segment.NewData(1, segment.PriorityLow, []byte("y"))))
	waitFor(t, 2*time.Second, "receiver events", func() bool { return events.count(EventAckTx) == 1 })

	events.mu.Lock()
	defer events.mu.Unlock()
	for _, e := range events.events {
		want, session := RoleReceiver, "rcv"
		if e.Type == EventEnqueue {
			want, session = RoleSender, "snd"
		}
		if e.Role != want || e.Session != session {
			t.Errorf("%s event stamped %s/%s", e.Type, e.Role, e.Session)
		}
	}
}
