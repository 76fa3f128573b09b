package eventlog

import "github.com/quantarax/cats/internal/transport"

// Multi fans each event out to every sink in order.
type Multi []transport.EventSink

func (m Multi) Record(e transport.Event) {
	for _, s := range m {
		s.Record(e)
	}
}
