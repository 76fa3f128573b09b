// Package segment defines the CATS wire unit and its binary envelope.
package segment

import (
	"fmt"
	"strings"
)

// Kind distinguishes DATA segments from acknowledgments.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// Priority is the application priority class of a DATA segment.
// HIGH is always served before LOW.
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is one of the defined classes.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityLow
}

// ParsePriority maps "high"/"low" (any case) to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh, nil
	case "LOW":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Segment is the atomic wire unit. DATA segments carry SeqNum, Priority and
// Payload; ACK segments carry only AckNum.
type Segment struct {
	Kind     Kind
	Priority Priority
	SeqNum   uint64
	AckNum   uint64
	Payload  []byte
}

// NewData builds a DATA segment.
func NewData(seq uint64, prio Priority, payload []byte) Segment {
	return Segment{Kind: KindData, Priority: prio, SeqNum: seq, Payload: payload}
}

// NewAck builds an ACK for the DATA segment numbered ack.
func NewAck(ack uint64) Segment {
	return Segment{Kind: KindAck, AckNum: ack}
}

// Validate checks the kind/field invariant.
func (s Segment) Validate() error {
	switch s.Kind {
	case KindData:
		if !s.Priority.Valid() {
			return fmt.Errorf("%w: priority %d", ErrBadPriority, s.Priority)
		}
		if s.AckNum != 0 {
			return fmt.Errorf("%w: DATA segment carries ack %d", ErrFieldMismatch, s.AckNum)
		}
		if len(s.Payload) > MaxPayload {
			return fmt.Errorf("%w: payload %d > %d", ErrLength, len(s.Payload), MaxPayload)
		}
	case KindAck:
		if s.SeqNum != 0 || len(s.Payload) != 0 {
			return fmt.Errorf("%w: ACK segment carries seq or payload", ErrFieldMismatch)
		}
	default:
		return fmt.Errorf("%w: %d", ErrBadKind, s.Kind)
	}
	return nil
}

func (s Segment) String() string {
	switch s.Kind {
	case KindData:
		return fmt.Sprintf("Segment(DATA, Prio:%s, Seq:%d, Size:%d)", s.Priority, s.SeqNum, len(s.Payload))
	case KindAck:
		return fmt.Sprintf("Segment(ACK, AckNum:%d)", s.AckNum)
	}
	return "Segment(Unknown)"
}
