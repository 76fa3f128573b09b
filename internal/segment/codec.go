package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	Magic       = 0x43415453 // "CATS"
	Version     = 0x01
	HeaderSize  = 28
	TrailerSize = 4

	// MaxPayload keeps an encoded segment inside a single UDP datagram.
	MaxPayload = 65000

	noPriority = 0xFF

	flagSeq = 1 << 0
	flagAck = 1 << 1
)

var (
	ErrMalformed     = errors.New("malformed segment")
	ErrTruncated     = fmt.Errorf("%w: truncated", ErrMalformed)
	ErrBadMagic      = fmt.Errorf("%w: invalid magic", ErrMalformed)
	ErrBadVersion    = fmt.Errorf("%w: unsupported version", ErrMalformed)
	ErrBadKind       = fmt.Errorf("%w: unknown kind", ErrMalformed)
	ErrBadPriority   = fmt.Errorf("%w: unknown priority", ErrMalformed)
	ErrFieldMismatch = fmt.Errorf("%w: fields do not match kind", ErrMalformed)
	ErrLength        = fmt.Errorf("%w: length mismatch", ErrMalformed)
	ErrChecksum      = fmt.Errorf("%w: checksum mismatch", ErrMalformed)
)

// Encode serializes s into its wire envelope:
//
//	magic(4) version(1) kind(1) priority(1) flags(1) seq(8) ack(8) len(4) payload checksum(4)
//
// The checksum is the leading 4 bytes of the BLAKE3 digest of everything before it.
func Encode(s Segment) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(s.Payload)+TrailerSize)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = byte(s.Kind)

	switch s.Kind {
	case KindData:
		buf[6] = byte(s.Priority)
		buf[7] = flagSeq
		binary.BigEndian.PutUint64(buf[8:16], s.SeqNum)
	case KindAck:
		buf[6] = noPriority
		buf[7] = flagAck
		binary.BigEndian.PutUint64(buf[16:24], s.AckNum)
	}

	binary.BigEndian.PutUint32(buf[24:28], uint32(len(s.Payload)))
	copy(buf[HeaderSize:], s.Payload)

	body := buf[:HeaderSize+len(s.Payload)]
	sum := blake3.Sum256(body)
	copy(buf[len(body):], sum[:TrailerSize])
	return buf, nil
}

// Decode parses a wire envelope. Any structural problem yields an error
// matching ErrMalformed; the caller is expected to drop the datagram.
func Decode(b []byte) (Segment, error) {
	if len(b) < HeaderSize+TrailerSize {
		return Segment{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	if binary.BigEndian.Uint32(b[0:4]) != Magic {
		return Segment{}, ErrBadMagic
	}
	if b[4] != Version {
		return Segment{}, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}

	payloadLen := int(binary.BigEndian.Uint32(b[24:28]))
	if payloadLen > MaxPayload {
		return Segment{}, fmt.Errorf("%w: payload %d > %d", ErrLength, payloadLen, MaxPayload)
	}
	total := HeaderSize + payloadLen + TrailerSize
	if len(b) < total {
		return Segment{}, fmt.Errorf("%w: have %d of %d bytes", ErrTruncated, len(b), total)
	}
	if len(b) > total {
		return Segment{}, fmt.Errorf("%w: %d trailing bytes", ErrLength, len(b)-total)
	}

	body := b[:HeaderSize+payloadLen]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:TrailerSize], b[len(body):]) {
		return Segment{}, ErrChecksum
	}

	kind, prio, flags := Kind(b[5]), b[6], b[7]
	seq := binary.BigEndian.Uint64(b[8:16])
	ack := binary.BigEndian.Uint64(b[16:24])

	var s Segment
	switch kind {
	case KindData:
		if flags != flagSeq || ack != 0 {
			return Segment{}, ErrFieldMismatch
		}
		if !Priority(prio).Valid() {
			return Segment{}, fmt.Errorf("%w: %d", ErrBadPriority, prio)
		}
		payload := make([]byte, payloadLen)
		copy(payload, b[HeaderSize:HeaderSize+payloadLen])
		s = NewData(seq, Priority(prio), payload)
	case KindAck:
		if flags != flagAck || seq != 0 || payloadLen != 0 || prio != noPriority {
			return Segment{}, ErrFieldMismatch
		}
		s = NewAck(ack)
	default:
		return Segment{}, fmt.Errorf("%w: %d", ErrBadKind, b[5])
	}
	return s, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Segment) MarshalBinary() ([]byte, error) {
	return Encode(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Segment) UnmarshalBinary(b []byte) error {
	d, err := Decode(b)
	if err != nil {
		return err
	}
	*s = d
	return nil
}
