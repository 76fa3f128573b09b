package segment

import (
	"bytes"
	"errors"
	"testing"
)

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
	}{
		{"data empty payload", NewData(0, PriorityHigh, []byte{})},
		{"data text", NewData(7, PriorityLow, []byte("LOW_PRIO_DATA_CHUNK_7"))},
		{"data every byte value", NewData(1<<40, PriorityHigh, allBytes())},
		{"data max payload", NewData(99, PriorityLow, bytes.Repeat([]byte{0xFF, 0x00}, MaxPayload/2))},
		{"ack zero", NewAck(0)},
		{"ack large", NewAck(^uint64(0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.seg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if got.Kind != tt.seg.Kind || got.SeqNum != tt.seg.SeqNum || got.AckNum != tt.seg.AckNum {
				t.Errorf("header mismatch: got %v, want %v", got, tt.seg)
			}
			if got.Kind == KindData && got.Priority != tt.seg.Priority {
				t.Errorf("priority mismatch: got %s, want %s", got.Priority, tt.seg.Priority)
			}
			if !bytes.Equal(got.Payload, tt.seg.Payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(tt.seg.Payload))
			}
		})
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	good, err := Encode(NewData(3, PriorityHigh, []byte("hello")))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name string
		wire []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", good[:10], ErrTruncated},
		{"truncated payload", good[:len(good)-6], ErrTruncated},
		{"trailing garbage", append(append([]byte(nil), good...), 0x00), ErrLength},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b }), ErrBadMagic},
		{"bad version", mutate(func(b []byte) []byte { b[4] = 9; return b }), ErrBadVersion},
		{"flipped payload bit", mutate(func(b []byte) []byte { b[HeaderSize] ^= 0x01; return b }), ErrChecksum},
		{"not an envelope", []byte("shutdown"), ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.wire)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error %v does not match ErrMalformed", err)
			}
		})
	}
}

func TestEncode_RejectsInvalidSegments(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
	}{
		{"unknown kind", Segment{Kind: 0}},
		{"bad priority", Segment{Kind: KindData, Priority: 7}},
		{"data with ack", Segment{Kind: KindData, AckNum: 1}},
		{"ack with payload", Segment{Kind: KindAck, Payload: []byte("x")}},
		{"oversized payload", NewData(0, PriorityLow, make([]byte, MaxPayload+1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.seg); err == nil {
				t.Errorf("expected Encode to reject %v", tt.seg)
			}
		})
	}
}

func TestSegment_String(t *testing.T) {
	if got := NewData(3, PriorityHigh, make([]byte, 100)).String(); got != "Segment(DATA, Prio:HIGH, Seq:3, Size:100)" {
		t.Errorf("unexpected DATA string %q", got)
	}
	if got := NewAck(3).String(); got != "Segment(ACK, AckNum:3)" {
		t.Errorf("unexpected ACK string %q", got)
	}
}

func TestSegment_BinaryMarshaler(t *testing.T) {
	in := NewData(42, PriorityLow, []byte{0, 1, 2})
	wire, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	var out Segment
	if err := out.UnmarshalBinary(wire); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if out.SeqNum != 42 || out.Priority != PriorityLow || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("got %v, want %v", out, in)
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"high", PriorityHigh, false},
		{"HIGH", PriorityHigh, false},
		{"hIgH", PriorityHigh, false},
		{" low ", PriorityLow, false},
		{"Low", PriorityLow, false},
		{"urgent", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q): unexpected error state %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePriority(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
