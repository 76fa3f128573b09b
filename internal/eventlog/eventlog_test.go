package eventlog

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quantarax/cats/internal/transport"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return rows
}

func TestCSVSink_SplitsByRole(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	sink, err := NewCSVSink(dir, "CATS_sim", started)
	if err != nil {
		t.Fatalf("NewCSVSink failed: %v", err)
	}

	if filepath.Base(sink.SenderPath) != "CATS_sim_sender_20260304_050607.csv" {
		t.Errorf("unexpected sender file name %s", sink.SenderPath)
	}

	at := started.Add(1500 * time.Millisecond)
	sink.Record(transport.Event{
		Time: at, Type: transport.EventDataTx, Role: transport.RoleSender,
		SeqNum: 3, Priority: "LOW", PayloadSize: 100, Queue: "HIGH",
		Cwnd: 4, InFlight: 2, Retry: 1, Info: "Retransmission",
	})
	sink.Record(transport.Event{
		Time: at, Type: transport.EventDuplicate, Role: transport.RoleReceiver,
		SeqNum: 3, Priority: "LOW", PayloadSize: 100, Peer: "127.0.0.1:12346", Info: "Duplicate, again",
	})
	sink.Record(transport.Event{Time: at, Type: transport.EventDrop})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	sender := readCSV(t, sink.SenderPath)
	if len(sender) != 2 {
		t.Fatalf("Expected header plus 1 sender row, got %d rows", len(sender))
	}
	if strings.Join(sender[0], ",") != "Timestamp,EventType,SeqNum,Priority,PayloadSize,QueueSource,CWND,InFlight,RetryAttempt,Info" {
		t.Errorf("unexpected sender header %v", sender[0])
	}
	want := []string{"2026-03-04 05:06:08.500", "DATA_TX", "3", "LOW", "100", "HIGH", "4", "2", "1", "Retransmission"}
	if strings.Join(sender[1], "|") != strings.Join(want, "|") {
		t.Errorf("Expected %v, got %v", want, sender[1])
	}

	receiver := readCSV(t, sink.ReceiverPath)
	if len(receiver) != 2 {
		t.Fatalf("Expected header plus 1 receiver row, got %d rows", len(receiver))
	}
	if receiver[1][1] != "DUPLICATE" || receiver[1][5] != "127.0.0.1:12346" || receiver[1][6] != "Duplicate, again" {
		t.Errorf("unexpected receiver row %v", receiver[1])
	}
}

func TestCSVSink_ConcurrentRecord(t *testing.T) {
	sink, err := NewCSVSink(t.TempDir(), "race", time.Now())
	if err != nil {
		t.Fatalf("NewCSVSink failed: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sink.Record(transport.Event{Time: time.Now(), Type: transport.EventAckRx, Role: transport.RoleSender, SeqNum: uint64(i)})
			}
		}()
	}
	wg.Wait()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if rows := readCSV(t, sink.SenderPath); len(rows) != 201 {
		t.Errorf("Expected 201 rows, got %d", len(rows))
	}
}

func TestNewCSVSink_MissingDir(t *testing.T) {
	if _, err := NewCSVSink(filepath.Join(t.TempDir(), "missing"), "x", time.Now()); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSQLiteStore_CountByType(t *testing.T) {
	st, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "events.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		st.Record(transport.Event{Time: now, Type: transport.EventDataTx, Role: transport.RoleSender, Session: "s1", SeqNum: uint64(i)})
	}
	st.Record(transport.Event{Time: now, Type: transport.EventGiveUp, Role: transport.RoleSender, Session: "s1"})
	st.Record(transport.Event{Time: now, Type: transport.EventDataRx, Role: transport.RoleReceiver, Session: "r1", Peer: "mem-a"})

	ctx := context.Background()
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	counts, err := st.CountByType(ctx, "s1")
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if counts["DATA_TX"] != 3 || counts["GIVE_UP"] != 1 || counts["DATA_RX"] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}

	all, err := st.CountByType(ctx, "")
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if all["DATA_RX"] != 1 {
		t.Errorf("Expected 1 DATA_RX across sessions, got %d", all["DATA_RX"])
	}

	sessions, err := st.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "r1" || sessions[1] != "s1" {
		t.Errorf("unexpected sessions %v", sessions)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.Close(); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
}

func TestSQLiteStore_CloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	st, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	st.Record(transport.Event{Time: time.Now(), Type: transport.EventAckTx, Role: transport.RoleReceiver, Session: "r"})
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	counts, err := reopened.CountByType(context.Background(), "r")
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if counts["ACK_TX"] != 1 {
		t.Errorf("pending event lost on Close: %v", counts)
	}
}

func TestMulti(t *testing.T) {
	var a, b int
	m := Multi{
		transport.EventSinkFunc(func(transport.Event) { a++ }),
		transport.EventSinkFunc(func(transport.Event) { b++ }),
	}
	m.Record(transport.Event{})
	m.Record(transport.Event{})
	if a != 2 || b != 2 {
		t.Errorf("Expected both sinks to see 2 events, got %d and %d", a, b)
	}
}
