// Package eventlog persists transport events for post-run analysis.
package eventlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/quantarax/cats/internal/transport"
)

const (
	fileStampLayout = "20060102_150405"
	rowStampLayout  = "2006-01-02 15:04:05.000"
)

var (
	senderHeader   = []string{"Timestamp", "EventType", "SeqNum", "Priority", "PayloadSize", "QueueSource", "CWND", "InFlight", "RetryAttempt", "Info"}
	receiverHeader = []string{"Timestamp", "EventType", "SeqNum", "Priority", "PayloadSize", "SenderAddr", "Info"}
)

// CSVSink writes sender events and receiver events to two CSV files,
// <prefix>_sender_<stamp>.csv and <prefix>_receiver_<stamp>.csv.
type CSVSink struct {
	SenderPath   string
	ReceiverPath string

	mu       sync.Mutex
	files    []*os.File
	sender   *csv.Writer
	receiver *csv.Writer
	err      error
}

// NewCSVSink creates both files in dir and writes their headers. started
// supplies the file name stamp.
func NewCSVSink(dir, prefix string, started time.Time) (*CSVSink, error) {
	stamp := started.Format(fileStampLayout)
	c := &CSVSink{
		SenderPath:   filepath.Join(dir, fmt.Sprintf("%s_sender_%s.csv", prefix, stamp)),
		ReceiverPath: filepath.Join(dir, fmt.Sprintf("%s_receiver_%s.csv", prefix, stamp)),
	}

	var err error
	if c.sender, err = c.open(c.SenderPath, senderHeader); err != nil {
		c.Close()
		return nil, err
	}
	if c.receiver, err = c.open(c.ReceiverPath, receiverHeader); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *CSVSink) open(path string, header []string) (*csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}
	c.files = append(c.files, f)

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	w.Flush()
	return w, w.Error()
}

// Record appends e to the file for its role. Rows are flushed immediately so
// a killed process leaves a complete log. The first write error is kept and
// reported by Close.
func (c *CSVSink) Record(e transport.Event) {
	stamp := e.Time.Format(rowStampLayout)
	seq := strconv.FormatUint(e.SeqNum, 10)

	c.mu.Lock()
	defer c.mu.Unlock()

	var w *csv.Writer
	var row []string
	switch e.Role {
	case transport.RoleSender:
		w = c.sender
		row = []string{
			stamp, e.Type.String(), seq, e.Priority, strconv.Itoa(e.PayloadSize), e.Queue,
			strconv.Itoa(e.Cwnd), strconv.Itoa(e.InFlight), strconv.Itoa(e.Retry), e.Info,
		}
	case transport.RoleReceiver:
		w = c.receiver
		row = []string{stamp, e.Type.String(), seq, e.Priority, strconv.Itoa(e.PayloadSize), e.Peer, e.Info}
	default:
		return
	}

	if err := w.Write(row); err != nil {
		c.err = errors.Join(c.err, err)
		return
	}
	w.Flush()
	if err := w.Error(); err != nil && c.err == nil {
		c.err = err
	}
}

// Close flushes and closes both files.
func (c *CSVSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := []error{c.err}
	for _, w := range []*csv.Writer{c.sender, c.receiver} {
		if w != nil {
			w.Flush()
			errs = append(errs, w.Error())
		}
	}
	for _, f := range c.files {
		errs = append(errs, f.Close())
	}
	c.files = nil
	return errors.Join(errs...)
}
