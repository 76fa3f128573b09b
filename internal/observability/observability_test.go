package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLogger_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("cats", "test", &buf).WithRole("sender").WithSession("abc")

	l.SegmentGivenUp(9, 2, 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]any{
		"service":    "cats",
		"role":       "sender",
		"session_id": "abc",
		"level":      "warn",
		"seq":        float64(9),
		"retries":    float64(2),
		"cwnd":       float64(3),
	} {
		if entry[key] != want {
			t.Errorf("Expected %s=%v, got %v", key, want, entry[key])
		}
	}
}

func TestLogger_PeerScopedDatagramLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("cats", "test", &buf).WithPeer("127.0.0.1:12346")

	l.DatagramDropped(12, errors.New("checksum mismatch"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["peer"] != "127.0.0.1:12346" {
		t.Errorf("Expected peer field, got %v", entry["peer"])
	}
	if entry["size"] != float64(12) || entry["reason"] != "checksum mismatch" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestOpenLogger_FileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cats.log")
	l, closer, err := OpenLogger("cats", "test", LogOptions{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("OpenLogger failed: %v", err)
	}

	l.Debug("filtered out")
	l.Info("filtered out")
	l.Warn("warned")
	l.Error(errors.New("boom"), "kept")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(string(data), "warned") {
		t.Errorf("warn line missing from %q", data)
	}
	if !strings.Contains(string(data), "boom") {
		t.Errorf("error line missing from %q", data)
	}

	if _, _, err := OpenLogger("cats", "test", LogOptions{Level: "loud"}); err == nil {
		t.Error("expected invalid level error")
	}
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordEnqueued("HIGH")
	m.RecordSegmentSent("HIGH", 100)
	m.RecordSegmentSent("HIGH", 50)
	m.RecordAck(true)
	m.RecordAck(false)
	m.RecordGiveUp()
	m.SetWindow(5, 2)
	m.SetQueueDepth(1, 7)
	m.RecordSegmentReceived(false, 40)
	m.RecordSegmentReceived(true, 40)
	m.RecordDrop("checksum")

	if got := testutil.ToFloat64(m.SegmentsSentTotal.WithLabelValues("HIGH")); got != 2 {
		t.Errorf("Expected 2 HIGH sends, got %v", got)
	}
	if got := testutil.ToFloat64(m.BytesTransferredTotal.WithLabelValues("sent")); got != 150 {
		t.Errorf("Expected 150 sent bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.AcksReceivedTotal.WithLabelValues("stale")); got != 1 {
		t.Errorf("Expected 1 stale ack, got %v", got)
	}
	if got := testutil.ToFloat64(m.CongestionWindow); got != 5 {
		t.Errorf("Expected cwnd 5, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("LOW")); got != 7 {
		t.Errorf("Expected LOW depth 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.BytesTransferredTotal.WithLabelValues("received")); got != 40 {
		t.Errorf("duplicates must not count as received bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentsReceivedTotal.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("Expected 1 duplicate, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordGiveUp()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cats_segments_given_up_total 1") {
		t.Errorf("given-up counter missing from exposition:\n%s", rec.Body.String())
	}
}

func TestHealthChecker(t *testing.T) {
	cwnd := 4
	running := true

	hc := NewHealthChecker("test")
	hc.RegisterCheck("window", WindowCheck(func() (int, int) { return cwnd, 0 }))
	hc.RegisterCheck("endpoint", EndpointCheck("127.0.0.1:12345", func() bool { return running }))

	if got := hc.Check(context.Background()).Status; got != HealthStatusOK {
		t.Errorf("Expected ok, got %s", got)
	}

	cwnd = 1
	if got := hc.Check(context.Background()).Status; got != HealthStatusDegraded {
		t.Errorf("Expected degraded, got %s", got)
	}

	running = false
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}

	var resp HealthCheckResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.Status != HealthStatusUnhealthy || resp.Checks["endpoint"].Status != HealthStatusUnhealthy {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	t.Setenv(JaegerEndpointEnv, "")
	shutdown, err := InitTracing(context.Background(), "cats-test")
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
