package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Transport.PacingInterval() != 100*time.Millisecond {
		t.Errorf("Expected 100ms pacing at 10 seg/s, got %v", cfg.Transport.PacingInterval())
	}
}

func TestTransport_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Transport)
	}{
		{"zero payload", func(tr *Transport) { tr.MaxSegmentPayload = 0 }},
		{"oversized payload", func(tr *Transport) { tr.MaxSegmentPayload = 1 << 20 }},
		{"zero cwnd", func(tr *Transport) { tr.InitialCwnd = 0 }},
		{"cwnd above max", func(tr *Transport) { tr.InitialCwnd = tr.MaxCwnd + 1 }},
		{"no bandwidth", func(tr *Transport) { tr.Bandwidth = 0 }},
		{"no timeout", func(tr *Transport) { tr.AckTimeout = 0 }},
		{"negative retries", func(tr *Transport) { tr.MaxRetries = -1 }},
		{"no poll", func(tr *Transport) { tr.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := DefaultTransport()
			tt.mutate(&tr)
			if err := tr.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cats.yaml")
	yaml := []byte(`
transport:
  max_segment_payload: 200
  ack_timeout: 750ms
  bandwidth: 25
network:
  receiver_addr: 127.0.0.1:23000
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CATS_TRANSPORT_MAX_CWND", "32")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Transport.MaxSegmentPayload != 200 {
		t.Errorf("Expected payload 200, got %d", cfg.Transport.MaxSegmentPayload)
	}
	if cfg.Transport.AckTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms timeout, got %v", cfg.Transport.AckTimeout)
	}
	if cfg.Transport.Bandwidth != 25 {
		t.Errorf("Expected bandwidth 25, got %v", cfg.Transport.Bandwidth)
	}
	if cfg.Transport.MaxCwnd != 32 {
		t.Errorf("Expected env override max_cwnd=32, got %d", cfg.Transport.MaxCwnd)
	}
	if cfg.Network.ReceiverAddr != "127.0.0.1:23000" {
		t.Errorf("unexpected receiver addr %s", cfg.Network.ReceiverAddr)
	}
	if cfg.Transport.MaxRetries != 2 {
		t.Errorf("Expected default retries 2, got %d", cfg.Transport.MaxRetries)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Network.ReceiverAddr != "127.0.0.1:12345" {
		t.Errorf("unexpected receiver addr %s", cfg.Network.ReceiverAddr)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("CATS_NETWORK_MODE", "tcp")
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for unsupported network mode")
	}
}

func TestConfig_ValidateAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.AckAddr = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for malformed ack_addr")
	}

	cfg = DefaultConfig()
	cfg.Network.ReceiverAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty receiver_addr")
	}
}

func TestConfig_QUICDatagramBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.Mode = "quic"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default payload should fit a QUIC datagram: %v", err)
	}

	cfg.Transport.MaxSegmentPayload = 1500
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for 1500 byte payload in quic mode")
	}

	cfg.Network.Mode = "udp"
	if err := cfg.Validate(); err != nil {
		t.Errorf("1500 byte payload is valid over udp: %v", err)
	}
}
