// Package config holds the CATS configuration surface and its loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantarax/cats/internal/segment"
	"github.com/quantarax/cats/internal/validation"
)

// MaxQUICDatagram bounds an encoded segment in quic mode. DATAGRAM frames
// must fit a single QUIC packet, which starts at 1280 bytes on the wire.
const MaxQUICDatagram = 1100

// Transport holds the knobs consumed by the send and receive engines.
type Transport struct {
	MaxSegmentPayload int           `mapstructure:"max_segment_payload"`
	InitialCwnd       int           `mapstructure:"initial_cwnd"`
	MaxCwnd           int           `mapstructure:"max_cwnd"`
	Bandwidth         float64       `mapstructure:"bandwidth"` // segments per second
	AckTimeout        time.Duration `mapstructure:"ack_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// Network holds endpoint addresses.
type Network struct {
	Mode         string `mapstructure:"mode"` // udp or quic
	ReceiverAddr string `mapstructure:"receiver_addr"`
	SenderAddr   string `mapstructure:"sender_addr"`
	AckAddr      string `mapstructure:"ack_addr"`
}

// Log holds logging and event log settings.
type Log struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Prefix  string `mapstructure:"prefix"`
	CSVDir  string `mapstructure:"csv_dir"`
	EventDB string `mapstructure:"event_db"`
}

// Observability holds the metrics/health listener.
type Observability struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Config holds the full CATS configuration
type Config struct {
	Transport     Transport     `mapstructure:"transport"`
	Network       Network       `mapstructure:"network"`
	Log           Log           `mapstructure:"log"`
	Observability Observability `mapstructure:"observability"`
}

// DefaultTransport returns the engine defaults.
func DefaultTransport() Transport {
	return Transport{
		MaxSegmentPayload: 100,
		InitialCwnd:       4,
		MaxCwnd:           20,
		Bandwidth:         10,
		AckTimeout:        500 * time.Millisecond,
		MaxRetries:        2,
		PollInterval:      50 * time.Millisecond,
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Transport: DefaultTransport(),
		Network: Network{
			Mode:         "udp",
			ReceiverAddr: "127.0.0.1:12345",
			SenderAddr:   "0.0.0.0:12346",
			AckAddr:      "127.0.0.1:12346",
		},
		Log: Log{
			Level:  "info",
			Prefix: "CATS_sim",
			CSVDir: ".",
		},
	}
}

// Validate checks the transport invariants.
func (t Transport) Validate() error {
	var errs []error
	if t.MaxSegmentPayload < 1 || t.MaxSegmentPayload > segment.MaxPayload {
		errs = append(errs, fmt.Errorf("max_segment_payload must be in [1, %d], got %d", segment.MaxPayload, t.MaxSegmentPayload))
	}
	if t.InitialCwnd < 1 || t.InitialCwnd > t.MaxCwnd {
		errs = append(errs, fmt.Errorf("initial_cwnd must be in [1, max_cwnd=%d], got %d", t.MaxCwnd, t.InitialCwnd))
	}
	if t.Bandwidth <= 0 {
		errs = append(errs, fmt.Errorf("bandwidth must be positive, got %v", t.Bandwidth))
	}
	if t.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ack_timeout must be positive, got %v", t.AckTimeout))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", t.MaxRetries))
	}
	if t.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %v", t.PollInterval))
	}
	return errors.Join(errs...)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	switch c.Network.Mode {
	case "udp":
	case "quic":
		wire := c.Transport.MaxSegmentPayload + segment.HeaderSize + segment.TrailerSize
		if wire > MaxQUICDatagram {
			return fmt.Errorf("max_segment_payload %d encodes to %d bytes, above the %d byte QUIC datagram budget",
				c.Transport.MaxSegmentPayload, wire, MaxQUICDatagram)
		}
	default:
		return fmt.Errorf("network mode must be udp or quic, got %q", c.Network.Mode)
	}
	return errors.Join(
		validation.UDPAddr("receiver_addr", c.Network.ReceiverAddr),
		validation.UDPAddr("sender_addr", c.Network.SenderAddr),
		validation.UDPAddr("ack_addr", c.Network.AckAddr),
	)
}

// PacingInterval is the minimum gap between two transmissions.
func (t Transport) PacingInterval() time.Duration {
	return time.Duration(float64(time.Second) / t.Bandwidth)
}

// LoadConfig loads configuration from an optional YAML file, applying
// CATS_* environment overrides (e.g. CATS_TRANSPORT_MAX_CWND=32).
func LoadConfig(configPath string) (*Config, error) {
	v := New(configPath)
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}
	return FromViper(v)
}

// New returns a viper instance seeded with the defaults and env bindings.
func New(configPath string) *viper.Viper {
	v := viper.New()
	def := DefaultConfig()

	v.SetDefault("transport.max_segment_payload", def.Transport.MaxSegmentPayload)
	v.SetDefault("transport.initial_cwnd", def.Transport.InitialCwnd)
	v.SetDefault("transport.max_cwnd", def.Transport.MaxCwnd)
	v.SetDefault("transport.bandwidth", def.Transport.Bandwidth)
	v.SetDefault("transport.ack_timeout", def.Transport.AckTimeout)
	v.SetDefault("transport.max_retries", def.Transport.MaxRetries)
	v.SetDefault("transport.poll_interval", def.Transport.PollInterval)
	v.SetDefault("network.mode", def.Network.Mode)
	v.SetDefault("network.receiver_addr", def.Network.ReceiverAddr)
	v.SetDefault("network.sender_addr", def.Network.SenderAddr)
	v.SetDefault("network.ack_addr", def.Network.AckAddr)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.prefix", def.Log.Prefix)
	v.SetDefault("log.csv_dir", def.Log.CSVDir)
	v.SetDefault("log.event_db", def.Log.EventDB)
	v.SetDefault("observability.metrics_addr", def.Observability.MetricsAddr)

	v.SetEnvPrefix("CATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return v
}

// FromViper decodes and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
