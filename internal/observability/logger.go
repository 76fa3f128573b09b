package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// LogOptions selects level and destination for OpenLogger.
type LogOptions struct {
	Level string
	// File enables size-rotated file output instead of stdout.
	File string
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// OpenLogger builds a logger from options. Output goes to a rotated file when
// File is set, to a console writer when stdout is a terminal, and to JSON on
// stdout otherwise. The returned closer releases the file, if any.
func OpenLogger(service, version string, opts LogOptions) (*Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	switch {
	case opts.File != "":
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MiB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		out, closer = lj, lj
	case term.IsTerminal(int(os.Stdout.Fd())):
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	}

	l := NewLogger(service, version, out)
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		l.logger = l.logger.Level(lvl)
	}
	return l, closer, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithPeer adds peer context to logger.
func (l *Logger) WithPeer(peer string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer", peer).Logger(),
	}
}

// WithRole tags the logger with the engine role (sender/receiver).
func (l *Logger) WithRole(role string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("role", role).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// EngineStarted logs an engine coming up on an endpoint.
func (l *Logger) EngineStarted(role, localAddr, peerAddr string) {
	l.logger.Info().
		Str("role", role).
		Str("local_addr", localAddr).
		Str("peer_addr", peerAddr).
		Msg("transport engine started")
}

// EngineStopped logs engine shutdown.
func (l *Logger) EngineStopped(role string) {
	l.logger.Info().Str("role", role).Msg("transport engine stopped")
}

// SegmentSent logs a DATA transmission.
func (l *Logger) SegmentSent(seq uint64, priority, queue string, size, cwnd, inFlight int) {
	l.logger.Debug().
		Uint64("seq", seq).
		Str("priority", priority).
		Str("queue", queue).
		Int("payload_size", size).
		Int("cwnd", cwnd).
		Int("in_flight", inFlight).
		Msg("segment sent")
}

// SegmentRetransmitted logs a timed-out segment being re-queued.
func (l *Logger) SegmentRetransmitted(seq uint64, attempt int) {
	l.logger.Info().
		Uint64("seq", seq).
		Int("attempt", attempt).
		Msg("ack timeout, segment re-queued")
}

// SegmentGivenUp logs a segment declared lost.
func (l *Logger) SegmentGivenUp(seq uint64, retries, cwnd int) {
	l.logger.Warn().
		Uint64("seq", seq).
		Int("retries", retries).
		Int("cwnd", cwnd).
		Msg("max retries reached, segment given up")
}

// AckReceived logs an ACK that cleared an in-flight record.
func (l *Logger) AckReceived(ack uint64, cwnd, inFlight int) {
	l.logger.Debug().
		Uint64("ack", ack).
		Int("cwnd", cwnd).
		Int("in_flight", inFlight).
		Msg("ack received")
}

// SendFailed logs a datagram write failure.
func (l *Logger) SendFailed(seq uint64, err error) {
	l.logger.Error().
		Uint64("seq", seq).
		Err(err).
		Msg("datagram send failed")
}

// SegmentDelivered logs a new DATA segment handed to the application.
// Per-datagram helpers expect a logger scoped with WithPeer.
func (l *Logger) SegmentDelivered(seq uint64, priority string, size int) {
	l.logger.Debug().
		Uint64("seq", seq).
		Str("priority", priority).
		Int("payload_size", size).
		Msg("segment delivered")
}

// DuplicateReceived logs a suppressed duplicate.
func (l *Logger) DuplicateReceived(seq uint64) {
	l.logger.Debug().
		Uint64("seq", seq).
		Msg("duplicate segment suppressed")
}

// DatagramDropped logs an undecodable or unexpected datagram.
func (l *Logger) DatagramDropped(size int, reason error) {
	l.logger.Debug().
		Int("size", size).
		AnErr("reason", reason).
		Msg("datagram dropped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
