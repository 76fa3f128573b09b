package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the transport engines.
type Metrics struct {
	// Sender metrics
	SegmentsEnqueuedTotal      *prometheus.CounterVec
	SegmentsSentTotal          *prometheus.CounterVec
	SegmentsRetransmittedTotal prometheus.Counter
	SegmentsGivenUpTotal       prometheus.Counter
	AcksReceivedTotal          *prometheus.CounterVec
	SendErrorsTotal            prometheus.Counter
	CongestionWindow           prometheus.Gauge
	InFlight                   prometheus.Gauge
	QueueDepth                 *prometheus.GaugeVec

	// Receiver metrics
	SegmentsReceivedTotal *prometheus.CounterVec
	AcksSentTotal         prometheus.Counter
	DatagramsDroppedTotal *prometheus.CounterVec

	BytesTransferredTotal *prometheus.CounterVec

	registry prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them on reg. A nil reg uses a
// fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	m := &Metrics{
		SegmentsEnqueuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cats_segments_enqueued_total",
				Help: "DATA segments created by segmentation",
			},
			[]string{"priority"},
		),

		SegmentsSentTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cats_segments_sent_total",
				Help: "DATA segment transmissions, first sends and retransmits",
			},
			[]string{"queue"},
		),

		SegmentsRetransmittedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cats_segments_retransmitted_total",
				Help: "Segments re-queued after an ACK timeout",
			},
		),

		SegmentsGivenUpTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cats_segments_given_up_total",
				Help: "Segments declared lost after exhausting retries",
			},
		),

		AcksReceivedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cats_acks_received_total",
				Help: "ACK segments received by the sender",
			},
			[]string{"result"},
		),

		SendErrorsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cats_send_errors_total",
				Help: "Datagram write failures",
			},
		),

		CongestionWindow: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "cats_congestion_window_segments",
				Help: "Current congestion window",
			},
		),

		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "cats_in_flight_segments",
				Help: "Transmitted segments awaiting acknowledgment",
			},
		),

		QueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cats_queue_depth_segments",
				Help: "Segments waiting for dispatch",
			},
			[]string{"class"},
		),

		SegmentsReceivedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cats_segments_received_total",
				Help: "DATA segments received",
			},
			[]string{"result"},
		),

		AcksSentTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cats_acks_sent_total",
				Help: "ACK segments sent by the receiver",
			},
		),

		DatagramsDroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cats_datagrams_dropped_total",
				Help: "Inbound datagrams discarded",
			},
			[]string{"reason"},
		),

		BytesTransferredTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cats_payload_bytes_total",
				Help: "Payload bytes moved",
			},
			[]string{"direction"},
		),

		registry: reg,
	}

	return m
}

// RecordEnqueued counts a segment created by segmentation.
func (m *Metrics) RecordEnqueued(priority string) {
	m.SegmentsEnqueuedTotal.WithLabelValues(priority).Inc()
}

// RecordSegmentSent updates metrics for a transmitted segment.
func (m *Metrics) RecordSegmentSent(queue string, bytes int) {
	m.SegmentsSentTotal.WithLabelValues(queue).Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordRetransmit increments the retransmit counter.
func (m *Metrics) RecordRetransmit() {
	m.SegmentsRetransmittedTotal.Inc()
}

// RecordGiveUp increments the give-up counter.
func (m *Metrics) RecordGiveUp() {
	m.SegmentsGivenUpTotal.Inc()
}

// RecordAck counts an ACK; matched is false for stale or unknown ACKs.
func (m *Metrics) RecordAck(matched bool) {
	result := "matched"
	if !matched {
		result = "stale"
	}
	m.AcksReceivedTotal.WithLabelValues(result).Inc()
}

// RecordSendError counts a failed datagram write.
func (m *Metrics) RecordSendError() {
	m.SendErrorsTotal.Inc()
}

// SetWindow publishes the congestion state.
func (m *Metrics) SetWindow(cwnd, inFlight int) {
	m.CongestionWindow.Set(float64(cwnd))
	m.InFlight.Set(float64(inFlight))
}

// SetQueueDepth publishes the HIGH and LOW queue lengths.
func (m *Metrics) SetQueueDepth(high, low int) {
	m.QueueDepth.WithLabelValues("HIGH").Set(float64(high))
	m.QueueDepth.WithLabelValues("LOW").Set(float64(low))
}

// RecordSegmentReceived counts an inbound DATA segment.
func (m *Metrics) RecordSegmentReceived(duplicate bool, bytes int) {
	if duplicate {
		m.SegmentsReceivedTotal.WithLabelValues("duplicate").Inc()
		return
	}
	m.SegmentsReceivedTotal.WithLabelValues("new").Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordAckSent counts an ACK emitted by the receiver.
func (m *Metrics) RecordAckSent() {
	m.AcksSentTotal.Inc()
}

// RecordDrop counts a discarded datagram.
func (m *Metrics) RecordDrop(reason string) {
	m.DatagramsDroppedTotal.WithLabelValues(reason).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
