// Package metrics aggregates best-effort loss and timing counters.
//
// Silent local recoveries (dropped fragment sets, jitter-buffer skips,
// rejected clock samples) are never surfaced to the embedding application
// per occurrence; they are only visible here in aggregate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the streaming engine's aggregate counters.
type Collector struct {
	PacketsSent         *prometheus.CounterVec
	PacketsReceived     *prometheus.CounterVec
	BytesSent           *prometheus.CounterVec
	BytesReceived       *prometheus.CounterVec
	ReassemblyTimeouts  *prometheus.CounterVec
	JitterSkips         *prometheus.CounterVec
	FramesDelivered     *prometheus.CounterVec
	ControlRetransmits  prometheus.Counter
	ControlDuplicates   prometheus.Counter
	ClockSamplesOK      prometheus.Counter
	ClockSamplesDropped prometheus.Counter
	RoundTripSeconds    prometheus.Histogram
}

// NewCollector creates the counters and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid global registration conflicts.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_data_packets_sent_total",
			Help: "Data packets sent, by stream",
		}, []string{"stream"}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_data_packets_received_total",
			Help: "Data packets received, by stream",
		}, []string{"stream"}),

		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_data_bytes_sent_total",
			Help: "Data payload bytes sent, by stream",
		}, []string{"stream"}),

		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_data_bytes_received_total",
			Help: "Data payload bytes received, by stream",
		}, []string{"stream"}),

		ReassemblyTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_reassembly_timeouts_total",
			Help: "Fragment sets discarded before completion, by stream",
		}, []string{"stream"}),

		JitterSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_jitter_skips_total",
			Help: "Sequence numbers skipped by the jitter buffer, by stream",
		}, []string{"stream"}),

		FramesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrlink_frames_delivered_total",
			Help: "Reassembled frames delivered to the application, by stream",
		}, []string{"stream"}),

		ControlRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrlink_control_retransmits_total",
			Help: "Control frames retransmitted after a missing ack",
		}),

		ControlDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrlink_control_duplicates_total",
			Help: "Duplicate control frames discarded by the receiver",
		}),

		ClockSamplesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrlink_clock_samples_applied_total",
			Help: "Clock probe samples folded into the offset estimate",
		}),

		ClockSamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrlink_clock_samples_rejected_total",
			Help: "Clock probe samples rejected as round-trip outliers",
		}),

		RoundTripSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vrlink_clock_round_trip_seconds",
			Help:    "Round-trip time of clock probes",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.PacketsSent, c.PacketsReceived,
			c.BytesSent, c.BytesReceived,
			c.ReassemblyTimeouts, c.JitterSkips, c.FramesDelivered,
			c.ControlRetransmits, c.ControlDuplicates,
			c.ClockSamplesOK, c.ClockSamplesDropped,
			c.RoundTripSeconds,
		)
	}

	return c
}
