package gsb

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the broker-client collectors: the ambient
// observability a production Go client library carries. A nil
// *Metrics is safe to use: every recording method checks for a nil
// receiver before touching it.
type Metrics struct {
	InFlightCalls prometheus.Gauge
	FramesRead    prometheus.Counter
	FramesWritten prometheus.Counter
	ReplyLatency  prometheus.Histogram
}

// NewMetrics builds a Metrics instance and, if reg is non-nil,
// registers its collectors against it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InFlightCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gsb",
			Subsystem: "broker_client",
			Name:      "in_flight_calls",
			Help:      "Number of unary or streaming calls awaiting a reply on the broker connection.",
		}),
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Subsystem: "broker_client",
			Name:      "frames_read_total",
			Help:      "Total frames read from the broker connection.",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Subsystem: "broker_client",
			Name:      "frames_written_total",
			Help:      "Total frames written to the broker connection.",
		}),
		ReplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gsb",
			Subsystem: "broker_client",
			Name:      "call_reply_latency_seconds",
			Help:      "Time between writing a CallRequest and receiving its terminal reply.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.InFlightCalls, m.FramesRead, m.FramesWritten, m.ReplyLatency)
	}
	return m
}

func (m *Metrics) incInFlight() {
	if m != nil {
		m.InFlightCalls.Inc()
	}
}

func (m *Metrics) decInFlight() {
	if m != nil {
		m.InFlightCalls.Dec()
	}
}

func (m *Metrics) recordFrameRead() {
	if m != nil {
		m.FramesRead.Inc()
	}
}

func (m *Metrics) recordFrameWritten() {
	if m != nil {
		m.FramesWritten.Inc()
	}
}

func (m *Metrics) observeReplyLatencySeconds(s float64) {
	if m != nil {
		m.ReplyLatency.Observe(s)
	}
}
