// Package metrics holds the Prometheus collectors for a feed session. A nil
// *FeedMetrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	metricPrefix = "railfeed_"

	ResultSuccess = "success"
	ResultError   = "error"

	ActionAck  = "ack"
	ActionNack = "nack"
)

// FeedMetrics bundles the session collectors.
type FeedMetrics struct {
	FramesTotal        *prometheus.CounterVec
	RecordsTotal       *prometheus.CounterVec
	AcksTotal          *prometheus.CounterVec
	MalformedTotal     *prometheus.CounterVec
	StorageErrorsTotal *prometheus.CounterVec
	DuplicatesTotal    prometheus.Counter
	BrokerErrorsTotal  prometheus.Counter
	DeliveryLatency    prometheus.Histogram
	SessionState       prometheus.Gauge
}

// New constructs the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *FeedMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &FeedMetrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frames_total",
				Help: "Total frames received by category",
			},
			[]string{"category"},
		),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_total",
				Help: "Total normalized records delivered by sink and result",
			},
			[]string{"sink", "result"},
		),
		AcksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "acks_total",
				Help: "Total acknowledgements sent to the broker by action and result",
			},
			[]string{"action", "result"},
		),
		MalformedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "malformed_payloads_total",
				Help: "Total frames dropped because the body could not be decoded",
			},
			[]string{"category"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "storage_errors_total",
				Help: "Total persistent sink failures by sink",
			},
			[]string{"sink"},
		),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "duplicate_frames_total",
			Help: "Total redelivered frames skipped by the duplicate guard",
		}),
		BrokerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "broker_errors_total",
			Help: "Total ERROR frames received from the broker",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "frame_processing_seconds",
			Help:    "Time from frame receipt to acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "session_state",
			Help: "Current feed session state (0 disconnected .. 4 running)",
		}),
	}
	reg.MustRegister(
		m.FramesTotal,
		m.RecordsTotal,
		m.AcksTotal,
		m.MalformedTotal,
		m.StorageErrorsTotal,
		m.DuplicatesTotal,
		m.BrokerErrorsTotal,
		m.DeliveryLatency,
		m.SessionState,
	)
	return m
}

func (m *FeedMetrics) Frame(category string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(category).Inc()
}

func (m *FeedMetrics) Records(sink, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(sink, result).Add(float64(n))
}

func (m *FeedMetrics) Acked(action string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.AcksTotal.WithLabelValues(action, result).Inc()
}

func (m *FeedMetrics) Malformed(category string) {
	if m == nil {
		return
	}
	m.MalformedTotal.WithLabelValues(category).Inc()
}

func (m *FeedMetrics) StorageError(sink string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(sink).Inc()
}

func (m *FeedMetrics) Duplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *FeedMetrics) BrokerError() {
	if m == nil {
		return
	}
	m.BrokerErrorsTotal.Inc()
}

func (m *FeedMetrics) ObserveProcessing(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryLatency.Observe(seconds)
}

func (m *FeedMetrics) State(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}
