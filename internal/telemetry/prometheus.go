package telemetry

import "github.com/prometheus/client_golang/prometheus"

const livelookNamespace string = "livelook"

var (
	promRecordingsActive    prometheus.Gauge
	promPortsReserved       prometheus.Gauge
	promRecordingDuration   prometheus.Histogram
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promRecordingsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "recording",
		Name:      "active",
	})

	promPortsReserved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "recording",
		Name:      "ports_reserved",
	})

	promRecordingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: livelookNamespace,
		Subsystem: "recording",
		Name:      "duration_seconds",
		Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   livelookNamespace,
			Subsystem:   "node",
			Name:        "service_operation",
			ConstLabels: prometheus.Labels{"node_id": "1"},
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promRecordingsActive)
	prometheus.MustRegister(promPortsReserved)
	prometheus.MustRegister(promRecordingDuration)
	prometheus.MustRegister(ServiceOperationCounter)
}

func RecordingStarted() {
	promRecordingsActive.Inc()
}

func RecordingStopped(seconds float64) {
	promRecordingsActive.Dec()
	promRecordingDuration.Observe(seconds)
}

func PortsReserved(n int) {
	promPortsReserved.Set(float64(n))
}
