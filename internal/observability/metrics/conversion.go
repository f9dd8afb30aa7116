package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/mditd/internal/core/domain"
)

// ConversionMetrics observes the batch pipeline.
type ConversionMetrics struct {
	service string

	filesTotal      *prometheus.CounterVec
	convertDuration *prometheus.HistogramVec
	convertInFlight prometheus.Gauge
	poolWait        prometheus.Histogram
	batchFiles      prometheus.Histogram
	batchesTotal    *prometheus.CounterVec
}

func NewConversionMetrics(registry prometheus.Registerer, service string) *ConversionMetrics {
	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "files_total",
			Help:      "Converted files by format and status.",
		},
		[]string{"service", "format", "status"},
	)
	convertDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "duration_seconds",
			Help:      "Time spent inside the converter per file.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "format"},
	)
	convertInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "in_flight",
			Help:      "Conversions currently holding a pool slot.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	poolWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "pool_wait_seconds",
			Help:      "Time a file waited for a conversion slot.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchFiles := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "files",
			Help:      "Files per processed batch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 50},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "total",
			Help:      "Processed batches by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(filesTotal, convertDuration, convertInFlight, poolWait, batchFiles, batchesTotal)

	return &ConversionMetrics{
		service:         service,
		filesTotal:      filesTotal,
		convertDuration: convertDuration,
		convertInFlight: convertInFlight,
		poolWait:        poolWait,
		batchFiles:      batchFiles,
		batchesTotal:    batchesTotal,
	}
}

func (m *ConversionMetrics) StartConversion() {
	m.convertInFlight.Inc()
}

func (m *ConversionMetrics) FinishConversion(format string, duration time.Duration, err error) {
	m.convertInFlight.Dec()
	if format == "" {
		format = "unknown"
	}

	m.filesTotal.WithLabelValues(m.service, format, conversionStatus(err)).Inc()
	m.convertDuration.WithLabelValues(m.service, format).Observe(duration.Seconds())
}

func (m *ConversionMetrics) ObservePoolWait(wait time.Duration) {
	if wait < 0 {
		return
	}
	m.poolWait.Observe(wait.Seconds())
}

func (m *ConversionMetrics) ObserveBatch(summary *domain.BatchSummary) {
	if summary == nil {
		return
	}
	m.batchFiles.Observe(float64(summary.TotalFiles))

	outcome := "success"
	switch {
	case summary.TotalFiles > 0 && summary.Failed == summary.TotalFiles:
		outcome = "failed"
	case summary.Failed > 0:
		outcome = "partial"
	}
	m.batchesTotal.WithLabelValues(m.service, outcome).Inc()
}

func conversionStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsKind(err, domain.ErrUnsupportedFormat):
		return "unsupported"
	case domain.IsKind(err, domain.ErrConversion):
		return "conversion_error"
	default:
		return "error"
	}
}
