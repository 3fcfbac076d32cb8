package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "grocery_tracker_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	receiptsProcessed     *prometheus.CounterVec
	receiptProcessLatency *prometheus.HistogramVec
	receiptWarnings       *prometheus.CounterVec
	itemsParsed           prometheus.Counter

	textExtractLatency *prometheus.HistogramVec

	analysisTotal        *prometheus.CounterVec
	analysisLatency      *prometheus.HistogramVec
	analysisSavings      prometheus.Histogram
	analysisOpportunities prometheus.Histogram

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	observationsRecorded *prometheus.CounterVec
)

// Init registers the service metrics with the default Prometheus registry.
// It is safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		receiptsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "receipts_processed_total",
				Help: "Total receipts processed by source and result",
			},
			[]string{"source", "result"},
		)
		receiptProcessLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "receipt_process_latency_seconds",
				Help:    "Receipt processing latency in seconds, OCR included",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"source", "result"},
		)
		receiptWarnings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "receipt_warnings_total",
				Help: "Total validation warnings raised for parsed receipts",
			},
			[]string{"warning"},
		)
		itemsParsed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "items_parsed_total",
				Help: "Total line items parsed from receipts",
			},
		)

		textExtractLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "text_extract_latency_seconds",
				Help:    "Text extraction latency in seconds by content type and result",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"content_type", "result"},
		)

		analysisTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "basket_analysis_total",
				Help: "Total basket analyses by result",
			},
			[]string{"result"},
		)
		analysisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "basket_analysis_latency_seconds",
				Help:    "Basket analysis latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		analysisSavings = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "basket_savings_dollars",
				Help:    "Total savings found per analyzed basket",
				Buckets: []float64{0, 0.5, 1, 2, 5, 10, 20, 50},
			},
		)
		analysisOpportunities = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "basket_opportunities",
				Help:    "Savings opportunities found per analyzed basket",
				Buckets: []float64{0, 1, 2, 5, 10, 20},
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "analysis_export_total",
				Help: "Total analysis exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "analysis_export_latency_seconds",
				Help:    "Analysis export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		observationsRecorded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_observations_total",
				Help: "Total price observations recorded by source",
			},
			[]string{"source"},
		)

		prometheus.MustRegister(
			receiptsProcessed,
			receiptProcessLatency,
			receiptWarnings,
			itemsParsed,
			textExtractLatency,
			analysisTotal,
			analysisLatency,
			analysisSavings,
			analysisOpportunities,
			exportTotal,
			exportLatency,
			observationsRecorded,
		)
	})
}

// ObserveReceiptProcessed records one processed receipt.
func ObserveReceiptProcessed(source, result string, duration time.Duration, items int) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if receiptsProcessed != nil {
		receiptsProcessed.WithLabelValues(source, result).Inc()
	}
	if receiptProcessLatency != nil {
		receiptProcessLatency.WithLabelValues(source, result).Observe(duration.Seconds())
	}
	if itemsParsed != nil && items > 0 {
		itemsParsed.Add(float64(items))
	}
}

// IncReceiptWarning counts a validation warning by its code. Pass the
// stable code, never the message, so the label set stays bounded.
func IncReceiptWarning(warning string) {
	if warning == "" {
		warning = "unknown"
	}
	if receiptWarnings != nil {
		receiptWarnings.WithLabelValues(warning).Inc()
	}
}

// ObserveTextExtract records how long it took to get text out of an upload.
func ObserveTextExtract(contentType, result string, duration time.Duration) {
	if contentType == "" {
		contentType = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if textExtractLatency != nil {
		textExtractLatency.WithLabelValues(contentType, result).Observe(duration.Seconds())
	}
}

// ObserveAnalysis records a basket analysis and what it found.
func ObserveAnalysis(result string, duration time.Duration, savings float64, opportunities int) {
	if result == "" {
		result = resultSuccess
	}
	if analysisTotal != nil {
		analysisTotal.WithLabelValues(result).Inc()
	}
	if analysisLatency != nil {
		analysisLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if result != resultSuccess {
		return
	}
	if analysisSavings != nil {
		analysisSavings.Observe(savings)
	}
	if analysisOpportunities != nil {
		analysisOpportunities.Observe(float64(opportunities))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// AddObservations counts recorded price observations.
func AddObservations(source string, count int) {
	if count <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}
	if observationsRecorded != nil {
		observationsRecorded.WithLabelValues(source).Add(float64(count))
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
