package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration       *prom.HistogramVec
	stageResults        *prom.CounterVec
	documentDuration    prom.Histogram
	documentsInFlight   prom.Gauge
	documentOutcomes    *prom.CounterVec
	uploadBytes         prom.Histogram
	analyzerRetries     prom.Counter
	analyzerExhausted   prom.Counter
	summaryDuration     prom.Histogram
	summaryOutcomes     *prom.CounterVec
	progressSubscribers prom.Gauge
	droppedSubscribers  prom.Counter
	mirrorFailures      prom.Counter
	janitorRemovals     prom.Counter
}

// NewPrometheusRecorder constructs the metric set and registers it on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "caseloom",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		documentDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "caseloom",
			Name:      "document_duration_seconds",
			Help:      "End-to-end document processing duration",
			Buckets:   prom.ExponentialBuckets(0.5, 2, 12),
		}),
		documentsInFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: "caseloom",
			Name:      "documents_in_flight",
			Help:      "Documents currently held by pipeline workers",
		}),
		documentOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "document_outcomes_total",
			Help:      "Document processing outcomes by final status",
		}, []string{"outcome"}),
		uploadBytes: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "caseloom",
			Name:      "upload_bytes",
			Help:      "Uploaded document sizes in bytes",
			Buckets:   prom.ExponentialBuckets(1024, 4, 10),
		}),
		analyzerRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "analyzer_retries_total",
			Help:      "Total metadata generation retries (transient LLM failures)",
		}),
		analyzerExhausted: prom.NewCounter(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "analyzer_retry_exhausted_total",
			Help:      "Count of documents where metadata retries were exhausted",
		}),
		summaryDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "caseloom",
			Name:      "summary_duration_seconds",
			Help:      "Total case summary generation duration",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}),
		summaryOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "summary_outcomes_total",
			Help:      "Summary generation outcomes",
		}, []string{"outcome"}),
		progressSubscribers: prom.NewGauge(prom.GaugeOpts{
			Namespace: "caseloom",
			Name:      "progress_subscribers",
			Help:      "Currently connected progress subscribers",
		}),
		droppedSubscribers: prom.NewCounter(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "progress_dropped_subscribers_total",
			Help:      "Subscribers dropped for not keeping up with event delivery",
		}),
		mirrorFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "event_mirror_failures_total",
			Help:      "Failed publishes to the external event mirror",
		}),
		janitorRemovals: prom.NewCounter(prom.CounterOpts{
			Namespace: "caseloom",
			Name:      "janitor_removed_total",
			Help:      "Stale intake files removed by the janitor",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.documentDuration, pr.documentsInFlight,
		pr.documentOutcomes, pr.uploadBytes, pr.analyzerRetries, pr.analyzerExhausted,
		pr.summaryDuration, pr.summaryOutcomes, pr.progressSubscribers, pr.droppedSubscribers,
		pr.mirrorFailures, pr.janitorRemovals)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveDocumentDuration(d time.Duration) {
	if p == nil || p.documentDuration == nil {
		return
	}
	p.documentDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetDocumentsInFlight(n int) {
	if p == nil || p.documentsInFlight == nil {
		return
	}
	p.documentsInFlight.Set(float64(n))
}

func (p *PrometheusRecorder) IncDocumentOutcome(outcome string) {
	if p == nil || p.documentOutcomes == nil {
		return
	}
	p.documentOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveUploadBytes(n int64) {
	if p == nil || p.uploadBytes == nil {
		return
	}
	p.uploadBytes.Observe(float64(n))
}

func (p *PrometheusRecorder) IncAnalyzerRetry() {
	if p == nil || p.analyzerRetries == nil {
		return
	}
	p.analyzerRetries.Inc()
}

func (p *PrometheusRecorder) IncAnalyzerRetryExhausted() {
	if p == nil || p.analyzerExhausted == nil {
		return
	}
	p.analyzerExhausted.Inc()
}

func (p *PrometheusRecorder) ObserveSummaryDuration(d time.Duration) {
	if p == nil || p.summaryDuration == nil {
		return
	}
	p.summaryDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSummaryOutcome(outcome string) {
	if p == nil || p.summaryOutcomes == nil {
		return
	}
	p.summaryOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetProgressSubscribers(n int) {
	if p == nil || p.progressSubscribers == nil {
		return
	}
	p.progressSubscribers.Set(float64(n))
}

func (p *PrometheusRecorder) IncDroppedSubscriber() {
	if p == nil || p.droppedSubscribers == nil {
		return
	}
	p.droppedSubscribers.Inc()
}

func (p *PrometheusRecorder) IncMirrorFailure() {
	if p == nil || p.mirrorFailures == nil {
		return
	}
	p.mirrorFailures.Inc()
}

func (p *PrometheusRecorder) AddJanitorRemovals(n int) {
	if p == nil || p.janitorRemovals == nil || n <= 0 {
		return
	}
	p.janitorRemovals.Add(float64(n))
}
