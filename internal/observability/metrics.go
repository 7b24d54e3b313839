package observability

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/caseloom/caseloom/internal/metrics"
)

// MetricsCollector aggregates pipeline runtime statistics in memory. It
// implements metrics.Recorder so it can sit beside the Prometheus recorder
// behind metrics.Multi; the admin status endpoint renders its snapshot for
// quick inspection without a scrape.
type MetricsCollector struct {
	mu sync.RWMutex

	// Document metrics
	documentCount      int64           // Terminal pipeline runs observed
	documentDurations  []time.Duration // Individual run durations (for percentiles)
	documentFailures   int64
	documentsByOutcome map[string]int64
	documentsInFlight  int64

	// Stage metrics
	stageCount     map[string]int64
	stageDurations map[string][]time.Duration
	stageResults   map[string]int64 // "stage/result" -> count

	// Analyzer metrics
	analyzerRetries   int64
	analyzerExhausted int64

	// Upload metrics
	uploadCount int64
	uploadBytes int64

	// Summary metrics
	summaryDurations   []time.Duration
	summariesByOutcome map[string]int64

	// Progress delivery metrics
	progressSubscribers int64
	droppedSubscribers  int64
	mirrorFailures      int64

	// Janitor metrics
	janitorRemovals int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		documentsByOutcome: make(map[string]int64),
		stageCount:         make(map[string]int64),
		stageDurations:     make(map[string][]time.Duration),
		stageResults:       make(map[string]int64),
		summariesByOutcome: make(map[string]int64),
	}
}

// ObserveStageDuration records one finished stage run.
func (mc *MetricsCollector) ObserveStageDuration(stage string, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stageCount[stage]++
	mc.stageDurations[stage] = append(mc.stageDurations[stage], d)

	slog.Debug("Stage finished", "stage", stage, "duration_ms", d.Milliseconds())
}

// IncStageResult counts a stage outcome under a "stage/result" key.
func (mc *MetricsCollector) IncStageResult(stage string, result metrics.ResultLabel) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stageResults[stage+"/"+string(result)]++
}

// ObserveDocumentDuration records the end-to-end duration of one document run.
func (mc *MetricsCollector) ObserveDocumentDuration(d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.documentCount++
	mc.documentDurations = append(mc.documentDurations, d)

	slog.Debug("Document finished", "document_count", mc.documentCount, "duration_ms", d.Milliseconds())
}

// SetDocumentsInFlight records how many documents pipeline workers currently hold.
func (mc *MetricsCollector) SetDocumentsInFlight(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.documentsInFlight = int64(n)
}

// IncDocumentOutcome counts a terminal document outcome.
func (mc *MetricsCollector) IncDocumentOutcome(outcome string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.documentsByOutcome[outcome]++
	if outcome == "failed" {
		mc.documentFailures++
	}

	slog.Debug("Document outcome", "outcome", outcome)
}

// ObserveUploadBytes records one accepted upload.
func (mc *MetricsCollector) ObserveUploadBytes(n int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.uploadCount++
	mc.uploadBytes += n

	slog.Debug("Upload accepted", "size_bytes", n, "total_uploads", mc.uploadCount)
}

// IncAnalyzerRetry counts one retried analyzer model call.
func (mc *MetricsCollector) IncAnalyzerRetry() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.analyzerRetries++
}

// IncAnalyzerRetryExhausted counts one document whose analyzer retry budget ran out.
func (mc *MetricsCollector) IncAnalyzerRetryExhausted() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.analyzerExhausted++
}

// ObserveSummaryDuration records one finished summary generation.
func (mc *MetricsCollector) ObserveSummaryDuration(d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.summaryDurations = append(mc.summaryDurations, d)

	slog.Debug("Summary finished", "duration_ms", d.Milliseconds())
}

// IncSummaryOutcome counts a summary generation outcome.
func (mc *MetricsCollector) IncSummaryOutcome(outcome string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.summariesByOutcome[outcome]++
}

// SetProgressSubscribers records the current progress subscriber count.
func (mc *MetricsCollector) SetProgressSubscribers(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.progressSubscribers = int64(n)
}

// IncDroppedSubscriber counts one subscriber dropped for falling behind.
func (mc *MetricsCollector) IncDroppedSubscriber() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.droppedSubscribers++
}

// IncMirrorFailure counts one failed publish to the external event mirror.
func (mc *MetricsCollector) IncMirrorFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.mirrorFailures++
}

// AddJanitorRemovals counts stale intake files removed by a janitor sweep.
func (mc *MetricsCollector) AddJanitorRemovals(n int) {
	if n <= 0 {
		return
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.janitorRemovals += int64(n)

	slog.Debug("Janitor removals", "count", n, "total", mc.janitorRemovals)
}

// GetSnapshot returns a snapshot of current metrics.
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Timestamp:           time.Now(),
		TotalDocuments:      mc.documentCount,
		DocumentsInFlight:   mc.documentsInFlight,
		DocumentFailures:    mc.documentFailures,
		DocumentsByOutcome:  copyStringInt64Map(mc.documentsByOutcome),
		StageCount:          copyStringInt64Map(mc.stageCount),
		StageResults:        copyStringInt64Map(mc.stageResults),
		AnalyzerRetries:     mc.analyzerRetries,
		AnalyzerExhausted:   mc.analyzerExhausted,
		UploadCount:         mc.uploadCount,
		UploadBytes:         mc.uploadBytes,
		SummariesByOutcome:  copyStringInt64Map(mc.summariesByOutcome),
		ProgressSubscribers: mc.progressSubscribers,
		DroppedSubscribers:  mc.droppedSubscribers,
		MirrorFailures:      mc.mirrorFailures,
		JanitorRemovals:     mc.janitorRemovals,
	}

	// Calculate percentiles
	if len(mc.documentDurations) > 0 {
		snapshot.P50DocumentDuration = calculatePercentile(mc.documentDurations, 50)
		snapshot.P95DocumentDuration = calculatePercentile(mc.documentDurations, 95)
		snapshot.P99DocumentDuration = calculatePercentile(mc.documentDurations, 99)
		snapshot.AvgDocumentDuration = calculateAverage(mc.documentDurations)
	}
	if len(mc.summaryDurations) > 0 {
		snapshot.AvgSummaryDuration = calculateAverage(mc.summaryDurations)
	}

	return snapshot
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	Timestamp           time.Time
	TotalDocuments      int64
	DocumentsInFlight   int64
	DocumentFailures    int64
	DocumentsByOutcome  map[string]int64
	P50DocumentDuration time.Duration
	P95DocumentDuration time.Duration
	P99DocumentDuration time.Duration
	AvgDocumentDuration time.Duration
	StageCount          map[string]int64
	StageResults        map[string]int64
	AnalyzerRetries     int64
	AnalyzerExhausted   int64
	UploadCount         int64
	UploadBytes         int64
	SummariesByOutcome  map[string]int64
	AvgSummaryDuration  time.Duration
	ProgressSubscribers int64
	DroppedSubscribers  int64
	MirrorFailures      int64
	JanitorRemovals     int64
}

// FormatMetrics returns a human-readable string of metrics.
func (s MetricsSnapshot) FormatMetrics() string {
	successRate := 0.0
	errorRate := 0.0
	if s.TotalDocuments > 0 {
		errorRate = float64(s.DocumentFailures) / float64(s.TotalDocuments) * 100
		successRate = 100 - errorRate
	}

	output := fmt.Sprintf(`
=== Caseloom Metrics ===
Timestamp: %s

Document Metrics:
  Total Processed: %d
  In Flight: %d
  Failures: %d (%.2f%% error rate)
  Success Rate: %.2f%%

Document Durations:
  Average: %v
  P50: %v
  P95: %v
  P99: %v

Stage Metrics: %d stages tracked
  Total Runs: %d
  Counts: %v
  Results: %v

Analyzer Metrics:
  Retries: %d
  Retry Budget Exhausted: %d

Upload Metrics:
  Uploads: %d
  Total Size: %d bytes (%.2f MB)

Summary Metrics:
  Outcomes: %v
  Average Duration: %v

Progress Metrics:
  Subscribers: %d
  Dropped Subscribers: %d
  Mirror Failures: %d

Janitor Metrics:
  Files Removed: %d

Outcome Breakdown: %v
======================
`,
		s.Timestamp.Format(time.RFC3339),
		s.TotalDocuments,
		s.DocumentsInFlight,
		s.DocumentFailures,
		errorRate,
		successRate,
		s.AvgDocumentDuration,
		s.P50DocumentDuration,
		s.P95DocumentDuration,
		s.P99DocumentDuration,
		len(s.StageCount),
		sumInt64Values(s.StageCount),
		s.StageCount,
		s.StageResults,
		s.AnalyzerRetries,
		s.AnalyzerExhausted,
		s.UploadCount,
		s.UploadBytes,
		float64(s.UploadBytes)/(1024*1024),
		s.SummariesByOutcome,
		s.AvgSummaryDuration,
		s.ProgressSubscribers,
		s.DroppedSubscribers,
		s.MirrorFailures,
		s.JanitorRemovals,
		s.DocumentsByOutcome,
	)

	return output
}

// Helper functions

func copyStringInt64Map(m map[string]int64) map[string]int64 {
	result := make(map[string]int64)
	for k, v := range m {
		result[k] = v
	}
	return result
}

func calculateAverage(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

func calculatePercentile(durations []time.Duration, percentile int) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	// Sort durations for accurate percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// Calculate index
	index := (len(sorted) * percentile) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}

func sumInt64Values(m map[string]int64) int64 {
	var sum int64
	for _, v := range m {
		sum += v
	}
	return sum
}
