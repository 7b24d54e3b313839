package observability

import (
	"testing"
	"time"

	"github.com/caseloom/caseloom/internal/metrics"
)

func TestNewMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	if mc == nil {
		t.Fatal("expected MetricsCollector")
	}

	if mc.documentCount != 0 {
		t.Error("expected documentCount=0")
	}
	if mc.uploadCount != 0 {
		t.Error("expected uploadCount=0")
	}
}

func TestCollectorImplementsRecorder(t *testing.T) {
	var _ metrics.Recorder = (*MetricsCollector)(nil)
}

func TestObserveDocumentDuration(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveDocumentDuration(100 * time.Millisecond)
	mc.ObserveDocumentDuration(200 * time.Millisecond)

	if mc.documentCount != 2 {
		t.Errorf("expected documentCount=2, got %d", mc.documentCount)
	}
	if len(mc.documentDurations) != 2 {
		t.Error("expected durations recorded")
	}
}

func TestSetDocumentsInFlight(t *testing.T) {
	mc := NewMetricsCollector()

	mc.SetDocumentsInFlight(3)
	if mc.documentsInFlight != 3 {
		t.Errorf("expected 3 in flight, got %d", mc.documentsInFlight)
	}

	mc.SetDocumentsInFlight(0)
	if mc.documentsInFlight != 0 {
		t.Errorf("expected 0 in flight, got %d", mc.documentsInFlight)
	}
}

func TestIncDocumentOutcome(t *testing.T) {
	mc := NewMetricsCollector()

	mc.IncDocumentOutcome("complete")
	mc.IncDocumentOutcome("complete")
	mc.IncDocumentOutcome("failed")

	if mc.documentsByOutcome["complete"] != 2 {
		t.Error("expected 2 complete outcomes")
	}
	if mc.documentsByOutcome["failed"] != 1 {
		t.Error("expected 1 failed outcome")
	}
	if mc.documentFailures != 1 {
		t.Errorf("expected 1 failure, got %d", mc.documentFailures)
	}
}

func TestObserveStageDuration(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveStageDuration("extracting", 100*time.Millisecond)
	mc.ObserveStageDuration("analyzing", 50*time.Millisecond)

	if mc.stageCount["extracting"] != 1 {
		t.Error("expected extracting stage count")
	}
	if mc.stageCount["analyzing"] != 1 {
		t.Error("expected analyzing stage count")
	}
	if len(mc.stageDurations["extracting"]) != 1 {
		t.Error("expected extracting duration recorded")
	}
}

func TestIncStageResult(t *testing.T) {
	mc := NewMetricsCollector()

	mc.IncStageResult("analyzing", metrics.ResultSuccess)
	mc.IncStageResult("analyzing", metrics.ResultWarning)
	mc.IncStageResult("analyzing", metrics.ResultSuccess)

	if mc.stageResults["analyzing/success"] != 2 {
		t.Errorf("expected 2 successes, got %d", mc.stageResults["analyzing/success"])
	}
	if mc.stageResults["analyzing/warning"] != 1 {
		t.Errorf("expected 1 warning, got %d", mc.stageResults["analyzing/warning"])
	}
}

func TestObserveUploadBytes(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveUploadBytes(1024)
	mc.ObserveUploadBytes(512)
	mc.ObserveUploadBytes(2048)

	if mc.uploadCount != 3 {
		t.Errorf("expected 3 uploads, got %d", mc.uploadCount)
	}
	if mc.uploadBytes != 3584 {
		t.Errorf("expected total size 3584, got %d", mc.uploadBytes)
	}
}

func TestAnalyzerRetryCounters(t *testing.T) {
	mc := NewMetricsCollector()

	mc.IncAnalyzerRetry()
	mc.IncAnalyzerRetry()
	mc.IncAnalyzerRetryExhausted()

	if mc.analyzerRetries != 2 {
		t.Errorf("expected 2 retries, got %d", mc.analyzerRetries)
	}
	if mc.analyzerExhausted != 1 {
		t.Errorf("expected 1 exhausted, got %d", mc.analyzerExhausted)
	}
}

func TestSummaryCounters(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveSummaryDuration(2 * time.Second)
	mc.IncSummaryOutcome("generated")
	mc.IncSummaryOutcome("conflict")

	if len(mc.summaryDurations) != 1 {
		t.Error("expected summary duration recorded")
	}
	if mc.summariesByOutcome["generated"] != 1 {
		t.Error("expected generated outcome")
	}
	if mc.summariesByOutcome["conflict"] != 1 {
		t.Error("expected conflict outcome")
	}
}

func TestProgressDeliveryCounters(t *testing.T) {
	mc := NewMetricsCollector()

	mc.SetProgressSubscribers(4)
	mc.IncDroppedSubscriber()
	mc.IncMirrorFailure()
	mc.IncMirrorFailure()

	if mc.progressSubscribers != 4 {
		t.Errorf("expected 4 subscribers, got %d", mc.progressSubscribers)
	}
	if mc.droppedSubscribers != 1 {
		t.Errorf("expected 1 dropped, got %d", mc.droppedSubscribers)
	}
	if mc.mirrorFailures != 2 {
		t.Errorf("expected 2 mirror failures, got %d", mc.mirrorFailures)
	}
}

func TestAddJanitorRemovals(t *testing.T) {
	mc := NewMetricsCollector()

	mc.AddJanitorRemovals(3)
	mc.AddJanitorRemovals(2)
	mc.AddJanitorRemovals(0)
	mc.AddJanitorRemovals(-1)

	if mc.janitorRemovals != 5 {
		t.Errorf("expected 5 removals, got %d", mc.janitorRemovals)
	}
}

func TestGetSnapshot(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveDocumentDuration(100 * time.Millisecond)
	mc.ObserveDocumentDuration(300 * time.Millisecond)
	mc.SetDocumentsInFlight(2)
	mc.IncDocumentOutcome("complete")
	mc.IncDocumentOutcome("failed")
	mc.ObserveUploadBytes(1024)

	snapshot := mc.GetSnapshot()

	if snapshot.TotalDocuments != 2 {
		t.Errorf("expected 2 documents in snapshot, got %d", snapshot.TotalDocuments)
	}
	if snapshot.DocumentsInFlight != 2 {
		t.Errorf("expected 2 in flight, got %d", snapshot.DocumentsInFlight)
	}
	if snapshot.DocumentFailures != 1 {
		t.Errorf("expected 1 failure, got %d", snapshot.DocumentFailures)
	}
	if snapshot.UploadBytes != 1024 {
		t.Errorf("expected 1024 upload bytes, got %d", snapshot.UploadBytes)
	}
}

func TestSnapshotCopiesMaps(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncDocumentOutcome("complete")

	snapshot := mc.GetSnapshot()
	snapshot.DocumentsByOutcome["complete"] = 99

	if mc.documentsByOutcome["complete"] != 1 {
		t.Error("expected snapshot mutation not to touch collector state")
	}
}

func TestAverageDocumentDuration(t *testing.T) {
	mc := NewMetricsCollector()

	mc.documentDurations = []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}

	snapshot := mc.GetSnapshot()

	expected := 200 * time.Millisecond
	if snapshot.AvgDocumentDuration != expected {
		t.Errorf("expected avg duration %v, got %v", expected, snapshot.AvgDocumentDuration)
	}
}

func TestPercentileDocumentDuration(t *testing.T) {
	mc := NewMetricsCollector()

	// Create 100 durations to test percentiles properly
	for i := 1; i <= 100; i++ {
		mc.documentDurations = append(mc.documentDurations, time.Duration(i)*time.Millisecond)
	}

	snapshot := mc.GetSnapshot()

	// P50 should be around 50ms
	if snapshot.P50DocumentDuration < 45*time.Millisecond || snapshot.P50DocumentDuration > 55*time.Millisecond {
		t.Errorf("expected P50 around 50ms, got %v", snapshot.P50DocumentDuration)
	}

	// P95 should be around 95ms
	if snapshot.P95DocumentDuration < 90*time.Millisecond || snapshot.P95DocumentDuration > 100*time.Millisecond {
		t.Errorf("expected P95 around 95ms, got %v", snapshot.P95DocumentDuration)
	}
}

func TestEmptySnapshot(t *testing.T) {
	mc := NewMetricsCollector()

	snapshot := mc.GetSnapshot()

	if snapshot.TotalDocuments != 0 {
		t.Error("expected 0 documents in empty snapshot")
	}
	if snapshot.AvgDocumentDuration != 0 {
		t.Error("expected 0 average duration when nothing recorded")
	}
}

func TestFormatMetrics(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveDocumentDuration(100 * time.Millisecond)
	mc.IncDocumentOutcome("complete")
	mc.ObserveUploadBytes(2048)
	mc.IncSummaryOutcome("generated")

	snapshot := mc.GetSnapshot()
	formatted := snapshot.FormatMetrics()

	if len(formatted) == 0 {
		t.Error("expected non-empty formatted metrics")
	}

	// Check for expected content
	if !contains(formatted, "Caseloom Metrics") {
		t.Error("expected 'Caseloom Metrics' in output")
	}
	if !contains(formatted, "Total Processed: 1") {
		t.Error("expected document count in output")
	}
	if !contains(formatted, "Summary Metrics") {
		t.Error("expected summary metrics in output")
	}
}

func TestFormatMetricsErrorRate(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveDocumentDuration(time.Millisecond)
	mc.ObserveDocumentDuration(time.Millisecond)
	mc.ObserveDocumentDuration(time.Millisecond)
	mc.ObserveDocumentDuration(time.Millisecond)
	mc.IncDocumentOutcome("failed")

	formatted := mc.GetSnapshot().FormatMetrics()

	if !contains(formatted, "25.00% error rate") {
		t.Errorf("expected 25%% error rate in output:\n%s", formatted)
	}
	if !contains(formatted, "Success Rate: 75.00%") {
		t.Errorf("expected 75%% success rate in output:\n%s", formatted)
	}
}

func TestMultipleStageMetrics(t *testing.T) {
	mc := NewMetricsCollector()

	stages := []string{"admitting", "extracting", "analyzing", "indexing"}
	for _, stage := range stages {
		for i := 0; i < 3; i++ {
			mc.ObserveStageDuration(stage, time.Duration(i+1)*50*time.Millisecond)
		}
	}

	snapshot := mc.GetSnapshot()

	for _, stage := range stages {
		if count, ok := snapshot.StageCount[stage]; !ok || count != 3 {
			t.Errorf("expected stage %s to have count 3, got %d", stage, count)
		}
	}
}

func TestMetricsThreadSafety(t *testing.T) {
	mc := NewMetricsCollector()
	done := make(chan bool)

	// Concurrent writers
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 10; j++ {
				mc.ObserveDocumentDuration(10 * time.Millisecond)
				mc.IncDocumentOutcome("complete")
				mc.ObserveStageDuration("extracting", 10*time.Millisecond)
				mc.ObserveUploadBytes(100)
			}
			done <- true
		}(i)
	}

	// Concurrent readers
	for i := 0; i < 5; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				_ = mc.GetSnapshot()
			}
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 15; i++ {
		<-done
	}

	snapshot := mc.GetSnapshot()
	if snapshot.TotalDocuments != 100 {
		t.Errorf("expected 100 documents, got %d", snapshot.TotalDocuments)
	}
	if snapshot.UploadCount != 100 {
		t.Errorf("expected 100 uploads, got %d", snapshot.UploadCount)
	}
}
