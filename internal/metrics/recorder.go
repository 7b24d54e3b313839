package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning" // degraded (e.g. fallback metadata)
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for pipeline and summary metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveDocumentDuration(d time.Duration) // intake to terminal status
	SetDocumentsInFlight(n int)
	IncDocumentOutcome(outcome string) // outcome: complete|failed|deleted
	ObserveUploadBytes(n int64)
	IncAnalyzerRetry()
	IncAnalyzerRetryExhausted()
	ObserveSummaryDuration(d time.Duration)
	IncSummaryOutcome(outcome string) // outcome: generated|failed|conflict
	SetProgressSubscribers(n int)
	IncDroppedSubscriber()
	IncMirrorFailure()
	AddJanitorRemovals(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveDocumentDuration(time.Duration)      {}
func (NoopRecorder) SetDocumentsInFlight(int)                   {}
func (NoopRecorder) IncDocumentOutcome(string)                  {}
func (NoopRecorder) ObserveUploadBytes(int64)                   {}
func (NoopRecorder) IncAnalyzerRetry()                          {}
func (NoopRecorder) IncAnalyzerRetryExhausted()                 {}
func (NoopRecorder) ObserveSummaryDuration(time.Duration)       {}
func (NoopRecorder) IncSummaryOutcome(string)                   {}
func (NoopRecorder) SetProgressSubscribers(int)                 {}
func (NoopRecorder) IncDroppedSubscriber()                      {}
func (NoopRecorder) IncMirrorFailure()                          {}
func (NoopRecorder) AddJanitorRemovals(int)                     {}

// Multi fans every observation out to all given recorders. Nil entries are
// skipped so optional sinks can be passed without guarding at the call site.
func Multi(recorders ...Recorder) Recorder {
	sinks := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			sinks = append(sinks, r)
		}
	}
	switch len(sinks) {
	case 0:
		return NoopRecorder{}
	case 1:
		return sinks[0]
	}
	return multiRecorder{sinks: sinks}
}

type multiRecorder struct {
	sinks []Recorder
}

func (m multiRecorder) ObserveStageDuration(stage string, d time.Duration) {
	for _, r := range m.sinks {
		r.ObserveStageDuration(stage, d)
	}
}

func (m multiRecorder) IncStageResult(stage string, result ResultLabel) {
	for _, r := range m.sinks {
		r.IncStageResult(stage, result)
	}
}

func (m multiRecorder) ObserveDocumentDuration(d time.Duration) {
	for _, r := range m.sinks {
		r.ObserveDocumentDuration(d)
	}
}

func (m multiRecorder) SetDocumentsInFlight(n int) {
	for _, r := range m.sinks {
		r.SetDocumentsInFlight(n)
	}
}

func (m multiRecorder) IncDocumentOutcome(outcome string) {
	for _, r := range m.sinks {
		r.IncDocumentOutcome(outcome)
	}
}

func (m multiRecorder) ObserveUploadBytes(n int64) {
	for _, r := range m.sinks {
		r.ObserveUploadBytes(n)
	}
}

func (m multiRecorder) IncAnalyzerRetry() {
	for _, r := range m.sinks {
		r.IncAnalyzerRetry()
	}
}

func (m multiRecorder) IncAnalyzerRetryExhausted() {
	for _, r := range m.sinks {
		r.IncAnalyzerRetryExhausted()
	}
}

func (m multiRecorder) ObserveSummaryDuration(d time.Duration) {
	for _, r := range m.sinks {
		r.ObserveSummaryDuration(d)
	}
}

func (m multiRecorder) IncSummaryOutcome(outcome string) {
	for _, r := range m.sinks {
		r.IncSummaryOutcome(outcome)
	}
}

func (m multiRecorder) SetProgressSubscribers(n int) {
	for _, r := range m.sinks {
		r.SetProgressSubscribers(n)
	}
}

func (m multiRecorder) IncDroppedSubscriber() {
	for _, r := range m.sinks {
		r.IncDroppedSubscriber()
	}
}

func (m multiRecorder) IncMirrorFailure() {
	for _, r := range m.sinks {
		r.IncMirrorFailure()
	}
}

func (m multiRecorder) AddJanitorRemovals(n int) {
	for _, r := range m.sinks {
		r.AddJanitorRemovals(n)
	}
}
