package ports

import "time"

// MetricsCollector records pipeline metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordStepExecuted(step, status string, duration time.Duration)
	RecordSessionAcquired(wait time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveRuns(count int)
}
