package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncRunCount increments the pipeline run counter.
	IncRunCount(success bool)

	// IncStageFailure counts a run halted at stage with an error kind.
	IncStageFailure(stage, kind string)

	// ObserveStageDuration records how long a stage took.
	ObserveStageDuration(stage string, duration time.Duration)

	// SetFeatureCount sets the number of features in the last aggregated layer.
	SetFeatureCount(count int)

	// SetMaskedCells sets the number of zero-denominator cells of the last index.
	SetMaskedCells(count int)

	// SetFieldMean sets the mean of the last output field.
	SetFieldMean(mean float64)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncRunCount implements MetricsCollector.
func (n *NoOpMetrics) IncRunCount(_ bool) {}

// IncStageFailure implements MetricsCollector.
func (n *NoOpMetrics) IncStageFailure(_, _ string) {}

// ObserveStageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStageDuration(_ string, _ time.Duration) {}

// SetFeatureCount implements MetricsCollector.
func (n *NoOpMetrics) SetFeatureCount(_ int) {}

// SetMaskedCells implements MetricsCollector.
func (n *NoOpMetrics) SetMaskedCells(_ int) {}

// SetFieldMean implements MetricsCollector.
func (n *NoOpMetrics) SetFieldMean(_ float64) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
