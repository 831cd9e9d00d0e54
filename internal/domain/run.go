package domain

import (
	"math"
	"time"
)

// Stage is a state of the index-and-aggregate pipeline. States only advance.
type Stage int

// Pipeline stages in order.
const (
	StageUninitialized Stage = iota
	StageRasterOpened
	StageIndexComputed
	StageIndexPersisted
	StageVectorLoaded
	StageStatsComputed
	StageVectorPersisted
)

var stageNames = [...]string{
	"uninitialized",
	"raster_opened",
	"index_computed",
	"index_persisted",
	"vector_loaded",
	"stats_computed",
	"vector_persisted",
}

// String returns the snake_case name of the stage.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Next returns the stage that follows s.
func (s Stage) Next() Stage {
	if s >= StageVectorPersisted {
		return StageVectorPersisted
	}
	return s + 1
}

// Complete reports whether the pipeline reached its final state.
func (s Stage) Complete() bool {
	return s == StageVectorPersisted
}

// RunRequest parameterizes one pipeline run.
type RunRequest struct {
	RasterPath   string // local path or storage key of the multi-band raster
	PositiveBand int    // numerator-positive band (NIR)
	NegativeBand int    // subtracted band (red)
	IndexPath    string // where the derived index raster is written
	VectorPath   string // polygon layer to aggregate into
	Statistic    string
	OutputField  string
	OutputPath   string // GeoPackage written after aggregation
	LayerName    string // table name inside the output GeoPackage

	ChoroplethPath string // optional map of OutputField
	ControlFile    string // optional scatter-plot control file
}

// StepTiming records how long it took to reach a stage.
type StepTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// PlotOutcome reports an optional rendering step.
type PlotOutcome struct {
	Kind string `json:"kind"` // choropleth, scatter
	Path string `json:"path,omitempty"`
	OK   bool   `json:"ok"`
}

// RunReport summarizes a pipeline run.
type RunReport struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Stage       Stage         `json:"stage"`
	Success     bool          `json:"success"`
	FailedStep  string        `json:"failed_step,omitempty"`
	Steps       []StepTiming  `json:"steps"`
	MaskedCells int           `json:"masked_cells"`
	Features    int           `json:"features"`
	Covered     int           `json:"covered_features"`
	IndexPath   string        `json:"index_path,omitempty"`
	OutputPath  string        `json:"output_path,omitempty"`
	OutputField string        `json:"output_field,omitempty"`
	FieldMean   *float64      `json:"field_mean,omitempty"`
	Plots       []PlotOutcome `json:"plots,omitempty"`
}

// Advance moves the report to stage and records the elapsed time.
func (r *RunReport) Advance(stage Stage, took time.Duration) {
	r.Stage = stage
	r.Steps = append(r.Steps, StepTiming{Stage: stage, Duration: took})
}

// SetFieldMean stores the column mean; NaN is omitted from JSON.
func (r *RunReport) SetFieldMean(v float64) {
	if math.IsNaN(v) {
		r.FieldMean = nil
		return
	}
	r.FieldMean = &v
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
