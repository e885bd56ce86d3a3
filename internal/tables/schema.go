// Package tables defines the run index written at the end of every run.
package tables

import (
	"time"
)

// Tile outcome statuses.
const (
	StatusWritten = "written" // prediction raster written
	StatusBlank   = "blank"   // no pixel reached the positive threshold
	StatusError   = "error"   // read, cleaning or write failed
)

// PredictionRow records the outcome of one tile in one run.
type PredictionRow struct {
	// Run identity
	RunID string `parquet:"run_id"`

	// Tile identity
	Tile       string `parquet:"tile"`        // base filename, as in images_done.txt
	SourcePath string `parquet:"source_path"` // full input path
	OutputURI  string `parquet:"output_uri,optional"`

	// Outcome
	Status string `parquet:"status"`
	Error  string `parquet:"error,optional"`

	// Prediction summary
	Width          int32   `parquet:"width"`
	Height         int32   `parquet:"height"`
	MaxValue       int32   `parquet:"max_value"`
	PositivePixels int64   `parquet:"positive_pixels"` // pixels >= 125
	PositivePct    float64 `parquet:"positive_pct"`
	EvalScore      int32   `parquet:"eval_score"`        // -1 outside evaluation mode
	Checksum       string  `parquet:"checksum,optional"` // sha256 of the written raster

	// Timing
	DurationMs  int64     `parquet:"duration_ms"`
	ProcessedAt time.Time `parquet:"processed_at,timestamp(millisecond)"`
}

// TableName returns the canonical table name.
func (PredictionRow) TableName() string {
	return "tile_predictions"
}

// SchemaVersion returns the version of the schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
