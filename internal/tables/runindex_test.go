package tables

import (
	"strings"
	"testing"
	"time"
)

func TestRunIndexEncodeDecode(t *testing.T) {
	idx := NewRunIndex("run-1")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	idx.Add(PredictionRow{
		Tile:           "a.tif",
		SourcePath:     "/in/a.tif",
		OutputURI:      "file:///out/a_pred.tif",
		Status:         StatusWritten,
		Width:          512,
		Height:         512,
		MaxValue:       250,
		PositivePixels: 1024,
		PositivePct:    0.39,
		EvalScore:      -1,
		Checksum:       Checksum([]byte("raster")),
		DurationMs:     42,
		ProcessedAt:    at,
	})
	idx.Add(PredictionRow{
		Tile:        "b.tif",
		SourcePath:  "/in/b.tif",
		Status:      StatusError,
		Error:       "tile read failed",
		EvalScore:   -1,
		ProcessedAt: at,
	})

	data, err := idx.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	rows, err := DecodeRows(data)
	if err != nil {
		t.Fatalf("DecodeRows failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].RunID != "run-1" || rows[1].RunID != "run-1" {
		t.Errorf("run id not stamped: %q %q", rows[0].RunID, rows[1].RunID)
	}
	if rows[0].PositivePixels != 1024 || rows[0].MaxValue != 250 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Status != StatusError || rows[1].Error == "" {
		t.Errorf("row 1 = %+v", rows[1])
	}
	if !rows[0].ProcessedAt.Equal(at) {
		t.Errorf("ProcessedAt = %v, want %v", rows[0].ProcessedAt, at)
	}
}

func TestRunIndexKeyAndChecksum(t *testing.T) {
	if got := RunIndexKey("abc"); got != "_runs/run-abc.parquet" {
		t.Errorf("RunIndexKey = %q", got)
	}
	sum := Checksum([]byte("x"))
	if !strings.HasPrefix(sum, "sha256:") || len(sum) != len("sha256:")+64 {
		t.Errorf("Checksum = %q", sum)
	}
}
