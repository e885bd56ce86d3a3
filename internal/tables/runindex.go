package tables

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// RunIndexKey returns the store key of the run index for runID.
func RunIndexKey(runID string) string {
	return fmt.Sprintf("_runs/run-%s.parquet", runID)
}

// Checksum computes a SHA256 checksum for the given data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// RunIndex collects PredictionRows during a run.
type RunIndex struct {
	runID string

	mu   sync.Mutex
	rows []PredictionRow
}

// NewRunIndex creates an empty index for runID.
func NewRunIndex(runID string) *RunIndex {
	return &RunIndex{runID: runID}
}

// RunID returns the run identifier.
func (x *RunIndex) RunID() string {
	return x.runID
}

// Add appends a row, stamping the run id.
func (x *RunIndex) Add(row PredictionRow) {
	row.RunID = x.runID
	x.mu.Lock()
	x.rows = append(x.rows, row)
	x.mu.Unlock()
}

// Rows returns a copy of the collected rows.
func (x *RunIndex) Rows() []PredictionRow {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]PredictionRow(nil), x.rows...)
}

// Len returns the number of collected rows.
func (x *RunIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.rows)
}

// Encode writes the rows as a zstd-compressed parquet file.
func (x *RunIndex) Encode() ([]byte, error) {
	return EncodeRows(x.Rows())
}

// EncodeRows writes rows as a zstd-compressed parquet file.
func EncodeRows(rows []PredictionRow) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[PredictionRow](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		w.Close()
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows reads rows back from parquet bytes.
func DecodeRows(data []byte) ([]PredictionRow, error) {
	rows, err := parquet.Read[PredictionRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read run index: %w", err)
	}
	return rows, nil
}
