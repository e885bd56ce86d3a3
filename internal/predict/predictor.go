// Package predict runs a segmentation model over a directory of tiles and
// writes cleaned, geo-referenced prediction rasters.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/metrics"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/model"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/source"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/storage"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/tables"
)

// TileReader loads one tile with its geo-referencing.
type TileReader interface {
	Read(ctx context.Context, path string) (*raster.ReadResult, error)
}

// Options configures a prediction run.
type Options struct {
	Layout       source.Layout
	Extensions   []string
	BatchSize    int
	BorderPixels int
	Force        bool   // ignore the resume logs
	MaskDir      string // ground-truth masks for evaluation mode
}

// Summary reports what a run did.
type Summary struct {
	RunID    string
	Found    int
	Skipped  int
	Pending  int
	Written  int
	Blank    int
	Errors   int
	Batches  int
	Duration time.Duration
}

// Done returns the number of tiles recorded in the done log this run.
func (s *Summary) Done() int {
	return s.Written + s.Blank
}

// Predictor orchestrates a prediction run.
type Predictor struct {
	opts   Options
	model  model.Model
	reader TileReader
	store  storage.Store
	ledger checkpoint.Ledger
	eval   *Evaluator
	index  *tables.RunIndex
	now    func() time.Time // progress clock
	log    *slog.Logger
}

// New creates a Predictor. store is rooted at the output root of
// opts.Layout; ledger holds the resume logs for the same root.
func New(opts Options, m model.Model, reader TileReader, store storage.Store, ledger checkpoint.Ledger) *Predictor {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".tif", ".jpg"}
	}

	p := &Predictor{
		opts:   opts,
		model:  m,
		reader: reader,
		store:  store,
		ledger: ledger,
		now:    time.Now,
		log:    slog.With("component", "predictor"),
	}
	if opts.Layout.Evaluate {
		p.eval = NewEvaluator(store, opts.MaskDir)
	}
	return p
}

// Run predicts every pending tile. A missing input directory is not an
// error. The run halts on inference failure, on a ledger that can no longer
// record outcomes, or when ctx is cancelled; cancellation takes effect
// between batches.
func (p *Predictor) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.New().String()
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	start := time.Now()

	summary := &Summary{RunID: runID}
	p.index = tables.NewRunIndex(runID)

	layout := p.opts.Layout
	items, err := source.Enumerate(layout, p.opts.Extensions)
	if err != nil {
		if errors.Is(err, source.ErrNoInputDir) {
			p.log.Warn("input directory doesn't exist, nothing to do", "input_dir", layout.InputDir)
			return summary, nil
		}
		return nil, fmt.Errorf("enumerate tiles: %w", err)
	}
	summary.Found = len(items)
	p.log.Info("start predict",
		"run_id", runID,
		"input_dir", layout.InputDir,
		"output_dir", layout.OutputRoot(),
		"tiles", len(items),
		"extensions", p.opts.Extensions,
		"evaluate", layout.Evaluate,
	)

	pending := items
	if !p.opts.Force {
		state, err := p.ledger.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load resume state: %w", err)
		}
		pending, summary.Skipped = source.Filter(items, state.Seen())
		if summary.Skipped > 0 {
			p.log.Info("skipping tiles found in resume logs",
				"skipped", summary.Skipped,
				"done", len(state.Done),
				"errored", len(state.Errored))
		}
	}
	summary.Pending = len(pending)

	if m := metrics.Get(); m != nil {
		m.AddSkipped(summary.Skipped)
		m.SetPending(summary.Pending)
	}

	if len(pending) == 0 {
		p.log.Info("no tiles to predict")
		return summary, nil
	}

	err = p.runBatches(ctx, runID, pending, summary)
	summary.Duration = time.Since(start)
	p.writeRunIndex(ctx)
	if err != nil {
		return summary, err
	}

	p.log.Info("predict complete",
		"run_id", runID,
		"written", summary.Written,
		"blank", summary.Blank,
		"errors", summary.Errors,
		"skipped", summary.Skipped,
		"batches", summary.Batches,
		"duration", summary.Duration.Round(time.Millisecond).String(),
	)
	return summary, nil
}

// writeRunIndex stores the run's PredictionRows. Failures are logged only.
func (p *Predictor) writeRunIndex(ctx context.Context) {
	rows := p.index.Len()
	if rows == 0 {
		return
	}

	data, err := p.index.Encode()
	if err != nil {
		p.log.Warn("failed to encode run index", "error", err)
		return
	}

	key := tables.RunIndexKey(p.index.RunID())
	if err := p.store.Write(context.WithoutCancel(ctx), key, data); err != nil {
		p.log.Warn("failed to write run index", "key", key, "error", err)
		return
	}
	p.log.Info("run index written", "uri", p.store.URI(key), "rows", rows)
}
