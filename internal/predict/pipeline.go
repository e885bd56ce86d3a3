package predict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/metrics"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/model"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/source"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/tables"
)

// tileRead is the outcome of reading one tile.
type tileRead struct {
	item     source.WorkItem
	result   *raster.ReadResult
	err      error
	duration time.Duration
}

// batchReads holds the decoded tiles of one batch.
type batchReads struct {
	index    int
	items    []source.WorkItem
	reads    []tileRead
	duration time.Duration
}

// runBatches reads batch N+1 while batch N is inferred and postprocessed.
// At most one batch of reads is in flight, so at most two batches of
// decoded tiles are held in memory.
func (p *Predictor) runBatches(ctx context.Context, runID string, pending []source.WorkItem, summary *Summary) error {
	batches := source.Batches(pending, p.opts.BatchSize)
	progress := NewProgress(len(pending), p.now, p.log)
	progress.Start()

	next := p.startReads(ctx, 0, batches[0])
	for i := range batches {
		reads := <-next
		next = nil

		if err := ctx.Err(); err != nil {
			p.log.Warn("run cancelled, stopping between batches", "batches_done", i)
			return err
		}

		if i+1 < len(batches) {
			next = p.startReads(ctx, i+1, batches[i+1])
		}

		if err := p.processBatch(ctx, runID, reads, summary); err != nil {
			drain(next)
			return err
		}
		summary.Batches++
		progress.BatchDone(len(reads.items))
	}
	return nil
}

// drain waits for an in-flight read batch so no reads outlive the run.
func drain(next <-chan *batchReads) {
	if next != nil {
		<-next
	}
}

func (p *Predictor) startReads(ctx context.Context, index int, items []source.WorkItem) <-chan *batchReads {
	out := make(chan *batchReads, 1)
	go func() {
		out <- p.readBatch(ctx, index, items)
	}()
	return out
}

// readBatch reads every tile of a batch in parallel. Per-tile failures are
// kept with the tile and never abort the batch.
func (p *Predictor) readBatch(ctx context.Context, index int, items []source.WorkItem) *batchReads {
	start := time.Now()
	br := &batchReads{
		index: index,
		items: items,
		reads: make([]tileRead, len(items)),
	}

	var g errgroup.Group
	g.SetLimit(p.opts.BatchSize)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			t0 := time.Now()
			res, err := p.reader.Read(ctx, item.SourcePath)
			br.reads[i] = tileRead{item: item, result: res, err: err, duration: time.Since(t0)}
			return nil
		})
	}
	g.Wait()

	br.duration = time.Since(start)
	return br
}

// assembleBatch stacks the successfully read tiles. A tile whose shape
// differs from the first tile of the batch is failed instead.
func assembleBatch(br *batchReads) (model.Batch, []int) {
	var (
		batch   model.Batch
		members []int
	)
	for i := range br.reads {
		r := &br.reads[i]
		if r.err != nil {
			continue
		}
		img := r.result.Image
		if len(members) == 0 {
			batch.Height, batch.Width, batch.Channels = img.Height, img.Width, img.Channels
		} else if img.Height != batch.Height || img.Width != batch.Width || img.Channels != batch.Channels {
			r.err = fmt.Errorf("tile is %dx%dx%d, batch is %dx%dx%d",
				img.Height, img.Width, img.Channels, batch.Height, batch.Width, batch.Channels)
			continue
		}
		batch.Images = append(batch.Images, img.Pixels)
		members = append(members, i)
	}
	return batch, members
}

// processBatch runs inference once and postprocesses every tile in order.
func (p *Predictor) processBatch(ctx context.Context, runID string, br *batchReads, summary *Summary) error {
	log := logging.BatchLogger(ctx, runID, br.index, len(br.items))

	batch, members := assembleBatch(br)

	infStart := time.Now()
	var preds []model.Tensor
	if batch.Len() > 0 {
		var err error
		preds, err = p.model.Predict(ctx, batch)
		if err != nil {
			return fmt.Errorf("%w: batch %d: %w", ErrInference, br.index, err)
		}
		result := ValidateBatchOutput(batch, preds)
		if !result.Passed {
			return fmt.Errorf("%w: batch %d: %w", ErrInference, br.index, result.Error())
		}
		for _, w := range result.Warnings {
			log.Warn("model output warning", "warning", w)
		}
	} else {
		log.Warn("every read in batch failed, skipping inference")
	}
	infDuration := time.Since(infStart)

	tensors := make(map[int]model.Tensor, len(members))
	for j, i := range members {
		tensors[i] = preds[j]
	}

	// Postprocessing and ledger appends finish even if ctx is cancelled, so
	// a batch is either fully recorded or not started.
	postCtx := context.WithoutCancel(ctx)
	postStart := time.Now()
	for i, r := range br.reads {
		tlog := logging.TileLogger(log, r.item.Name, r.item.SourcePath)

		pred, ok := tensors[i]
		row := p.postprocessTile(postCtx, r, pred, ok, tlog)
		row, err := p.record(postCtx, r.item, row, tlog)
		if err != nil {
			return err
		}

		switch row.Status {
		case tables.StatusWritten:
			summary.Written++
		case tables.StatusBlank:
			summary.Blank++
		default:
			summary.Errors++
		}
	}
	postDuration := time.Since(postStart)

	if m := metrics.Get(); m != nil {
		m.ObserveBatch(br.duration.Seconds(), infDuration.Seconds(), postDuration.Seconds())
	}
	log.Debug("batch complete",
		"read", br.duration.Round(time.Millisecond).String(),
		"inference", infDuration.Round(time.Millisecond).String(),
		"postprocess", postDuration.Round(time.Millisecond).String(),
	)
	return nil
}

// postprocessTile cleans, writes and optionally evaluates one tile. Any
// error is confined to the returned row.
func (p *Predictor) postprocessTile(ctx context.Context, r tileRead, pred model.Tensor, havePred bool, log *slog.Logger) tables.PredictionRow {
	start := time.Now()
	row := tables.PredictionRow{
		Tile:        r.item.Name,
		SourcePath:  r.item.SourcePath,
		EvalScore:   -1,
		ProcessedAt: start.UTC(),
	}

	var err error
	switch {
	case r.err != nil:
		err = fmt.Errorf("read: %w", r.err)
	case !havePred:
		err = fmt.Errorf("no prediction for tile")
	default:
		err = p.cleanAndSave(ctx, r, pred, &row)
	}
	if err != nil {
		log.Error("tile failed", "error", err)
		row.Status = tables.StatusError
		row.Error = err.Error()
	}

	row.DurationMs = (r.duration + time.Since(start)).Milliseconds()
	return row
}

func (p *Predictor) cleanAndSave(ctx context.Context, r tileRead, pred model.Tensor, row *tables.PredictionRow) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during postprocessing: %v", rec)
		}
	}()

	mask, err := CleanPrediction(pred, p.opts.BorderPixels)
	if err != nil {
		return fmt.Errorf("clean prediction: %w", err)
	}
	row.Width = int32(mask.Width)
	row.Height = int32(mask.Height)
	row.MaxValue = int32(mask.Max())
	row.PositivePixels = int64(mask.CountAtLeast(PositiveThreshold))
	row.PositivePct = float64(row.PositivePixels) * 100 / float64(len(mask.Pix))

	saved, err := SavePrediction(ctx, p.store, r.item.OutputKey, mask, r.result.CRS, r.result.Transform)
	if err != nil {
		return err
	}
	if saved.Written {
		row.Status = tables.StatusWritten
		row.OutputURI = saved.URI
		row.Checksum = saved.Checksum
	} else {
		row.Status = tables.StatusBlank
	}

	if p.eval != nil {
		res, err := p.eval.Evaluate(ctx, r.item, mask)
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		row.EvalScore = int32(res.Score)
	}
	return nil
}

// record appends the tile to the done or error log. A failed done append
// falls back to the error log; if that fails too the run cannot make
// progress durable and must stop.
func (p *Predictor) record(ctx context.Context, item source.WorkItem, row tables.PredictionRow, log *slog.Logger) (tables.PredictionRow, error) {
	m := metrics.Get()

	if row.Status != tables.StatusError {
		err := p.ledger.MarkDone(ctx, item.Name)
		if err == nil {
			p.index.Add(row)
			if m != nil {
				m.IncTiles(row.Status)
			}
			return row, nil
		}

		log.Error("failed to append to done log, recording tile as error", "error", err)
		if m != nil {
			m.IncLedgerErrors()
		}
		row.Status = tables.StatusError
		row.Error = fmt.Sprintf("done log: %v", err)
	}

	if err := p.ledger.MarkError(ctx, item.Name); err != nil {
		if m != nil {
			m.IncLedgerErrors()
		}
		return row, fmt.Errorf("%w: %s: %w", ErrLedger, item.Name, err)
	}
	p.index.Add(row)
	if m != nil {
		m.IncTiles(row.Status)
	}
	return row, nil
}
