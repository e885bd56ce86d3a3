package predict

import (
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/metrics"
)

// Snapshot is the throughput estimate after a batch.
type Snapshot struct {
	Processed        int
	Remaining        int
	Elapsed          time.Duration
	PerHour          float64 // tiles per hour since the first tile
	PerHourLastBatch float64
	HoursLeft        int
	MinutesLeft      int
	Valid            bool // false until both intervals are non-zero
}

// ETA returns the estimated time to completion.
func (s Snapshot) ETA() time.Duration {
	return time.Duration(s.HoursLeft)*time.Hour + time.Duration(s.MinutesLeft)*time.Minute
}

// Progress tracks throughput for the pending tiles of one run. The clock
// starts at the first tile that was not skipped.
type Progress struct {
	pending   int
	processed int
	start     time.Time
	lastBatch time.Time
	now       func() time.Time
	log       *slog.Logger
}

// NewProgress creates a tracker for pending tiles.
func NewProgress(pending int, now func() time.Time, log *slog.Logger) *Progress {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Progress{pending: pending, now: now, log: log}
}

// Start starts the clock. Later calls are ignored.
func (p *Progress) Start() {
	if p.start.IsZero() {
		p.start = p.now()
		p.lastBatch = p.start
	}
}

// BatchDone records n finished tiles and logs the estimate.
func (p *Progress) BatchDone(n int) Snapshot {
	p.Start()
	now := p.now()

	p.processed += n
	s := Snapshot{
		Processed: p.processed,
		Remaining: max(p.pending-p.processed, 0),
		Elapsed:   now.Sub(p.start),
	}
	sinceLast := now.Sub(p.lastBatch)
	p.lastBatch = now

	if s.Elapsed > 0 && sinceLast > 0 {
		s.Valid = true
		s.PerHour = float64(p.processed) / s.Elapsed.Hours()
		s.PerHourLastBatch = float64(n) / sinceLast.Hours()

		hoursToGo := float64(s.Remaining) / s.PerHour
		s.HoursLeft = int(hoursToGo)
		s.MinutesLeft = int((hoursToGo - float64(s.HoursLeft)) * 60)
	}

	if s.Valid {
		p.log.Info("progress",
			"processed", s.Processed,
			"remaining", s.Remaining,
			"per_hour", int(s.PerHour),
			"per_hour_last_batch", int(s.PerHourLastBatch),
			"eta", s.ETA().String(),
			"elapsed", s.Elapsed.Round(time.Second).String(),
		)
		if m := metrics.Get(); m != nil {
			m.SetThroughput(s.PerHour, s.PerHourLastBatch, s.ETA().Seconds())
		}
	}
	if m := metrics.Get(); m != nil {
		m.SetPending(s.Remaining)
	}
	return s
}
