package predict

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestProgressEstimates(t *testing.T) {
	clock := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	p := NewProgress(10, now, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Start()

	clock = clock.Add(30 * time.Minute)
	s := p.BatchDone(4)
	if !s.Valid {
		t.Fatal("snapshot should be valid")
	}
	// 4 tiles in half an hour; 6 left at 8/h
	if s.PerHour != 8 || s.PerHourLastBatch != 8 {
		t.Errorf("rates = %v, %v", s.PerHour, s.PerHourLastBatch)
	}
	if s.Remaining != 6 || s.HoursLeft != 0 || s.MinutesLeft != 45 {
		t.Errorf("remaining=%d eta=%d:%d", s.Remaining, s.HoursLeft, s.MinutesLeft)
	}

	clock = clock.Add(time.Hour)
	s = p.BatchDone(2)
	// 6 tiles in 1.5h; last batch 2 tiles in 1h; 4 left at 4/h
	if s.PerHour != 4 || s.PerHourLastBatch != 2 {
		t.Errorf("rates = %v, %v", s.PerHour, s.PerHourLastBatch)
	}
	if s.HoursLeft != 1 || s.MinutesLeft != 0 {
		t.Errorf("eta = %d:%d", s.HoursLeft, s.MinutesLeft)
	}
	if s.ETA() != time.Hour {
		t.Errorf("ETA = %v", s.ETA())
	}
}

func TestProgressZeroElapsed(t *testing.T) {
	clock := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	p := NewProgress(3, func() time.Time { return clock }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s := p.BatchDone(3)
	if s.Valid {
		t.Error("no time has passed, estimate should be invalid")
	}
	if s.Remaining != 0 || s.Processed != 3 {
		t.Errorf("snapshot = %+v", s)
	}
}
