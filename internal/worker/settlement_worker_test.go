package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

type fakeSettler struct {
	week    time.Time
	settled []time.Time
	err     error
}

func (f *fakeSettler) LastClosedWeek(time.Time) time.Time { return f.week }

func (f *fakeSettler) SettleWeek(_ context.Context, week time.Time) ([]domain.Report, error) {
	f.settled = append(f.settled, week)
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Report{{DriverID: "d1", Flagged: []domain.FlaggedItem{{TicketID: "t1"}}}}, nil
}

func TestNextRunHonorsTimezone(t *testing.T) {
	chicago := time.FixedZone("CDT", -5*3600)
	w, err := NewSettlementWorker(&fakeSettler{}, "0 6 * * 0", chicago, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	// Friday noon UTC -> Sunday 06:00 CDT = 11:00 UTC.
	next := w.Next(time.Date(2024, 5, 24, 12, 0, 0, 0, time.UTC))
	if want := time.Date(2024, 5, 26, 11, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next.UTC(), want)
	}
}

func TestInvalidSchedule(t *testing.T) {
	if _, err := NewSettlementWorker(&fakeSettler{}, "every sunday", nil, zap.NewNop()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRunOnceSettlesLastClosedWeek(t *testing.T) {
	week := time.Date(2024, 5, 24, 0, 0, 0, 0, time.UTC)
	s := &fakeSettler{week: week}
	w, err := NewSettlementWorker(s, "0 6 * * 0", time.UTC, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.RunOnce(context.Background(), time.Date(2024, 5, 26, 6, 0, 0, 0, time.UTC))
	if err != nil || !got.Equal(week) || len(s.settled) != 1 {
		t.Fatalf("unexpected run: %s %v %v", got, err, s.settled)
	}

	s.err = errors.New("db down")
	if _, err := w.RunOnce(context.Background(), time.Now()); err == nil {
		t.Fatalf("settlement errors must surface")
	}
}
