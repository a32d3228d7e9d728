package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// Settler settles closed pay weeks.
type Settler interface {
	LastClosedWeek(now time.Time) time.Time
	SettleWeek(ctx context.Context, weekEnding time.Time) ([]domain.Report, error)
}

// SettlementWorker runs the weekly settlement on a cron schedule. The schedule
// is a standard 5-field cron expression; "0 6 * * 0" settles every Sunday at
// 06:00 once the Friday week has closed.
type SettlementWorker struct {
	settler  Settler
	schedule cron.Schedule
	spec     string
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewSettlementWorker parses the schedule.
func NewSettlementWorker(settler Settler, spec string, loc *time.Location, logger *zap.Logger) (*SettlementWorker, error) {
	spec = strings.TrimSpace(spec)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SettlementWorker{
		settler:  settler,
		schedule: sched,
		spec:     spec,
		loc:      loc,
		logger:   logger.With(zap.String("component", "settlement")),
		now:      time.Now,
	}, nil
}

// Next returns the next run after t.
func (w *SettlementWorker) Next(t time.Time) time.Time {
	return w.schedule.Next(t.In(w.loc))
}

// Start runs the loop in a goroutine until ctx is cancelled.
func (w *SettlementWorker) Start(ctx context.Context) {
	w.logger.Info("settlement scheduled", zap.String("cron", w.spec), zap.String("timezone", w.loc.String()))
	go func() {
		for {
			now := w.now().In(w.loc)
			next := w.schedule.Next(now)
			wait := next.Sub(now)
			w.logger.Info("next settlement", zap.Time("at", next), zap.Duration("in", wait.Round(time.Minute)))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				w.logger.Info("settlement worker stopped")
				return
			case <-timer.C:
			}
			if _, err := w.RunOnce(ctx, w.now()); err != nil {
				w.logger.Error("settlement failed", zap.Error(err))
			}
		}
	}()
}

// RunOnce settles the most recently closed week as of now.
func (w *SettlementWorker) RunOnce(ctx context.Context, now time.Time) (time.Time, error) {
	week := w.settler.LastClosedWeek(now)
	reports, err := w.settler.SettleWeek(ctx, week)
	if err != nil {
		return week, err
	}
	flagged := 0
	for _, r := range reports {
		flagged += len(r.Flagged)
	}
	w.logger.Info("settlement complete",
		zap.String("week_ending", week.Format(time.DateOnly)),
		zap.Int("drivers", len(reports)),
		zap.Int("flagged", flagged))
	return week, nil
}
