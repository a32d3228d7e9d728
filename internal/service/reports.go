package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/events"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
	"github.com/spec-kit/haul-reconciler/internal/report"
	"github.com/spec-kit/haul-reconciler/internal/repository"
)

// BuildWeeklyReport returns the settlement report for one driver week. Any
// date inside the week selects it. Builds for the same key are serialized;
// different keys proceed in parallel.
func (s *ReconciliationService) BuildWeeklyReport(ctx context.Context, driverID string, date time.Time) (domain.Report, error) {
	weekEnding := payweek.WeekEnding(date)
	key := payweek.Key{DriverID: driverID, WeekEnding: weekEnding}
	unlock := s.locks.Lock(reportLockKey(key))
	defer unlock()

	cached, ok, err := s.cache.Get(ctx, driverID, weekEnding)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key.String()), zap.Error(err))
	}
	if ok {
		s.metrics.CacheHit()
		return *cached, nil
	}
	s.metrics.CacheMiss()

	start := time.Now()
	tickets, err := s.tickets.ListForPayWeek(ctx, driverID, weekEnding)
	if err != nil {
		return domain.Report{}, fmt.Errorf("load pay week %s: %w", key, err)
	}
	annotated, err := s.Annotate(ctx, tickets)
	if err != nil {
		return domain.Report{}, err
	}
	rep := report.Build(driverID, weekEnding, annotated, s.policy, s.now().UTC())
	s.metrics.ReportBuilt(time.Since(start))

	if err := s.cache.Set(ctx, rep); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
	return rep, nil
}

func reportLockKey(key payweek.Key) string {
	return "report:" + key.String()
}

// LastClosedWeek returns the most recent week ending whose pay week has closed
// at the given instant.
func (s *ReconciliationService) LastClosedWeek(now time.Time) time.Time {
	week := payweek.WeekEnding(now.UTC())
	for !payweek.IsClosed(week, now, s.policy.PayWeekCloseDelay) {
		week = week.AddDate(0, 0, -7)
	}
	return week
}

// SettleWeek builds the report of every driver with tickets in the week and
// publishes one settlement event per driver. Reports are returned in driver
// order.
func (s *ReconciliationService) SettleWeek(ctx context.Context, weekEnding time.Time) ([]domain.Report, error) {
	weekEnding = payweek.WeekEnding(weekEnding)
	drivers, err := s.tickets.ListDriversForWeek(ctx, weekEnding)
	if err != nil {
		return nil, fmt.Errorf("list drivers for %s: %w", weekEnding.Format(time.DateOnly), err)
	}

	reports := make([]domain.Report, len(drivers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.AnnotateWorkers)
	for i, driverID := range drivers {
		i, driverID := i, driverID
		g.Go(func() error {
			rep, err := s.BuildWeeklyReport(gctx, driverID, weekEnding)
			if err != nil {
				return fmt.Errorf("settle %s: %w", driverID, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rep := range reports {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventPayWeekSettled,
			DriverID: rep.DriverID,
			Actor:    "settlement",
			Payload: events.PayWeekSettledPayload{
				WeekEnding:    rep.WeekEnding,
				TotalTickets:  rep.TotalTickets,
				GrossPay:      rep.GrossPay,
				GrossBilling:  rep.GrossBilling,
				RevenueAtRisk: rep.RevenueAtRisk,
				Flagged:       len(rep.Flagged),
			},
		})
	}
	s.logger.Info("pay week settled",
		zap.Time("week_ending", weekEnding),
		zap.Int("drivers", len(reports)))
	return reports, nil
}

// WarmBaselines loads trusted history younger than the baseline max age.
func (s *ReconciliationService) WarmBaselines(ctx context.Context) (int, error) {
	since := s.now().Add(-s.policy.BaselineMaxAge)
	history, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Source:        domain.TicketSourceInternal,
		Statuses:      []domain.TicketStatus{domain.TicketStatusApproved, domain.TicketStatusInvoiced, domain.TicketStatusPaid},
		DeliveredFrom: &since,
	})
	if err != nil {
		return 0, fmt.Errorf("load baseline history: %w", err)
	}
	n := s.baselines.Load(history)
	s.logger.Info("baselines warmed", zap.Int("tickets", n), zap.Int("keys", s.baselines.Keys()))
	return n, nil
}
