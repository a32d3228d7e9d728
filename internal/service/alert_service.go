package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/events"
)

// AlertService turns domain events into operator-facing log alerts. Delivery
// to people (email, chat) is owned by whoever consumes the event stream.
type AlertService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAlertService creates the service.
func NewAlertService(dispatcher events.Dispatcher, logger *zap.Logger) *AlertService {
	return &AlertService{
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "alerts")),
	}
}

// RegisterHandlers subscribes to events.
func (a *AlertService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventTicketFlagged, a.handleTicketFlagged)
	a.dispatcher.Subscribe(events.EventTicketSubmitted, a.handleTicketSubmitted)
	a.dispatcher.Subscribe(events.EventTicketStatusChanged, a.handleStatusChanged)
	a.dispatcher.Subscribe(events.EventPayWeekSettled, a.handleWeekSettled)
}

func (a *AlertService) handleTicketFlagged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketFlaggedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	fields := []zap.Field{
		zap.String("ticket_id", event.TicketID),
		zap.String("driver_id", event.DriverID),
		zap.String("ticket_number", payload.TicketNumber),
		zap.String("reconciliation", string(payload.Reconciliation)),
		zap.Float64("confidence", payload.Confidence),
		zap.Strings("reasons", payload.Reasons),
	}
	switch payload.Reconciliation {
	case domain.ReconciliationRejected, domain.ReconciliationViolation:
		a.logger.Warn("TicketFlagged", fields...)
	default:
		a.logger.Info("TicketFlagged", fields...)
	}
	return nil
}

func (a *AlertService) handleTicketSubmitted(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketSubmittedPayload)
	if !ok || !payload.Late {
		return nil
	}
	a.logger.Info("LateTicketAwaitingApproval",
		zap.String("ticket_id", event.TicketID),
		zap.String("driver_id", event.DriverID),
		zap.String("ticket_number", payload.TicketNumber),
		zap.Float64("payable_total", payload.PayableTotal))
	return nil
}

func (a *AlertService) handleStatusChanged(_ context.Context, event events.Event) error {
	a.logger.Info("TicketStatusChanged",
		zap.String("ticket_id", event.TicketID),
		zap.String("actor", event.Actor),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AlertService) handleWeekSettled(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PayWeekSettledPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	level := a.logger.Info
	if payload.Flagged > 0 {
		level = a.logger.Warn
	}
	level("PayWeekSettled",
		zap.String("driver_id", event.DriverID),
		zap.Time("week_ending", payload.WeekEnding),
		zap.Int("tickets", payload.TotalTickets),
		zap.Float64("gross_pay", payload.GrossPay),
		zap.Float64("revenue_at_risk", payload.RevenueAtRisk),
		zap.Int("flagged", payload.Flagged))
	return nil
}
