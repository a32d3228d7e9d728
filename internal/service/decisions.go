package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/events"
	"github.com/spec-kit/haul-reconciler/internal/lifecycle"
	apperrors "github.com/spec-kit/haul-reconciler/pkg/util/errorutil"
)

// ActionInput is a manager or billing decision on one ticket.
type ActionInput struct {
	Action  domain.TicketAction
	Actor   string
	Comment string
}

// ApplyAction moves a ticket through its lifecycle, records the audit entry and
// refreshes everything derived from the ticket's status.
func (s *ReconciliationService) ApplyAction(ctx context.Context, ticketID string, input ActionInput) (*domain.Ticket, error) {
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return nil, apperrors.NewValidationError("actor required", nil)
	}
	unlock := s.locks.Lock("ticket:" + ticketID)
	defer unlock()

	current, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFound("ticket", ticketID, err)
	}

	now := s.now().UTC()
	next, err := lifecycle.Apply(*current, input.Action, actor, now)
	if err != nil {
		s.metrics.Transition(string(input.Action), false)
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil, apperrors.NewInvalidTransition(err, map[string]any{
				"ticket_id":       ticketID,
				"status":          current.Status,
				"action":          input.Action,
				"allowed_actions": lifecycle.AllowedActions(current.Status),
			})
		}
		return nil, err
	}

	entry := &domain.TicketHistory{
		ID:        uuid.NewString(),
		TicketID:  next.ID,
		Actor:     actor,
		Action:    input.Action,
		OldStatus: current.Status,
		NewStatus: next.Status,
		Comment:   strings.TrimSpace(input.Comment),
		CreatedAt: now,
	}
	if err := s.tickets.UpdateWithHistory(ctx, &next, entry); err != nil {
		return nil, fmt.Errorf("record %s on ticket %s: %w", input.Action, ticketID, err)
	}
	s.metrics.Transition(string(input.Action), true)

	if s.baselines.Update(next) {
		s.logger.Debug("baseline updated", zap.String("ticket_id", next.ID), zap.String("driver_id", next.DriverID))
	}
	s.invalidateRelated(ctx, *current, next)

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: next.ID,
		DriverID: next.DriverID,
		Actor:    actor,
		Payload: events.TicketStatusChangedPayload{
			Action:           input.Action,
			OldStatus:        current.Status,
			NewStatus:        next.Status,
			Comment:          entry.Comment,
			TargetWeekEnding: next.TargetWeekEnding,
		},
	})
	return &next, nil
}

// ListHistory returns the audit trail of a ticket, oldest first.
func (s *ReconciliationService) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, notFound("ticket", ticketID, err)
	}
	return s.history.ListByTicket(ctx, ticketID)
}
