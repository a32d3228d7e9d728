// Package lifecycle is the ticket status state machine, including the
// approval workflow for tickets submitted after their pay week closed.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
)

// ErrInvalidTransition is returned (wrapped) for any action not allowed from
// the ticket's current status.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a rejected action.
type TransitionError struct {
	TicketID string
	From     domain.TicketStatus
	Action   domain.TicketAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s ticket %s in status %s", e.Action, e.TicketID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var allowedTransitions = map[domain.TicketStatus]map[domain.TicketAction]domain.TicketStatus{
	domain.TicketStatusPending: {
		domain.ActionApprove: domain.TicketStatusApproved,
		domain.ActionDeny:    domain.TicketStatusDenied,
		domain.ActionCancel:  domain.TicketStatusCancelled,
	},
	domain.TicketStatusMissingPendingApproval: {
		domain.ActionApprove: domain.TicketStatusApproved,
		domain.ActionVoid:    domain.TicketStatusVoided,
		domain.ActionDeny:    domain.TicketStatusDenied,
		domain.ActionCancel:  domain.TicketStatusCancelled,
	},
	domain.TicketStatusApproved: {
		domain.ActionInvoice: domain.TicketStatusInvoiced,
		domain.ActionCancel:  domain.TicketStatusCancelled,
	},
	domain.TicketStatusInvoiced: {
		domain.ActionPay:    domain.TicketStatusPaid,
		domain.ActionCancel: domain.TicketStatusCancelled,
	},
	domain.TicketStatusPaid:      {},
	domain.TicketStatusDenied:    {},
	domain.TicketStatusVoided:    {},
	domain.TicketStatusCancelled: {},
}

// Next returns the status an action leads to from the given status.
func Next(from domain.TicketStatus, action domain.TicketAction) (domain.TicketStatus, bool) {
	next, ok := allowedTransitions[from][action]
	return next, ok
}

// AllowedActions lists the actions available from a status.
func AllowedActions(from domain.TicketStatus) []domain.TicketAction {
	order := []domain.TicketAction{
		domain.ActionApprove, domain.ActionDeny, domain.ActionVoid,
		domain.ActionInvoice, domain.ActionPay, domain.ActionCancel,
	}
	var out []domain.TicketAction
	for _, a := range order {
		if _, ok := allowedTransitions[from][a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// IsTerminal reports whether no further action is possible.
func IsTerminal(status domain.TicketStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// Apply performs action on a copy of t and returns it. The input is never
// modified; illegal actions return a *TransitionError.
func Apply(t domain.Ticket, action domain.TicketAction, actor string, at time.Time) (domain.Ticket, error) {
	next, ok := Next(t.Status, action)
	if !ok {
		return t, &TransitionError{TicketID: t.ID, From: t.Status, Action: action}
	}

	out := t
	switch action {
	case domain.ActionApprove:
		if t.Status == domain.TicketStatusMissingPendingApproval && out.TargetWeekEnding == nil {
			// Late approvals settle into the week they were delivered in, not the current one.
			week := payweek.WeekEnding(t.DeliveryDate)
			out.TargetWeekEnding = &week
		}
		out.DecidedBy = &actor
		out.DecidedAt = &at
	case domain.ActionDeny:
		out.DecidedBy = &actor
		out.DecidedAt = &at
	case domain.ActionVoid:
		out.DecidedBy = &actor
		out.DecidedAt = &at
		out.VoidedAt = &at
	}
	out.Status = next
	out.UpdatedAt = at
	return out, nil
}
