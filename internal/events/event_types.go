package events

import (
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketSubmitted     EventType = "ticket_submitted"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketFlagged       EventType = "ticket_flagged"
	EventPitRecordsImported  EventType = "pit_records_imported"
	EventPayWeekSettled      EventType = "pay_week_settled"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	DriverID  string    `json:"driver_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Key is the partitioning key for external sinks: per driver when known so a
// driver's events stay ordered.
func (e Event) Key() string {
	if e.DriverID != "" {
		return e.DriverID
	}
	return e.TicketID
}

// TicketSubmittedPayload payload.
type TicketSubmittedPayload struct {
	TicketNumber string              `json:"ticket_number"`
	Status       domain.TicketStatus `json:"status"`
	Late         bool                `json:"late"`
	PayableTotal float64             `json:"payable_total"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	Action           domain.TicketAction `json:"action"`
	OldStatus        domain.TicketStatus `json:"old_status"`
	NewStatus        domain.TicketStatus `json:"new_status"`
	Comment          string              `json:"comment,omitempty"`
	TargetWeekEnding *time.Time          `json:"target_week_ending,omitempty"`
}

// TicketFlaggedPayload carries the reconciliation outcome of a flagged ticket.
type TicketFlaggedPayload struct {
	TicketNumber   string                      `json:"ticket_number"`
	Reconciliation domain.ReconciliationStatus `json:"reconciliation"`
	Reasons        []string                    `json:"reasons"`
	Confidence     float64                     `json:"confidence"`
}

// PitRecordsImportedPayload payload.
type PitRecordsImportedPayload struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// PayWeekSettledPayload summarizes a settled driver week for payroll and invoicing.
type PayWeekSettledPayload struct {
	WeekEnding    time.Time `json:"week_ending"`
	TotalTickets  int       `json:"total_tickets"`
	GrossPay      float64   `json:"gross_pay"`
	GrossBilling  float64   `json:"gross_billing"`
	RevenueAtRisk float64   `json:"revenue_at_risk"`
	Flagged       int       `json:"flagged"`
}
