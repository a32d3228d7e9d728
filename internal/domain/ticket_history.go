package domain

import "time"

// TicketAction enumerates manager and billing actions on a ticket.
type TicketAction string

const (
	ActionApprove TicketAction = "approve"
	ActionDeny    TicketAction = "deny"
	ActionVoid    TicketAction = "void"
	ActionInvoice TicketAction = "invoice"
	ActionPay     TicketAction = "pay"
	ActionCancel  TicketAction = "cancel"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID        string
	TicketID  string
	Actor     string
	Action    TicketAction
	OldStatus TicketStatus
	NewStatus TicketStatus
	Comment   string
	CreatedAt time.Time
}
