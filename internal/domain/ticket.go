package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TicketStatus enumerates lifecycle states for delivery tickets.
type TicketStatus string

const (
	TicketStatusPending                TicketStatus = "pending"
	TicketStatusApproved               TicketStatus = "approved"
	TicketStatusInvoiced               TicketStatus = "invoiced"
	TicketStatusPaid                   TicketStatus = "paid"
	TicketStatusCancelled              TicketStatus = "cancelled"
	TicketStatusDenied                 TicketStatus = "denied"
	TicketStatusVoided                 TicketStatus = "voided"
	TicketStatusMissingPendingApproval TicketStatus = "missing_pending_approval"
)

// Valid reports whether the status is a known lifecycle state.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusApproved, TicketStatusInvoiced, TicketStatusPaid,
		TicketStatusCancelled, TicketStatusDenied, TicketStatusVoided, TicketStatusMissingPendingApproval:
		return true
	}
	return false
}

// TicketSource records which system captured the delivery.
type TicketSource string

const (
	TicketSourceInternal TicketSource = "internal"
	TicketSourcePit      TicketSource = "pit"
)

// ParseTicketSource maps free-form source tags onto a TicketSource.
func ParseTicketSource(raw string) TicketSource {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pit", "external", "scale", "pit/external":
		return TicketSourcePit
	default:
		return TicketSourceInternal
	}
}

// Ticket is a single delivery record from either the dispatch system or a pit scale.
type Ticket struct {
	ID           string
	TicketNumber string
	DriverID     string
	TruckID      string
	CustomerName string
	Route        string

	MaterialType string
	Quantity     float64
	Unit         string
	PayRate      float64
	BillRate     float64
	NetWeight    *float64

	DeliveryDate  time.Time
	CreatedAt     time.Time
	DispatchStart *time.Time
	DispatchEnd   *time.Time

	Status           TicketStatus
	Source           TicketSource
	OCRConfidence    *float64
	TargetWeekEnding *time.Time
	DecidedBy        *string
	DecidedAt        *time.Time
	VoidedAt         *time.Time
	UpdatedAt        time.Time
}

// TotalAmount is quantity times pay rate, recomputed on every call.
func (t Ticket) TotalAmount() float64 {
	return decimal.NewFromFloat(t.Quantity).Mul(decimal.NewFromFloat(t.PayRate)).InexactFloat64()
}

// BillableAmount is quantity times bill rate.
func (t Ticket) BillableAmount() float64 {
	return decimal.NewFromFloat(t.Quantity).Mul(decimal.NewFromFloat(t.BillRate)).InexactFloat64()
}

// PayableAmount is what the driver is owed for this ticket. A late ticket owes
// nothing until a manager approves it into its original week.
func (t Ticket) PayableAmount() float64 {
	switch t.Status {
	case TicketStatusVoided, TicketStatusDenied, TicketStatusCancelled, TicketStatusMissingPendingApproval:
		return 0
	}
	return t.TotalAmount()
}

// CountsForPayroll reports whether the ticket appears in payroll aggregates at all.
// Voided tickets still count (the load was delivered); denied and cancelled ones do not.
func (t Ticket) CountsForPayroll() bool {
	return t.Status != TicketStatusDenied && t.Status != TicketStatusCancelled
}

// FeedsBaseline reports whether the ticket is trusted history for baselining.
func (t Ticket) FeedsBaseline() bool {
	switch t.Status {
	case TicketStatusApproved, TicketStatusInvoiced, TicketStatusPaid:
		return true
	}
	return false
}

// ScaleWeight returns the weight recorded by a scale source, falling back to quantity.
func (t Ticket) ScaleWeight() float64 {
	if t.NetWeight != nil {
		return *t.NetWeight
	}
	return t.Quantity
}

// NormalizedTicketNumber is the comparison form of the ticket number.
func (t Ticket) NormalizedTicketNumber() string {
	return NormalizeTicketNumber(t.TicketNumber)
}

// NormalizeTicketNumber strips whitespace, dashes and case from ticket numbers.
func NormalizeTicketNumber(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		if r == ' ' || r == '-' || r == '_' || r == '#' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
