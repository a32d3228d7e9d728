// Package ingest validates and normalizes tickets before they reach the
// scoring and matching core.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// ErrMalformedTicket marks a record rejected at ingestion.
var ErrMalformedTicket = errors.New("malformed ticket")

// MalformedTicketError lists every problem found on one record.
type MalformedTicketError struct {
	Row      int
	Problems map[string]string
}

func (e *MalformedTicketError) Error() string {
	fields := make([]string, 0, len(e.Problems))
	for f := range e.Problems {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+" "+e.Problems[f])
	}
	prefix := "malformed ticket"
	if e.Row > 0 {
		prefix = fmt.Sprintf("malformed ticket at row %d", e.Row)
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

func (e *MalformedTicketError) Unwrap() error {
	return ErrMalformedTicket
}

// Validate checks the identity and load facts the core relies on. Internal
// tickets need a driver; pit records need only a ticket number and a date.
func Validate(t domain.Ticket) error {
	problems := map[string]string{}
	if strings.TrimSpace(t.TicketNumber) == "" {
		problems["ticket_number"] = "is required"
	}
	if t.Source != domain.TicketSourcePit && strings.TrimSpace(t.DriverID) == "" {
		problems["driver_id"] = "is required"
	}
	if t.DeliveryDate.IsZero() {
		problems["delivery_date"] = "is required"
	}
	if t.Quantity < 0 || math.IsNaN(t.Quantity) || math.IsInf(t.Quantity, 0) {
		problems["quantity"] = "must be a non-negative number"
	}
	if t.PayRate < 0 {
		problems["pay_rate"] = "must not be negative"
	}
	if t.BillRate < 0 {
		problems["bill_rate"] = "must not be negative"
	}
	if t.NetWeight != nil && *t.NetWeight < 0 {
		problems["net_weight"] = "must not be negative"
	}
	if t.OCRConfidence != nil && (*t.OCRConfidence < 0 || *t.OCRConfidence > 1) {
		problems["ocr_confidence"] = "must be within [0,1]"
	}
	if t.DispatchStart != nil && t.DispatchEnd != nil && t.DispatchEnd.Before(*t.DispatchStart) {
		problems["dispatch_end"] = "must not precede dispatch_start"
	}
	if t.Status != "" && !t.Status.Valid() {
		problems["status"] = "is not a known status"
	}
	if len(problems) > 0 {
		return &MalformedTicketError{Problems: problems}
	}
	return nil
}

// Normalize trims identity fields and fills defaults. It does not validate.
func Normalize(t domain.Ticket) domain.Ticket {
	t.TicketNumber = strings.TrimSpace(t.TicketNumber)
	t.DriverID = strings.TrimSpace(t.DriverID)
	t.TruckID = strings.TrimSpace(t.TruckID)
	t.MaterialType = strings.TrimSpace(t.MaterialType)
	t.CustomerName = strings.TrimSpace(t.CustomerName)
	t.Route = strings.TrimSpace(t.Route)
	t.Unit = strings.ToLower(strings.TrimSpace(t.Unit))
	if t.Unit == "" {
		t.Unit = "tons"
	}
	if t.Source == "" {
		t.Source = domain.TicketSourceInternal
	}
	if t.Status == "" {
		t.Status = domain.TicketStatusPending
	}
	return t
}
