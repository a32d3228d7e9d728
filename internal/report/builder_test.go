package report

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

var (
	weekEnding = time.Date(2024, 5, 24, 0, 0, 0, 0, time.UTC)
	generated  = time.Date(2024, 5, 27, 6, 0, 0, 0, time.UTC)
)

func annotated(id string, status domain.TicketStatus, qty float64, outcome domain.ReconciliationStatus, confidence float64) domain.AnnotatedTicket {
	return domain.AnnotatedTicket{
		Ticket: domain.Ticket{
			ID:           id,
			TicketNumber: "N-" + id,
			DriverID:     "drv-1",
			MaterialType: "Gravel",
			Quantity:     qty,
			Unit:         "tons",
			PayRate:      10,
			BillRate:     15,
			DeliveryDate: time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC),
			Status:       status,
		},
		Confidence: domain.TicketConfidence{
			Overall: confidence,
			Weakest: domain.FieldQuantity,
			Fields: map[domain.Field]domain.ConfidenceScore{
				domain.FieldQuantity: {Field: domain.FieldQuantity, Score: confidence, Reason: "22.0 tons vs. 14.5-ton average for this driver/material, +51.7%"},
			},
		},
		Reconciliation: domain.ReconciliationResult{Status: outcome, Reasons: []string{}},
	}
}

func TestBuildAggregates(t *testing.T) {
	tickets := []domain.AnnotatedTicket{
		annotated("a", domain.TicketStatusApproved, 20, domain.ReconciliationClear, 0.95),
		annotated("b", domain.TicketStatusVoided, 10, domain.ReconciliationClear, 0.95),
		annotated("c", domain.TicketStatusDenied, 30, domain.ReconciliationViolation, 0.95),
		annotated("d", domain.TicketStatusPending, 5, domain.ReconciliationViolation, 0.95),
		annotated("e", domain.TicketStatusApproved, 12, domain.ReconciliationClear, 0.24),
	}
	rep := Build("drv-1", weekEnding, tickets, domain.DefaultPolicy(), generated)

	if rep.TotalTickets != 4 {
		t.Fatalf("voided counts, denied does not: want 4 tickets, got %d", rep.TotalTickets)
	}
	if rep.TotalQuantity != 47 {
		t.Fatalf("expected quantity 47, got %v", rep.TotalQuantity)
	}
	// a=200, d=50, e=120; voided and denied contribute nothing.
	if rep.GrossPay != 370 {
		t.Fatalf("expected gross pay 370, got %v", rep.GrossPay)
	}
	if rep.GrossBilling != 705 {
		t.Fatalf("expected billing 705 including voided, got %v", rep.GrossBilling)
	}
	if rep.RevenueAtRisk != 50 {
		t.Fatalf("expected revenue at risk 50, got %v", rep.RevenueAtRisk)
	}
	if len(rep.Flagged) != 2 || rep.Flagged[0].TicketID != "d" || rep.Flagged[1].TicketID != "e" {
		t.Fatalf("unexpected flagged items %+v", rep.Flagged)
	}
	if !strings.Contains(strings.Join(rep.Flagged[1].Reasons, ";"), "51.7%") {
		t.Fatalf("low-confidence item should carry the scorer reason: %v", rep.Flagged[1].Reasons)
	}
	if rep.StatusCounts[domain.TicketStatusVoided] != 1 || rep.StatusCounts[domain.TicketStatusDenied] != 0 {
		t.Fatalf("unexpected status counts %v", rep.StatusCounts)
	}
	if !rep.WeekStart.Equal(time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC)) || !rep.WeekEnding.Equal(weekEnding) {
		t.Fatalf("unexpected week bounds %s %s", rep.WeekStart, rep.WeekEnding)
	}
}

func TestBuildVoidedPayableIsZero(t *testing.T) {
	rep := Build("drv-1", weekEnding, []domain.AnnotatedTicket{
		annotated("v", domain.TicketStatusVoided, 18, domain.ReconciliationClear, 1),
	}, domain.DefaultPolicy(), generated)
	if rep.TotalTickets != 1 || rep.GrossPay != 0 || rep.Lines[0].PayableAmount != 0 {
		t.Fatalf("voided ticket must count with zero pay, got %+v", rep)
	}
}

func TestBuildHoldsUndecidedLateTicketOutOfGrossPay(t *testing.T) {
	late := annotated("late", domain.TicketStatusMissingPendingApproval, 20, domain.ReconciliationClear, 1)
	rep := Build("drv-1", weekEnding, []domain.AnnotatedTicket{late}, domain.DefaultPolicy(), generated)
	if rep.TotalTickets != 1 || rep.StatusCounts[domain.TicketStatusMissingPendingApproval] != 1 {
		t.Fatalf("late ticket should still be listed, got %+v", rep)
	}
	if rep.GrossPay != 0 || rep.Lines[0].PayableAmount != 0 {
		t.Fatalf("late ticket must not pay before approval, got gross %v", rep.GrossPay)
	}
	if rep.GrossBilling != 300 {
		t.Fatalf("billing still reflects the load, got %v", rep.GrossBilling)
	}
}

func TestBuildIgnoresOtherKeys(t *testing.T) {
	other := annotated("x", domain.TicketStatusApproved, 20, domain.ReconciliationClear, 1)
	other.Ticket.DriverID = "drv-2"
	nextWeek := annotated("y", domain.TicketStatusApproved, 20, domain.ReconciliationClear, 1)
	nextWeek.Ticket.DeliveryDate = weekEnding.AddDate(0, 0, 3)

	rep := Build("drv-1", weekEnding, []domain.AnnotatedTicket{other, nextWeek}, domain.DefaultPolicy(), generated)
	if rep.TotalTickets != 0 || len(rep.Lines) != 0 {
		t.Fatalf("expected empty report, got %+v", rep)
	}
}

func TestBuildIncludesLateApprovalInOriginalWeek(t *testing.T) {
	late := annotated("late", domain.TicketStatusApproved, 20, domain.ReconciliationClear, 1)
	late.Ticket.DeliveryDate = time.Date(2024, 5, 23, 9, 0, 0, 0, time.UTC)
	late.Ticket.CreatedAt = time.Date(2024, 5, 28, 9, 0, 0, 0, time.UTC)
	target := weekEnding
	late.Ticket.TargetWeekEnding = &target

	rep := Build("drv-1", weekEnding, []domain.AnnotatedTicket{late}, domain.DefaultPolicy(), generated)
	if rep.TotalTickets != 1 || rep.GrossPay != 200 {
		t.Fatalf("late approval should settle in its original week, got %+v", rep)
	}
	current := Build("drv-1", weekEnding.AddDate(0, 0, 7), []domain.AnnotatedTicket{late}, domain.DefaultPolicy(), generated)
	if current.TotalTickets != 0 {
		t.Fatalf("late approval must not appear in the current week")
	}
}

func TestTotalsMatchQuantityTimesRate(t *testing.T) {
	for _, qty := range []float64{0, 0.1, 14.37, 22.4, 1e4 / 3} {
		for _, rate := range []float64{0.01, 7.25, 82.5, 113.333} {
			tk := domain.Ticket{Quantity: qty, PayRate: rate, Status: domain.TicketStatusApproved}
			if diff := math.Abs(tk.TotalAmount() - qty*rate); diff > 1e-6 {
				t.Fatalf("total for %v x %v off by %v", qty, rate, diff)
			}
		}
	}
}
