// Package report aggregates annotated tickets into a per-driver weekly
// settlement summary.
package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
)

// Build summarizes the tickets that belong to driverID's week ending on
// weekEnding. Tickets belonging to other keys are ignored.
func Build(driverID string, weekEnding time.Time, tickets []domain.AnnotatedTicket, policy domain.Policy, generatedAt time.Time) domain.Report {
	key := payweek.Key{DriverID: driverID, WeekEnding: payweek.WeekEnding(weekEnding)}
	start, end := payweek.WeekBounds(key.WeekEnding)

	rep := domain.Report{
		DriverID:      driverID,
		WeekStart:     start,
		WeekEnding:    end,
		StatusCounts:  map[domain.TicketStatus]int{},
		OutcomeCounts: map[domain.ReconciliationStatus]int{},
		Lines:         []domain.ReportLine{},
		Flagged:       []domain.FlaggedItem{},
		GeneratedAt:   generatedAt,
	}

	var (
		quantity = decimal.Zero
		grossPay = decimal.Zero
		billing  = decimal.Zero
		atRisk   = decimal.Zero
	)

	ordered := payweek.GroupAnnotated(tickets)[key]
	for _, a := range ordered {
		t := a.Ticket
		if !t.CountsForPayroll() {
			continue
		}
		payable := decimal.NewFromFloat(t.PayableAmount())

		rep.TotalTickets++
		rep.StatusCounts[t.Status]++
		rep.OutcomeCounts[a.Reconciliation.Status]++
		quantity = quantity.Add(decimal.NewFromFloat(t.Quantity))
		grossPay = grossPay.Add(payable)
		billing = billing.Add(decimal.NewFromFloat(t.BillableAmount()))

		rep.Lines = append(rep.Lines, domain.ReportLine{
			TicketID:       t.ID,
			TicketNumber:   t.TicketNumber,
			DeliveryDate:   t.DeliveryDate,
			MaterialType:   t.MaterialType,
			Quantity:       t.Quantity,
			Unit:           t.Unit,
			PayRate:        t.PayRate,
			PayableAmount:  t.PayableAmount(),
			BillableAmount: t.BillableAmount(),
			Status:         t.Status,
			Reconciliation: a.Reconciliation.Status,
			Confidence:     a.Confidence.Overall,
		})

		notClear := a.Reconciliation.Status != domain.ReconciliationClear
		lowConfidence := a.Confidence.Overall < policy.LowConfidenceThreshold
		if notClear {
			atRisk = atRisk.Add(payable)
		}
		if notClear || lowConfidence {
			rep.Flagged = append(rep.Flagged, flaggedItem(a, lowConfidence))
		}
	}

	rep.TotalQuantity = quantity.InexactFloat64()
	rep.GrossPay = grossPay.Round(2).InexactFloat64()
	rep.GrossBilling = billing.Round(2).InexactFloat64()
	rep.RevenueAtRisk = atRisk.Round(2).InexactFloat64()
	return rep
}

func flaggedItem(a domain.AnnotatedTicket, lowConfidence bool) domain.FlaggedItem {
	reasons := append([]string{}, a.Reconciliation.Reasons...)
	if lowConfidence {
		if weakest, ok := a.Confidence.Fields[a.Confidence.Weakest]; ok {
			reasons = append(reasons, string(weakest.Field)+": "+weakest.Reason)
		}
	}
	return domain.FlaggedItem{
		TicketID:       a.Ticket.ID,
		TicketNumber:   a.Ticket.TicketNumber,
		DeliveryDate:   a.Ticket.DeliveryDate,
		Status:         a.Ticket.Status,
		Reconciliation: a.Reconciliation.Status,
		Confidence:     a.Confidence.Overall,
		PayableAmount:  a.Ticket.PayableAmount(),
		Reasons:        reasons,
	}
}
