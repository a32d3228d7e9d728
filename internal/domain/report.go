package domain

import "time"

// FlaggedItem is a ticket surfaced for review in a weekly report.
type FlaggedItem struct {
	TicketID       string               `json:"ticket_id"`
	TicketNumber   string               `json:"ticket_number"`
	DeliveryDate   time.Time            `json:"delivery_date"`
	Status         TicketStatus         `json:"status"`
	Reconciliation ReconciliationStatus `json:"reconciliation"`
	Confidence     float64              `json:"confidence"`
	PayableAmount  float64              `json:"payable_amount"`
	Reasons        []string             `json:"reasons"`
}

// ReportLine is one ticket row in a weekly report.
type ReportLine struct {
	TicketID       string               `json:"ticket_id"`
	TicketNumber   string               `json:"ticket_number"`
	DeliveryDate   time.Time            `json:"delivery_date"`
	MaterialType   string               `json:"material_type"`
	Quantity       float64              `json:"quantity"`
	Unit           string               `json:"unit"`
	PayRate        float64              `json:"pay_rate"`
	PayableAmount  float64              `json:"payable_amount"`
	BillableAmount float64              `json:"billable_amount"`
	Status         TicketStatus         `json:"status"`
	Reconciliation ReconciliationStatus `json:"reconciliation"`
	Confidence     float64              `json:"confidence"`
}

// Report is the per-driver, per-week settlement summary.
type Report struct {
	DriverID      string                       `json:"driver_id"`
	WeekStart     time.Time                    `json:"week_start"`
	WeekEnding    time.Time                    `json:"week_ending"`
	TotalTickets  int                          `json:"total_tickets"`
	TotalQuantity float64                      `json:"total_quantity"`
	GrossPay      float64                      `json:"gross_pay"`
	GrossBilling  float64                      `json:"gross_billing"`
	RevenueAtRisk float64                      `json:"revenue_at_risk"`
	StatusCounts  map[TicketStatus]int         `json:"status_counts"`
	OutcomeCounts map[ReconciliationStatus]int `json:"outcome_counts"`
	Lines         []ReportLine                 `json:"lines"`
	Flagged       []FlaggedItem                `json:"flagged"`
	GeneratedAt   time.Time                    `json:"generated_at"`
}
