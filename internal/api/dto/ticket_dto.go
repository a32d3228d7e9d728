package dto

import (
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// TicketRequest is the wire form of a ticket on submit and batch reconcile.
// Dates accept RFC3339 or YYYY-MM-DD.
type TicketRequest struct {
	ID            string   `json:"id"`
	TicketNumber  string   `json:"ticket_number"`
	DriverID      string   `json:"driver_id"`
	TruckID       string   `json:"truck_id"`
	CustomerName  string   `json:"customer_name"`
	Route         string   `json:"route"`
	MaterialType  string   `json:"material_type"`
	Quantity      float64  `json:"quantity"`
	Unit          string   `json:"unit"`
	PayRate       float64  `json:"pay_rate"`
	BillRate      float64  `json:"bill_rate"`
	NetWeight     *float64 `json:"net_weight"`
	DeliveryDate  string   `json:"delivery_date"`
	CreatedAt     string   `json:"created_at"`
	DispatchStart string   `json:"dispatch_start"`
	DispatchEnd   string   `json:"dispatch_end"`
	OCRConfidence *float64 `json:"ocr_confidence"`
	Status        string   `json:"status"`
}

// TicketResponse is a ticket with its derived annotations.
type TicketResponse struct {
	ID               string                       `json:"id"`
	TicketNumber     string                       `json:"ticket_number"`
	DriverID         string                       `json:"driver_id"`
	TruckID          string                       `json:"truck_id,omitempty"`
	CustomerName     string                       `json:"customer_name,omitempty"`
	Route            string                       `json:"route,omitempty"`
	MaterialType     string                       `json:"material_type"`
	Quantity         float64                      `json:"quantity"`
	Unit             string                       `json:"unit"`
	PayRate          float64                      `json:"pay_rate"`
	BillRate         float64                      `json:"bill_rate"`
	NetWeight        *float64                     `json:"net_weight,omitempty"`
	TotalAmount      float64                      `json:"total_amount"`
	PayableAmount    float64                      `json:"payable_amount"`
	DeliveryDate     time.Time                    `json:"delivery_date"`
	CreatedAt        time.Time                    `json:"created_at"`
	Status           domain.TicketStatus          `json:"status"`
	Source           domain.TicketSource          `json:"source"`
	OCRConfidence    *float64                     `json:"ocr_confidence,omitempty"`
	PayWeekEnding    string                       `json:"pay_week_ending"`
	TargetWeekEnding *string                      `json:"target_week_ending,omitempty"`
	DecidedBy        *string                      `json:"decided_by,omitempty"`
	DecidedAt        *time.Time                   `json:"decided_at,omitempty"`
	AllowedActions   []domain.TicketAction        `json:"allowed_actions"`
	Confidence       *domain.TicketConfidence     `json:"confidence,omitempty"`
	Reconciliation   *domain.ReconciliationResult `json:"reconciliation,omitempty"`
}

// ActionRequest applies a lifecycle action.
type ActionRequest struct {
	Action  domain.TicketAction `json:"action"`
	Actor   string              `json:"actor"`
	Comment string              `json:"comment"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID        string              `json:"id"`
	Actor     string              `json:"actor"`
	Action    domain.TicketAction `json:"action"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// ReconcileRequest is a stateless batch of internal tickets and pit records.
type ReconcileRequest struct {
	Tickets    []TicketRequest `json:"tickets"`
	PitRecords []TicketRequest `json:"pit_records"`
}

// ReconcileSummary counts outcomes in a batch.
type ReconcileSummary struct {
	Total    int                                 `json:"total"`
	Outcomes map[domain.ReconciliationStatus]int `json:"outcomes"`
	Flagged  int                                 `json:"flagged"`
}

// ImportResponse reports a pit CSV import.
type ImportResponse struct {
	Imported int           `json:"imported"`
	Rejected []RejectedRow `json:"rejected"`
}

// RejectedRow is a CSV row that failed validation.
type RejectedRow struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}
