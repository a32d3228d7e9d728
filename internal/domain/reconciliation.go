package domain

// ReconciliationStatus is the outcome of matching an internal ticket to scale records.
type ReconciliationStatus string

const (
	ReconciliationClear       ReconciliationStatus = "clear"
	ReconciliationNeedsReview ReconciliationStatus = "needs_review"
	ReconciliationViolation   ReconciliationStatus = "violation"
	ReconciliationRejected    ReconciliationStatus = "rejected"
)

// MatchMethod records how a pit record was paired with the ticket.
type MatchMethod string

const (
	MatchByTicketNumber   MatchMethod = "ticket_number"
	MatchByDriverTruckDay MatchMethod = "driver_truck_date"
)

// ReconciliationResult is the classification of one internal ticket.
type ReconciliationResult struct {
	Status          ReconciliationStatus `json:"status"`
	Reasons         []string             `json:"reasons"`
	MatchedRecordID string               `json:"matched_record_id,omitempty"`
	MatchMethod     MatchMethod          `json:"match_method,omitempty"`
	CandidateCount  int                  `json:"candidate_count"`
	WeightDeltaTons *float64             `json:"weight_delta_tons,omitempty"`
}

// AnnotatedTicket is a ticket with its derived confidence and reconciliation.
type AnnotatedTicket struct {
	Ticket         Ticket
	Confidence     TicketConfidence
	Reconciliation ReconciliationResult
}
