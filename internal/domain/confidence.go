package domain

// ConfidenceLabel buckets a score for display.
type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "High Confidence"
	ConfidenceMedium ConfidenceLabel = "Medium Confidence"
	ConfidenceLow    ConfidenceLabel = "Low Confidence"
)

// ConfidenceScore is the plausibility of one field of one ticket.
type ConfidenceScore struct {
	Field               Field           `json:"field"`
	Score               float64         `json:"score"`
	Label               ConfidenceLabel `json:"label"`
	Reason              string          `json:"reason"`
	BaselineValue       float64         `json:"baseline_value"`
	ActualValue         float64         `json:"actual_value"`
	DeviationPercentage float64         `json:"deviation_percentage"`
	InsufficientHistory bool            `json:"insufficient_history"`
}

// TicketConfidence collects per-field scores; Overall is the weakest field.
type TicketConfidence struct {
	Fields  map[Field]ConfidenceScore `json:"fields"`
	Overall float64                   `json:"overall"`
	Weakest Field                     `json:"weakest,omitempty"`
}
