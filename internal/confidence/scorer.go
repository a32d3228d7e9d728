// Package confidence scores how plausible a ticket's numeric fields are
// against the historical baseline for that driver and material.
package confidence

import (
	"fmt"
	"math"
	"strings"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

const epsilon = 1e-9

const (
	reasonInvalidValue        = "invalid value"
	reasonInsufficientHistory = "insufficient history"
)

// BaselineSource resolves the baseline a ticket field is compared against.
type BaselineSource interface {
	Lookup(t domain.Ticket, field domain.Field) (*domain.Baseline, bool)
}

// Scorer is stateless apart from its policy and baseline source and may be
// shared across goroutines.
type Scorer struct {
	policy    domain.Policy
	baselines BaselineSource
}

// NewScorer builds a scorer.
func NewScorer(policy domain.Policy, baselines BaselineSource) *Scorer {
	return &Scorer{policy: policy, baselines: baselines}
}

// Score computes the confidence for a single field.
func (s *Scorer) Score(t domain.Ticket, field domain.Field) domain.ConfidenceScore {
	actual := field.Value(t)
	result := domain.ConfidenceScore{Field: field, ActualValue: actual}

	if actual <= 0 || math.IsNaN(actual) {
		result.Score = 0
		result.Label = domain.ConfidenceLow
		result.Reason = reasonInvalidValue
		return result
	}

	var baseline *domain.Baseline
	if s.baselines != nil {
		if b, ok := s.baselines.Lookup(t, field); ok {
			baseline = b
		}
	}
	if baseline == nil || baseline.Center() <= 0 {
		result.Score = 1
		result.Label = domain.ConfidenceHigh
		result.Reason = reasonInsufficientHistory
		result.InsufficientHistory = true
		return result
	}

	center := baseline.Center()
	deviation := math.Abs(actual-center) / math.Max(center, epsilon)
	result.BaselineValue = center
	result.DeviationPercentage = (actual - center) / center * 100
	result.Score = s.scoreFor(deviation)
	result.Label = s.labelFor(deviation)
	result.Reason = describe(t, field, actual, center, result.DeviationPercentage, baseline.Key.Scope)
	return result
}

// ScoreTicket scores every baselined field; the overall score is the lowest
// field score.
func (s *Scorer) ScoreTicket(t domain.Ticket) domain.TicketConfidence {
	out := domain.TicketConfidence{
		Fields:  make(map[domain.Field]domain.ConfidenceScore, len(domain.ScoredFields)),
		Overall: 1,
	}
	for _, field := range domain.ScoredFields {
		score := s.Score(t, field)
		out.Fields[field] = score
		if out.Weakest == "" || score.Score < out.Overall {
			out.Overall = score.Score
			out.Weakest = field
		}
	}
	return out
}

func (s *Scorer) scoreFor(deviation float64) float64 {
	p := s.policy
	switch {
	case deviation <= p.HighConfidenceMaxDeviation:
		return 1 - (1-p.HighConfidenceFloor)*deviation/p.HighConfidenceMaxDeviation
	case deviation <= p.MediumConfidenceMaxDeviation:
		span := p.MediumConfidenceMaxDeviation - p.HighConfidenceMaxDeviation
		return p.HighConfidenceFloor - (p.HighConfidenceFloor-p.MediumConfidenceFloor)*(deviation-p.HighConfidenceMaxDeviation)/span
	default:
		return p.MediumConfidenceFloor / (1 + p.LowConfidenceDecay*(deviation-p.MediumConfidenceMaxDeviation))
	}
}

func (s *Scorer) labelFor(deviation float64) domain.ConfidenceLabel {
	switch {
	case deviation <= s.policy.HighConfidenceMaxDeviation:
		return domain.ConfidenceHigh
	case deviation <= s.policy.MediumConfidenceMaxDeviation:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

func describe(t domain.Ticket, field domain.Field, actual, center, pct float64, scope domain.BaselineScope) string {
	subject := "driver/material"
	if scope == domain.ScopeRoute {
		subject = "route"
	}
	switch field {
	case domain.FieldQuantity:
		unit := singularUnit(t.Unit)
		return fmt.Sprintf("%.1f %s vs. %.1f-%s average for this %s, %+.1f%%",
			actual, pluralUnit(unit), center, unit, subject, pct)
	default:
		label := strings.ReplaceAll(string(field), "_", " ")
		return fmt.Sprintf("%s $%.2f vs. $%.2f average for this %s, %+.1f%%",
			label, actual, center, subject, pct)
	}
}

func singularUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "", "t", "ton", "tons":
		return "ton"
	case "load", "loads":
		return "load"
	case "hour", "hours", "hr", "hrs":
		return "hour"
	case "yard", "yards", "yd", "yds":
		return "yard"
	}
	return strings.TrimSuffix(u, "s")
}

func pluralUnit(singular string) string {
	return singular + "s"
}
