// Package matcher reconciles internally dispatched tickets against pit/scale
// records of the same delivery.
package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// Matcher classifies internal tickets. It holds no per-call state.
type Matcher struct {
	policy domain.Policy
	now    func() time.Time
}

// New builds a matcher. now defaults to time.Now.
func New(policy domain.Policy, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{policy: policy, now: now}
}

// DuplicateIndex groups internal tickets by normalized ticket number.
type DuplicateIndex map[string][]domain.Ticket

// BuildDuplicateIndex indexes internal tickets that still count for payroll.
// Denied and cancelled tickets are excluded: they can no longer be billed twice.
func BuildDuplicateIndex(tickets []domain.Ticket) DuplicateIndex {
	idx := DuplicateIndex{}
	seen := map[string]struct{}{}
	for _, t := range tickets {
		if t.Source == domain.TicketSourcePit || !t.CountsForPayroll() {
			continue
		}
		number := t.NormalizedTicketNumber()
		if number == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup && t.ID != "" {
			continue
		}
		seen[t.ID] = struct{}{}
		idx[number] = append(idx[number], t)
	}
	for number, group := range idx {
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		idx[number] = group
	}
	return idx
}

// Reconcile classifies one internal ticket against the supplied pit records.
// It always returns a result.
func (m *Matcher) Reconcile(t domain.Ticket, pits []domain.Ticket, dupes DuplicateIndex) domain.ReconciliationResult {
	if result, ok := m.checkDuplicate(t, dupes); ok {
		return result
	}

	candidates, method := m.candidates(t, pits)
	result := domain.ReconciliationResult{CandidateCount: len(candidates)}

	if len(candidates) == 0 {
		if m.now().Sub(t.DeliveryDate) > m.policy.GracePeriod {
			return needsReview(result, "no corroborating scale record")
		}
		if reason, low := m.lowOCR(t, nil); low {
			return needsReview(result, reason)
		}
		result.Status = domain.ReconciliationClear
		result.Reasons = []string{"awaiting scale record (within grace period)"}
		return result
	}
	if len(candidates) > 1 {
		return needsReview(result, fmt.Sprintf("ambiguous match — %d candidate records", len(candidates)))
	}

	pit := candidates[0]
	result.MatchedRecordID = pit.ID
	result.MatchMethod = method

	if reason, delta, violated, ok := m.compareWeight(t, pit); ok {
		result.WeightDeltaTons = &delta
		if violated {
			result.Status = domain.ReconciliationViolation
			result.Reasons = []string{reason}
			return result
		}
	}
	if !pit.DeliveryDate.IsZero() && !m.withinDispatchWindow(t, pit.DeliveryDate) {
		result.Status = domain.ReconciliationViolation
		result.Reasons = []string{"timestamp outside dispatch window"}
		return result
	}
	if reason, low := m.lowOCR(t, &pit); low {
		return needsReview(result, reason)
	}
	result.Status = domain.ReconciliationClear
	result.Reasons = []string{}
	return result
}

// ReconcileBatch reconciles every internal ticket in tickets against pits,
// building the duplicate index from the batch itself.
func (m *Matcher) ReconcileBatch(tickets, pits []domain.Ticket) []domain.ReconciliationResult {
	dupes := BuildDuplicateIndex(tickets)
	out := make([]domain.ReconciliationResult, len(tickets))
	for i, t := range tickets {
		out[i] = m.Reconcile(t, pits, dupes)
	}
	return out
}

func (m *Matcher) checkDuplicate(t domain.Ticket, dupes DuplicateIndex) (domain.ReconciliationResult, bool) {
	group := dupes[t.NormalizedTicketNumber()]
	if len(group) < 2 || t.NormalizedTicketNumber() == "" {
		return domain.ReconciliationResult{}, false
	}
	first := group[0]
	others := len(group) - 1
	if first.ID == t.ID {
		return domain.ReconciliationResult{
			Status: domain.ReconciliationNeedsReview,
			Reasons: []string{fmt.Sprintf("duplicate ticket number %s shared with %d later submission(s); earliest submission held for review",
				t.TicketNumber, others)},
		}, true
	}
	return domain.ReconciliationResult{
		Status:  domain.ReconciliationRejected,
		Reasons: []string{fmt.Sprintf("duplicate ticket detected: %s was first submitted as ticket %s", t.TicketNumber, first.ID)},
	}, true
}

func (m *Matcher) candidates(t domain.Ticket, pits []domain.Ticket) ([]domain.Ticket, domain.MatchMethod) {
	number := t.NormalizedTicketNumber()
	var byNumber []domain.Ticket
	if number != "" {
		for _, p := range pits {
			if p.NormalizedTicketNumber() == number {
				byNumber = append(byNumber, p)
			}
		}
	}
	if len(byNumber) > 0 {
		return byNumber, domain.MatchByTicketNumber
	}

	if t.DriverID == "" || t.TruckID == "" {
		return nil, ""
	}
	var byWindow []domain.Ticket
	for _, p := range pits {
		if !strings.EqualFold(strings.TrimSpace(p.DriverID), strings.TrimSpace(t.DriverID)) ||
			!strings.EqualFold(strings.TrimSpace(p.TruckID), strings.TrimSpace(t.TruckID)) {
			continue
		}
		if absDuration(p.DeliveryDate.Sub(t.DeliveryDate)) > m.policy.MatchWindow {
			continue
		}
		if !materialsMatch(t.MaterialType, p.MaterialType) {
			continue
		}
		byWindow = append(byWindow, p)
	}
	return byWindow, domain.MatchByDriverTruckDay
}

func (m *Matcher) compareWeight(t, pit domain.Ticket) (reason string, delta float64, violated bool, ok bool) {
	ticketTons, ok1 := toShortTons(t.Quantity, t.Unit)
	scaleTons, ok2 := toShortTons(pit.ScaleWeight(), pit.Unit)
	if !ok1 || !ok2 {
		return "", 0, false, false
	}
	delta = scaleTons - ticketTons
	tolerance := math.Max(m.policy.WeightTolerancePct*ticketTons, m.policy.WeightToleranceAbsTons)
	if math.Abs(delta) <= tolerance {
		return "", delta, false, true
	}
	reason = fmt.Sprintf("scale weight mismatch: %+.1f-ton delta (scale %.1f tons vs. ticket %.1f tons, tolerance %.1f tons)",
		delta, scaleTons, ticketTons, tolerance)
	return reason, delta, true, true
}

func (m *Matcher) withinDispatchWindow(t domain.Ticket, at time.Time) bool {
	start := t.DeliveryDate.Add(-m.policy.DispatchWindow)
	end := t.DeliveryDate.Add(m.policy.DispatchWindow)
	if t.DispatchStart != nil && t.DispatchEnd != nil {
		start, end = *t.DispatchStart, *t.DispatchEnd
	}
	return !at.Before(start) && !at.After(end)
}

func (m *Matcher) lowOCR(t domain.Ticket, pit *domain.Ticket) (string, bool) {
	lowest := math.Inf(1)
	if t.OCRConfidence != nil {
		lowest = *t.OCRConfidence
	}
	if pit != nil && pit.OCRConfidence != nil && *pit.OCRConfidence < lowest {
		lowest = *pit.OCRConfidence
	}
	if lowest < m.policy.MinOCRConfidence {
		return fmt.Sprintf("low OCR confidence (%.2f)", lowest), true
	}
	return "", false
}

func needsReview(result domain.ReconciliationResult, reason string) domain.ReconciliationResult {
	result.Status = domain.ReconciliationNeedsReview
	result.Reasons = []string{reason}
	return result
}

func materialsMatch(a, b string) bool {
	ta, tb := materialTokens(a), materialTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return true
	}
	if strings.Join(ta, "") == strings.Join(tb, "") {
		return true
	}
	set := make(map[string]struct{}, len(ta))
	for _, tok := range ta {
		set[tok] = struct{}{}
	}
	for _, tok := range tb {
		if _, ok := set[tok]; ok && len(tok) >= 3 {
			return true
		}
	}
	return false
}

func materialTokens(raw string) []string {
	return strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
