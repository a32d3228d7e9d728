package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
)

// MemoryTicketRepository keeps tickets in process. It backs the service when
// no POSTGRES_DSN is configured and in tests. Missing rows surface as
// pgx.ErrNoRows so error mapping matches the postgres implementation.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	history *MemoryHistoryRepository
}

// NewMemoryTicketRepository returns an empty store with its own audit trail.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[string]domain.Ticket),
		history: newMemoryHistoryRepository(),
	}
}

// History is the audit trail written by UpdateWithHistory.
func (r *MemoryTicketRepository) History() *MemoryHistoryRepository {
	return r.history
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tickets[ticket.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTicketExists, ticket.ID)
	}
	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *MemoryTicketRepository) CreateBatch(_ context.Context, tickets []domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tickets {
		if _, exists := r.tickets[t.ID]; exists {
			return fmt.Errorf("%w: %s", ErrTicketExists, t.ID)
		}
	}
	for _, t := range tickets {
		r.tickets[t.ID] = t
	}
	return nil
}

func (r *MemoryTicketRepository) UpdateWithHistory(_ context.Context, ticket *domain.Ticket, entry *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if entry == nil || entry.TicketID != ticket.ID {
		return fmt.Errorf("audit entry does not belong to ticket %s", ticket.ID)
	}
	r.history.record(*entry)
	current.Status = ticket.Status
	current.TargetWeekEnding = ticket.TargetWeekEnding
	current.DecidedBy = ticket.DecidedBy
	current.DecidedAt = ticket.DecidedAt
	current.VoidedAt = ticket.VoidedAt
	current.UpdatedAt = ticket.UpdatedAt
	r.tickets[ticket.ID] = current
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *MemoryTicketRepository) ListWithFilter(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	numbers := make(map[string]struct{}, len(filter.TicketNumbers))
	for _, n := range filter.TicketNumbers {
		numbers[n] = struct{}{}
	}
	statuses := make(map[domain.TicketStatus]struct{}, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = struct{}{}
	}

	out := r.collect(func(t domain.Ticket) bool {
		if filter.DriverID != "" && t.DriverID != filter.DriverID {
			return false
		}
		if filter.Source != "" && t.Source != filter.Source {
			return false
		}
		if len(statuses) > 0 {
			if _, ok := statuses[t.Status]; !ok {
				return false
			}
		}
		if len(numbers) > 0 {
			if _, ok := numbers[t.NormalizedTicketNumber()]; !ok {
				return false
			}
		}
		if filter.DeliveredFrom != nil && t.DeliveryDate.Before(*filter.DeliveredFrom) {
			return false
		}
		if filter.DeliveredTo != nil && !t.DeliveryDate.Before(*filter.DeliveredTo) {
			return false
		}
		return true
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryTicketRepository) ListForPayWeek(_ context.Context, driverID string, weekEnding time.Time) ([]domain.Ticket, error) {
	return r.collect(func(t domain.Ticket) bool {
		return t.Source == domain.TicketSourceInternal &&
			t.DriverID == driverID &&
			payweek.WeekOf(t).Equal(weekEnding)
	}), nil
}

func (r *MemoryTicketRepository) ListDriversForWeek(_ context.Context, weekEnding time.Time) ([]string, error) {
	seen := map[string]struct{}{}
	for _, t := range r.collect(func(t domain.Ticket) bool {
		return t.Source == domain.TicketSourceInternal && t.DriverID != "" && payweek.WeekOf(t).Equal(weekEnding)
	}) {
		seen[t.DriverID] = struct{}{}
	}
	drivers := make([]string, 0, len(seen))
	for d := range seen {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers, nil
}

func (r *MemoryTicketRepository) collect(keep func(domain.Ticket) bool) []domain.Ticket {
	r.mu.RLock()
	out := make([]domain.Ticket, 0)
	for _, t := range r.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.DeliveryDate.Equal(b.DeliveryDate) {
			return a.DeliveryDate.Before(b.DeliveryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// MemoryHistoryRepository is the in-process audit trail.
type MemoryHistoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.TicketHistory
}

// newMemoryHistoryRepository returns an empty audit trail.
func newMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{entries: make(map[string][]domain.TicketHistory)}
}

func (r *MemoryHistoryRepository) record(entry domain.TicketHistory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.TicketID] = append(r.entries[entry.TicketID], entry)
}

func (r *MemoryHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TicketHistory(nil), r.entries[ticketID]...), nil
}

var (
	_ TicketRepository        = (*MemoryTicketRepository)(nil)
	_ TicketHistoryRepository = (*MemoryHistoryRepository)(nil)
)
