package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// TicketHistoryRepository reads audit entries. Entries are written together
// with the transition they record, by TicketRepository.UpdateWithHistory.
type TicketHistoryRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func insertHistory(ctx context.Context, tx pgx.Tx, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, actor, action, old_status, new_status, comment, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := tx.Exec(ctx, query,
		history.ID,
		history.TicketID,
		history.Actor,
		string(history.Action),
		string(history.OldStatus),
		string(history.NewStatus),
		history.Comment,
		history.CreatedAt,
	)
	return err
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, actor, action, old_status, new_status, comment, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var (
			history              domain.TicketHistory
			action, oldSt, newSt string
		)
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.Actor,
			&action,
			&oldSt,
			&newSt,
			&history.Comment,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		history.Action = domain.TicketAction(action)
		history.OldStatus = domain.TicketStatus(oldSt)
		history.NewStatus = domain.TicketStatus(newSt)
		result = append(result, history)
	}
	return result, rows.Err()
}
