package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
)

// TicketFilter narrows ticket listings. Zero values are ignored.
type TicketFilter struct {
	DriverID      string
	Source        domain.TicketSource
	Statuses      []domain.TicketStatus
	TicketNumbers []string // normalized form
	DeliveredFrom *time.Time
	DeliveredTo   *time.Time
	Limit         int
}

// ErrTicketExists is returned when a ticket id is already taken.
var ErrTicketExists = errors.New("ticket already exists")

// TicketRepository encapsulates ticket persistence. Tickets are never deleted.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	CreateBatch(ctx context.Context, tickets []domain.Ticket) error
	// UpdateWithHistory stores the ticket's lifecycle fields and its audit
	// entry together; neither is written if either fails.
	UpdateWithHistory(ctx context.Context, ticket *domain.Ticket, entry *domain.TicketHistory) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListForPayWeek(ctx context.Context, driverID string, weekEnding time.Time) ([]domain.Ticket, error)
	ListDriversForWeek(ctx context.Context, weekEnding time.Time) ([]string, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, ticket_number, driver_id, truck_id, customer_name, route, material_type,
        quantity, unit, pay_rate, bill_rate, net_weight, delivery_date, dispatch_start, dispatch_end,
        status, source, ocr_confidence, target_week_ending, decided_by, decided_at, voided_at,
        created_at, updated_at`

const insertTicket = `
        INSERT INTO tickets (id, ticket_number, normalized_number, driver_id, truck_id, customer_name, route,
            material_type, quantity, unit, pay_rate, bill_rate, net_weight, delivery_date, dispatch_start,
            dispatch_end, status, source, ocr_confidence, target_week_ending, decided_by, decided_at, voided_at,
            created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`

func insertArgs(t *domain.Ticket) []any {
	return []any{
		t.ID, t.TicketNumber, t.NormalizedTicketNumber(), t.DriverID, t.TruckID, t.CustomerName, t.Route,
		t.MaterialType, t.Quantity, t.Unit, t.PayRate, t.BillRate, t.NetWeight, t.DeliveryDate, t.DispatchStart,
		t.DispatchEnd, string(t.Status), string(t.Source), t.OCRConfidence, t.TargetWeekEnding, t.DecidedBy,
		t.DecidedAt, t.VoidedAt, t.CreatedAt, t.UpdatedAt,
	}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	_, err := r.pool.Exec(ctx, insertTicket, insertArgs(ticket)...)
	return uniqueViolation(err, ticket.ID)
}

func uniqueViolation(err error, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrTicketExists, id)
	}
	return err
}

// CreateBatch inserts all tickets in one transaction.
func (r *ticketRepository) CreateBatch(ctx context.Context, tickets []domain.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range tickets {
			batch.Queue(insertTicket, insertArgs(&tickets[i])...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *ticketRepository) UpdateWithHistory(ctx context.Context, ticket *domain.Ticket, entry *domain.TicketHistory) error {
	const query = `
        UPDATE tickets SET status=$1, target_week_ending=$2, decided_by=$3, decided_at=$4, voided_at=$5,
            updated_at=$6
        WHERE id=$7`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			string(ticket.Status),
			ticket.TargetWeekEnding,
			ticket.DecidedBy,
			ticket.DecidedAt,
			ticket.VoidedAt,
			ticket.UpdatedAt,
			ticket.ID,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return insertHistory(ctx, tx, entry)
	})
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	ticket, err := pgx.CollectExactlyOneRow(rows, scanTicket)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.DriverID != "" {
		add("driver_id = $%d", filter.DriverID)
	}
	if filter.Source != "" {
		add("source = $%d", string(filter.Source))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if len(filter.TicketNumbers) > 0 {
		add("normalized_number = ANY($%d)", filter.TicketNumbers)
	}
	if filter.DeliveredFrom != nil {
		add("delivery_date >= $%d", *filter.DeliveredFrom)
	}
	if filter.DeliveredTo != nil {
		add("delivery_date < $%d", *filter.DeliveredTo)
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY delivery_date ASC, created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTicket)
}

// ListForPayWeek returns the driver's internal tickets that settle into the
// given week, including late approvals pinned to it.
func (r *ticketRepository) ListForPayWeek(ctx context.Context, driverID string, weekEnding time.Time) ([]domain.Ticket, error) {
	from, to := payWeekScanRange(weekEnding)
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE driver_id=$1 AND source=$2
          AND ((target_week_ending IS NULL AND delivery_date >= $3 AND delivery_date < $4)
               OR target_week_ending = $5)
        ORDER BY delivery_date ASC, created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, driverID, string(domain.TicketSourceInternal), from, to, weekEnding)
	if err != nil {
		return nil, err
	}
	tickets, err := pgx.CollectRows(rows, scanTicket)
	if err != nil {
		return nil, err
	}
	return inPayWeek(tickets, weekEnding), nil
}

func (r *ticketRepository) ListDriversForWeek(ctx context.Context, weekEnding time.Time) ([]string, error) {
	from, to := payWeekScanRange(weekEnding)
	const query = `
        SELECT DISTINCT driver_id FROM tickets
        WHERE source=$1 AND driver_id <> ''
          AND ((target_week_ending IS NULL AND delivery_date >= $2 AND delivery_date < $3)
               OR target_week_ending = $4)
        ORDER BY driver_id`
	rows, err := r.pool.Query(ctx, query, string(domain.TicketSourceInternal), from, to, weekEnding)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanTicket(row pgx.CollectableRow) (domain.Ticket, error) {
	var (
		t      domain.Ticket
		status string
		source string
	)
	err := row.Scan(
		&t.ID,
		&t.TicketNumber,
		&t.DriverID,
		&t.TruckID,
		&t.CustomerName,
		&t.Route,
		&t.MaterialType,
		&t.Quantity,
		&t.Unit,
		&t.PayRate,
		&t.BillRate,
		&t.NetWeight,
		&t.DeliveryDate,
		&t.DispatchStart,
		&t.DispatchEnd,
		&status,
		&source,
		&t.OCRConfidence,
		&t.TargetWeekEnding,
		&t.DecidedBy,
		&t.DecidedAt,
		&t.VoidedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	t.Status = domain.TicketStatus(status)
	t.Source = domain.TicketSource(source)
	return t, err
}

// payWeekScanRange widens the week by a day on each side so that deliveries
// whose local calendar date differs from their UTC date are still considered.
func payWeekScanRange(weekEnding time.Time) (time.Time, time.Time) {
	start, end := payweek.WeekBounds(weekEnding)
	return start.AddDate(0, 0, -1), end.AddDate(0, 0, 2)
}

func inPayWeek(tickets []domain.Ticket, weekEnding time.Time) []domain.Ticket {
	out := tickets[:0]
	for _, t := range tickets {
		if payweek.WeekOf(t).Equal(weekEnding) {
			out = append(out, t)
		}
	}
	return out
}
