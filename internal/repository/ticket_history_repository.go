package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// TicketHistoryRepository stores the append-only audit trail of tickets.
type TicketHistoryRepository interface {
	Create(ctx context.Context, entry *domain.TicketHistory) error
	// ListByTicket returns the oldest limit entries of a ticket.
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

const historyColumns = `id, ticket_id, changed_by, change_type, old_value, new_value, created_at`

// Create stamps the entry with the database clock unless CreatedAt is set.
func (r *ticketHistoryRepository) Create(ctx context.Context, entry *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, changed_by, change_type, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))
        RETURNING id, created_at`
	var createdAt *time.Time
	if !entry.CreatedAt.IsZero() {
		at := entry.CreatedAt
		createdAt = &at
	}
	return r.pool.QueryRow(ctx, query,
		entry.TicketID,
		entry.ChangedBy,
		entry.ChangeType,
		entry.OldValue,
		entry.NewValue,
		createdAt,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM ticket_history
        WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, ticketID, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanHistory)
}

func scanHistory(row pgx.CollectableRow) (domain.TicketHistory, error) {
	var entry domain.TicketHistory
	err := row.Scan(
		&entry.ID,
		&entry.TicketID,
		&entry.ChangedBy,
		&entry.ChangeType,
		&entry.OldValue,
		&entry.NewValue,
		&entry.CreatedAt,
	)
	return entry, err
}
