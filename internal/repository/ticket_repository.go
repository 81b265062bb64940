package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByConversation(ctx context.Context, conversationID string) (*domain.Ticket, error)
	AssignIfUnassigned(ctx context.Context, id, operatorID string) (bool, error)
	LedgerStore
}

// LedgerStore applies read-modify-write mutations to a persisted unread map.
// The mutation runs while the row is locked, so concurrent callers serialize
// instead of overwriting each other.
type LedgerStore interface {
	UpdateUnread(ctx context.Context, id string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, conversation_id, owner_id, subject, status, priority, assigned_operator_id,
        unread_count_by_user, unread_count_support, unread_count_admin, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (conversation_id, owner_id, subject, status, priority, assigned_operator_id, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
        RETURNING id, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ConversationID,
		ticket.OwnerID,
		ticket.Subject,
		ticket.Status,
		ticket.Priority,
		ticket.AssignedOperatorID,
		ticket.CreatedAt,
	).Scan(&ticket.ID, &ticket.UpdatedAt)
}

// Update persists status, priority and assignment. The unread map is only
// written through UpdateUnread.
func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET subject=$1, status=$2, priority=$3, assigned_operator_id=$4, closed_at=$5, updated_at=NOW()
        WHERE id=$6`
	return execOne(ctx, r.pool, query,
		ticket.Subject,
		ticket.Status,
		ticket.Priority,
		ticket.AssignedOperatorID,
		ticket.ClosedAt,
		ticket.ID,
	)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByConversation(ctx context.Context, conversationID string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE conversation_id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, conversationID))
}

func (r *ticketRepository) AssignIfUnassigned(ctx context.Context, id, operatorID string) (bool, error) {
	const query = `
        UPDATE tickets SET assigned_operator_id=$1, updated_at=NOW()
        WHERE id=$2 AND assigned_operator_id IS NULL`
	n, err := execAffected(ctx, r.pool, query, operatorID, id)
	return n > 0, err
}

func (r *ticketRepository) UpdateUnread(ctx context.Context, id string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error) {
	return updateLedger(ctx, r.pool,
		`SELECT unread_count_by_user FROM tickets WHERE id=$1 FOR UPDATE`,
		func(tx pgx.Tx, l *domain.UnreadLedger) error {
			return execOne(ctx, tx, `
                UPDATE tickets SET unread_count_by_user=$1, unread_count_support=$2, unread_count_admin=$3, updated_at=NOW()
                WHERE id=$4`, l.ByUser, l.Support, l.Admin, id)
		},
		id, mutate)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ConversationID,
		&ticket.OwnerID,
		&ticket.Subject,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssignedOperatorID,
		&ticket.Unread.ByUser,
		&ticket.Unread.Support,
		&ticket.Unread.Admin,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	for _, n := range ticket.Unread.ByUser {
		ticket.Unread.Total += n
	}
	return &ticket, nil
}
