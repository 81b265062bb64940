package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// ConversationFilter captures list parameters.
type ConversationFilter struct {
	OwnerID            *string
	AssignedOperatorID *string
	Statuses           []domain.ConversationStatus
	NeedsHumanOnly     bool
	Limit              int
	Offset             int
}

// ConversationRepository encapsulates conversation persistence. Status and
// assignment writes are conditional so concurrent writers cannot both win.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	FindActiveByOwner(ctx context.Context, ownerID string) (*domain.Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error)
	ListActive(ctx context.Context) ([]domain.Conversation, error)
	TransitionStatus(ctx context.Context, id string, from []domain.ConversationStatus, to domain.ConversationStatus) (bool, error)
	AssignIfUnassigned(ctx context.Context, id, operatorID string) (bool, error)
	Assign(ctx context.Context, id, operatorID string) error
	AttachTicket(ctx context.Context, id, ticketID string) (bool, error)
	SetNeedsHumanAttention(ctx context.Context, id string, needed bool) error
	IncrementSpam(ctx context.Context, id string) (int, error)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
	IncrementUnread(ctx context.Context, id string) (int, error)
	ResetUnread(ctx context.Context, id string) error
	SetInactivityWarning(ctx context.Context, id string, at *time.Time) error
}

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

const conversationColumns = `id, owner_id, ticket_id, assigned_operator_id, status, last_message_at,
        needs_human_attention, spam_count, unread_count, inactivity_warning_sent_at, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	const query = `
        INSERT INTO conversations (owner_id, status, last_message_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        RETURNING id`
	return r.pool.QueryRow(ctx, query, c.OwnerID, c.Status, c.LastMessageAt, c.CreatedAt).Scan(&c.ID)
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *conversationRepository) FindActiveByOwner(ctx context.Context, ownerID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
        FROM conversations WHERE owner_id=$1 AND status='active'
        ORDER BY last_message_at DESC LIMIT 1`
	return scanConversation(r.pool.QueryRow(ctx, query, ownerID))
}

func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	if filter.AssignedOperatorID != nil {
		args = append(args, *filter.AssignedOperatorID)
		clauses = append(clauses, fmt.Sprintf("assigned_operator_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.NeedsHumanOnly {
		clauses = append(clauses, "needs_human_attention")
	}

	args = append(args, clampLimit(filter.Limit, 50, 200))
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE %s
        ORDER BY last_message_at DESC LIMIT $%d OFFSET $%d`,
		conversationColumns, strings.Join(clauses, " AND "), limitPos, offsetPos)
	return r.query(ctx, query, args...)
}

func (r *conversationRepository) ListActive(ctx context.Context) ([]domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE status='active' ORDER BY last_message_at`
	return r.query(ctx, query)
}

func (r *conversationRepository) TransitionStatus(ctx context.Context, id string, from []domain.ConversationStatus, to domain.ConversationStatus) (bool, error) {
	names := make([]string, 0, len(from))
	for _, s := range from {
		names = append(names, string(s))
	}
	const query = `
        UPDATE conversations SET status=$1, inactivity_warning_sent_at=NULL, updated_at=NOW()
        WHERE id=$2 AND status = ANY($3)`
	n, err := execAffected(ctx, r.pool, query, to, id, names)
	return n > 0, err
}

func (r *conversationRepository) AssignIfUnassigned(ctx context.Context, id, operatorID string) (bool, error) {
	const query = `
        UPDATE conversations SET assigned_operator_id=$1, updated_at=NOW()
        WHERE id=$2 AND assigned_operator_id IS NULL`
	n, err := execAffected(ctx, r.pool, query, operatorID, id)
	return n > 0, err
}

func (r *conversationRepository) Assign(ctx context.Context, id, operatorID string) error {
	const query = `UPDATE conversations SET assigned_operator_id=$1, updated_at=NOW() WHERE id=$2`
	return execOne(ctx, r.pool, query, operatorID, id)
}

func (r *conversationRepository) AttachTicket(ctx context.Context, id, ticketID string) (bool, error) {
	const query = `
        UPDATE conversations SET ticket_id=$1, needs_human_attention=TRUE, updated_at=NOW()
        WHERE id=$2 AND ticket_id IS NULL`
	n, err := execAffected(ctx, r.pool, query, ticketID, id)
	return n > 0, err
}

func (r *conversationRepository) SetNeedsHumanAttention(ctx context.Context, id string, needed bool) error {
	const query = `UPDATE conversations SET needs_human_attention=$1, updated_at=NOW() WHERE id=$2`
	return execOne(ctx, r.pool, query, needed, id)
}

func (r *conversationRepository) IncrementSpam(ctx context.Context, id string) (int, error) {
	const query = `UPDATE conversations SET spam_count=spam_count+1, updated_at=NOW() WHERE id=$1 RETURNING spam_count`
	var count int
	err := r.pool.QueryRow(ctx, query, id).Scan(&count)
	return count, err
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE conversations SET last_message_at=$1, updated_at=NOW() WHERE id=$2`
	return execOne(ctx, r.pool, query, at, id)
}

func (r *conversationRepository) IncrementUnread(ctx context.Context, id string) (int, error) {
	const query = `UPDATE conversations SET unread_count=unread_count+1, updated_at=NOW() WHERE id=$1 RETURNING unread_count`
	var count int
	err := r.pool.QueryRow(ctx, query, id).Scan(&count)
	return count, err
}

func (r *conversationRepository) ResetUnread(ctx context.Context, id string) error {
	const query = `UPDATE conversations SET unread_count=0, updated_at=NOW() WHERE id=$1`
	return execOne(ctx, r.pool, query, id)
}

func (r *conversationRepository) SetInactivityWarning(ctx context.Context, id string, at *time.Time) error {
	const query = `UPDATE conversations SET inactivity_warning_sent_at=$1, updated_at=NOW() WHERE id=$2`
	return execOne(ctx, r.pool, query, at, id)
}

func (r *conversationRepository) query(ctx context.Context, query string, args ...any) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.TicketID,
		&c.AssignedOperatorID,
		&c.Status,
		&c.LastMessageAt,
		&c.NeedsHumanAttention,
		&c.SpamCount,
		&c.UnreadCount,
		&c.Metadata.InactivityWarningSentAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
