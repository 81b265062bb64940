package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// MessageRepository persists conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListRecent(ctx context.Context, conversationID string, limit int, includeInternal bool) ([]domain.Message, error)
	Latest(ctx context.Context, conversationID string) (*domain.Message, error)
	EndUserMessageSince(ctx context.Context, conversationID string, since time.Time) (bool, error)
	CountImagesSince(ctx context.Context, conversationID, senderID string, since time.Time) (int, error)
	UpdateContent(ctx context.Context, id, content string) error
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository instantiates repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, conversation_id, sender_id, sender_name, sender_role, content, message_type,
        is_from_ai, is_internal, is_edited, metadata, created_at, updated_at`

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (conversation_id, sender_id, sender_name, sender_role, content, message_type,
            is_from_ai, is_internal, metadata, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
        RETURNING id, updated_at`
	return r.pool.QueryRow(ctx, query,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		msg.SenderRole,
		msg.Content,
		msg.Type,
		msg.IsFromAI,
		msg.IsInternal,
		msg.Metadata,
		msg.CreatedAt,
	).Scan(&msg.ID, &msg.UpdatedAt)
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	return scanMessage(r.pool.QueryRow(ctx, query, id))
}

// ListRecent returns the newest messages in chronological order.
func (r *messageRepository) ListRecent(ctx context.Context, conversationID string, limit int, includeInternal bool) ([]domain.Message, error) {
	query := `SELECT * FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE conversation_id=$1 AND ($2 OR NOT is_internal)
            ORDER BY created_at DESC LIMIT $3
        ) recent ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, conversationID, includeInternal, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1 AND NOT is_internal
        ORDER BY created_at DESC LIMIT 1`
	return scanMessage(r.pool.QueryRow(ctx, query, conversationID))
}

func (r *messageRepository) EndUserMessageSince(ctx context.Context, conversationID string, since time.Time) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM messages
            WHERE conversation_id=$1 AND created_at > $2 AND NOT is_internal AND NOT is_from_ai
              AND message_type <> 'system' AND sender_id NOT IN ($3, $4)
              AND sender_role NOT IN ('support', 'admin')
        )`
	var exists bool
	err := r.pool.QueryRow(ctx, query, conversationID, since, domain.AssistantSenderID, domain.SystemSenderID).Scan(&exists)
	return exists, err
}

func (r *messageRepository) CountImagesSince(ctx context.Context, conversationID, senderID string, since time.Time) (int, error) {
	const query = `
        SELECT COUNT(*) FROM messages
        WHERE conversation_id=$1 AND sender_id=$2 AND message_type='image' AND created_at >= $3`
	var count int
	err := r.pool.QueryRow(ctx, query, conversationID, senderID, since).Scan(&count)
	return count, err
}

func (r *messageRepository) UpdateContent(ctx context.Context, id, content string) error {
	const query = `UPDATE messages SET content=$1, is_edited=TRUE, updated_at=NOW() WHERE id=$2`
	return execOne(ctx, r.pool, query, content, id)
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.SenderRole,
		&msg.Content,
		&msg.Type,
		&msg.IsFromAI,
		&msg.IsInternal,
		&msg.IsEdited,
		&msg.Metadata,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
