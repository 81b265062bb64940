package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// NotificationRepository persists notifications. Every read or write that
// targets existing rows is scoped by recipient.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListUnread(ctx context.Context, recipientID string) ([]domain.Notification, error)
	ListAll(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	MarkManyRead(ctx context.Context, ids []string, recipientID string, at time.Time) (int64, error)
	MarkConversationRead(ctx context.Context, recipientID, conversationID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID string) (bool, error)
	DeleteRead(ctx context.Context, recipientID string) (int64, error)
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository instantiates repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

const notificationColumns = `id, recipient_id, conversation_id, ticket_id, ticket_subject, sender_id, sender_name,
        sender_role, preview, type, is_read, read_at, created_at`

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	const query = `
        INSERT INTO notifications (recipient_id, conversation_id, ticket_id, ticket_subject, sender_id, sender_name,
            sender_role, preview, type, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		n.RecipientID,
		n.ConversationID,
		n.TicketID,
		n.TicketSubject,
		n.SenderID,
		n.SenderName,
		n.SenderRole,
		n.Preview,
		n.Type,
		n.CreatedAt,
	).Scan(&n.ID)
}

func (r *notificationRepository) ListUnread(ctx context.Context, recipientID string) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
        WHERE recipient_id=$1 AND NOT is_read ORDER BY created_at DESC`
	return r.query(ctx, query, recipientID)
}

func (r *notificationRepository) ListAll(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
        WHERE recipient_id=$1 ORDER BY created_at DESC LIMIT $2`
	return r.query(ctx, query, recipientID, clampLimit(limit, 50, 200))
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND NOT is_read`
	var count int
	err := r.pool.QueryRow(ctx, query, recipientID).Scan(&count)
	return count, err
}

// MarkRead reports false when no notification with that id belongs to the recipient.
// Marking an already read notification succeeds.
func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	const query = `
        UPDATE notifications SET is_read=TRUE, read_at=COALESCE(read_at, $1)
        WHERE id=$2 AND recipient_id=$3`
	n, err := execAffected(ctx, r.pool, query, at, id, recipientID)
	return n > 0, err
}

func (r *notificationRepository) MarkManyRead(ctx context.Context, ids []string, recipientID string, at time.Time) (int64, error) {
	const query = `
        UPDATE notifications SET is_read=TRUE, read_at=$1
        WHERE id::text = ANY($2) AND recipient_id=$3 AND NOT is_read`
	return execAffected(ctx, r.pool, query, at, ids, recipientID)
}

func (r *notificationRepository) MarkConversationRead(ctx context.Context, recipientID, conversationID string, at time.Time) (int64, error) {
	const query = `
        UPDATE notifications SET is_read=TRUE, read_at=$1
        WHERE recipient_id=$2 AND conversation_id=$3 AND NOT is_read`
	return execAffected(ctx, r.pool, query, at, recipientID, conversationID)
}

func (r *notificationRepository) Delete(ctx context.Context, id, recipientID string) (bool, error) {
	const query = `DELETE FROM notifications WHERE id=$1 AND recipient_id=$2`
	n, err := execAffected(ctx, r.pool, query, id, recipientID)
	return n > 0, err
}

func (r *notificationRepository) DeleteRead(ctx context.Context, recipientID string) (int64, error) {
	const query = `DELETE FROM notifications WHERE recipient_id=$1 AND is_read`
	return execAffected(ctx, r.pool, query, recipientID)
}

func (r *notificationRepository) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	const query = `DELETE FROM notifications WHERE conversation_id=$1`
	return execAffected(ctx, r.pool, query, conversationID)
}

func (r *notificationRepository) query(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.ConversationID,
		&n.TicketID,
		&n.TicketSubject,
		&n.SenderID,
		&n.SenderName,
		&n.SenderRole,
		&n.Preview,
		&n.Type,
		&n.IsRead,
		&n.ReadAt,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}
