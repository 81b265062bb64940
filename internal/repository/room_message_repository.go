package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// RoomMessageRepository persists internal room messages.
type RoomMessageRepository interface {
	Create(ctx context.Context, msg *domain.RoomMessage) error
	ListRecent(ctx context.Context, roomID string, limit int) ([]domain.RoomMessage, error)
}

type roomMessageRepository struct {
	pool *pgxpool.Pool
}

// NewRoomMessageRepository instantiates repository.
func NewRoomMessageRepository(pool *pgxpool.Pool) RoomMessageRepository {
	return &roomMessageRepository{pool: pool}
}

func (r *roomMessageRepository) Create(ctx context.Context, msg *domain.RoomMessage) error {
	const query = `
        INSERT INTO room_messages (room_id, sender_id, sender_name, sender_role, content, message_type, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		msg.RoomID,
		msg.SenderID,
		msg.SenderName,
		msg.SenderRole,
		msg.Content,
		msg.Type,
		msg.Metadata,
		msg.CreatedAt,
	).Scan(&msg.ID)
}

func (r *roomMessageRepository) ListRecent(ctx context.Context, roomID string, limit int) ([]domain.RoomMessage, error) {
	const query = `
        SELECT * FROM (
            SELECT id, room_id, sender_id, sender_name, sender_role, content, message_type, metadata, created_at
            FROM room_messages WHERE room_id=$1 ORDER BY created_at DESC LIMIT $2
        ) recent ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, roomID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RoomMessage
	for rows.Next() {
		var msg domain.RoomMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.SenderRole,
			&msg.Content,
			&msg.Type,
			&msg.Metadata,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
