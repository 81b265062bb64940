package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// RoomRepository persists internal operator rooms.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	GetGeneral(ctx context.Context) (*domain.Room, error)
	List(ctx context.Context) ([]domain.Room, error)
	ListForParticipant(ctx context.Context, principalID string) ([]domain.Room, error)
	UpdateDetails(ctx context.Context, id, title string, participants []string) error
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
	LedgerStore
}

type roomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository instantiates repository.
func NewRoomRepository(pool *pgxpool.Pool) RoomRepository {
	return &roomRepository{pool: pool}
}

const roomColumns = `id, title, participants, is_general, created_by, last_message_at,
        unread_count_by_user, unread_count, created_at, updated_at`

func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	const query = `
        INSERT INTO rooms (title, participants, is_general, created_by, last_message_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$5,$5)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		room.Title,
		room.Participants,
		room.IsGeneral,
		room.CreatedBy,
		room.CreatedAt,
	).Scan(&room.ID)
}

func (r *roomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id=$1`
	return scanRoom(r.pool.QueryRow(ctx, query, id))
}

func (r *roomRepository) GetGeneral(ctx context.Context) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE is_general LIMIT 1`
	return scanRoom(r.pool.QueryRow(ctx, query))
}

func (r *roomRepository) List(ctx context.Context) ([]domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY last_message_at DESC`
	return r.query(ctx, query)
}

func (r *roomRepository) ListForParticipant(ctx context.Context, principalID string) ([]domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE $1 = ANY(participants) ORDER BY last_message_at DESC`
	return r.query(ctx, query, principalID)
}

func (r *roomRepository) UpdateDetails(ctx context.Context, id, title string, participants []string) error {
	const query = `UPDATE rooms SET title=$1, participants=$2, updated_at=NOW() WHERE id=$3`
	return execOne(ctx, r.pool, query, title, participants, id)
}

func (r *roomRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE rooms SET last_message_at=$1, updated_at=NOW() WHERE id=$2`
	return execOne(ctx, r.pool, query, at, id)
}

func (r *roomRepository) UpdateUnread(ctx context.Context, id string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error) {
	return updateLedger(ctx, r.pool,
		`SELECT unread_count_by_user FROM rooms WHERE id=$1 FOR UPDATE`,
		func(tx pgx.Tx, l *domain.UnreadLedger) error {
			return execOne(ctx, tx, `
                UPDATE rooms SET unread_count_by_user=$1, unread_count=$2, updated_at=NOW()
                WHERE id=$3`, l.ByUser, l.Total, id)
		},
		id, mutate)
}

func (r *roomRepository) query(ctx context.Context, query string, args ...any) ([]domain.Room, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *room)
	}
	return result, rows.Err()
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var room domain.Room
	if err := row.Scan(
		&room.ID,
		&room.Title,
		&room.Participants,
		&room.IsGeneral,
		&room.CreatedBy,
		&room.LastMessageAt,
		&room.Unread.ByUser,
		&room.Unread.Total,
		&room.CreatedAt,
		&room.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &room, nil
}
