package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// ImageRepository is the binary object store for uploaded images.
type ImageRepository interface {
	Create(ctx context.Context, img *domain.Image) error
	GetByID(ctx context.Context, id string) (*domain.Image, error)
	FindByChecksum(ctx context.Context, conversationID, checksum string) (*domain.Image, error)
}

type imageRepository struct {
	pool *pgxpool.Pool
}

// NewImageRepository instantiates repository.
func NewImageRepository(pool *pgxpool.Pool) ImageRepository {
	return &imageRepository{pool: pool}
}

func (r *imageRepository) Create(ctx context.Context, img *domain.Image) error {
	const query = `
        INSERT INTO images (conversation_id, uploader_id, filename, mime_type, size_bytes, checksum, data, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		img.ConversationID,
		img.UploaderID,
		img.Filename,
		img.MimeType,
		img.Size,
		img.Checksum,
		img.Data,
		img.CreatedAt,
	).Scan(&img.ID)
}

func (r *imageRepository) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	const query = `
        SELECT id, conversation_id, uploader_id, filename, mime_type, size_bytes, checksum, data, created_at
        FROM images WHERE id=$1`
	var img domain.Image
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&img.ID,
		&img.ConversationID,
		&img.UploaderID,
		&img.Filename,
		&img.MimeType,
		&img.Size,
		&img.Checksum,
		&img.Data,
		&img.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &img, nil
}

// FindByChecksum returns metadata only; Data is left empty.
func (r *imageRepository) FindByChecksum(ctx context.Context, conversationID, checksum string) (*domain.Image, error) {
	const query = `
        SELECT id, conversation_id, uploader_id, filename, mime_type, size_bytes, checksum, created_at
        FROM images WHERE conversation_id=$1 AND checksum=$2 LIMIT 1`
	var img domain.Image
	if err := r.pool.QueryRow(ctx, query, conversationID, checksum).Scan(
		&img.ID,
		&img.ConversationID,
		&img.UploaderID,
		&img.Filename,
		&img.MimeType,
		&img.Size,
		&img.Checksum,
		&img.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &img, nil
}
