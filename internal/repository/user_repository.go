package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// UserRepository defines persistence access for principals seen by the service.
type UserRepository interface {
	Upsert(ctx context.Context, principal domain.Principal) (*domain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error)
	SetOnline(ctx context.Context, externalID string, online bool, at time.Time) error
	SaveUploadWarnings(ctx context.Context, externalID string, warnings int, lastWarningAt *time.Time) error
	Ban(ctx context.Context, externalID, reason string, at, until time.Time) error
	LiftBan(ctx context.Context, externalID string) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `external_id, display_name, role, is_online, last_seen, image_upload_warnings,
        last_image_warning_at, is_banned, banned_at, banned_until, ban_reason, created_at, updated_at`

func (r *userRepository) Upsert(ctx context.Context, principal domain.Principal) (*domain.User, error) {
	query := `
        INSERT INTO users (external_id, display_name, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (external_id) DO UPDATE
            SET display_name = EXCLUDED.display_name, role = EXCLUDED.role, updated_at = NOW()
        RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, principal.ExternalID, principal.DisplayName, principal.Role))
}

func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id=$1`
	return scanUser(r.pool.QueryRow(ctx, query, externalID))
}

func (r *userRepository) ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ANY($1) ORDER BY external_id`
	rows, err := r.pool.Query(ctx, query, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *user)
	}
	return result, rows.Err()
}

func (r *userRepository) SetOnline(ctx context.Context, externalID string, online bool, at time.Time) error {
	const query = `UPDATE users SET is_online=$1, last_seen=$2, updated_at=NOW() WHERE external_id=$3`
	return execOne(ctx, r.pool, query, online, at, externalID)
}

func (r *userRepository) SaveUploadWarnings(ctx context.Context, externalID string, warnings int, lastWarningAt *time.Time) error {
	const query = `
        UPDATE users SET image_upload_warnings=$1, last_image_warning_at=$2, updated_at=NOW()
        WHERE external_id=$3`
	return execOne(ctx, r.pool, query, warnings, lastWarningAt, externalID)
}

func (r *userRepository) Ban(ctx context.Context, externalID, reason string, at, until time.Time) error {
	const query = `
        UPDATE users SET is_banned=TRUE, banned_at=$1, banned_until=$2, ban_reason=$3, updated_at=NOW()
        WHERE external_id=$4`
	return execOne(ctx, r.pool, query, at, until, reason, externalID)
}

func (r *userRepository) LiftBan(ctx context.Context, externalID string) error {
	const query = `
        UPDATE users SET is_banned=FALSE, banned_at=NULL, banned_until=NULL, ban_reason='',
            image_upload_warnings=0, last_image_warning_at=NULL, updated_at=NOW()
        WHERE external_id=$1`
	return execOne(ctx, r.pool, query, externalID)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ExternalID,
		&user.DisplayName,
		&user.Role,
		&user.IsOnline,
		&user.LastSeen,
		&user.ImageUploadWarnings,
		&user.LastImageWarningAt,
		&user.IsBanned,
		&user.BannedAt,
		&user.BannedUntil,
		&user.BanReason,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
