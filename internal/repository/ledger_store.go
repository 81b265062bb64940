package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// updateLedger loads the unread map under a row lock, applies mutate and
// persists the result in the same transaction.
func updateLedger(
	ctx context.Context,
	pool *pgxpool.Pool,
	selectForUpdate string,
	persist func(pgx.Tx, *domain.UnreadLedger) error,
	id string,
	mutate func(*domain.UnreadLedger),
) (*domain.UnreadLedger, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var ledger domain.UnreadLedger
	if err := tx.QueryRow(ctx, selectForUpdate, id).Scan(&ledger.ByUser); err != nil {
		return nil, err
	}
	if ledger.ByUser == nil {
		ledger.ByUser = map[string]int{}
	}

	mutate(&ledger)

	if err := persist(tx, &ledger); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ledger, nil
}
