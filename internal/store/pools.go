package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

func (s *Store) GetPool(ctx context.Context, id string) (*domain.SavingsPool, error) {
	var p domain.SavingsPool
	err := s.Db.QueryRow(ctx,
		`SELECT id::text, name, organizer_id, pool_address, target_amount, contribution, member_count,
			contributed, unlock_at, created_at
		 FROM savings_pools WHERE id::text = $1`, id,
	).Scan(&p.ID, &p.Name, &p.OrganizerID, &p.Address, &p.TargetAmount, &p.Contribution, &p.MemberCount,
		&p.Contributed, &p.UnlockAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool query failed: %w", err)
	}
	return &p, nil
}

// ListContributions returns a pool's contributions, oldest first.
func (s *Store) ListContributions(ctx context.Context, poolID string) ([]domain.Contribution, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id::text, pool_id::text, member_id, amount, tx_hash, created_at
		 FROM pool_contributions WHERE pool_id::text = $1 ORDER BY created_at`, poolID)
	if err != nil {
		return nil, fmt.Errorf("contribution query failed: %w", err)
	}
	defer rows.Close()

	out := []domain.Contribution{}
	for rows.Next() {
		var c domain.Contribution
		if err := rows.Scan(&c.ID, &c.PoolID, &c.MemberID, &c.Amount, &c.TxHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("contribution scan failed: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertPool(ctx context.Context, tx pgx.Tx, p *domain.SavingsPool) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO savings_pools (id, name, organizer_id, pool_address, target_amount, contribution,
			member_count, contributed, unlock_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.OrganizerID, p.Address, p.TargetAmount, p.Contribution, p.MemberCount, p.UnlockAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("pool insert failed: %w", err)
	}
	return nil
}

func insertContribution(ctx context.Context, tx pgx.Tx, c *domain.Contribution) error {
	tag, err := tx.Exec(ctx,
		`INSERT INTO pool_contributions (id, pool_id, member_id, amount, tx_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.PoolID, c.MemberID, c.Amount, c.TxHash, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("contribution insert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	_, err = tx.Exec(ctx,
		"UPDATE savings_pools SET contributed = contributed + $2 WHERE id::text = $1",
		c.PoolID, c.Amount)
	if err != nil {
		return fmt.Errorf("pool balance update failed: %w", err)
	}
	return nil
}

func applyWithdrawal(ctx context.Context, tx pgx.Tx, w *domain.Withdrawal) error {
	_, err := tx.Exec(ctx,
		"UPDATE savings_pools SET contributed = GREATEST(contributed - $2, 0) WHERE id::text = $1",
		w.PoolID, w.Amount)
	if err != nil {
		return fmt.Errorf("pool withdrawal update failed: %w", err)
	}
	return nil
}
