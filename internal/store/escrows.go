package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

const escrowColumns = `id::text, creator_id, creator_address, recipient_id, recipient_address, amount, asset,
	deadline, status, escrow_public_key, tx_hashes, claim_hash, claimed_at, created_at, updated_at`

func scanEscrow(row pgx.Row) (*domain.Escrow, error) {
	var e domain.Escrow
	err := row.Scan(&e.ID, &e.CreatorID, &e.CreatorAddress, &e.RecipientID, &e.RecipientAddress,
		&e.Amount, &e.Asset, &e.Deadline, &e.Status, &e.CustodialKey, &e.TxHashes,
		&e.ClaimHash, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEscrow(ctx context.Context, id string) (*domain.Escrow, error) {
	e, err := scanEscrow(s.Db.QueryRow(ctx, "SELECT "+escrowColumns+" FROM escrows WHERE id::text = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow query failed: %w", err)
	}
	return e, nil
}

// ListEscrows returns escrows the user created or receives, newest first.
// Recipients are matched by id or, when address is set, by ledger address.
func (s *Store) ListEscrows(ctx context.Context, userID string, address *string) ([]domain.Escrow, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+escrowColumns+` FROM escrows
		 WHERE creator_id = $1 OR recipient_id = $1 OR ($2::text IS NOT NULL AND recipient_address = $2)
		 ORDER BY created_at DESC`,
		userID, address)
	if err != nil {
		return nil, fmt.Errorf("escrow list failed: %w", err)
	}
	return collectEscrows(rows)
}

// ExpiredEscrows returns pending, unclaimed escrows whose deadline is before now.
func (s *Store) ExpiredEscrows(ctx context.Context, now time.Time, limit int) ([]domain.Escrow, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+escrowColumns+` FROM escrows
		 WHERE status = 'pending' AND claim_hash IS NULL AND deadline < $1
		 ORDER BY deadline LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("expired escrow query failed: %w", err)
	}
	return collectEscrows(rows)
}

func collectEscrows(rows pgx.Rows) ([]domain.Escrow, error) {
	defer rows.Close()
	out := []domain.Escrow{}
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow scan failed: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ClaimEscrow journals intent and marks the escrow as being settled by it in
// one transaction. Only a pending, unclaimed escrow can be claimed; any other
// state yields ErrEscrowNotPending so concurrent settlements cannot both reach
// the ledger.
func (s *Store) ClaimEscrow(ctx context.Context, escrowID string, intent *domain.Intent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE escrows SET claim_hash = $2, claimed_at = NOW(), updated_at = NOW()
			 WHERE id::text = $1 AND status = 'pending' AND claim_hash IS NULL`,
			escrowID, intent.Hash)
		if err != nil {
			return fmt.Errorf("escrow claim failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM escrows WHERE id::text = $1)", escrowID).Scan(&exists); err != nil {
				return fmt.Errorf("escrow lookup failed: %w", err)
			}
			if !exists {
				return domain.ErrEscrowNotFound
			}
			return domain.ErrEscrowNotPending
		}
		return insertIntent(ctx, tx, intent)
	})
}

func insertEscrow(ctx context.Context, tx pgx.Tx, e *domain.Escrow) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO escrows (id, creator_id, creator_address, recipient_id, recipient_address, amount, asset,
			deadline, status, escrow_public_key, tx_hashes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.CreatorID, e.CreatorAddress, e.RecipientID, e.RecipientAddress, e.Amount, e.Asset,
		e.Deadline, e.Status, e.CustodialKey, e.TxHashes, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("escrow insert failed: %w", err)
	}
	return nil
}

func transitionEscrow(ctx context.Context, tx pgx.Tx, hash string, t *domain.EscrowTransition) error {
	tag, err := tx.Exec(ctx,
		`UPDATE escrows SET status = $2, tx_hashes = array_append(tx_hashes, $3), updated_at = NOW()
		 WHERE id::text = $1 AND status = 'pending'`,
		t.EscrowID, t.Status, hash)
	if err != nil {
		return fmt.Errorf("escrow update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEscrowNotPending
	}
	return nil
}
