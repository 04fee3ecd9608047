package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

func insertTransaction(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, sender_id, receiver_id, amount, asset, memo, tx_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.SenderID, t.ReceiverID, t.Amount, t.Asset, t.Memo, t.TxHash, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

// ListTransactions returns the user's sent and received records, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id::text, sender_id, receiver_id, amount, asset, memo, tx_hash, status, created_at
		 FROM transactions WHERE sender_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	defer rows.Close()

	out := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Asset, &t.Memo, &t.TxHash, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("transaction scan failed: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
