package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

const tokenColumns = "id::text, owner_id, code, issuer, distributor, amount, trust_limit, tx_hash, created_at"

func scanToken(row pgx.Row) (*domain.IssuedToken, error) {
	var t domain.IssuedToken
	err := row.Scan(&t.ID, &t.OwnerID, &t.Code, &t.Issuer, &t.Distributor, &t.Amount, &t.Limit, &t.TxHash, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*domain.IssuedToken, error) {
	t, err := scanToken(s.Db.QueryRow(ctx, "SELECT "+tokenColumns+" FROM issued_tokens WHERE id::text = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("token query failed: %w", err)
	}
	return t, nil
}

// ListTokens returns the tokens ownerID issued, newest first.
func (s *Store) ListTokens(ctx context.Context, ownerID string) ([]domain.IssuedToken, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+tokenColumns+" FROM issued_tokens WHERE owner_id = $1 ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("token query failed: %w", err)
	}
	defer rows.Close()

	out := []domain.IssuedToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("token scan failed: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func insertToken(ctx context.Context, tx pgx.Tx, t *domain.IssuedToken) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO issued_tokens (id, owner_id, code, issuer, distributor, amount, trust_limit, tx_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.OwnerID, t.Code, t.Issuer, t.Distributor, t.Amount, t.Limit, t.TxHash, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("token insert failed: %w", err)
	}
	return nil
}
