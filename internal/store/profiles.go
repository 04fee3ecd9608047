package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
)

// GetProfile returns the profile of userID. Users without a linked wallet
// yield ErrWalletNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.Db.QueryRow(ctx,
		"SELECT user_id, stellar_public_key, created_at, updated_at FROM profiles WHERE user_id = $1",
		userID,
	).Scan(&p.UserID, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("profile query failed: %w", err)
	}
	if p.Address == nil {
		return nil, domain.ErrWalletNotFound
	}
	return &p, nil
}

// ProfileByAddress resolves the user that registered address.
func (s *Store) ProfileByAddress(ctx context.Context, address string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.Db.QueryRow(ctx,
		"SELECT user_id, stellar_public_key, created_at, updated_at FROM profiles WHERE stellar_public_key = $1",
		address,
	).Scan(&p.UserID, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("profile query failed: %w", err)
	}
	return &p, nil
}

// LinkWallet records address as the wallet of userID. Relinking the same
// address is a no-op; a different address is ErrWalletExists and an address
// owned by another user is ErrWalletLinked.
func (s *Store) LinkWallet(ctx context.Context, userID, address string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var current *string
		err := tx.QueryRow(ctx,
			"SELECT stellar_public_key FROM profiles WHERE user_id = $1 FOR UPDATE",
			userID,
		).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx,
				"INSERT INTO profiles (user_id, stellar_public_key) VALUES ($1, $2)",
				userID, address)
		case err != nil:
			return fmt.Errorf("profile lock failed: %w", err)
		case current != nil && *current == address:
			return nil
		case current != nil:
			return domain.ErrWalletExists
		default:
			_, err = tx.Exec(ctx,
				"UPDATE profiles SET stellar_public_key = $2, updated_at = NOW() WHERE user_id = $1",
				userID, address)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrWalletLinked
			}
			return fmt.Errorf("profile write failed: %w", err)
		}
		return nil
	})
}

// PutSecret upserts a sealed secret.
func (s *Store) PutSecret(ctx context.Context, ownerID, sealed string) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO stellar_secrets (owner_id, encrypted_secret) VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET encrypted_secret = EXCLUDED.encrypted_secret`,
		ownerID, sealed)
	if err != nil {
		return fmt.Errorf("secret upsert failed: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, ownerID string) (string, error) {
	var sealed string
	err := s.Db.QueryRow(ctx,
		"SELECT encrypted_secret FROM stellar_secrets WHERE owner_id = $1", ownerID,
	).Scan(&sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", keystore.ErrNotFound
		}
		return "", fmt.Errorf("secret query failed: %w", err)
	}
	return sealed, nil
}

func (s *Store) DeleteSecret(ctx context.Context, ownerID string) error {
	if _, err := s.Db.Exec(ctx, "DELETE FROM stellar_secrets WHERE owner_id = $1", ownerID); err != nil {
		return fmt.Errorf("secret delete failed: %w", err)
	}
	return nil
}
