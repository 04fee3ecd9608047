package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

// ReserveKey claims an idempotency key for a request hash. A nil payload
// means the caller owns the key and must complete or release it. A completed
// key with the same hash returns the stored response for replay.
func (s *Store) ReserveKey(ctx context.Context, key, reqHash string) (*domain.IdempotencyPayload, error) {
	var stored domain.IdempotencyPayload
	var status *int
	var body []byte
	err := s.Db.QueryRow(ctx,
		"SELECT status, request_hash, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&stored.Status, &stored.RequestHash, &status, &body)

	if err == nil {
		if stored.RequestHash != reqHash {
			return nil, domain.ErrIdempotencyMismatch
		}
		if stored.Status != "completed" {
			return nil, domain.ErrIdempotencyConflict
		}
		if status != nil {
			stored.ResponseStatus = *status
		}
		stored.ResponseBody = body
		return &stored, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	_, err = s.Db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress')",
		key, reqHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	return nil, nil
}

// CompleteKey stores the response delivered for a reserved key. A key that
// already holds a response keeps it.
func (s *Store) CompleteKey(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE idempotency_keys SET status = 'completed', response_status = $2, response_body = $3 WHERE key = $1 AND status = 'in_progress'",
		key, status, body,
	)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

// ReleaseKey frees a reservation whose request failed so it may be retried.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.Db.Exec(ctx, "DELETE FROM idempotency_keys WHERE key = $1 AND status = 'in_progress'", key)
	if err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}
