package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

func insertIntent(ctx context.Context, tx pgx.Tx, in *domain.Intent) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO intents (hash, kind, payload, state, idempotency_key) VALUES ($1, $2, $3, 'submitted', NULLIF($4, ''))",
		in.Hash, in.Kind, []byte(in.Payload), in.IdempotencyKey)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("intent insert failed: %w", err)
	}
	return nil
}

// CreateIntent journals a submission before it reaches the ledger.
func (s *Store) CreateIntent(ctx context.Context, in *domain.Intent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error { return insertIntent(ctx, tx, in) })
}

// FailIntent marks a submission as rejected and frees any escrow it claimed.
func (s *Store) FailIntent(ctx context.Context, hash string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE intents SET state = 'failed', updated_at = NOW() WHERE hash = $1 AND state = 'submitted'",
			hash)
		if err != nil {
			return fmt.Errorf("intent update failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			"UPDATE escrows SET claim_hash = NULL, claimed_at = NULL, updated_at = NOW() WHERE claim_hash = $1 AND status = 'pending'",
			hash)
		if err != nil {
			return fmt.Errorf("escrow unclaim failed: %w", err)
		}
		return nil
	})
}

// StaleIntents lists submitted intents created before cutoff, oldest first.
func (s *Store) StaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.Intent, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT hash, kind, payload, state, COALESCE(idempotency_key, ''), created_at, updated_at FROM intents
		 WHERE state = 'submitted' AND created_at < $1 ORDER BY created_at LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("intent query failed: %w", err)
	}
	defer rows.Close()

	out := []domain.Intent{}
	for rows.Next() {
		var in domain.Intent
		var payload []byte
		if err := rows.Scan(&in.Hash, &in.Kind, &payload, &in.State, &in.IdempotencyKey, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("intent scan failed: %w", err)
		}
		in.Payload = json.RawMessage(payload)
		out = append(out, in)
	}
	return out, rows.Err()
}

// GetIntent returns one journal entry.
func (s *Store) GetIntent(ctx context.Context, hash string) (*domain.Intent, error) {
	var in domain.Intent
	var payload []byte
	err := s.Db.QueryRow(ctx,
		"SELECT hash, kind, payload, state, COALESCE(idempotency_key, ''), created_at, updated_at FROM intents WHERE hash = $1", hash,
	).Scan(&in.Hash, &in.Kind, &payload, &in.State, &in.IdempotencyKey, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, fmt.Errorf("intent query failed: %w", err)
	}
	in.Payload = json.RawMessage(payload)
	return &in, nil
}

// Complete applies the record writes of a settlement and marks its intent
// completed in one transaction. Completing an already completed intent is a
// no-op, so reconciliation may replay safely.
func (s *Store) Complete(ctx context.Context, hash string, st *domain.Settlement) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var state domain.IntentState
		err := tx.QueryRow(ctx, "SELECT state FROM intents WHERE hash = $1 FOR UPDATE", hash).Scan(&state)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrIntentNotFound
			}
			return fmt.Errorf("intent lock failed: %w", err)
		}
		if state == domain.IntentCompleted {
			return nil
		}

		if st.Escrow != nil {
			if err := insertEscrow(ctx, tx, st.Escrow); err != nil {
				return err
			}
		}
		if st.Transition != nil {
			if err := transitionEscrow(ctx, tx, hash, st.Transition); err != nil {
				return err
			}
		}
		if st.Pool != nil {
			if err := insertPool(ctx, tx, st.Pool); err != nil {
				return err
			}
		}
		if st.Contribution != nil {
			if err := insertContribution(ctx, tx, st.Contribution); err != nil {
				return err
			}
		}
		if st.Withdrawal != nil {
			if err := applyWithdrawal(ctx, tx, st.Withdrawal); err != nil {
				return err
			}
		}
		if st.Token != nil {
			if err := insertToken(ctx, tx, st.Token); err != nil {
				return err
			}
		}
		if st.Transaction != nil {
			if err := insertTransaction(ctx, tx, st.Transaction); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			"UPDATE intents SET state = 'completed', updated_at = NOW() WHERE hash = $1", hash)
		if err != nil {
			return fmt.Errorf("intent completion failed: %w", err)
		}
		return nil
	})
}
