package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/models"
	"github.com/punchamoorthee/stellarremit/internal/service"
)

const maxBodyBytes = 1 << 20

// IdempotencyStore reserves keys before work starts and stores the response
// once it finishes.
type IdempotencyStore interface {
	ReserveKey(ctx context.Context, key, reqHash string) (*domain.IdempotencyPayload, error)
	CompleteKey(ctx context.Context, key string, status int, body []byte) error
	ReleaseKey(ctx context.Context, key string) error
}

// idempotent runs fn at most once per user and Idempotency-Key. A repeated
// request with the same body replays the stored response; a different body
// is rejected. Failed requests free the key, except when the ledger outcome
// is unknown: the key then stays reserved so a retry cannot submit twice,
// and reconciliation settles it through SettleKey.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, body []byte) (int, any, error)) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}
	sum := sha256.Sum256(body)
	reqHash := hex.EncodeToString(sum[:])
	scoped := UserID(r.Context()) + ":" + key

	existing, err := h.idem.ReserveKey(r.Context(), scoped, reqHash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if existing != nil {
		w.Header().Set("Idempotent-Replayed", "true")
		respondWithRaw(w, existing.ResponseStatus, existing.ResponseBody)
		return
	}

	bg := context.WithoutCancel(r.Context())
	status, payload, err := fn(service.WithIdempotencyKey(r.Context(), scoped), body)
	if err != nil {
		if errors.Is(err, service.ErrOutcomeUnknown) {
			h.logger.Warn("idempotency key held until reconciliation", zap.String("key", scoped))
		} else if rerr := h.idem.ReleaseKey(bg, scoped); rerr != nil {
			h.logger.Error("failed to release idempotency key", zap.String("key", scoped), zap.Error(rerr))
		}
		h.writeError(w, r, err)
		return
	}

	out, err := json.Marshal(payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.idem.CompleteKey(bg, scoped, status, out); err != nil {
		h.logger.Error("failed to store idempotent response", zap.String("key", scoped), zap.Error(err))
	}
	respondWithRaw(w, status, out)
}

// SettleKey resolves the key of a request that returned before its ledger
// outcome was known. A completed intent stores the response the request
// would have returned; a failed one frees the key for a retry.
func (h *Handler) SettleKey(ctx context.Context, in *domain.Intent, st *domain.Settlement, completed bool) error {
	if !completed {
		return h.idem.ReleaseKey(ctx, in.IdempotencyKey)
	}
	status, payload, err := h.recoveredResponse(ctx, in, st)
	if err != nil {
		return err
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := h.idem.CompleteKey(ctx, in.IdempotencyKey, status, out); err != nil {
		return err
	}
	h.logger.Info("idempotency key settled by reconciliation",
		zap.String("key", in.IdempotencyKey), zap.String("hash", in.Hash))
	return nil
}

func (h *Handler) recoveredResponse(ctx context.Context, in *domain.Intent, st *domain.Settlement) (int, any, error) {
	switch {
	case st.Token != nil:
		return http.StatusCreated, models.FromToken(*st.Token), nil
	case st.Escrow != nil:
		return http.StatusCreated, models.FromEscrow(*st.Escrow), nil
	case st.Pool != nil:
		v, err := h.pools.Get(ctx, st.Pool.ID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, models.FromPool(v.SavingsPool, v.Balance, v.Drift, v.Contributions), nil
	case st.Contribution != nil:
		return http.StatusCreated, models.FromContribution(*st.Contribution), nil
	case st.Transaction != nil:
		return http.StatusCreated, receipt(&service.Receipt{Transaction: *st.Transaction}), nil
	}
	return 0, nil, fmt.Errorf("no response recorded for %s intent %s", in.Kind, in.Hash)
}

func decodeBody(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeRequest(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	return decodeBody(body, dst)
}
