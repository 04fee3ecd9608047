package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

const (
	reconcileBatch = 100

	// ingestionGrace covers the delay between a ledger closing and Horizon
	// serving its transactions.
	ingestionGrace = 30 * time.Second
)

// KeySettler resolves the idempotency key held by an intent once its outcome
// is known. completed reports whether the intent's record writes applied.
type KeySettler interface {
	SettleKey(ctx context.Context, in *domain.Intent, st *domain.Settlement, completed bool) error
}

// Reconciler resolves intents whose outcome was never recorded by asking
// the ledger about their known hash.
type Reconciler struct {
	Deps
	staleAfter time.Duration
	keys       KeySettler
}

// NewReconciler only looks at intents older than staleAfter, which is
// raised to the transaction time bound plus ingestion lag when shorter.
func NewReconciler(d Deps, staleAfter time.Duration) *Reconciler {
	d.defaults()
	if floor := ledger.SubmitTimeout + ingestionGrace; staleAfter < floor {
		staleAfter = floor
	}
	return &Reconciler{Deps: d, staleAfter: staleAfter}
}

// SettleKeysWith hands every resolved intent that carries an idempotency
// key to k.
func (r *Reconciler) SettleKeysWith(k KeySettler) { r.keys = k }

type ReconcileResult struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Reconcile replays the record writes of intents that landed on the ledger
// and fails those that can no longer land. An intent that cannot be
// resolved is counted pending and the batch moves on.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	now := r.Now()
	stale, err := r.Store.StaleIntents(ctx, now.Add(-r.staleAfter), reconcileBatch)
	if err != nil {
		return res, err
	}

	for i := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		in := &stale[i]
		var st domain.Settlement
		if err := json.Unmarshal(in.Payload, &st); err != nil {
			r.Logger.Error("undecodable intent payload", zap.String("hash", in.Hash), zap.Error(err))
			res.Pending++
			continue
		}

		status, err := r.Ledger.TransactionStatus(ctx, in.Hash)
		if err != nil {
			r.Logger.Warn("intent status lookup failed", zap.String("hash", in.Hash), zap.Error(err))
			res.Pending++
			continue
		}

		switch {
		case status == ledger.TxSucceeded:
			if err := r.Store.Complete(ctx, in.Hash, &st); err != nil {
				r.Logger.Error("intent replay failed", zap.String("hash", in.Hash), zap.String("kind", string(in.Kind)), zap.Error(err))
				res.Pending++
				continue
			}
			res.Completed++
			intentsReconciled.WithLabelValues("completed").Inc()
			r.Logger.Info("intent replayed", zap.String("hash", in.Hash), zap.String("kind", string(in.Kind)))
			r.settleKey(ctx, in, &st, true)
			r.announce(&st)

		case status == ledger.TxFailed || now.After(in.CreatedAt.Add(ledger.SubmitTimeout+ingestionGrace)):
			if err := r.Store.FailIntent(ctx, in.Hash); err != nil {
				r.Logger.Error("intent fail write failed", zap.String("hash", in.Hash), zap.Error(err))
				res.Pending++
				continue
			}
			if key := st.CustodialKey(); key != "" {
				r.discardCustodial(ctx, key, in.Hash)
			}
			res.Failed++
			intentsReconciled.WithLabelValues("failed").Inc()
			r.Logger.Info("intent failed", zap.String("hash", in.Hash), zap.String("kind", string(in.Kind)))
			r.settleKey(ctx, in, &st, false)

		default:
			res.Pending++
		}
	}
	return res, nil
}

func (r *Reconciler) settleKey(ctx context.Context, in *domain.Intent, st *domain.Settlement, completed bool) {
	if r.keys == nil || in.IdempotencyKey == "" {
		return
	}
	if err := r.keys.SettleKey(context.WithoutCancel(ctx), in, st, completed); err != nil {
		r.Logger.Error("idempotency key left reserved",
			zap.String("hash", in.Hash), zap.String("key", in.IdempotencyKey), zap.Error(err))
	}
}
