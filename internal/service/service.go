// Package service implements the wallet, escrow and savings-pool workflows
// over the ledger client, the store and the keystore.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

// Ledger is the subset of the ledger client the workflows use.
type Ledger interface {
	LoadAccount(ctx context.Context, address string) (*ledger.Account, error)
	Prepare(ctx context.Context, signer *keypair.Full, ops []txnbuild.Operation, memo string, cosigners ...*keypair.Full) (*ledger.Envelope, error)
	Submit(ctx context.Context, env *ledger.Envelope) (*ledger.Result, error)
	TransactionStatus(ctx context.Context, hash string) (ledger.TxStatus, error)
	FindPaths(ctx context.Context, source string, dest ledger.Asset, destAmount int64) ([]ledger.Path, error)
	Quote(ctx context.Context, sourceAsset, dest ledger.Asset, destAmount int64) (*ledger.Quote, error)
	Fund(ctx context.Context, address string) error
}

// Store is the persistence the workflows need.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	ProfileByAddress(ctx context.Context, address string) (*domain.Profile, error)
	LinkWallet(ctx context.Context, userID, address string) error

	GetEscrow(ctx context.Context, id string) (*domain.Escrow, error)
	ListEscrows(ctx context.Context, userID string, address *string) ([]domain.Escrow, error)
	ExpiredEscrows(ctx context.Context, now time.Time, limit int) ([]domain.Escrow, error)
	ClaimEscrow(ctx context.Context, escrowID string, intent *domain.Intent) error

	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)

	GetPool(ctx context.Context, id string) (*domain.SavingsPool, error)
	ListContributions(ctx context.Context, poolID string) ([]domain.Contribution, error)

	GetToken(ctx context.Context, id string) (*domain.IssuedToken, error)
	ListTokens(ctx context.Context, ownerID string) ([]domain.IssuedToken, error)

	CreateIntent(ctx context.Context, in *domain.Intent) error
	GetIntent(ctx context.Context, hash string) (*domain.Intent, error)
	FailIntent(ctx context.Context, hash string) error
	StaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.Intent, error)
	Complete(ctx context.Context, hash string, st *domain.Settlement) error
}

// Notifier pushes change events to connected users after commits.
type Notifier interface {
	Notify(userID, event string, payload any)
}

// Event names published to users.
const (
	EventTransactionCreated = "transaction.created"
	EventEscrowUpdated      = "escrow.updated"
	EventPoolUpdated        = "pool.updated"
	EventTokenIssued        = "token.issued"
)

// ErrOutcomeUnknown wraps submission errors that leave the ledger outcome
// undecided. The intent stays journaled until reconciliation settles it.
var ErrOutcomeUnknown = errors.New("submission outcome unknown")

type idempotencyKeyCtx struct{}

// WithIdempotencyKey tags the intents journaled under ctx with the scoped
// key of the request, so reconciliation can settle a key whose request
// ended before the ledger outcome was known.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func idempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, any) {}

// Deps bundles the collaborators shared by every workflow.
type Deps struct {
	Store    Store
	Ledger   Ledger
	Keystore keystore.Keystore
	Notifier Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

func (d *Deps) defaults() {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// signerFor loads the personal wallet key of userID. Secrets are keyed by
// address, so a write for one wallet can never replace another's.
func (d *Deps) signerFor(ctx context.Context, userID string) (*keys.Pair, error) {
	p, err := d.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.Address == nil {
		return nil, domain.ErrWalletNotFound
	}
	secret, err := d.Keystore.Get(ctx, *p.Address)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return keys.FromSecret(secret)
}

// custodialSigner loads the key of a custodial account by its address.
func (d *Deps) custodialSigner(ctx context.Context, address string) (*keys.Pair, error) {
	secret, err := d.Keystore.Get(ctx, address)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, domain.ErrCustodialSecretMissing
		}
		return nil, err
	}
	return keys.FromSecret(secret)
}

// resolveUser maps a ledger address to a user id. Unknown addresses stay nil.
func (d *Deps) resolveUser(ctx context.Context, address string) (*string, error) {
	p, err := d.Store.ProfileByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return nil, nil
		}
		return nil, err
	}
	id := p.UserID
	return &id, nil
}

// settle runs one journaled submission. The intent is written (and, when
// claimEscrow is set, the escrow claimed) before the ledger sees the
// envelope. A rejection fails the intent and frees the claim. An accepted
// submission whose record write fails stays journaled for reconciliation
// and is still reported as successful.
func (d *Deps) settle(ctx context.Context, env *ledger.Envelope, kind domain.IntentKind, st *domain.Settlement, claimEscrow string) (*ledger.Result, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode settlement: %w", err)
	}
	intent := &domain.Intent{Hash: env.Hash, Kind: kind, Payload: payload, IdempotencyKey: idempotencyKey(ctx)}
	if claimEscrow != "" {
		err = d.Store.ClaimEscrow(ctx, claimEscrow, intent)
	} else {
		err = d.Store.CreateIntent(ctx, intent)
	}
	if err != nil {
		return nil, err
	}

	res, err := d.Ledger.Submit(ctx, env)
	// Record writes must not be abandoned with the request.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		var serr *ledger.SubmitError
		if errors.As(err, &serr) || errors.Is(err, ledger.ErrMemoRequired) {
			ledgerSubmissions.WithLabelValues(string(kind), "rejected").Inc()
			if ferr := d.Store.FailIntent(bg, env.Hash); ferr != nil {
				d.Logger.Error("failed to mark intent failed", zap.String("hash", env.Hash), zap.Error(ferr))
			}
			return nil, err
		}
		ledgerSubmissions.WithLabelValues(string(kind), "unknown").Inc()
		d.Logger.Warn("submission outcome unknown, left for reconciliation",
			zap.String("hash", env.Hash), zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	ledgerSubmissions.WithLabelValues(string(kind), "accepted").Inc()

	if err := d.Store.Complete(bg, env.Hash, st); err != nil {
		d.Logger.Error("record write deferred to reconciliation",
			zap.String("hash", env.Hash), zap.String("kind", string(kind)), zap.Error(err))
	}
	return res, nil
}

// discardCustodial removes the secret of a custodial account that was never
// created. When hash is set the secret is kept unless the intent is known to
// have failed or was never journaled.
func (d *Deps) discardCustodial(ctx context.Context, address, hash string) {
	ctx = context.WithoutCancel(ctx)
	if hash != "" {
		in, err := d.Store.GetIntent(ctx, hash)
		if err == nil && in.State != domain.IntentFailed {
			return
		}
		if err != nil && !errors.Is(err, domain.ErrIntentNotFound) {
			return
		}
	}
	if err := d.Keystore.Delete(ctx, address); err != nil {
		d.Logger.Warn("failed to discard custodial secret", zap.String("custodial", address), zap.Error(err))
	}
}

func (d *Deps) announce(st *domain.Settlement) {
	t := st.Transaction
	if t == nil {
		return
	}
	if t.SenderID != nil {
		d.Notifier.Notify(*t.SenderID, EventTransactionCreated, t)
	}
	if t.ReceiverID != nil && (t.SenderID == nil || *t.ReceiverID != *t.SenderID) {
		d.Notifier.Notify(*t.ReceiverID, EventTransactionCreated, t)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
