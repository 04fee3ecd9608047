package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

// DefaultReserveMargin is added on top of the escrowed amount when funding
// a custodial account (2.5 XLM). It is a flat constant, not derived from the
// network's current base reserve and fees.
const DefaultReserveMargin int64 = 25_000_000

const (
	memoEscrowDeposit = "Escrow deposit"
	memoEscrowRelease = "Escrow release"
	memoEscrowRefund  = "Escrow refund"
)

type EscrowConfig struct {
	ReserveMargin int64
	Policy        EscrowPolicy
}

type EscrowService struct {
	Deps
	cfg EscrowConfig
}

func NewEscrowService(d Deps, cfg EscrowConfig) *EscrowService {
	d.defaults()
	if cfg.ReserveMargin <= 0 {
		cfg.ReserveMargin = DefaultReserveMargin
	}
	if cfg.Policy == nil {
		cfg.Policy, _ = ParsePolicy("")
	}
	return &EscrowService{Deps: d, cfg: cfg}
}

// Policy returns the deadline policy shared with the sweeper.
func (s *EscrowService) Policy() EscrowPolicy { return s.cfg.Policy }

type CreateEscrowRequest struct {
	RecipientAddress string
	Amount           int64
	Asset            string
	Deadline         time.Time
}

// Create funds a fresh custodial account with amount plus the reserve margin
// and records the escrow as pending. Nothing is persisted when the ledger
// rejects the funding transaction.
func (s *EscrowService) Create(ctx context.Context, userID string, req CreateEscrowRequest) (*domain.Escrow, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := keys.ValidateAddress(req.RecipientAddress); err != nil {
		return nil, err
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil || !asset.IsNative() {
		return nil, domain.ErrUnsupportedAsset
	}
	now := s.Now()
	if err := s.cfg.Policy.CheckCreate(req.Deadline, now); err != nil {
		return nil, err
	}

	creator, err := s.signerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Ledger.LoadAccount(ctx, req.RecipientAddress); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, domain.ErrRecipientNotFound
		}
		return nil, err
	}
	recipientID, err := s.resolveUser(ctx, req.RecipientAddress)
	if err != nil {
		return nil, err
	}

	custodial, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.Keystore.Put(ctx, custodial.Address(), custodial.Seed()); err != nil {
		return nil, err
	}

	ops := []txnbuild.Operation{ledger.CreateAccountOp(custodial.Address(), req.Amount+s.cfg.ReserveMargin)}
	env, err := s.Ledger.Prepare(ctx, creator.Signer(), ops, memoEscrowDeposit)
	if err != nil {
		s.discardCustodial(ctx, custodial.Address(), "")
		return nil, err
	}

	e := &domain.Escrow{
		ID:               uuid.NewString(),
		CreatorID:        userID,
		CreatorAddress:   creator.Address(),
		RecipientID:      recipientID,
		RecipientAddress: req.RecipientAddress,
		Amount:           req.Amount,
		Asset:            domain.NativeAsset,
		Deadline:         req.Deadline.UTC(),
		Status:           domain.EscrowPending,
		CustodialKey:     custodial.Address(),
		TxHashes:         []string{env.Hash},
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
	if _, err := s.settle(ctx, env, domain.IntentEscrowCreate, &domain.Settlement{Escrow: e}, ""); err != nil {
		s.discardCustodial(ctx, custodial.Address(), env.Hash)
		return nil, err
	}

	escrowTransitions.WithLabelValues(string(domain.EscrowPending)).Inc()
	s.Logger.Info("escrow created",
		zap.String("escrow", e.ID),
		zap.String("custodial", e.CustodialKey),
		zap.String("hash", env.Hash),
		zap.Int64("amount", e.Amount))
	s.notifyEscrow(e)
	return e, nil
}

// Release pays the escrowed amount to the recipient and merges the rest of
// the custodial account back to the creator. The escrow is claimed before
// any submission, so at most one release reaches the ledger.
func (s *EscrowService) Release(ctx context.Context, userID, escrowID string) (*domain.Escrow, error) {
	e, err := s.Store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !e.CanTransition(domain.EscrowReleased) || e.Claimed() {
		return nil, domain.ErrEscrowNotPending
	}
	var callerAddress *string
	if p, err := s.Store.GetProfile(ctx, userID); err == nil {
		callerAddress = p.Address
	} else if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	if !e.IsRecipient(userID, callerAddress) {
		return nil, domain.ErrUnauthorized
	}
	if err := s.cfg.Policy.CheckRelease(e, s.Now()); err != nil {
		return nil, err
	}

	custodial, err := s.custodialSigner(ctx, e.CustodialKey)
	if err != nil {
		return nil, err
	}
	ops := []txnbuild.Operation{
		ledger.PaymentOp(e.RecipientAddress, ledger.Native(), e.Amount),
		ledger.MergeOp(e.CreatorAddress),
	}
	env, err := s.Ledger.Prepare(ctx, custodial.Signer(), ops, memoEscrowRelease)
	if err != nil {
		return nil, err
	}

	receiver := userID
	return s.finish(ctx, e, env, domain.IntentEscrowRelease, domain.EscrowReleased, &receiver, memoEscrowRelease)
}

// Refund returns the custodial balance to the creator once the deadline has
// passed. Only the creator may ask for it.
func (s *EscrowService) Refund(ctx context.Context, userID, escrowID string) (*domain.Escrow, error) {
	e, err := s.Store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.CreatorID != userID {
		return nil, domain.ErrUnauthorized
	}
	return s.refund(ctx, e)
}

// Expire refunds an escrow the policy no longer allows to be released.
func (s *EscrowService) Expire(ctx context.Context, e *domain.Escrow) (*domain.Escrow, error) {
	if !Expired(s.cfg.Policy, e, s.Now()) {
		return nil, domain.ErrDeadlineNotReached
	}
	return s.refund(ctx, e)
}

func (s *EscrowService) refund(ctx context.Context, e *domain.Escrow) (*domain.Escrow, error) {
	if !e.CanTransition(domain.EscrowExpired) || e.Claimed() {
		return nil, domain.ErrEscrowNotPending
	}
	if err := s.cfg.Policy.CheckRefund(e, s.Now()); err != nil {
		return nil, err
	}
	custodial, err := s.custodialSigner(ctx, e.CustodialKey)
	if err != nil {
		return nil, err
	}
	env, err := s.Ledger.Prepare(ctx, custodial.Signer(), []txnbuild.Operation{ledger.MergeOp(e.CreatorAddress)}, memoEscrowRefund)
	if err != nil {
		return nil, err
	}
	creator := e.CreatorID
	return s.finish(ctx, e, env, domain.IntentEscrowRefund, domain.EscrowExpired, &creator, memoEscrowRefund)
}

func (s *EscrowService) finish(ctx context.Context, e *domain.Escrow, env *ledger.Envelope, kind domain.IntentKind, status domain.EscrowStatus, receiver *string, memo string) (*domain.Escrow, error) {
	creator := e.CreatorID
	tx := &domain.Transaction{
		ID:         uuid.NewString(),
		SenderID:   &creator,
		ReceiverID: receiver,
		Amount:     e.Amount,
		Asset:      e.Asset,
		Memo:       strPtr(memo),
		TxHash:     env.Hash,
		Status:     "completed",
		CreatedAt:  s.Now().UTC(),
	}
	st := &domain.Settlement{
		Transition:  &domain.EscrowTransition{EscrowID: e.ID, Status: status},
		Transaction: tx,
	}
	if _, err := s.settle(ctx, env, kind, st, e.ID); err != nil {
		return nil, err
	}

	out := *e
	out.Status = status
	out.TxHashes = append(append([]string(nil), e.TxHashes...), env.Hash)
	out.ClaimHash = &env.Hash
	out.UpdatedAt = s.Now().UTC()

	escrowTransitions.WithLabelValues(string(status)).Inc()
	s.Logger.Info("escrow settled",
		zap.String("escrow", e.ID),
		zap.String("status", string(status)),
		zap.String("hash", env.Hash))
	s.announce(st)
	s.notifyEscrow(&out)
	return &out, nil
}

// Get returns an escrow visible to the caller as creator or recipient.
func (s *EscrowService) Get(ctx context.Context, userID, escrowID string) (*domain.Escrow, error) {
	e, err := s.Store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.CreatorID == userID {
		return e, nil
	}
	var addr *string
	if p, err := s.Store.GetProfile(ctx, userID); err == nil {
		addr = p.Address
	}
	if !e.IsRecipient(userID, addr) {
		return nil, domain.ErrEscrowNotFound
	}
	return e, nil
}

// List returns escrows the caller created or receives.
func (s *EscrowService) List(ctx context.Context, userID string) ([]domain.Escrow, error) {
	var addr *string
	if p, err := s.Store.GetProfile(ctx, userID); err == nil {
		addr = p.Address
	} else if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	return s.Store.ListEscrows(ctx, userID, addr)
}

func (s *EscrowService) notifyEscrow(e *domain.Escrow) {
	s.Notifier.Notify(e.CreatorID, EventEscrowUpdated, e)
	if e.RecipientID != nil && *e.RecipientID != e.CreatorID {
		s.Notifier.Notify(*e.RecipientID, EventEscrowUpdated, e)
	}
}
