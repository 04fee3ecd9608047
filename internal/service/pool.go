package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

const (
	memoPoolContribution = "Pool contribution"
	memoPoolWithdrawal   = "Pool withdrawal"
)

type PoolService struct {
	Deps
	margin int64
}

// NewPoolService builds the savings-pool workflows. margin is the starting
// balance a pool account is created with, before any contribution.
func NewPoolService(d Deps, margin int64) *PoolService {
	d.defaults()
	if margin <= 0 {
		margin = DefaultReserveMargin
	}
	return &PoolService{Deps: d, margin: margin}
}

type CreatePoolRequest struct {
	Name         string
	TargetAmount int64
	Contribution int64
	MemberCount  int
	UnlockAt     *time.Time
	// FirstDeposit defaults to Contribution.
	FirstDeposit int64
}

// PoolView is a pool with its balance read from the ledger. Contributed is
// the bookkept total and Drift the difference between the two.
type PoolView struct {
	domain.SavingsPool
	LedgerBalance int64                 `json:"ledger_balance"`
	Balance       int64                 `json:"balance"`
	Drift         int64                 `json:"drift"`
	Contributions []domain.Contribution `json:"contributions"`
}

// Create opens the pool account and makes the organizer's first deposit in
// a single transaction.
func (s *PoolService) Create(ctx context.Context, userID string, req CreatePoolRequest) (*PoolView, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.FirstDeposit == 0 {
		req.FirstDeposit = req.Contribution
	}
	if req.Name == "" || req.MemberCount < 1 {
		return nil, domain.ErrInvalidPool
	}
	if req.TargetAmount <= 0 || req.Contribution <= 0 || req.FirstDeposit <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	now := s.Now()
	if req.UnlockAt != nil && !req.UnlockAt.After(now) {
		return nil, domain.ErrDeadlineInPast
	}

	organizer, err := s.signerFor(ctx, userID)
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

	ops := []txnbuild.Operation{
		ledger.CreateAccountOp(custodial.Address(), s.margin),
		ledger.PaymentOp(custodial.Address(), ledger.Native(), req.FirstDeposit),
	}
	env, err := s.Ledger.Prepare(ctx, organizer.Signer(), ops, memoPoolContribution)
	if err != nil {
		s.discardCustodial(ctx, custodial.Address(), "")
		return nil, err
	}

	var unlock *time.Time
	if req.UnlockAt != nil {
		u := req.UnlockAt.UTC()
		unlock = &u
	}
	pool := &domain.SavingsPool{
		ID:           uuid.NewString(),
		Name:         req.Name,
		OrganizerID:  userID,
		Address:      custodial.Address(),
		TargetAmount: req.TargetAmount,
		Contribution: req.Contribution,
		MemberCount:  req.MemberCount,
		UnlockAt:     unlock,
		CreatedAt:    now.UTC(),
	}
	st := s.contributionSettlement(pool, userID, req.FirstDeposit, env.Hash)
	st.Pool = pool
	if _, err := s.settle(ctx, env, domain.IntentPoolCreate, st, ""); err != nil {
		s.discardCustodial(ctx, custodial.Address(), env.Hash)
		return nil, err
	}

	s.Logger.Info("savings pool created", zap.String("pool", pool.ID), zap.String("address", pool.Address))
	s.announce(st)
	pool.Contributed = req.FirstDeposit
	return &PoolView{
		SavingsPool:   *pool,
		LedgerBalance: s.margin + req.FirstDeposit,
		Balance:       req.FirstDeposit,
		Contributions: []domain.Contribution{*st.Contribution},
	}, nil
}

func (s *PoolService) contributionSettlement(pool *domain.SavingsPool, memberID string, amount int64, hash string) *domain.Settlement {
	now := s.Now().UTC()
	member := memberID
	return &domain.Settlement{
		Contribution: &domain.Contribution{
			ID:        uuid.NewString(),
			PoolID:    pool.ID,
			MemberID:  memberID,
			Amount:    amount,
			TxHash:    hash,
			CreatedAt: now,
		},
		Transaction: &domain.Transaction{
			ID:        uuid.NewString(),
			SenderID:  &member,
			Amount:    amount,
			Asset:     domain.NativeAsset,
			Memo:      strPtr(memoPoolContribution),
			TxHash:    hash,
			Status:    "completed",
			CreatedAt: now,
		},
	}
}

// Contribute pays amount from the member's wallet into the pool.
func (s *PoolService) Contribute(ctx context.Context, userID, poolID string, amount int64) (*domain.Contribution, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	pool, err := s.Store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	member, err := s.signerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	env, err := s.Ledger.Prepare(ctx, member.Signer(),
		[]txnbuild.Operation{ledger.PaymentOp(pool.Address, ledger.Native(), amount)}, memoPoolContribution)
	if err != nil {
		return nil, err
	}
	st := s.contributionSettlement(pool, userID, amount, env.Hash)
	if _, err := s.settle(ctx, env, domain.IntentPoolContribution, st, ""); err != nil {
		return nil, err
	}
	s.announce(st)
	s.Notifier.Notify(pool.OrganizerID, EventPoolUpdated, st.Contribution)
	return st.Contribution, nil
}

// Get reads the pool balance from the ledger on every call.
func (s *PoolService) Get(ctx context.Context, poolID string) (*PoolView, error) {
	pool, err := s.Store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	acc, err := s.Ledger.LoadAccount(ctx, pool.Address)
	if err != nil {
		return nil, err
	}
	contributions, err := s.Store.ListContributions(ctx, poolID)
	if err != nil {
		return nil, err
	}
	raw := acc.Balance(ledger.Native())
	available := max(raw-s.margin, 0)
	return &PoolView{
		SavingsPool:   *pool,
		LedgerBalance: raw,
		Balance:       available,
		Drift:         available - pool.Contributed,
		Contributions: contributions,
	}, nil
}

// Withdraw pays amount out of the pool. Only the organizer may withdraw and
// never before the unlock time. An empty destination pays the organizer.
func (s *PoolService) Withdraw(ctx context.Context, userID, poolID string, amount int64, destination string) (*Receipt, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	pool, err := s.Store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.OrganizerID != userID {
		return nil, domain.ErrUnauthorized
	}
	if pool.Locked(s.Now()) {
		return nil, domain.ErrPoolLocked
	}
	if destination == "" {
		p, err := s.Store.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		destination = *p.Address
	}
	if err := keys.ValidateAddress(destination); err != nil {
		return nil, err
	}

	acc, err := s.Ledger.LoadAccount(ctx, pool.Address)
	if err != nil {
		return nil, err
	}
	if acc.Balance(ledger.Native())-s.margin < amount {
		return nil, ledger.ErrInsufficientBalance
	}
	custodial, err := s.custodialSigner(ctx, pool.Address)
	if err != nil {
		return nil, err
	}
	env, err := s.Ledger.Prepare(ctx, custodial.Signer(),
		[]txnbuild.Operation{ledger.PaymentOp(destination, ledger.Native(), amount)}, memoPoolWithdrawal)
	if err != nil {
		return nil, err
	}

	receiver, err := s.resolveUser(ctx, destination)
	if err != nil && !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	organizer := userID
	tx := domain.Transaction{
		ID:         uuid.NewString(),
		SenderID:   &organizer,
		ReceiverID: receiver,
		Amount:     amount,
		Asset:      domain.NativeAsset,
		Memo:       strPtr(memoPoolWithdrawal),
		TxHash:     env.Hash,
		Status:     "completed",
		CreatedAt:  s.Now().UTC(),
	}
	st := &domain.Settlement{
		Withdrawal:  &domain.Withdrawal{PoolID: pool.ID, Amount: amount},
		Transaction: &tx,
	}
	res, err := s.settle(ctx, env, domain.IntentPoolWithdrawal, st, "")
	if err != nil {
		return nil, err
	}
	s.announce(st)
	return &Receipt{Transaction: tx, Ledger: res.Ledger}, nil
}
