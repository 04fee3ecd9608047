package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

const (
	memoTokenIssue        = "Token issuance"
	memoTokenDistribution = "Token distribution"

	// DistributorBalance covers the distributor's base reserve and its one
	// trustline.
	DistributorBalance int64 = 2 * 10_000_000
	// DefaultIssueAmount is minted when neither an amount nor a limit is given.
	DefaultIssueAmount int64 = 1_000_000 * 10_000_000
)

type TokenService struct {
	Deps
}

func NewTokenService(d Deps) *TokenService {
	d.defaults()
	return &TokenService{Deps: d}
}

type IssueTokenRequest struct {
	Code string
	// Amount defaults to Limit, or DefaultIssueAmount without one.
	Amount int64
	// Limit caps the distributor's trustline. Zero means the protocol maximum.
	Limit int64
	// IssuerSecret signs for a separate issuing account. It is used for this
	// request only and never stored. Empty issues from the caller's wallet.
	IssuerSecret string
}

// Issue mints a new credit asset. One transaction, signed by the issuer and
// a fresh custodial distributor, creates the distributor account, opens its
// trustline to CODE:ISSUER and pays it the issued amount, so a token either
// exists in full or not at all.
func (s *TokenService) Issue(ctx context.Context, userID string, req IssueTokenRequest) (*domain.IssuedToken, error) {
	if req.Amount < 0 || req.Limit < 0 {
		return nil, domain.ErrInvalidAmount
	}
	amount := req.Amount
	if amount == 0 {
		amount = DefaultIssueAmount
		if req.Limit > 0 {
			amount = req.Limit
		}
	}
	if req.Limit > 0 && amount > req.Limit {
		return nil, domain.ErrInvalidAmount
	}

	var (
		issuer *keys.Pair
		err    error
	)
	if req.IssuerSecret != "" {
		issuer, err = keys.FromSecret(req.IssuerSecret)
	} else {
		issuer, err = s.signerFor(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	asset, err := ledger.CreditAsset(req.Code, issuer.Address())
	if err != nil {
		return nil, err
	}
	trust, err := ledger.ChangeTrustOp(asset, req.Limit)
	if err != nil {
		return nil, err
	}

	distributor, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.Keystore.Put(ctx, distributor.Address(), distributor.Seed()); err != nil {
		return nil, err
	}

	ops := []txnbuild.Operation{
		ledger.CreateAccountOp(distributor.Address(), DistributorBalance),
		ledger.As(distributor.Address(), trust),
		ledger.PaymentOp(distributor.Address(), asset, amount),
	}
	env, err := s.Ledger.Prepare(ctx, issuer.Signer(), ops, memoTokenIssue, distributor.Signer())
	if err != nil {
		s.discardCustodial(ctx, distributor.Address(), "")
		return nil, err
	}

	now := s.Now().UTC()
	tok := &domain.IssuedToken{
		ID:          uuid.NewString(),
		OwnerID:     userID,
		Code:        asset.Code,
		Issuer:      asset.Issuer,
		Distributor: distributor.Address(),
		Amount:      amount,
		Limit:       req.Limit,
		TxHash:      env.Hash,
		CreatedAt:   now,
	}
	st := &domain.Settlement{
		Token: tok,
		Transaction: &domain.Transaction{
			ID:        uuid.NewString(),
			SenderID:  &userID,
			Amount:    amount,
			Asset:     asset.String(),
			Memo:      strPtr(memoTokenIssue),
			TxHash:    env.Hash,
			Status:    "completed",
			CreatedAt: now,
		},
	}
	if _, err := s.settle(ctx, env, domain.IntentTokenIssue, st, ""); err != nil {
		s.discardCustodial(ctx, distributor.Address(), env.Hash)
		return nil, err
	}

	s.Logger.Info("token issued",
		zap.String("asset", asset.String()),
		zap.String("distributor", tok.Distributor),
		zap.String("hash", env.Hash),
		zap.Int64("amount", amount))
	s.Notifier.Notify(userID, EventTokenIssued, tok)
	return tok, nil
}

// Distribute pays amount of an issued token from its distributor account.
// Only the owner of the token may distribute it.
func (s *TokenService) Distribute(ctx context.Context, userID, tokenID, destination string, amount int64) (*Receipt, error) {
	if err := validatePayment(destination, amount, ""); err != nil {
		return nil, err
	}
	tok, err := s.Get(ctx, userID, tokenID)
	if err != nil {
		return nil, err
	}
	distributor, err := s.custodialSigner(ctx, tok.Distributor)
	if err != nil {
		return nil, err
	}
	asset := ledger.Asset{Code: tok.Code, Issuer: tok.Issuer}
	env, err := s.Ledger.Prepare(ctx, distributor.Signer(),
		[]txnbuild.Operation{ledger.PaymentOp(destination, asset, amount)}, memoTokenDistribution)
	if err != nil {
		return nil, err
	}
	receiver, err := s.resolveUser(ctx, destination)
	if err != nil {
		return nil, err
	}

	tx := domain.Transaction{
		ID:         uuid.NewString(),
		SenderID:   &userID,
		ReceiverID: receiver,
		Amount:     amount,
		Asset:      asset.String(),
		Memo:       strPtr(memoTokenDistribution),
		TxHash:     env.Hash,
		Status:     "completed",
		CreatedAt:  s.Now().UTC(),
	}
	st := &domain.Settlement{Transaction: &tx}
	res, err := s.settle(ctx, env, domain.IntentTokenDistribute, st, "")
	if err != nil {
		return nil, err
	}
	s.announce(st)
	return &Receipt{Transaction: tx, Ledger: res.Ledger}, nil
}

// Get returns a token issued by the caller. Tokens of other users are
// reported as not found.
func (s *TokenService) Get(ctx context.Context, userID, tokenID string) (*domain.IssuedToken, error) {
	tok, err := s.Store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok.OwnerID != userID {
		return nil, domain.ErrTokenNotFound
	}
	return tok, nil
}

func (s *TokenService) List(ctx context.Context, userID string) ([]domain.IssuedToken, error) {
	return s.Store.ListTokens(ctx, userID)
}
