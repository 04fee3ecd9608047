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

// PaymentRequest is a direct payment from the caller's wallet.
type PaymentRequest struct {
	Destination string
	Amount      int64
	Asset       ledger.Asset
	Memo        string
}

// PathPaymentRequest delivers exactly DestAmount of DestAsset, paying in
// SendAsset. A zero SendMax allows the quoted amount plus SlippageBps.
type PathPaymentRequest struct {
	Destination string
	DestAsset   ledger.Asset
	DestAmount  int64
	SendAsset   ledger.Asset
	SendMax     int64
	SlippageBps int64
	Memo        string
}

// Receipt is the outcome of a settled payment.
type Receipt struct {
	Transaction domain.Transaction `json:"transaction"`
	Ledger      int32              `json:"ledger"`
}

const defaultSlippageBps = 100

func validatePayment(destination string, amount int64, memo string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := keys.ValidateAddress(destination); err != nil {
		return err
	}
	if len(memo) > ledger.MaxMemoBytes {
		return domain.ErrMemoTooLong
	}
	return nil
}

// SendPayment pays from the caller's wallet and records the transaction.
// Validation happens before any ledger call.
func (s *WalletService) SendPayment(ctx context.Context, userID string, req PaymentRequest) (*Receipt, error) {
	if err := validatePayment(req.Destination, req.Amount, req.Memo); err != nil {
		return nil, err
	}
	signer, err := s.signerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.resolveUser(ctx, req.Destination)
	if err != nil {
		return nil, err
	}

	ops := []txnbuild.Operation{ledger.PaymentOp(req.Destination, req.Asset, req.Amount)}
	env, err := s.Ledger.Prepare(ctx, signer.Signer(), ops, req.Memo)
	if err != nil {
		return nil, err
	}
	return s.recordPayment(ctx, env, domain.IntentPayment, userID, receiver, req.Amount, req.Asset, req.Memo)
}

// PathPayment converts through the ledger's order books so the destination
// receives an exact amount.
func (s *WalletService) PathPayment(ctx context.Context, userID string, req PathPaymentRequest) (*Receipt, error) {
	if err := validatePayment(req.Destination, req.DestAmount, req.Memo); err != nil {
		return nil, err
	}
	if req.SendMax < 0 {
		return nil, domain.ErrInvalidAmount
	}
	signer, err := s.signerFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	quote, err := s.Ledger.Quote(ctx, req.SendAsset, req.DestAsset, req.DestAmount)
	if err != nil {
		return nil, err
	}
	sendMax := req.SendMax
	if sendMax == 0 {
		bps := req.SlippageBps
		if bps <= 0 {
			bps = defaultSlippageBps
		}
		sendMax = quote.SourceAmount + quote.SourceAmount*bps/10_000
	}
	if quote.SourceAmount > sendMax {
		return nil, ledger.ErrNoPath
	}

	receiver, err := s.resolveUser(ctx, req.Destination)
	if err != nil {
		return nil, err
	}
	ops := []txnbuild.Operation{
		ledger.PathPaymentOp(req.SendAsset, sendMax, req.Destination, req.DestAsset, req.DestAmount, quote.Hops),
	}
	env, err := s.Ledger.Prepare(ctx, signer.Signer(), ops, req.Memo)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug("path payment quoted",
		zap.String("send_asset", req.SendAsset.String()),
		zap.Int64("quoted", quote.SourceAmount),
		zap.Int64("send_max", sendMax))
	return s.recordPayment(ctx, env, domain.IntentPathPayment, userID, receiver, req.DestAmount, req.DestAsset, req.Memo)
}

func (s *WalletService) recordPayment(ctx context.Context, env *ledger.Envelope, kind domain.IntentKind, sender string, receiver *string, amount int64, asset ledger.Asset, memo string) (*Receipt, error) {
	tx := domain.Transaction{
		ID:         uuid.NewString(),
		SenderID:   &sender,
		ReceiverID: receiver,
		Amount:     amount,
		Asset:      asset.String(),
		Memo:       strPtr(memo),
		TxHash:     env.Hash,
		Status:     "completed",
		CreatedAt:  s.Now().UTC(),
	}
	st := &domain.Settlement{Transaction: &tx}
	res, err := s.settle(ctx, env, kind, st, "")
	if err != nil {
		return nil, err
	}
	s.announce(st)
	return &Receipt{Transaction: tx, Ledger: res.Ledger}, nil
}
