package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

// Wallet is the public view of a user's linked ledger account.
type Wallet struct {
	Address string `json:"public_key"`
	Created bool   `json:"created"`
	Funded  bool   `json:"funded"`
}

type WalletService struct {
	Deps
	fundNew bool
	creates singleflight.Group
}

// NewWalletService builds the wallet workflows. With fundNew set, freshly
// generated wallets are funded through friendbot.
func NewWalletService(d Deps, fundNew bool) *WalletService {
	d.defaults()
	return &WalletService{Deps: d, fundNew: fundNew}
}

// CreateWallet returns the user's wallet, generating one on first use.
// Concurrent calls for one user share a single generation.
func (s *WalletService) CreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	v, err, _ := s.creates.Do(userID, func() (any, error) {
		return s.createWallet(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	w := *v.(*Wallet)
	return &w, nil
}

func (s *WalletService) createWallet(ctx context.Context, userID string) (*Wallet, error) {
	p, err := s.Store.GetProfile(ctx, userID)
	if err == nil {
		return &Wallet{Address: *p.Address}, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	pair, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.Keystore.Put(ctx, pair.Address(), pair.Seed()); err != nil {
		return nil, fmt.Errorf("store wallet secret: %w", err)
	}
	if err := s.Store.LinkWallet(ctx, userID, pair.Address()); err != nil {
		if derr := s.Keystore.Delete(ctx, pair.Address()); derr != nil {
			s.Logger.Warn("unlinked wallet secret left behind", zap.String("address", pair.Address()), zap.Error(derr))
		}
		return nil, err
	}
	s.Logger.Info("wallet created", zap.String("user", userID), zap.String("address", pair.Address()))

	w := &Wallet{Address: pair.Address(), Created: true}
	if s.fundNew {
		if err := s.Ledger.Fund(ctx, pair.Address()); err != nil {
			s.Logger.Warn("friendbot funding failed", zap.String("address", pair.Address()), zap.Error(err))
		} else {
			w.Funded = true
		}
	}
	return w, nil
}

// ImportWallet links an existing secret seed to the user.
func (s *WalletService) ImportWallet(ctx context.Context, userID, secret string) (*Wallet, error) {
	pair, err := keys.FromSecret(secret)
	if err != nil {
		return nil, err
	}
	addr := pair.Address()

	if owner, err := s.Store.ProfileByAddress(ctx, addr); err == nil && owner.UserID != userID {
		return nil, domain.ErrWalletLinked
	} else if err != nil && !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	if p, err := s.Store.GetProfile(ctx, userID); err == nil && *p.Address != addr {
		return nil, domain.ErrWalletExists
	} else if err != nil && !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	// The seed determines the address, so rewriting this entry is harmless.
	if err := s.Keystore.Put(ctx, addr, pair.Seed()); err != nil {
		return nil, fmt.Errorf("store wallet secret: %w", err)
	}
	if err := s.Store.LinkWallet(ctx, userID, addr); err != nil {
		return nil, err
	}
	s.Logger.Info("wallet imported", zap.String("user", userID), zap.String("address", addr))
	return &Wallet{Address: addr}, nil
}

// Account returns the ledger state of the user's wallet.
func (s *WalletService) Account(ctx context.Context, userID string) (*ledger.Account, error) {
	p, err := s.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Ledger.LoadAccount(ctx, *p.Address)
}

// AddTrustline opens a trustline so the wallet can hold a credit asset.
func (s *WalletService) AddTrustline(ctx context.Context, userID string, asset ledger.Asset, limit int64) (*ledger.Result, error) {
	if asset.IsNative() {
		return nil, domain.ErrUnsupportedAsset
	}
	signer, err := s.signerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	op, err := ledger.ChangeTrustOp(asset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedAsset, err)
	}
	env, err := s.Ledger.Prepare(ctx, signer.Signer(), []txnbuild.Operation{op}, "")
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, env, domain.IntentTrustline, &domain.Settlement{}, "")
}

// FindPaths lists conversion routes from the user's holdings into destAmount of dest.
func (s *WalletService) FindPaths(ctx context.Context, userID string, dest ledger.Asset, destAmount int64) ([]ledger.Path, error) {
	if destAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	p, err := s.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Ledger.FindPaths(ctx, *p.Address, dest, destAmount)
}

// Quote prices destAmount of dest in source.
func (s *WalletService) Quote(ctx context.Context, source, dest ledger.Asset, destAmount int64) (*ledger.Quote, error) {
	if destAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return s.Ledger.Quote(ctx, source, dest, destAmount)
}

// ListTransactions returns the user's most recent records.
func (s *WalletService) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.ListTransactions(ctx, userID, limit)
}
