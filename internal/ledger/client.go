// Package ledger wraps the Horizon API: account loading, transaction
// construction and submission, and path finding.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

const (
	// SubmitTimeout bounds how long a built transaction stays valid.
	SubmitTimeout = 30 * time.Second
	// MaxMemoBytes is the protocol limit for text memos.
	MaxMemoBytes = 28
)

// Config selects the network and the client-side request budget.
type Config struct {
	HorizonURL        string
	Network           string // testnet | public
	BaseFee           int64  // stroops per operation
	RequestsPerSecond float64
}

// Balance is one asset holding in stroops.
type Balance struct {
	Asset  Asset `json:"asset"`
	Amount int64 `json:"amount"`
}

// Account is the ledger state needed to build transactions.
type Account struct {
	Address  string    `json:"address"`
	Sequence int64     `json:"sequence"`
	Balances []Balance `json:"balances"`
}

// Balance returns the holding of asset, zero when there is no trustline.
func (a *Account) Balance(asset Asset) int64 {
	for _, b := range a.Balances {
		if b.Asset == asset || (b.Asset.IsNative() && asset.IsNative()) {
			return b.Amount
		}
	}
	return 0
}

// Envelope is a signed transaction whose hash is known before submission.
type Envelope struct {
	Tx     *txnbuild.Transaction
	Hash   string
	Source string
	Ops    []txnbuild.Operation
}

// Result is the outcome of an accepted submission.
type Result struct {
	Hash   string `json:"tx_hash"`
	Ledger int32  `json:"ledger"`
}

// TxStatus is what the ledger knows about a hash.
type TxStatus int

const (
	TxNotFound TxStatus = iota
	TxSucceeded
	TxFailed
)

type Client struct {
	horizon    horizonclient.ClientInterface
	passphrase string
	testnet    bool
	baseFee    int64
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New builds a client against the configured Horizon instance.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	passphrase, testnet, err := passphraseFor(cfg.Network)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: SubmitTimeout + 10*time.Second}
	h := &horizonclient.Client{HorizonURL: cfg.HorizonURL, HTTP: httpClient}

	c := NewWithHorizon(h, passphrase, cfg.BaseFee, cfg.RequestsPerSecond, logger)
	c.testnet = testnet
	return c, nil
}

// NewWithHorizon wraps an existing Horizon client.
func NewWithHorizon(h horizonclient.ClientInterface, passphrase string, baseFee int64, rps float64, logger *zap.Logger) *Client {
	if baseFee < txnbuild.MinBaseFee {
		baseFee = txnbuild.MinBaseFee
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		horizon:    h,
		passphrase: passphrase,
		testnet:    passphrase == network.TestNetworkPassphrase,
		baseFee:    baseFee,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

func passphraseFor(name string) (string, bool, error) {
	switch name {
	case "", "testnet":
		return network.TestNetworkPassphrase, true, nil
	case "public", "mainnet":
		return network.PublicNetworkPassphrase, false, nil
	default:
		return "", false, fmt.Errorf("unknown stellar network %q", name)
	}
}

// Passphrase returns the network passphrase used for signing.
func (c *Client) Passphrase() string { return c.passphrase }

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("horizon rate limit: %w", err)
	}
	return nil
}

// LoadAccount returns the sequence number and balances of address.
func (c *Client) LoadAccount(ctx context.Context, address string) (*Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	acc, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account %s: %w", address, err)
	}

	out := &Account{Address: acc.AccountID, Sequence: acc.Sequence}
	for _, b := range acc.Balances {
		if b.Asset.Type == "liquidity_pool_shares" {
			continue
		}
		v, err := amount.ParseInt64(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q: %w", b.Balance, err)
		}
		out.Balances = append(out.Balances, Balance{
			Asset:  assetFromHorizon(b.Asset.Type, b.Asset.Code, b.Asset.Issuer),
			Amount: v,
		})
	}
	return out, nil
}

// Build returns an unsigned transaction with the configured fee and a 30 second timeout.
func (c *Client) Build(source *Account, ops []txnbuild.Operation, memo string) (*txnbuild.Transaction, error) {
	if len(memo) > MaxMemoBytes {
		return nil, domain.ErrMemoTooLong
	}
	if len(ops) == 0 {
		return nil, errors.New("transaction needs at least one operation")
	}
	params := txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.Address, Sequence: source.Sequence},
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              c.baseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(int64(SubmitTimeout / time.Second))},
	}
	if memo != "" {
		params.Memo = txnbuild.MemoText(memo)
	}
	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

// BuildPayment returns an unsigned single-payment transaction.
func (c *Client) BuildPayment(source *Account, destination string, asset Asset, stroops int64, memo string) (*txnbuild.Transaction, error) {
	if stroops <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return c.Build(source, []txnbuild.Operation{PaymentOp(destination, asset, stroops)}, memo)
}

// Prepare loads the signer's account, builds and signs the operations, and
// computes the hash so it can be journaled before submission. Cosigners sign
// for operations whose source account is theirs.
func (c *Client) Prepare(ctx context.Context, signer *keypair.Full, ops []txnbuild.Operation, memo string, cosigners ...*keypair.Full) (*Envelope, error) {
	if len(memo) > MaxMemoBytes {
		return nil, domain.ErrMemoTooLong
	}
	source, err := c.LoadAccount(ctx, signer.Address())
	if err != nil {
		return nil, err
	}
	tx, err := c.Build(source, ops, memo)
	if err != nil {
		return nil, err
	}
	tx, err = tx.Sign(c.passphrase, append([]*keypair.Full{signer}, cosigners...)...)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	hash, err := tx.HashHex(c.passphrase)
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	return &Envelope{Tx: tx, Hash: hash, Source: source.Address, Ops: ops}, nil
}

// Submit sends a signed transaction. Rejections come back as *SubmitError.
func (c *Client) Submit(ctx context.Context, env *Envelope) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.horizon.SubmitTransaction(env.Tx)
	if err != nil {
		if errors.Is(err, horizonclient.ErrAccountRequiresMemo) {
			return nil, ErrMemoRequired
		}
		if herr := horizonclient.GetError(err); herr != nil {
			if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
				serr := &SubmitError{Hash: env.Hash, TxCode: codes.TransactionCode, OpCodes: codes.OperationCodes}
				c.logger.Warn("ledger rejected transaction",
					zap.String("hash", env.Hash),
					zap.String("tx_code", serr.TxCode),
					zap.Strings("op_codes", serr.OpCodes))
				return nil, serr
			}
		}
		return nil, fmt.Errorf("submit transaction %s: %w", env.Hash, err)
	}
	return &Result{Hash: resp.Hash, Ledger: resp.Ledger}, nil
}

// TransactionStatus asks the ledger whether hash was applied.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	if err := c.wait(ctx); err != nil {
		return TxNotFound, err
	}
	tx, err := c.horizon.TransactionDetail(hash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return TxNotFound, nil
		}
		return TxNotFound, fmt.Errorf("transaction detail %s: %w", hash, err)
	}
	if !tx.Successful {
		return TxFailed, nil
	}
	return TxSucceeded, nil
}

// Fund asks the testnet Horizon's friendbot to create and fund address.
func (c *Client) Fund(ctx context.Context, address string) error {
	if !c.testnet {
		return ErrFriendbotUnavailable
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	tx, err := c.horizon.Fund(address)
	if err != nil {
		return fmt.Errorf("friendbot %s: %w", address, err)
	}
	c.logger.Info("friendbot funded account", zap.String("address", address), zap.String("hash", tx.Hash))
	return nil
}
