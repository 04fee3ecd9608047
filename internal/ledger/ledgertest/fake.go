// Package ledgertest provides an in-memory ledger for tests. It applies
// create-account, payment, merge, path-payment and change-trust operations
// to native and credit balances and counts every call.
package ledgertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

// BaseFee is charged per operation, in stroops.
const BaseFee int64 = 100

// FundAmount is what Fund credits, like friendbot on testnet.
const FundAmount int64 = 10_000 * 10_000_000

const native = "XLM"

type Fake struct {
	mu       sync.Mutex
	accounts map[string]map[string]int64
	status   map[string]ledger.TxStatus
	paths    []ledger.Path
	hashes   int
	prepares int
	submits  int
	ledgerNo int32

	rejectNext *ledger.SubmitError
	failNext   error
	failAfter  bool
}

func New() *Fake {
	return &Fake{
		accounts: map[string]map[string]int64{},
		status:   map[string]ledger.TxStatus{},
	}
}

// Credit adds lumens to address, creating the account when needed.
func (f *Fake) Credit(address string, stroops int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accounts[address] == nil {
		f.accounts[address] = map[string]int64{}
	}
	f.accounts[address][native] += stroops
}

func (f *Fake) Balance(address string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[address][native]
}

// AssetBalance reports a credit holding and whether a trustline exists.
func (f *Fake) AssetBalance(address string, asset ledger.Asset) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.accounts[address][asset.String()]
	return v, ok
}

func (f *Fake) Exists(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[address]
	return ok
}

// Calls returns how many envelopes were prepared and submitted.
func (f *Fake) Calls() (prepares, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepares, f.submits
}

// SetPaths sets the routes returned by FindPaths and Quote. The first path
// also prices path payments.
func (f *Fake) SetPaths(paths ...ledger.Path) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = paths
}

// RejectNext makes the next submission fail with the given result codes.
func (f *Fake) RejectNext(serr ledger.SubmitError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectNext = &serr
}

// FailNext makes the next submission return err. With applied set the
// transaction still lands, as when a response is lost in transit.
func (f *Fake) FailNext(err error, applied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
	f.failAfter = applied
}

func assetKey(a txnbuild.Asset) string {
	if a.IsNative() {
		return native
	}
	return a.GetCode() + ":" + a.GetIssuer()
}

func (f *Fake) LoadAccount(_ context.Context, address string) (*ledger.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bals, ok := f.accounts[address]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	acc := &ledger.Account{Address: address, Sequence: 1}
	for k, v := range bals {
		a, err := ledger.ParseAsset(k)
		if err != nil {
			continue
		}
		acc.Balances = append(acc.Balances, ledger.Balance{Asset: a, Amount: v})
	}
	return acc, nil
}

func (f *Fake) Prepare(_ context.Context, signer *keypair.Full, ops []txnbuild.Operation, memo string, cosigners ...*keypair.Full) (*ledger.Envelope, error) {
	if len(memo) > ledger.MaxMemoBytes {
		return nil, domain.ErrMemoTooLong
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
	if _, ok := f.accounts[signer.Address()]; !ok {
		return nil, ledger.ErrAccountNotFound
	}
	signed := map[string]bool{signer.Address(): true}
	for _, kp := range cosigners {
		signed[kp.Address()] = true
	}
	for _, op := range ops {
		if src := op.GetSourceAccount(); src != "" && !signed[src] {
			return nil, fmt.Errorf("operation source %s has not signed", src)
		}
	}
	f.hashes++
	return &ledger.Envelope{Hash: fmt.Sprintf("%064x", f.hashes), Source: signer.Address(), Ops: ops}, nil
}

func (f *Fake) Submit(_ context.Context, env *ledger.Envelope) (*ledger.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++

	if f.rejectNext != nil {
		serr := *f.rejectNext
		serr.Hash = env.Hash
		f.rejectNext = nil
		f.status[env.Hash] = ledger.TxFailed
		return nil, &serr
	}
	failErr, failAfter := f.failNext, f.failAfter
	f.failNext, f.failAfter = nil, false
	if failErr != nil && !failAfter {
		return nil, failErr
	}

	if codes := f.apply(env); codes != nil {
		f.status[env.Hash] = ledger.TxFailed
		return nil, &ledger.SubmitError{Hash: env.Hash, TxCode: "tx_failed", OpCodes: codes}
	}
	f.status[env.Hash] = ledger.TxSucceeded
	f.ledgerNo++
	if failErr != nil {
		return nil, failErr
	}
	return &ledger.Result{Hash: env.Hash, Ledger: f.ledgerNo}, nil
}

// apply runs ops on a copy of the balances and commits only on success.
// Operations with their own source account act on that account.
func (f *Fake) apply(env *ledger.Envelope) []string {
	work := make(map[string]map[string]int64, len(f.accounts))
	for addr, bals := range f.accounts {
		cp := make(map[string]int64, len(bals))
		for k, v := range bals {
			cp[k] = v
		}
		work[addr] = cp
	}

	payer := env.Source
	fee := BaseFee * int64(len(env.Ops))
	if work[payer][native] < fee {
		return []string{"tx_insufficient_fee"}
	}
	work[payer][native] -= fee

	debit := func(addr, asset string, v int64) bool {
		// Issuers mint their own asset.
		if asset != native && strings.HasSuffix(asset, ":"+addr) {
			return true
		}
		if work[addr][asset] < v {
			return false
		}
		work[addr][asset] -= v
		return true
	}

	codes := make([]string, len(env.Ops))
	for i, op := range env.Ops {
		code := "op_success"
		src := payer
		if s := op.GetSourceAccount(); s != "" {
			src = s
		}
		switch o := op.(type) {
		case *txnbuild.CreateAccount:
			v, _ := amount.ParseInt64(o.Amount)
			if _, ok := work[o.Destination]; ok {
				code = "op_already_exists"
			} else if !debit(src, native, v) {
				code = "op_underfunded"
			} else {
				work[o.Destination] = map[string]int64{native: v}
			}
		case *txnbuild.Payment:
			v, _ := amount.ParseInt64(o.Amount)
			key := assetKey(o.Asset)
			if _, ok := work[o.Destination]; !ok {
				code = "op_no_destination"
			} else if _, ok := work[o.Destination][key]; !ok && key != native {
				code = "op_no_trust"
			} else if !debit(src, key, v) {
				code = "op_underfunded"
			} else {
				work[o.Destination][key] += v
			}
		case *txnbuild.AccountMerge:
			if _, ok := work[o.Destination]; !ok {
				code = "op_no_destination"
			} else {
				work[o.Destination][native] += work[src][native]
				delete(work, src)
			}
		case *txnbuild.PathPaymentStrictReceive:
			dest, _ := amount.ParseInt64(o.DestAmount)
			cost, _ := amount.ParseInt64(o.SendMax)
			if len(f.paths) > 0 {
				cost = f.paths[0].SourceAmount
			}
			key := assetKey(o.DestAsset)
			if _, ok := work[o.Destination]; !ok {
				code = "op_no_destination"
			} else if _, ok := work[o.Destination][key]; !ok && key != native {
				code = "op_no_trust"
			} else if !debit(src, assetKey(o.SendAsset), cost) {
				code = "op_underfunded"
			} else {
				work[o.Destination][key] += dest
			}
		case *txnbuild.ChangeTrust:
			line, ok := o.Line.(txnbuild.ChangeTrustAssetWrapper)
			if !ok {
				code = "op_malformed"
				break
			}
			if _, exists := work[src][assetKey(line.Asset)]; !exists {
				work[src][assetKey(line.Asset)] = 0
			}
		default:
			code = "op_not_supported"
		}
		codes[i] = code
		if code != "op_success" {
			return codes[:i+1]
		}
	}
	f.accounts = work
	return nil
}

func (f *Fake) TransactionStatus(_ context.Context, hash string) (ledger.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[hash], nil
}

func (f *Fake) FindPaths(_ context.Context, _ string, _ ledger.Asset, _ int64) ([]ledger.Path, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Path(nil), f.paths...), nil
}

func (f *Fake) Quote(_ context.Context, _, _ ledger.Asset, destAmount int64) (*ledger.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.paths) == 0 {
		return nil, ledger.ErrNoPath
	}
	p := f.paths[0]
	return &ledger.Quote{Path: p, Rate: float64(p.SourceAmount) / float64(destAmount)}, nil
}

func (f *Fake) Fund(_ context.Context, address string) error {
	f.Credit(address, FundAmount)
	return nil
}
