package ledger

import (
	"github.com/stellar/go/amount"
	"github.com/stellar/go/txnbuild"
)

// CreateAccountOp creates and funds destination with a starting balance in stroops.
func CreateAccountOp(destination string, stroops int64) txnbuild.Operation {
	return &txnbuild.CreateAccount{Destination: destination, Amount: amount.StringFromInt64(stroops)}
}

// PaymentOp pays stroops of asset to destination.
func PaymentOp(destination string, asset Asset, stroops int64) txnbuild.Operation {
	return &txnbuild.Payment{Destination: destination, Amount: amount.StringFromInt64(stroops), Asset: asset.txnbuild()}
}

// MergeOp closes the source account and moves its remaining lumens to destination.
func MergeOp(destination string) txnbuild.Operation {
	return &txnbuild.AccountMerge{Destination: destination}
}

// PathPaymentOp delivers exactly destAmount of destAsset, spending at most sendMax of sendAsset.
func PathPaymentOp(sendAsset Asset, sendMax int64, destination string, destAsset Asset, destAmount int64, path []Asset) txnbuild.Operation {
	hops := make([]txnbuild.Asset, 0, len(path))
	for _, a := range path {
		hops = append(hops, a.txnbuild())
	}
	return &txnbuild.PathPaymentStrictReceive{
		SendAsset:   sendAsset.txnbuild(),
		SendMax:     amount.StringFromInt64(sendMax),
		Destination: destination,
		DestAsset:   destAsset.txnbuild(),
		DestAmount:  amount.StringFromInt64(destAmount),
		Path:        hops,
	}
}

// ChangeTrustOp opens a trustline for a credit asset. A zero limit means the maximum.
func ChangeTrustOp(asset Asset, limit int64) (txnbuild.Operation, error) {
	line, err := asset.txnbuild().ToChangeTrustAsset()
	if err != nil {
		return nil, err
	}
	op := &txnbuild.ChangeTrust{Line: line}
	if limit > 0 {
		op.Limit = amount.StringFromInt64(limit)
	}
	return op, nil
}

// As sets the source account of op, for operations a cosigner authorizes.
func As(source string, op txnbuild.Operation) txnbuild.Operation {
	switch o := op.(type) {
	case *txnbuild.CreateAccount:
		o.SourceAccount = source
	case *txnbuild.Payment:
		o.SourceAccount = source
	case *txnbuild.ChangeTrust:
		o.SourceAccount = source
	case *txnbuild.AccountMerge:
		o.SourceAccount = source
	case *txnbuild.PathPaymentStrictReceive:
		o.SourceAccount = source
	}
	return op
}
