package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAccountNotFound      = errors.New("ledger account not found")
	ErrNoPath               = errors.New("no conversion path available")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNoTrustline          = errors.New("trustline missing")
	ErrMemoRequired         = errors.New("destination requires a memo")
	ErrBadSequence          = errors.New("sequence number conflict")
	ErrDestinationMissing   = errors.New("destination account does not exist")
	ErrTxFailed             = errors.New("transaction failed")
	ErrFriendbotUnavailable = errors.New("friendbot is only available on testnet")
)

// SubmitError carries the ledger's own result codes for a rejected transaction.
type SubmitError struct {
	Hash    string
	TxCode  string
	OpCodes []string
}

func (e *SubmitError) Error() string {
	if len(e.OpCodes) == 0 {
		return fmt.Sprintf("ledger rejected transaction %s: %s", e.Hash, e.TxCode)
	}
	return fmt.Sprintf("ledger rejected transaction %s: %s [%s]", e.Hash, e.TxCode, strings.Join(e.OpCodes, ", "))
}

// Unwrap maps the result codes onto the package sentinels.
func (e *SubmitError) Unwrap() error {
	switch e.TxCode {
	case "tx_bad_seq":
		return ErrBadSequence
	case "tx_insufficient_balance", "tx_insufficient_fee":
		return ErrInsufficientBalance
	case "tx_no_source_account":
		return ErrAccountNotFound
	}
	for _, code := range e.OpCodes {
		switch code {
		case "op_underfunded", "op_low_reserve":
			return ErrInsufficientBalance
		case "op_no_trust", "op_src_no_trust", "op_not_authorized", "op_src_not_authorized":
			return ErrNoTrustline
		case "op_no_destination":
			return ErrDestinationMissing
		case "op_too_few_offers", "op_over_source_max":
			return ErrNoPath
		}
	}
	return ErrTxFailed
}
