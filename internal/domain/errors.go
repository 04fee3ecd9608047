package domain

import "errors"

// Input validation.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidAddress    = errors.New("invalid ledger address: expected a 56 character G... key")
	ErrInvalidSecret     = errors.New("invalid secret key: it should start with 'S' and be 56 characters")
	ErrPublicKeyAsSecret = errors.New("a public key (G...) was supplied where the secret key (S...) is required")
	ErrMemoTooLong       = errors.New("memo exceeds 28 bytes")
	ErrDeadlineInPast    = errors.New("deadline must be in the future")
	ErrUnsupportedAsset  = errors.New("asset not supported for this operation")
	ErrInvalidPool       = errors.New("invalid pool parameters")
	ErrInvalidAssetCode  = errors.New("asset code must be 1-12 letters or digits")
)

// Lookups.
var (
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrPoolNotFound      = errors.New("savings pool not found")
	ErrWalletNotFound    = errors.New("wallet not found, create or import a wallet first")
	ErrRecipientNotFound = errors.New("recipient account does not exist on the ledger")
	ErrIntentNotFound    = errors.New("intent not found")
	ErrTokenNotFound     = errors.New("issued token not found")
)

// State and authorization.
var (
	ErrEscrowNotPending       = errors.New("escrow is not pending")
	ErrDeadlineNotReached     = errors.New("deadline not reached")
	ErrDeadlinePassed         = errors.New("deadline has passed")
	ErrPoolLocked             = errors.New("savings pool is time-locked")
	ErrUnauthorized           = errors.New("caller is not allowed to perform this operation")
	ErrCustodialSecretMissing = errors.New("custodial secret missing")
	ErrWalletExists           = errors.New("a different wallet is already linked, contact support to change it")
	ErrWalletLinked           = errors.New("this wallet is already linked to another account")
)

// Idempotency.
var (
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)
