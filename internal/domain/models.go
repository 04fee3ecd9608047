package domain

import (
	"encoding/json"
	"time"
)

// EscrowStatus is the lifecycle state of a custodial hold.
type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "pending"
	EscrowReleased EscrowStatus = "released"
	EscrowExpired  EscrowStatus = "expired"
)

// NativeAsset is the asset code recorded for lumens.
const NativeAsset = "XLM"

// Profile links an application user to a ledger address.
type Profile struct {
	UserID    string    `json:"user_id"`
	Address   *string   `json:"stellar_public_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Escrow is one custodial hold. Amounts are in stroops.
type Escrow struct {
	ID               string       `json:"id"`
	CreatorID        string       `json:"creator_id"`
	CreatorAddress   string       `json:"creator_address"`
	RecipientID      *string      `json:"recipient_id,omitempty"`
	RecipientAddress string       `json:"recipient_address"`
	Amount           int64        `json:"amount"`
	Asset            string       `json:"asset"`
	Deadline         time.Time    `json:"deadline"`
	Status           EscrowStatus `json:"status"`
	CustodialKey     string       `json:"escrow_public_key"`
	TxHashes         []string     `json:"tx_hashes"`
	ClaimHash        *string      `json:"-"`
	ClaimedAt        *time.Time   `json:"-"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// CanTransition reports whether the status may move to next.
// Only pending escrows move, and only to released or expired.
func (e *Escrow) CanTransition(next EscrowStatus) bool {
	if e.Status != EscrowPending {
		return false
	}
	return next == EscrowReleased || next == EscrowExpired
}

// Claimed reports whether a settlement is in flight for the escrow.
func (e *Escrow) Claimed() bool {
	return e.ClaimHash != nil
}

// IsRecipient matches the caller by stored recipient identity first and
// falls back to comparing the caller's registered ledger address.
func (e *Escrow) IsRecipient(userID string, callerAddress *string) bool {
	if e.RecipientID != nil && *e.RecipientID == userID {
		return true
	}
	return callerAddress != nil && *callerAddress == e.RecipientAddress
}

// Transaction is the append-only audit entry for a ledger payment.
type Transaction struct {
	ID         string    `json:"id"`
	SenderID   *string   `json:"sender_id,omitempty"`
	ReceiverID *string   `json:"receiver_id,omitempty"`
	Amount     int64     `json:"amount"`
	Asset      string    `json:"asset"`
	Memo       *string   `json:"memo,omitempty"`
	TxHash     string    `json:"tx_hash"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// SavingsPool is a group-savings custodial account.
type SavingsPool struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	OrganizerID  string     `json:"organizer_id"`
	Address      string     `json:"pool_address"`
	TargetAmount int64      `json:"target_amount"`
	Contribution int64      `json:"contribution"`
	MemberCount  int        `json:"member_count"`
	Contributed  int64      `json:"contributed"`
	UnlockAt     *time.Time `json:"unlock_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Locked reports whether the time-lock still holds at now.
func (p *SavingsPool) Locked(now time.Time) bool {
	return p.UnlockAt != nil && now.Before(*p.UnlockAt)
}

// Contribution is one observed successful deposit into a pool.
type Contribution struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	MemberID  string    `json:"member_id"`
	Amount    int64     `json:"amount"`
	TxHash    string    `json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// IssuedToken is a credit asset minted by a user's issuing account into a
// custodial distributor account the service signs for.
type IssuedToken struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Code        string    `json:"code"`
	Issuer      string    `json:"issuer"`
	Distributor string    `json:"distributor"`
	Amount      int64     `json:"amount"`
	Limit       int64     `json:"limit,omitempty"`
	TxHash      string    `json:"tx_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Asset renders the token as CODE:ISSUER.
func (t *IssuedToken) Asset() string { return t.Code + ":" + t.Issuer }

// IntentKind names the record writes an intent replays.
type IntentKind string

const (
	IntentEscrowCreate     IntentKind = "escrow_create"
	IntentEscrowRelease    IntentKind = "escrow_release"
	IntentEscrowRefund     IntentKind = "escrow_refund"
	IntentPayment          IntentKind = "payment"
	IntentPathPayment      IntentKind = "path_payment"
	IntentPoolCreate       IntentKind = "pool_create"
	IntentPoolContribution IntentKind = "pool_contribution"
	IntentPoolWithdrawal   IntentKind = "pool_withdrawal"
	IntentTrustline        IntentKind = "trustline"
	IntentTokenIssue       IntentKind = "token_issue"
	IntentTokenDistribute  IntentKind = "token_distribute"
)

// IntentState tracks a journaled ledger submission.
type IntentState string

const (
	IntentSubmitted IntentState = "submitted"
	IntentCompleted IntentState = "completed"
	IntentFailed    IntentState = "failed"
)

// Intent is written before a ledger submission so that the record writes
// can be replayed from the known hash if the process fails afterwards.
type Intent struct {
	Hash    string          `json:"hash"`
	Kind    IntentKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	State   IntentState     `json:"state"`
	// IdempotencyKey is the scoped key of the request that journaled the
	// intent, empty for work not started by a keyed request.
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IdempotencyPayload stores the response state for exact-once delivery.
type IdempotencyPayload struct {
	Status         string          `json:"status"`
	RequestHash    string          `json:"request_hash"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	ResponseStatus int             `json:"response_status,omitempty"`
}

// EscrowTransition moves a claimed escrow out of pending and appends the
// settling transaction hash.
type EscrowTransition struct {
	EscrowID string       `json:"escrow_id"`
	Status   EscrowStatus `json:"status"`
}

// Withdrawal debits the bookkept total of a pool.
type Withdrawal struct {
	PoolID string `json:"pool_id"`
	Amount int64  `json:"amount"`
}

// Settlement is the set of record writes applied when an intent completes.
// It doubles as the intent payload so reconciliation replays the same writes.
type Settlement struct {
	Escrow       *Escrow           `json:"escrow,omitempty"`
	Transition   *EscrowTransition `json:"transition,omitempty"`
	Transaction  *Transaction      `json:"transaction,omitempty"`
	Pool         *SavingsPool      `json:"pool,omitempty"`
	Contribution *Contribution     `json:"contribution,omitempty"`
	Withdrawal   *Withdrawal       `json:"withdrawal,omitempty"`
	Token        *IssuedToken      `json:"token,omitempty"`
}

// CustodialKey returns the custodial address a settlement creates, if any.
func (s *Settlement) CustodialKey() string {
	switch {
	case s.Escrow != nil:
		return s.Escrow.CustodialKey
	case s.Pool != nil:
		return s.Pool.Address
	case s.Token != nil:
		return s.Token.Distributor
	}
	return ""
}
