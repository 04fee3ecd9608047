// Package models holds the request and response bodies of the HTTP API.
// Amounts travel as decimal strings with up to seven fractional digits and
// are converted to stroops at the edge.
package models

import (
	"strings"
	"time"

	"github.com/stellar/go/amount"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

// ParseAmount converts a positive decimal string to stroops.
func ParseAmount(s string) (int64, error) {
	v, err := amount.ParseInt64(strings.TrimSpace(s))
	if err != nil || v <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return v, nil
}

// ParseOptionalAmount treats an empty string as zero.
func ParseOptionalAmount(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return ParseAmount(s)
}

func FormatAmount(v int64) string { return amount.StringFromInt64(v) }

// Requests

type ImportWalletRequest struct {
	Secret string `json:"secret"`
}

type TrustlineRequest struct {
	Asset string `json:"asset"`
	Limit string `json:"limit,omitempty"`
}

type PaymentRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Asset       string `json:"asset,omitempty"`
	Memo        string `json:"memo,omitempty"`
}

type PathPaymentRequest struct {
	Destination string `json:"destination"`
	DestAsset   string `json:"dest_asset"`
	DestAmount  string `json:"dest_amount"`
	SendAsset   string `json:"send_asset"`
	SendMax     string `json:"send_max,omitempty"`
	SlippageBps int64  `json:"slippage_bps,omitempty"`
	Memo        string `json:"memo,omitempty"`
}

type CreateEscrowRequest struct {
	RecipientAddress string    `json:"recipient_address"`
	Amount           string    `json:"amount"`
	Asset            string    `json:"asset,omitempty"`
	Deadline         time.Time `json:"deadline"`
}

type CreatePoolRequest struct {
	Name         string     `json:"name"`
	TargetAmount string     `json:"target_amount"`
	Contribution string     `json:"contribution_amount"`
	MemberCount  int        `json:"member_count"`
	UnlockAt     *time.Time `json:"unlock_at,omitempty"`
	FirstDeposit string     `json:"first_deposit,omitempty"`
}

type ContributionRequest struct {
	Amount string `json:"amount"`
}

type WithdrawalRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination,omitempty"`
}

// IssueTokenRequest mints a credit asset. IssuerSecret is optional; without
// it the caller's wallet issues.
type IssueTokenRequest struct {
	Code         string `json:"code"`
	Amount       string `json:"amount,omitempty"`
	Limit        string `json:"limit,omitempty"`
	IssuerSecret string `json:"issuer_secret,omitempty"`
}

type DistributionRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// Responses

type ErrorResponse struct {
	Error   string   `json:"error"`
	TxCode  string   `json:"tx_code,omitempty"`
	OpCodes []string `json:"op_codes,omitempty"`
}

type BalanceResponse struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type AccountResponse struct {
	Address  string            `json:"public_key"`
	Balances []BalanceResponse `json:"balances"`
}

func FromAccount(a *ledger.Account) AccountResponse {
	out := AccountResponse{Address: a.Address, Balances: make([]BalanceResponse, 0, len(a.Balances))}
	for _, b := range a.Balances {
		out.Balances = append(out.Balances, BalanceResponse{Asset: b.Asset.String(), Amount: FormatAmount(b.Amount)})
	}
	return out
}

type TransactionResponse struct {
	ID         string    `json:"id"`
	SenderID   *string   `json:"sender_id"`
	ReceiverID *string   `json:"receiver_id"`
	Amount     string    `json:"amount"`
	Asset      string    `json:"asset"`
	Memo       *string   `json:"memo,omitempty"`
	TxHash     string    `json:"tx_hash"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func FromTransaction(t domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:         t.ID,
		SenderID:   t.SenderID,
		ReceiverID: t.ReceiverID,
		Amount:     FormatAmount(t.Amount),
		Asset:      t.Asset,
		Memo:       t.Memo,
		TxHash:     t.TxHash,
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
	}
}

func FromTransactions(ts []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, FromTransaction(t))
	}
	return out
}

// ReceiptResponse is returned for every settled payment.
type ReceiptResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Ledger      int32               `json:"ledger"`
}

type EscrowResponse struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creator_id"`
	RecipientID      *string   `json:"recipient_id"`
	RecipientAddress string    `json:"recipient_address"`
	Amount           string    `json:"amount"`
	Asset            string    `json:"asset"`
	Deadline         time.Time `json:"deadline"`
	Status           string    `json:"status"`
	EscrowPublicKey  string    `json:"escrow_public_key"`
	TxHashes         []string  `json:"tx_hashes"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func FromEscrow(e domain.Escrow) EscrowResponse {
	hashes := e.TxHashes
	if hashes == nil {
		hashes = []string{}
	}
	return EscrowResponse{
		ID:               e.ID,
		CreatorID:        e.CreatorID,
		RecipientID:      e.RecipientID,
		RecipientAddress: e.RecipientAddress,
		Amount:           FormatAmount(e.Amount),
		Asset:            e.Asset,
		Deadline:         e.Deadline,
		Status:           string(e.Status),
		EscrowPublicKey:  e.CustodialKey,
		TxHashes:         hashes,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func FromEscrows(es []domain.Escrow) []EscrowResponse {
	out := make([]EscrowResponse, 0, len(es))
	for _, e := range es {
		out = append(out, FromEscrow(e))
	}
	return out
}

type ContributionResponse struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
}

func FromContribution(c domain.Contribution) ContributionResponse {
	return ContributionResponse{
		ID:        c.ID,
		MemberID:  c.MemberID,
		Amount:    FormatAmount(c.Amount),
		TxHash:    c.TxHash,
		CreatedAt: c.CreatedAt,
	}
}

// PoolResponse reports the ledger balance next to the bookkept total.
type PoolResponse struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	OrganizerID   string                 `json:"organizer_id"`
	PoolAddress   string                 `json:"pool_address"`
	TargetAmount  string                 `json:"target_amount"`
	Contribution  string                 `json:"contribution_amount"`
	MemberCount   int                    `json:"member_count"`
	UnlockAt      *time.Time             `json:"unlock_at,omitempty"`
	Balance       string                 `json:"balance"`
	Contributed   string                 `json:"contributed"`
	Drift         string                 `json:"drift"`
	Contributions []ContributionResponse `json:"contributions"`
	CreatedAt     time.Time              `json:"created_at"`
}

func FromPool(p domain.SavingsPool, balance, drift int64, contributions []domain.Contribution) PoolResponse {
	out := PoolResponse{
		ID:            p.ID,
		Name:          p.Name,
		OrganizerID:   p.OrganizerID,
		PoolAddress:   p.Address,
		TargetAmount:  FormatAmount(p.TargetAmount),
		Contribution:  FormatAmount(p.Contribution),
		MemberCount:   p.MemberCount,
		UnlockAt:      p.UnlockAt,
		Balance:       FormatAmount(balance),
		Contributed:   FormatAmount(p.Contributed),
		Drift:         FormatAmount(drift),
		Contributions: make([]ContributionResponse, 0, len(contributions)),
		CreatedAt:     p.CreatedAt,
	}
	for _, c := range contributions {
		out.Contributions = append(out.Contributions, FromContribution(c))
	}
	return out
}

type PathResponse struct {
	SourceAsset       string   `json:"source_asset"`
	SourceAmount      string   `json:"source_amount"`
	DestinationAsset  string   `json:"destination_asset"`
	DestinationAmount string   `json:"destination_amount"`
	Path              []string `json:"path"`
}

func FromPath(p ledger.Path) PathResponse {
	out := PathResponse{
		SourceAsset:       p.SourceAsset.String(),
		SourceAmount:      FormatAmount(p.SourceAmount),
		DestinationAsset:  p.DestinationAsset.String(),
		DestinationAmount: FormatAmount(p.DestinationAmount),
		Path:              make([]string, 0, len(p.Hops)),
	}
	for _, h := range p.Hops {
		out.Path = append(out.Path, h.String())
	}
	return out
}

type QuoteResponse struct {
	PathResponse
	Rate float64 `json:"rate"`
}

type TokenResponse struct {
	ID          string    `json:"id"`
	Asset       string    `json:"asset"`
	Code        string    `json:"code"`
	Issuer      string    `json:"issuer"`
	Distributor string    `json:"distributor"`
	Amount      string    `json:"amount"`
	Limit       string    `json:"limit,omitempty"`
	TxHash      string    `json:"tx_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

func FromToken(t domain.IssuedToken) TokenResponse {
	out := TokenResponse{
		ID:          t.ID,
		Asset:       t.Asset(),
		Code:        t.Code,
		Issuer:      t.Issuer,
		Distributor: t.Distributor,
		Amount:      FormatAmount(t.Amount),
		TxHash:      t.TxHash,
		CreatedAt:   t.CreatedAt,
	}
	if t.Limit > 0 {
		out.Limit = FormatAmount(t.Limit)
	}
	return out
}

func FromTokens(ts []domain.IssuedToken) []TokenResponse {
	out := make([]TokenResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, FromToken(t))
	}
	return out
}
