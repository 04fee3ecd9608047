// Package memstore is an in-memory store with the same semantics as the
// Postgres store. It backs tests and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
)

type Store struct {
	mu            sync.Mutex
	profiles      map[string]*domain.Profile
	secrets       map[string]string
	escrows       map[string]*domain.Escrow
	transactions  []domain.Transaction
	pools         map[string]*domain.SavingsPool
	contributions []domain.Contribution
	tokens        map[string]*domain.IssuedToken
	intents       map[string]*domain.Intent
	keys          map[string]*domain.IdempotencyPayload
	now           func() time.Time
}

func New() *Store {
	return &Store{
		profiles: map[string]*domain.Profile{},
		secrets:  map[string]string{},
		escrows:  map[string]*domain.Escrow{},
		pools:    map[string]*domain.SavingsPool{},
		tokens:   map[string]*domain.IssuedToken{},
		intents:  map[string]*domain.Intent{},
		keys:     map[string]*domain.IdempotencyPayload{},
		now:      time.Now,
	}
}

// SetClock overrides the clock used for journal timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok || p.Address == nil {
		return nil, domain.ErrWalletNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ProfileByAddress(_ context.Context, address string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.Address != nil && *p.Address == address {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrWalletNotFound
}

func (s *Store) LinkWallet(_ context.Context, userID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.profiles {
		if id != userID && p.Address != nil && *p.Address == address {
			return domain.ErrWalletLinked
		}
	}
	now := s.now()
	p, ok := s.profiles[userID]
	if !ok {
		s.profiles[userID] = &domain.Profile{UserID: userID, Address: &address, CreatedAt: now, UpdatedAt: now}
		return nil
	}
	if p.Address != nil {
		if *p.Address == address {
			return nil
		}
		return domain.ErrWalletExists
	}
	p.Address = &address
	p.UpdatedAt = now
	return nil
}

func (s *Store) PutSecret(_ context.Context, ownerID, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ownerID] = sealed
	return nil
}

func (s *Store) GetSecret(_ context.Context, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[ownerID]
	if !ok {
		return "", keystore.ErrNotFound
	}
	return v, nil
}

func (s *Store) DeleteSecret(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, ownerID)
	return nil
}

func copyEscrow(e *domain.Escrow) domain.Escrow {
	cp := *e
	cp.TxHashes = append([]string(nil), e.TxHashes...)
	return cp
}

func (s *Store) GetEscrow(_ context.Context, id string) (*domain.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, domain.ErrEscrowNotFound
	}
	cp := copyEscrow(e)
	return &cp, nil
}

func (s *Store) ListEscrows(_ context.Context, userID string, address *string) ([]domain.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Escrow{}
	for _, e := range s.escrows {
		recipient := (e.RecipientID != nil && *e.RecipientID == userID) ||
			(address != nil && *address == e.RecipientAddress)
		if e.CreatorID == userID || recipient {
			out = append(out, copyEscrow(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ExpiredEscrows(_ context.Context, now time.Time, limit int) ([]domain.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Escrow{}
	for _, e := range s.escrows {
		if e.Status == domain.EscrowPending && e.ClaimHash == nil && e.Deadline.Before(now) {
			out = append(out, copyEscrow(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimEscrow(_ context.Context, escrowID string, intent *domain.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[escrowID]
	if !ok {
		return domain.ErrEscrowNotFound
	}
	if e.Status != domain.EscrowPending || e.ClaimHash != nil {
		return domain.ErrEscrowNotPending
	}
	if err := s.insertIntent(intent); err != nil {
		return err
	}
	now := s.now()
	hash := intent.Hash
	e.ClaimHash = &hash
	e.ClaimedAt = &now
	e.UpdatedAt = now
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Transaction{}
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.transactions[i]
		if (t.SenderID != nil && *t.SenderID == userID) || (t.ReceiverID != nil && *t.ReceiverID == userID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetPool(_ context.Context, id string) (*domain.SavingsPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListContributions(_ context.Context, poolID string) ([]domain.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Contribution{}
	for _, c := range s.contributions {
		if c.PoolID == poolID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetToken(_ context.Context, id string) (*domain.IssuedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTokens(_ context.Context, ownerID string) ([]domain.IssuedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.IssuedToken{}
	for _, t := range s.tokens {
		if t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) insertIntent(in *domain.Intent) error {
	if _, ok := s.intents[in.Hash]; ok {
		return domain.ErrIdempotencyConflict
	}
	now := s.now()
	cp := *in
	cp.State = domain.IntentSubmitted
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.intents[in.Hash] = &cp
	return nil
}

func (s *Store) CreateIntent(_ context.Context, in *domain.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertIntent(in)
}

func (s *Store) GetIntent(_ context.Context, hash string) (*domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[hash]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *Store) FailIntent(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[hash]
	if !ok || in.State != domain.IntentSubmitted {
		return nil
	}
	in.State = domain.IntentFailed
	in.UpdatedAt = s.now()
	for _, e := range s.escrows {
		if e.Status == domain.EscrowPending && e.ClaimHash != nil && *e.ClaimHash == hash {
			e.ClaimHash = nil
			e.ClaimedAt = nil
		}
	}
	return nil
}

func (s *Store) StaleIntents(_ context.Context, cutoff time.Time, limit int) ([]domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Intent{}
	for _, in := range s.intents {
		if in.State == domain.IntentSubmitted && in.CreatedAt.Before(cutoff) {
			out = append(out, *in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Complete applies a settlement atomically. Validation runs before any write
// so a failed completion leaves the store untouched.
func (s *Store) Complete(_ context.Context, hash string, st *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[hash]
	if !ok {
		return domain.ErrIntentNotFound
	}
	if in.State == domain.IntentCompleted {
		return nil
	}
	if st.Transition != nil {
		e, ok := s.escrows[st.Transition.EscrowID]
		if !ok || e.Status != domain.EscrowPending {
			return domain.ErrEscrowNotPending
		}
	}

	now := s.now()
	if st.Escrow != nil {
		if _, exists := s.escrows[st.Escrow.ID]; !exists {
			cp := copyEscrow(st.Escrow)
			s.escrows[cp.ID] = &cp
		}
	}
	if st.Transition != nil {
		e := s.escrows[st.Transition.EscrowID]
		e.Status = st.Transition.Status
		e.TxHashes = append(e.TxHashes, hash)
		e.UpdatedAt = now
	}
	if st.Pool != nil {
		if _, exists := s.pools[st.Pool.ID]; !exists {
			cp := *st.Pool
			cp.Contributed = 0
			s.pools[cp.ID] = &cp
		}
	}
	if st.Contribution != nil && !s.hasContribution(st.Contribution.ID) {
		s.contributions = append(s.contributions, *st.Contribution)
		if p, ok := s.pools[st.Contribution.PoolID]; ok {
			p.Contributed += st.Contribution.Amount
		}
	}
	if st.Withdrawal != nil {
		if p, ok := s.pools[st.Withdrawal.PoolID]; ok {
			p.Contributed -= st.Withdrawal.Amount
			if p.Contributed < 0 {
				p.Contributed = 0
			}
		}
	}
	if st.Token != nil {
		if _, exists := s.tokens[st.Token.ID]; !exists {
			cp := *st.Token
			s.tokens[cp.ID] = &cp
		}
	}
	if st.Transaction != nil && !s.hasTransaction(st.Transaction.ID) {
		s.transactions = append(s.transactions, *st.Transaction)
	}
	in.State = domain.IntentCompleted
	in.UpdatedAt = now
	return nil
}

func (s *Store) hasContribution(id string) bool {
	for _, c := range s.contributions {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) hasTransaction(id string) bool {
	for _, t := range s.transactions {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) ReserveKey(_ context.Context, key, reqHash string) (*domain.IdempotencyPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.keys[key]; ok {
		if stored.RequestHash != reqHash {
			return nil, domain.ErrIdempotencyMismatch
		}
		if stored.Status != "completed" {
			return nil, domain.ErrIdempotencyConflict
		}
		cp := *stored
		return &cp, nil
	}
	s.keys[key] = &domain.IdempotencyPayload{Status: "in_progress", RequestHash: reqHash}
	return nil, nil
}

func (s *Store) CompleteKey(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.keys[key]; ok && stored.Status == "in_progress" {
		stored.Status = "completed"
		stored.ResponseStatus = status
		stored.ResponseBody = append([]byte(nil), body...)
	}
	return nil
}

func (s *Store) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.keys[key]; ok && stored.Status == "in_progress" {
		delete(s.keys, key)
	}
	return nil
}
