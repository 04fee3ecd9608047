package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
	"github.com/punchamoorthee/stellarremit/internal/ledger/ledgertest"
	"github.com/punchamoorthee/stellarremit/internal/store/memstore"
)

const (
	xlm     int64 = 10_000_000
	baseFee       = ledgertest.BaseFee
)

type note struct {
	user  string
	event string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (r *recordingNotifier) Notify(userID, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{user: userID, event: event})
}

func (r *recordingNotifier) count(userID, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notes {
		if x.user == userID && x.event == event {
			n++
		}
	}
	return n
}

// flakyStore fails the next n completions.
type flakyStore struct {
	*memstore.Store
	mu           sync.Mutex
	failComplete int
}

func (s *flakyStore) Complete(ctx context.Context, hash string, st *domain.Settlement) error {
	s.mu.Lock()
	if s.failComplete > 0 {
		s.failComplete--
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.Complete(ctx, hash, st)
}

type harness struct {
	t        *testing.T
	mem      *memstore.Store
	store    *flakyStore
	ledger   *ledgertest.Fake
	keystore keystore.Keystore
	notes    *recordingNotifier
	clock    time.Time
	clockMu  sync.Mutex

	wallets *WalletService
	escrows *EscrowService
	pools   *PoolService
	tokens  *TokenService
	recon   *Reconciler
}

func newHarness(t *testing.T, policy string) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		mem:    memstore.New(),
		ledger: ledgertest.New(),
		notes:  &recordingNotifier{},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.store = &flakyStore{Store: h.mem}
	h.mem.SetClock(h.now)

	key, err := keystore.GenerateMasterKey()
	require.NoError(t, err)
	sealer, err := keystore.NewSealer(key)
	require.NoError(t, err)
	h.keystore = keystore.NewSealed(h.mem, sealer, zap.NewNop())

	p, err := ParsePolicy(policy)
	require.NoError(t, err)

	deps := Deps{
		Store:    h.store,
		Ledger:   h.ledger,
		Keystore: h.keystore,
		Notifier: h.notes,
		Logger:   zap.NewNop(),
		Now:      h.now,
	}
	h.wallets = NewWalletService(deps, false)
	h.escrows = NewEscrowService(deps, EscrowConfig{ReserveMargin: DefaultReserveMargin, Policy: p})
	h.pools = NewPoolService(deps, DefaultReserveMargin)
	h.tokens = NewTokenService(deps)
	h.recon = NewReconciler(deps, time.Minute)
	return h
}

func (h *harness) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(d)
}

// user creates a wallet for id and funds it with the given lumens.
func (h *harness) user(id string, lumens int64) string {
	h.t.Helper()
	w, err := h.wallets.CreateWallet(context.Background(), id)
	require.NoError(h.t, err)
	if lumens > 0 {
		h.ledger.Credit(w.Address, lumens*xlm)
	}
	return w.Address
}

// outsider returns a funded ledger account that no user has linked.
func (h *harness) outsider(lumens int64) *keys.Pair {
	h.t.Helper()
	p, err := keys.Generate()
	require.NoError(h.t, err)
	h.ledger.Credit(p.Address(), lumens*xlm)
	return p
}
