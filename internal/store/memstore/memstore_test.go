package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
)

func seedEscrow(t *testing.T, s *Store, id string) {
	t.Helper()
	intent := &domain.Intent{Hash: "create-" + id, Kind: domain.IntentEscrowCreate, Payload: json.RawMessage(`{}`)}
	require.NoError(t, s.CreateIntent(context.Background(), intent))
	require.NoError(t, s.Complete(context.Background(), intent.Hash, &domain.Settlement{Escrow: &domain.Escrow{
		ID: id, CreatorID: "c", Amount: 10, Asset: domain.NativeAsset, Status: domain.EscrowPending,
		Deadline: time.Now().Add(time.Hour), TxHashes: []string{intent.Hash},
	}}))
}

func TestLinkWallet(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	require.NoError(t, s.LinkWallet(ctx, "u1", "GA"))
	require.NoError(t, s.LinkWallet(ctx, "u1", "GA"))
	assert.ErrorIs(t, s.LinkWallet(ctx, "u1", "GB"), domain.ErrWalletExists)
	assert.ErrorIs(t, s.LinkWallet(ctx, "u2", "GA"), domain.ErrWalletLinked)

	p, err := s.ProfileByAddress(ctx, "GA")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
}

func TestSecretsNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSecret(context.Background(), "x")
	assert.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestClaimEscrowOnlyOnce(t *testing.T) {
	s := New()
	seedEscrow(t, s, "e1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := &domain.Intent{Hash: string(rune('a' + i)), Kind: domain.IntentEscrowRelease}
			if err := s.ClaimEscrow(context.Background(), "e1", in); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrEscrowNotPending)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestFailIntentReleasesClaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEscrow(t, s, "e1")

	require.NoError(t, s.ClaimEscrow(ctx, "e1", &domain.Intent{Hash: "h1", Kind: domain.IntentEscrowRelease}))
	require.NoError(t, s.FailIntent(ctx, "h1"))

	e, err := s.GetEscrow(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, e.Claimed())
	assert.NoError(t, s.ClaimEscrow(ctx, "e1", &domain.Intent{Hash: "h2", Kind: domain.IntentEscrowRelease}))
}

func TestCompleteIsReplaySafe(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedEscrow(t, s, "e1")

	require.NoError(t, s.ClaimEscrow(ctx, "e1", &domain.Intent{Hash: "h1", Kind: domain.IntentEscrowRelease}))
	sender := "c"
	st := &domain.Settlement{
		Transition:  &domain.EscrowTransition{EscrowID: "e1", Status: domain.EscrowReleased},
		Transaction: &domain.Transaction{ID: "t1", SenderID: &sender, Amount: 10, Asset: "XLM", TxHash: "h1"},
	}
	require.NoError(t, s.Complete(ctx, "h1", st))
	require.NoError(t, s.Complete(ctx, "h1", st))

	e, _ := s.GetEscrow(ctx, "e1")
	assert.Equal(t, domain.EscrowReleased, e.Status)
	assert.Equal(t, []string{"create-e1", "h1"}, e.TxHashes)

	txs, _ := s.ListTransactions(ctx, "c", 10)
	assert.Len(t, txs, 1)
}

func TestStaleIntents(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()
	s.SetClock(func() time.Time { return base.Add(-time.Hour) })
	require.NoError(t, s.CreateIntent(ctx, &domain.Intent{Hash: "old", Kind: domain.IntentPayment}))
	s.SetClock(func() time.Time { return base })
	require.NoError(t, s.CreateIntent(ctx, &domain.Intent{Hash: "new", Kind: domain.IntentPayment}))

	stale, err := s.StaleIntents(ctx, base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].Hash)
}

func TestReserveKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.ReserveKey(ctx, "k", "h")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.ReserveKey(ctx, "k", "h")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	_, err = s.ReserveKey(ctx, "k", "other")
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)

	require.NoError(t, s.CompleteKey(ctx, "k", 201, []byte(`{"ok":true}`)))
	got, err = s.ReserveKey(ctx, "k", "h")
	require.NoError(t, err)
	assert.Equal(t, 201, got.ResponseStatus)

	_, err = s.ReserveKey(ctx, "free", "h")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseKey(ctx, "free"))
	got, err = s.ReserveKey(ctx, "free", "h")
	require.NoError(t, err)
	assert.Nil(t, got)
}
