package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
)

// Integration tests run against TEST_DB_SOURCE and are skipped without it.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	require.NoError(t, Migrate(dsn, true))
	s, err := NewStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func createEscrow(t *testing.T, s *Store) *domain.Escrow {
	t.Helper()
	ctx := context.Background()
	e := &domain.Escrow{
		ID:               uuid.NewString(),
		CreatorID:        "creator-" + uuid.NewString(),
		CreatorAddress:   "GCREATOR",
		RecipientAddress: "GRECIPIENT",
		Amount:           20_000_000,
		Asset:            domain.NativeAsset,
		Deadline:         time.Now().Add(time.Hour),
		Status:           domain.EscrowPending,
		CustodialKey:     "GCUSTODY" + uuid.NewString(),
		CreatedAt:        time.Now(),
	}
	hash := "create-" + e.ID
	e.TxHashes = []string{hash}
	require.NoError(t, s.CreateIntent(ctx, &domain.Intent{Hash: hash, Kind: domain.IntentEscrowCreate, Payload: []byte(`{}`)}))
	require.NoError(t, s.Complete(ctx, hash, &domain.Settlement{Escrow: e}))
	return e
}

func TestPostgresEscrowClaimRace(t *testing.T) {
	s := testStore(t)
	e := createEscrow(t, s)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := &domain.Intent{Hash: uuid.NewString(), Kind: domain.IntentEscrowRelease, Payload: []byte(`{}`)}
			if err := s.ClaimEscrow(context.Background(), e.ID, in); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrEscrowNotPending)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestPostgresCompleteRelease(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	e := createEscrow(t, s)

	hash := uuid.NewString()
	require.NoError(t, s.ClaimEscrow(ctx, e.ID, &domain.Intent{Hash: hash, Kind: domain.IntentEscrowRelease, Payload: []byte(`{}`)}))

	st := &domain.Settlement{
		Transition: &domain.EscrowTransition{EscrowID: e.ID, Status: domain.EscrowReleased},
		Transaction: &domain.Transaction{
			ID: uuid.NewString(), SenderID: &e.CreatorID, Amount: e.Amount, Asset: e.Asset,
			TxHash: hash, Status: "completed", CreatedAt: time.Now(),
		},
	}
	require.NoError(t, s.Complete(ctx, hash, st))
	require.NoError(t, s.Complete(ctx, hash, st))

	got, err := s.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowReleased, got.Status)
	assert.Equal(t, []string{"create-" + e.ID, hash}, got.TxHashes)

	txs, err := s.ListTransactions(ctx, e.CreatorID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestPostgresFailIntentUnclaims(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	e := createEscrow(t, s)

	hash := uuid.NewString()
	require.NoError(t, s.ClaimEscrow(ctx, e.ID, &domain.Intent{Hash: hash, Kind: domain.IntentEscrowRelease, Payload: []byte(`{}`)}))
	require.NoError(t, s.FailIntent(ctx, hash))

	got, err := s.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.Claimed())

	in, err := s.GetIntent(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFailed, in.State)
}

func TestPostgresSecretsAndProfiles(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	addr := "G" + uuid.NewString()

	_, err := s.GetSecret(ctx, user)
	assert.ErrorIs(t, err, keystore.ErrNotFound)
	require.NoError(t, s.PutSecret(ctx, user, "v1:sealed"))
	v, err := s.GetSecret(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "v1:sealed", v)

	require.NoError(t, s.LinkWallet(ctx, user, addr))
	assert.ErrorIs(t, s.LinkWallet(ctx, user, "G"+uuid.NewString()), domain.ErrWalletExists)
	assert.ErrorIs(t, s.LinkWallet(ctx, uuid.NewString(), addr), domain.ErrWalletLinked)
}

func TestPostgresIdempotencyKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := uuid.NewString()

	got, err := s.ReserveKey(ctx, key, "h")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.ReserveKey(ctx, key, "h")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	require.NoError(t, s.CompleteKey(ctx, key, 201, []byte(`{"id":"x"}`)))
	got, err = s.ReserveKey(ctx, key, "h")
	require.NoError(t, err)
	assert.Equal(t, 201, got.ResponseStatus)
	assert.JSONEq(t, `{"id":"x"}`, string(got.ResponseBody))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h/db", migrateURL("postgres://u:p@h/db"))
	assert.Equal(t, "pgx5://u:p@h/db", migrateURL("postgresql://u:p@h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}
