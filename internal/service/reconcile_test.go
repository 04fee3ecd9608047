package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
)

var errNetwork = errors.New("horizon: connection reset by peer")

func TestReconcileReplaysDeferredRecordWrite(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.user("creator", 100)
	recipientAddr := h.user("recipient", 5)
	e := createEscrow(t, h, "creator", recipientAddr, 2, time.Hour)

	h.store.failComplete = 1
	_, err := h.escrows.Release(ctx, "recipient", e.ID)
	require.NoError(t, err)
	assert.Equal(t, 7*xlm, h.ledger.Balance(recipientAddr))

	stored, err := h.mem.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowPending, stored.Status)
	assert.True(t, stored.Claimed())

	res, err := h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)

	h.advance(2 * time.Minute)
	res, err = h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	stored, err = h.mem.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowReleased, stored.Status)
	assert.Len(t, stored.TxHashes, 2)

	txs, err := h.mem.ListTransactions(ctx, "recipient", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	res, err = h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)
}

func TestReconcileFailsLostSubmission(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.user("creator", 100)
	recipientAddr := h.user("recipient", 5)
	e := createEscrow(t, h, "creator", recipientAddr, 2, time.Hour)

	h.ledger.FailNext(errNetwork, false)
	_, err := h.escrows.Release(ctx, "recipient", e.ID)
	require.ErrorIs(t, err, errNetwork)

	h.advance(2 * time.Minute)
	res, err := h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := h.mem.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowPending, stored.Status)
	assert.False(t, stored.Claimed())

	out, err := h.escrows.Release(ctx, "recipient", e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowReleased, out.Status)
}

func TestReconcileCompletesAppliedSubmission(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.user("creator", 100)
	recipientAddr := h.user("recipient", 5)

	h.ledger.FailNext(errNetwork, true)
	_, err := h.escrows.Create(ctx, "creator", CreateEscrowRequest{
		RecipientAddress: recipientAddr,
		Amount:           2 * xlm,
		Deadline:         h.now().Add(time.Hour),
	})
	require.ErrorIs(t, err, errNetwork)

	list, err := h.escrows.List(ctx, "creator")
	require.NoError(t, err)
	assert.Empty(t, list)

	h.advance(2 * time.Minute)
	res, err := h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	list, err = h.escrows.List(ctx, "creator")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2*xlm+DefaultReserveMargin, h.ledger.Balance(list[0].CustodialKey))

	_, err = h.keystore.Get(ctx, list[0].CustodialKey)
	assert.NoError(t, err)
}

func TestReconcileDiscardsUnusedCustodialSecret(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.user("organizer", 100)

	h.ledger.FailNext(errNetwork, false)
	_, err := h.pools.Create(ctx, "organizer", CreatePoolRequest{
		Name: "Trip", TargetAmount: 50 * xlm, Contribution: 5 * xlm, MemberCount: 3,
	})
	require.ErrorIs(t, err, errNetwork)

	stale, err := h.mem.StaleIntents(ctx, h.now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	in, err := h.mem.GetIntent(ctx, stale[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentPoolCreate, in.Kind)

	h.advance(2 * time.Minute)
	res, err := h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	in, err = h.mem.GetIntent(ctx, stale[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFailed, in.State)

	prepares, _ := h.ledger.Calls()
	assert.Equal(t, 1, prepares)
	st := poolIntentPayload(t, in)
	_, err = h.keystore.Get(ctx, st.Pool.Address)
	assert.ErrorIs(t, err, keystore.ErrNotFound)
}

func poolIntentPayload(t *testing.T, in *domain.Intent) *domain.Settlement {
	t.Helper()
	var st domain.Settlement
	require.NoError(t, json.Unmarshal(in.Payload, &st))
	require.NotNil(t, st.Pool)
	return &st
}

func TestReconcileContinuesPastFailedReplay(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.user("alice", 100)
	bob := h.user("bob", 5)

	h.store.failComplete = 2
	for i := 0; i < 2; i++ {
		_, err := h.wallets.SendPayment(ctx, "alice", PaymentRequest{Destination: bob, Amount: xlm})
		require.NoError(t, err)
	}

	h.advance(2 * time.Minute)
	h.store.failComplete = 1
	res, err := h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Completed: 1, Pending: 1}, res)

	res, err = h.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Completed: 1}, res)

	txs, err := h.mem.ListTransactions(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestReconcileWaitsForIngestionLag(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	recon := NewReconciler(h.recon.Deps, 30*time.Second)
	h.user("alice", 100)
	bob := h.user("bob", 5)

	h.ledger.FailNext(errNetwork, false)
	_, err := h.wallets.SendPayment(ctx, "alice", PaymentRequest{Destination: bob, Amount: xlm})
	require.ErrorIs(t, err, ErrOutcomeUnknown)

	h.advance(ledger.SubmitTimeout + 10*time.Second)
	res, err := recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)

	stale, err := h.mem.StaleIntents(ctx, h.now(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, domain.IntentSubmitted, stale[0].State)

	h.advance(time.Minute)
	res, err = recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Failed: 1}, res)
}

type settledKey struct {
	key       string
	completed bool
}

type recordingSettler struct {
	calls []settledKey
}

func (r *recordingSettler) SettleKey(_ context.Context, in *domain.Intent, _ *domain.Settlement, completed bool) error {
	r.calls = append(r.calls, settledKey{key: in.IdempotencyKey, completed: completed})
	return nil
}

func TestReconcileSettlesIdempotencyKeys(t *testing.T) {
	h := newHarness(t, "")
	settler := &recordingSettler{}
	h.recon.SettleKeysWith(settler)
	h.user("alice", 100)
	bob := h.user("bob", 5)
	pay := func(ctx context.Context, applied bool) {
		h.ledger.FailNext(errNetwork, applied)
		_, err := h.wallets.SendPayment(ctx, "alice", PaymentRequest{Destination: bob, Amount: xlm})
		require.ErrorIs(t, err, ErrOutcomeUnknown)
	}

	pay(WithIdempotencyKey(context.Background(), "alice:landed"), true)
	pay(WithIdempotencyKey(context.Background(), "alice:dropped"), false)
	pay(context.Background(), true)

	h.advance(2 * time.Minute)
	res, err := h.recon.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Completed: 2, Failed: 1}, res)
	assert.ElementsMatch(t, []settledKey{{"alice:landed", true}, {"alice:dropped", false}}, settler.calls)
}
