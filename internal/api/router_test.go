package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/keystore"
	"github.com/punchamoorthee/stellarremit/internal/ledger/ledgertest"
	"github.com/punchamoorthee/stellarremit/internal/models"
	"github.com/punchamoorthee/stellarremit/internal/service"
	"github.com/punchamoorthee/stellarremit/internal/store/memstore"
)

const (
	testSecret   = "test-signing-secret"
	testAudience = "authenticated"
	lumen        = int64(10_000_000)
)

type testServer struct {
	t      *testing.T
	router http.Handler
	ledger *ledgertest.Fake
	recon  *service.Reconciler
	clock  time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{t: t, ledger: ledgertest.New(), clock: time.Now()}
	mem := memstore.New()
	mem.SetClock(s.now)
	key, err := keystore.GenerateMasterKey()
	require.NoError(t, err)
	sealer, err := keystore.NewSealer(key)
	require.NoError(t, err)

	deps := service.Deps{
		Store:    mem,
		Ledger:   s.ledger,
		Keystore: keystore.NewSealed(mem, sealer, zap.NewNop()),
		Now:      s.now,
	}
	policy, err := service.ParsePolicy("")
	require.NoError(t, err)
	h := NewHandler(Services{
		Wallets: service.NewWalletService(deps, false),
		Escrows: service.NewEscrowService(deps, service.EscrowConfig{Policy: policy}),
		Pools:   service.NewPoolService(deps, 0),
		Tokens:  service.NewTokenService(deps),
	}, mem, nil, zap.NewNop())
	s.recon = service.NewReconciler(deps, 0)
	s.recon.SettleKeysWith(h)
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Audience: testAudience}, zap.NewNop())
	s.router = NewRouter(h, auth)
	return s
}

func (s *testServer) now() time.Time { return s.clock }

// reconcile moves the clock past the stale cutoff and runs one pass.
func (s *testServer) reconcile() service.ReconcileResult {
	s.t.Helper()
	s.clock = s.clock.Add(2 * time.Minute)
	res, err := s.recon.Reconcile(context.Background())
	require.NoError(s.t, err)
	return res
}

func token(t *testing.T, secret, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (s *testServer) do(method, path, user, idemKey string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, testSecret, user))
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// wallet creates and funds a wallet for user.
func (s *testServer) wallet(user string, lumens int64) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/wallet", user, "", nil)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var w service.Wallet
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &w))
	s.ledger.Credit(w.Address, lumens*lumen)
	return w.Address
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/escrows", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/escrows", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "some-other-secret", "alice"))
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestCreateWalletTwice(t *testing.T) {
	s := newTestServer(t)
	first := s.do(http.MethodPost, "/api/v1/wallet", "alice", "", nil)
	require.Equal(t, http.StatusCreated, first.Code)
	again := s.do(http.MethodPost, "/api/v1/wallet", "alice", "", nil)
	require.Equal(t, http.StatusOK, again.Code)

	var a, b service.Wallet
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &b))
	assert.Equal(t, a.Address, b.Address)
}

func TestPaymentIdempotency(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 50)
	bob := s.wallet("bob", 5)
	body := models.PaymentRequest{Destination: bob, Amount: "3", Memo: "rent"}

	rec := s.do(http.MethodPost, "/api/v1/payments", "alice", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	first := s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-1", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	replay := s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-1", body)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	_, submits := s.ledger.Calls()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 8*lumen, s.ledger.Balance(bob))

	mismatch := s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-1",
		models.PaymentRequest{Destination: bob, Amount: "4"})
	assert.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)

	var receipt models.ReceiptResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &receipt))
	assert.Equal(t, "3.0000000", receipt.Transaction.Amount)
	assert.Equal(t, "bob", *receipt.Transaction.ReceiverID)
}

func TestFailedRequestFreesKey(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 50)
	bob := s.wallet("bob", 5)

	long := models.PaymentRequest{Destination: bob, Amount: "1", Memo: "this memo is far longer than the ledger allows"}
	rec := s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-2", long)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-2", models.PaymentRequest{Destination: bob, Amount: "1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestEscrowLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 100)
	bob := s.wallet("bob", 5)

	create := s.do(http.MethodPost, "/api/v1/escrows", "alice", "esc-1", models.CreateEscrowRequest{
		RecipientAddress: bob,
		Amount:           "2",
		Deadline:         time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())
	var e models.EscrowResponse
	require.NoError(t, json.Unmarshal(create.Body.Bytes(), &e))
	assert.Equal(t, "pending", e.Status)
	assert.Equal(t, "/api/v1/escrows/"+e.ID, create.Header().Get("Location"))

	rec := s.do(http.MethodPost, "/api/v1/escrows/"+e.ID+"/release", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/escrows/"+e.ID+"/release", "bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "released", e.Status)
	assert.Len(t, e.TxHashes, 2)

	rec = s.do(http.MethodPost, "/api/v1/escrows/"+e.ID+"/release", "bob", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/escrows", "bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.EscrowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 100)

	rec := s.do(http.MethodGet, "/api/v1/escrows/does-not-exist", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/escrows", "alice", "esc-bad", models.CreateEscrowRequest{
		RecipientAddress: "GABC",
		Amount:           "1",
		Deadline:         time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/wallet/balances", "nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/quote?source_asset=XLM&dest_asset=XLM&dest_amount=1", "alice", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/ws", "alice", "", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPoolRoutes(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 100)
	s.wallet("bob", 50)

	rec := s.do(http.MethodPost, "/api/v1/pools", "alice", "pool-1", models.CreatePoolRequest{
		Name: "Family", TargetAmount: "100", Contribution: "10", MemberCount: 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p models.PoolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	rec = s.do(http.MethodPost, "/api/v1/pools/"+p.ID+"/contributions", "bob", "c-1", models.ContributionRequest{Amount: "5"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/pools/"+p.ID, "bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "15.0000000", p.Balance)
	assert.Equal(t, "0.0000000", p.Drift)
	assert.Len(t, p.Contributions, 2)

	rec = s.do(http.MethodPost, "/api/v1/pools/"+p.ID+"/withdrawals", "bob", "w-1", models.WithdrawalRequest{Amount: "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

var errLostResponse = errors.New("horizon: connection reset by peer")

func TestUnknownOutcomeKeyReplaysAfterReconcile(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 50)
	bob := s.wallet("bob", 5)
	body := models.PaymentRequest{Destination: bob, Amount: "3"}

	s.ledger.FailNext(errLostResponse, true)
	rec := s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-lost", body)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-lost", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, service.ReconcileResult{Completed: 1}, s.reconcile())

	rec = s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-lost", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	var receipt models.ReceiptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "3.0000000", receipt.Transaction.Amount)
	assert.Equal(t, "bob", *receipt.Transaction.ReceiverID)

	_, submits := s.ledger.Calls()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 8*lumen, s.ledger.Balance(bob))
}

func TestUnknownOutcomeKeyFreedWhenIntentFails(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 50)
	bob := s.wallet("bob", 5)
	body := models.PaymentRequest{Destination: bob, Amount: "3"}

	s.ledger.FailNext(errLostResponse, false)
	rec := s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-dropped", body)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	assert.Equal(t, service.ReconcileResult{Failed: 1}, s.reconcile())

	rec = s.do(http.MethodPost, "/api/v1/payments", "alice", "pay-dropped", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 8*lumen, s.ledger.Balance(bob))
}

func TestUnknownOutcomeEscrowReplaysEscrow(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 100)
	bob := s.wallet("bob", 5)
	body := models.CreateEscrowRequest{RecipientAddress: bob, Amount: "2", Deadline: s.now().Add(time.Hour)}

	s.ledger.FailNext(errLostResponse, true)
	rec := s.do(http.MethodPost, "/api/v1/escrows", "alice", "esc-lost", body)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	assert.Equal(t, service.ReconcileResult{Completed: 1}, s.reconcile())

	rec = s.do(http.MethodPost, "/api/v1/escrows", "alice", "esc-lost", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var e models.EscrowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "pending", e.Status)

	rec = s.do(http.MethodGet, "/api/v1/escrows/"+e.ID, "bob", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRoutes(t *testing.T) {
	s := newTestServer(t)
	s.wallet("alice", 100)
	bob := s.wallet("bob", 5)

	rec := s.do(http.MethodPost, "/api/v1/tokens", "alice", "", models.IssueTokenRequest{Code: "GOLD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/tokens", "alice", "tok-1", models.IssueTokenRequest{Code: "GOLD", Amount: "500"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tok models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "500.0000000", tok.Amount)
	assert.Equal(t, "/api/v1/tokens/"+tok.ID, rec.Header().Get("Location"))

	rec = s.do(http.MethodGet, "/api/v1/tokens/"+tok.ID, "bob", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/wallet/trustlines", "bob", "", models.TrustlineRequest{Asset: tok.Asset})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/tokens/"+tok.ID+"/distributions", "alice", "dist-1",
		models.DistributionRequest{Destination: bob, Amount: "20"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/tokens", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = s.do(http.MethodPost, "/api/v1/tokens", "alice", "tok-2", models.IssueTokenRequest{Code: "NOT-VALID"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/tokens", "alice", "tok-3", models.IssueTokenRequest{Code: "GOLD", IssuerSecret: bob})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
