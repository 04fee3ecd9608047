package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
	"github.com/punchamoorthee/stellarremit/internal/models"
	"github.com/punchamoorthee/stellarremit/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remit_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)

// Services are the workflows the handlers call into.
type Services struct {
	Wallets *service.WalletService
	Escrows *service.EscrowService
	Pools   *service.PoolService
	Tokens  *service.TokenService
}

// SocketServer upgrades an authenticated request to a change-event stream.
type SocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

type Handler struct {
	wallets *service.WalletService
	escrows *service.EscrowService
	pools   *service.PoolService
	tokens  *service.TokenService
	idem    IdempotencyStore
	ws      SocketServer
	logger  *zap.Logger
}

func NewHandler(svc Services, idem IdempotencyStore, ws SocketServer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		wallets: svc.Wallets,
		escrows: svc.Escrows,
		pools:   svc.Pools,
		tokens:  svc.Tokens,
		idem:    idem,
		ws:      ws,
		logger:  logger,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errBadRequest marks malformed bodies and query strings.
var errBadRequest = errors.New("malformed request")

// writeError maps workflow errors onto status codes. Anything unknown is a
// 500 with a generic message; the cause is logged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *ledger.SubmitError
	switch {
	case errors.Is(err, errBadRequest):
		respondWithError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidSecret),
		errors.Is(err, domain.ErrPublicKeyAsSecret),
		errors.Is(err, domain.ErrMemoTooLong),
		errors.Is(err, domain.ErrDeadlineInPast),
		errors.Is(err, domain.ErrUnsupportedAsset),
		errors.Is(err, domain.ErrInvalidPool),
		errors.Is(err, domain.ErrInvalidAssetCode):
		respondWithError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrUnauthorized):
		respondWithError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, domain.ErrEscrowNotFound),
		errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrRecipientNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, domain.ErrEscrowNotPending),
		errors.Is(err, domain.ErrWalletExists),
		errors.Is(err, domain.ErrWalletLinked):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		respondWithError(w, http.StatusConflict, "Request processing in progress")
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")

	case errors.Is(err, domain.ErrDeadlineNotReached),
		errors.Is(err, domain.ErrDeadlinePassed),
		errors.Is(err, domain.ErrPoolLocked):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.As(err, &serr):
		respondWithJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   serr.Unwrap().Error(),
			TxCode:  serr.TxCode,
			OpCodes: serr.OpCodes,
		})
	case errors.Is(err, ledger.ErrNoPath),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrMemoRequired),
		errors.Is(err, ledger.ErrAccountNotFound):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, service.ErrOutcomeUnknown):
		h.logger.Warn("ledger outcome pending", zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, http.StatusGatewayTimeout, "Submitted to the ledger, outcome pending reconciliation")

	case errors.Is(err, domain.ErrCustodialSecretMissing):
		h.logger.Error("custodial secret missing", zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Custodial key unavailable")

	default:
		h.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
