package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const contextKeyUser contextKey = "remit.user"

// UserID returns the authenticated subject stored by the auth middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyUser).(string)
	return id
}

// WithUserID is used by tests and internal callers that bypass tokens.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUser, userID)
}

type AuthConfig struct {
	HMACSecret string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator verifies HS256 access tokens issued by the identity
// provider. The subject claim is the user id.
type Authenticator struct {
	secret   []byte
	audience string
	skew     time.Duration
	logger   *zap.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &Authenticator{
		secret:   []byte(strings.TrimSpace(cfg.HMACSecret)),
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		logger:   logger,
	}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		// Browsers cannot set headers on websocket upgrades.
		if token == "" && websocketUpgrade(r) {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		sub, err := a.subject(token)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			respondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
	})
}

func (a *Authenticator) subject(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.skew),
		jwt.WithExpirationRequired(),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
