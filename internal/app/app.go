// Package app wires configuration into the store, ledger, services and
// transport shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/api"
	"github.com/punchamoorthee/stellarremit/internal/config"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
	"github.com/punchamoorthee/stellarremit/internal/ledger"
	"github.com/punchamoorthee/stellarremit/internal/notify"
	"github.com/punchamoorthee/stellarremit/internal/service"
	"github.com/punchamoorthee/stellarremit/internal/store"
	"github.com/punchamoorthee/stellarremit/internal/store/memstore"
	"github.com/punchamoorthee/stellarremit/internal/worker"
)

// Backend is everything the process persists: records, sealed secrets and
// idempotency keys.
type Backend interface {
	service.Store
	keystore.Backend
	api.IdempotencyStore
}

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   Backend
	Wallets *service.WalletService
	Escrows *service.EscrowService
	Pools   *service.PoolService
	Tokens  *service.TokenService
	Recon   *service.Reconciler
	Sweeper *worker.Sweeper
	Hub     *notify.Hub
	Bridge  *notify.Bridge
	handler *api.Handler
	closers []func()
}

// New connects the configured store and ledger and builds the services.
// The returned cleanup releases every connection opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	a := &App{Config: cfg, Logger: logger}
	cleanup := func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store; state is lost on exit")
		a.Store = memstore.New()
	default:
		pg, err := store.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.Store = pg
	}

	lc, err := ledger.New(cfg.Ledger, logger.Named("ledger"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sealer, err := keystore.NewSealer(cfg.MasterKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("KEYSTORE_MASTER_KEY: %w", err)
	}
	policy, err := service.ParsePolicy(cfg.DeadlinePolicy)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	a.Hub = notify.NewHub(logger.Named("ws"))
	a.closers = append(a.closers, a.Hub.Close)
	var notifier service.Notifier = a.Hub
	if cfg.RedisURL != "" {
		rdb, err := notify.Dial(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Bridge = notify.NewBridge(rdb, a.Hub, logger.Named("redis"))
		notifier = a.Bridge
	}

	deps := service.Deps{
		Store:    a.Store,
		Ledger:   lc,
		Keystore: keystore.NewSealed(a.Store, sealer, logger.Named("keystore")),
		Notifier: notifier,
		Logger:   logger,
	}
	a.Wallets = service.NewWalletService(deps, cfg.FundWallets)
	a.Escrows = service.NewEscrowService(deps, service.EscrowConfig{ReserveMargin: cfg.ReserveMargin, Policy: policy})
	a.Pools = service.NewPoolService(deps, cfg.ReserveMargin)
	a.Tokens = service.NewTokenService(deps)
	a.handler = api.NewHandler(api.Services{
		Wallets: a.Wallets,
		Escrows: a.Escrows,
		Pools:   a.Pools,
		Tokens:  a.Tokens,
	}, a.Store, a.Hub, logger.Named("api"))
	a.Recon = service.NewReconciler(deps, cfg.IntentStaleAfter)
	a.Recon.SettleKeysWith(a.handler)
	a.Sweeper = worker.NewSweeper(a.Recon, a.Store, a.Escrows, worker.Config{
		Interval:   cfg.SweepInterval,
		AutoRefund: cfg.AutoRefund,
	}, logger.Named("sweeper"))

	return a, cleanup, nil
}

// Router builds the HTTP handler tree.
func (a *App) Router() http.Handler {
	auth := api.NewAuthenticator(api.AuthConfig{
		HMACSecret: a.Config.JWTSecret,
		Audience:   a.Config.JWTAudience,
	}, a.Logger)
	return api.NewRouter(a.handler, auth)
}

// Policy names the escrow deadline policy in force.
func (a *App) Policy() string { return a.Escrows.Policy().Name() }
