// Package worker runs the periodic housekeeping passes of the API process.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/service"
)

const defaultBatch = 50

type Reconciler interface {
	Reconcile(ctx context.Context) (service.ReconcileResult, error)
}

type EscrowSource interface {
	ExpiredEscrows(ctx context.Context, now time.Time, limit int) ([]domain.Escrow, error)
}

type Expirer interface {
	Expire(ctx context.Context, e *domain.Escrow) (*domain.Escrow, error)
}

type Config struct {
	Interval time.Duration
	// AutoRefund returns expired escrows to their creators.
	AutoRefund bool
	Batch      int
	Now        func() time.Time
}

// Result summarises one sweep.
type Result struct {
	Reconciled service.ReconcileResult `json:"reconciled"`
	Refunded   int                     `json:"refunded"`
	Skipped    int                     `json:"skipped"`
}

// Sweeper reconciles stale intents and refunds escrows past their deadline.
type Sweeper struct {
	recon   Reconciler
	source  EscrowSource
	escrows Expirer
	cfg     Config
	logger  *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewSweeper(recon Reconciler, source EscrowSource, escrows Expirer, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		recon:    recon,
		source:   source,
		escrows:  escrows,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs a sweep every interval until ctx is cancelled or Stop is
// called. A zero interval disables the loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Info("Sweeper disabled")
		return
	}
	s.logger.Info("Starting sweeper", zap.Duration("interval", s.cfg.Interval), zap.Bool("auto_refund", s.cfg.AutoRefund))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
			if res.Reconciled.Completed+res.Reconciled.Failed+res.Refunded > 0 {
				s.logger.Info("Sweep finished",
					zap.Int("completed", res.Reconciled.Completed),
					zap.Int("failed", res.Reconciled.Failed),
					zap.Int("refunded", res.Refunded))
			}
		case <-s.stopChan:
			s.logger.Info("Stopping sweeper")
			return
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping sweeper")
			return
		}
	}
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce reconciles first so escrows whose release is still unresolved
// stay claimed and are not refunded underneath it.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	rec, err := s.recon.Reconcile(ctx)
	res.Reconciled = rec
	if err != nil {
		return res, err
	}
	if !s.cfg.AutoRefund {
		return res, nil
	}

	due, err := s.source.ExpiredEscrows(ctx, s.cfg.Now(), s.cfg.Batch)
	if err != nil {
		return res, err
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e := &due[i]
		_, err := s.escrows.Expire(ctx, e)
		switch {
		case err == nil:
			res.Refunded++
		case errors.Is(err, domain.ErrDeadlineNotReached), errors.Is(err, domain.ErrEscrowNotPending):
			res.Skipped++
		default:
			res.Skipped++
			s.logger.Warn("Escrow refund failed", zap.String("escrow_id", e.ID), zap.Error(err))
		}
	}
	return res, nil
}
