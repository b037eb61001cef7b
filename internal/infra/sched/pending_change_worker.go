package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/infra/metrics"
	"club-entitlements/internal/usecase"
)

const sweepLockKey = "lock:pending_change_sweep"

type PendingChangeWorkerConfig struct {
	Interval   time.Duration
	LockTTL    time.Duration
	RunOnStart bool
}

// PendingChangeWorker periodically applies due deferred plan changes. Only the
// replica holding the sweep lock does any work in a given tick.
type PendingChangeWorker struct {
	cfg    PendingChangeWorkerConfig
	uc     usecase.PendingChangeUseCase
	locker adapter.Locker
	log    *zerolog.Logger
}

func NewPendingChangeWorker(cfg PendingChangeWorkerConfig, uc usecase.PendingChangeUseCase, locker adapter.Locker, logger *zerolog.Logger) *PendingChangeWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	wLog := logger.With().Str("component", "PendingChangeWorker").Logger()
	return &PendingChangeWorker{cfg: cfg, uc: uc, locker: locker, log: &wLog}
}

func (w *PendingChangeWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.Interval).Msg("Starting pending change worker")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	if w.cfg.RunOnStart {
		w.RunOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping pending change worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one locked sweep. It returns nil when another replica
// holds the lock.
func (w *PendingChangeWorker) RunOnce(ctx context.Context) *usecase.SweepReport {
	token, err := w.locker.TryLock(ctx, sweepLockKey, w.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			w.log.Debug().Msg("sweep lock held elsewhere; skipping")
		} else {
			w.log.Error().Err(err).Msg("failed to take sweep lock")
		}
		return nil
	}
	defer func() {
		// the lock must be released even when ctx was canceled mid-sweep
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.locker.Unlock(uctx, sweepLockKey, token); err != nil {
			w.log.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	start := time.Now()
	rep, err := w.uc.SweepDue(ctx)
	metrics.ObserveSweep(time.Since(start))
	if err != nil {
		w.log.Error().Err(err).Msg("pending change sweep aborted")
	}
	if rep == nil {
		return nil
	}
	metrics.AddPendingChanges("applied", rep.Applied)
	metrics.AddPendingChanges("noop", rep.Noops)
	metrics.AddPendingChanges("failed", rep.Failed)
	if rep.Due > 0 {
		w.log.Info().
			Int("due", rep.Due).
			Int("applied", rep.Applied).
			Int("noop", rep.Noops).
			Int("failed", rep.Failed).
			Dur("took", time.Since(start)).
			Msg("pending change sweep finished")
	}
	return rep
}
