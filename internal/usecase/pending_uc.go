package usecase

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ PendingChangeUseCase = (*pendingUC)(nil)

// PendingChangeUseCase applies every deferred downgrade or cancellation that
// has come due.
type PendingChangeUseCase interface {
	SweepDue(ctx context.Context) (*SweepReport, error)
}

// SweepReport counts per-tenant outcomes of one sweep.
type SweepReport struct {
	Due     int
	Applied int
	Noops   int
	Failed  int
}

type SweepConfig struct {
	BatchSize   int
	Concurrency int
}

type pendingUC struct {
	tenants   repository.TenantRepository
	lifecycle LifecycleUseCase
	cfg       SweepConfig
	clock     Clock
	log       *zerolog.Logger
}

func NewPendingChangeUseCase(tenants repository.TenantRepository, lifecycle LifecycleUseCase, cfg SweepConfig, clock Clock, logger *zerolog.Logger) *pendingUC {
	l := logger.With().Str("component", "PendingChanges").Logger()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &pendingUC{
		tenants:   tenants,
		lifecycle: lifecycle,
		cfg:       cfg,
		clock:     orSystemClock(clock),
		log:       &l,
	}
}

// SweepDue pages through due tenants and applies each change independently.
// A tenant's failure is logged and counted; only a failure to list the due
// set aborts the sweep.
func (u *pendingUC) SweepDue(ctx context.Context) (*SweepReport, error) {
	defer logging.TraceDuration(u.log, "PendingChangeUC.SweepDue")()
	now := u.clock.Now()
	var applied, noops, failed atomic.Int64
	due := 0
	after := ""

	for {
		ids, err := u.tenants.ListDuePending(ctx, repository.NoTX, now, after, u.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		due += len(ids)
		after = ids[len(ids)-1]

		var g errgroup.Group
		g.SetLimit(u.cfg.Concurrency)
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				_, err := u.lifecycle.ApplyPendingChange(ctx, id)
				switch {
				case err == nil:
					applied.Add(1)
				case errors.Is(err, domain.ErrConcurrencyNoop):
					noops.Add(1)
					u.log.Debug().Str("tenant_id", id).Str("reason", err.Error()).Msg("pending change already resolved")
				default:
					failed.Add(1)
					u.log.Error().Err(err).Str("tenant_id", id).Msg("failed to apply pending change")
				}
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
		if len(ids) < u.cfg.BatchSize {
			break
		}
	}

	rep := &SweepReport{
		Due:     due,
		Applied: int(applied.Load()),
		Noops:   int(noops.Load()),
		Failed:  int(failed.Load()),
	}
	u.log.Info().
		Int("due", rep.Due).
		Int("applied", rep.Applied).
		Int("noops", rep.Noops).
		Int("failed", rep.Failed).
		Msg("pending change sweep finished")
	return rep, ctx.Err()
}
