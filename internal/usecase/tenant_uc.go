package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ TenantUseCase = (*tenantUC)(nil)

type TenantUseCase interface {
	// Create provisions a club on the free plan. A slug that is already
	// taken is retried with a random suffix.
	Create(ctx context.Context, name string) (*model.Tenant, error)
	Get(ctx context.Context, id string) (*model.Tenant, error)
}

// slugSuffixLen is the hex suffix length per attempt; attempt 0 tries the
// bare slug.
var slugSuffixLen = []int{0, 2, 4, 7, 10}

type tenantUC struct {
	tenants     repository.TenantRepository
	assignments repository.PlanAssignmentRepository
	audit       *auditLog
	tm          repository.TransactionManager
	clock       Clock
	backoff     time.Duration
	log         *zerolog.Logger
}

func NewTenantUseCase(
	tenants repository.TenantRepository,
	assignments repository.PlanAssignmentRepository,
	history repository.PlanHistoryRepository,
	tm repository.TransactionManager,
	clock Clock,
	logger *zerolog.Logger,
) *tenantUC {
	l := logger.With().Str("component", "Tenants").Logger()
	clock = orSystemClock(clock)
	return &tenantUC{
		tenants:     tenants,
		assignments: assignments,
		audit:       &auditLog{history: history, clock: clock},
		tm:          tm,
		clock:       clock,
		backoff:     10 * time.Millisecond,
		log:         &l,
	}
}

func (u *tenantUC) Create(ctx context.Context, name string) (*model.Tenant, error) {
	defer logging.TraceDuration(u.log, "TenantUC.Create")()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: club name is required", domain.ErrInvalidArgument)
	}
	base := model.Slugify(name)

	var (
		created *model.Tenant
		attempt int
		last    error
	)
	b := retry.WithMaxRetries(uint64(len(slugSuffixLen)-1), retry.NewConstant(u.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		slug, err := candidateSlug(base, attempt)
		attempt++
		if err != nil {
			return err
		}
		t, err := u.insert(ctx, name, slug)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				last = err
				u.log.Debug().Str("slug", slug).Int("attempt", attempt).Msg("slug taken, retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, &domain.ExhaustedError{Op: "tenant slug", Attempts: attempt, Last: last}
		}
		return nil, err
	}
	u.log.Info().Str("tenant_id", created.ID).Str("slug", created.Slug).Msg("tenant provisioned")
	return created, nil
}

func (u *tenantUC) insert(ctx context.Context, name, slug string) (*model.Tenant, error) {
	now := u.clock.Now()
	t := &model.Tenant{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      name,
		PlanCode:  model.PlanFree,
		Status:    model.SubscriptionStatusNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.tenants.Create(ctx, tx, t); err != nil {
			return err
		}
		if err := switchPlan(ctx, tx, u.assignments, t.ID, model.PlanFree, now, string(model.ChangeTypeInitial)); err != nil {
			return err
		}
		return u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:   t.ID,
			ToPlan:     model.PlanFree,
			ChangeType: model.ChangeTypeInitial,
			Reason:     "tenant provisioned",
			ChangedBy:  logging.Actor(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (u *tenantUC) Get(ctx context.Context, id string) (*model.Tenant, error) {
	return loadTenant(ctx, repository.NoTX, u.tenants, id, false)
}

func candidateSlug(base string, attempt int) (string, error) {
	if attempt <= 0 {
		return base, nil
	}
	n := slugSuffixLen[len(slugSuffixLen)-1]
	if attempt < len(slugSuffixLen) {
		n = slugSuffixLen[attempt]
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base + "-" + hex.EncodeToString(buf)[:n], nil
}
