package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Entitlement and lifecycle errors
	ErrConfiguration     = errors.New("configuration error")
	ErrCooldown          = errors.New("plan change cooldown in effect")
	ErrInvalidTransition = errors.New("invalid subscription transition")
	ErrGateway           = errors.New("billing gateway error")
	ErrGatewayTimeout    = errors.New("billing gateway outcome unknown")
	ErrConcurrencyNoop   = errors.New("change already resolved")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrLockNotAcquired   = errors.New("lock not acquired")
)

// ConfigurationError reports a feature key the catalog does not know about.
type ConfigurationError struct {
	FeatureKey string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown feature key %q", e.FeatureKey)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CooldownError is returned when a user-initiated plan change arrives too soon
// after the previous one.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("plan was changed recently; try again in %d hour(s)", e.RemainingHours())
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// RemainingHours rounds up so a caller never sees 0 while still blocked.
func (e *CooldownError) RemainingHours() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Hours()))
}

// GatewayError carries the processor's decline message.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return "gateway " + e.Op + " failed"
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}

// ConcurrencyNoop signals that a pending change or event was already handled
// by a concurrent writer.
type ConcurrencyNoop struct {
	TenantID string
	Reason   string
}

func (e *ConcurrencyNoop) Error() string {
	return fmt.Sprintf("tenant %s: %s", e.TenantID, e.Reason)
}

func (e *ConcurrencyNoop) Unwrap() error { return ErrConcurrencyNoop }

type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return ErrRetriesExhausted }
