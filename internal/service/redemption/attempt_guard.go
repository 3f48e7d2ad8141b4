package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"foodrescue/pkg/limiter"
	"foodrescue/pkg/log"
	"foodrescue/pkg/utils"
)

// Guard limits failed PIN presentations per reservation. Without it a 6
// digit PIN space is brute-forceable by an untrusted operator.
type Guard interface {
	// Check fails with ErrTooManyAttempts when the key is over budget
	Check(ctx context.Context, reservationID uint64) error
	// RecordFailure counts one failed presentation
	RecordFailure(ctx context.Context, reservationID uint64)
	// Reset clears the counter after a successful redemption
	Reset(ctx context.Context, reservationID uint64)
}

// AttemptGuard combines a process-local token bucket with a Redis sliding
// window. The window lives in Redis because redemption terminals are
// independent processes; a local counter alone cannot see attempts made
// from another terminal.
type AttemptGuard struct {
	local  *limiter.TokenBucketLimiter
	window *limiter.SlidingWindowLimiter
}

// AttemptGuardConfig attempt guard configuration
type AttemptGuardConfig struct {
	MaxAttempts int           // failed presentations allowed inside Window
	Window      time.Duration // rolling window length
	LocalRate   float64       // process-local attempts per second
	LocalBurst  int
}

// NewAttemptGuard creates an attempt guard
func NewAttemptGuard(client *redis.Client, cfg AttemptGuardConfig) *AttemptGuard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.LocalRate <= 0 {
		cfg.LocalRate = 5
	}
	if cfg.LocalBurst <= 0 {
		cfg.LocalBurst = 10
	}

	return &AttemptGuard{
		local:  limiter.NewTokenBucketLimiter(cfg.LocalRate, cfg.LocalBurst),
		window: limiter.NewSlidingWindowLimiter(client, "redeem:attempts", cfg.MaxAttempts, cfg.Window),
	}
}

// Check fails when the reservation is over its failed-attempt budget.
func (g *AttemptGuard) Check(ctx context.Context, reservationID uint64) error {
	ok, err := g.local.Allow(ctx, "")
	if err == nil && !ok {
		return utils.ErrTooManyAttempts
	}

	allowed, err := g.window.Allow(ctx, key(reservationID))
	if err != nil {
		// Fail open: a Redis outage must not block legitimate pickups. The
		// status CAS still guarantees single redemption.
		log.WithError(err).Warn("Attempt window unavailable, allowing request")
		return nil
	}
	if !allowed {
		return utils.ErrTooManyAttempts
	}
	return nil
}

// RecordFailure counts one failed presentation in the shared window.
func (g *AttemptGuard) RecordFailure(ctx context.Context, reservationID uint64) {
	if _, err := g.window.Record(ctx, key(reservationID)); err != nil {
		log.WithError(err).Warn("Failed to record pin attempt")
	}
}

// Reset clears the attempt window.
func (g *AttemptGuard) Reset(ctx context.Context, reservationID uint64) {
	if err := g.window.Reset(ctx, key(reservationID)); err != nil {
		log.WithError(err).Warn("Failed to reset pin attempts")
	}
}

func key(reservationID uint64) string {
	return fmt.Sprintf("%d", reservationID)
}
