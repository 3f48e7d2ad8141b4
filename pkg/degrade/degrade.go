// Package degrade is the operational kill switch for reservation intake.
// Ops flips a Redis key to shed new reservations, globally or for a single
// hot lot, without redeploying; redemption of already-issued credentials is
// never shed.
package degrade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"foodrescue/pkg/log"
)

// Strategy tells shed callers what to answer while intake is degraded.
type Strategy struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds, 0 = unknown
}

func defaultStrategy() *Strategy {
	return &Strategy{Message: "reservations are temporarily paused, please try again later"}
}

// Manager reads and writes the degrade keys. The key holds the strategy;
// its presence alone means intake is shed.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a degrade manager
func NewManager(client *redis.Client) *Manager {
	return &Manager{redis: client}
}

// GlobalLot addresses the all-lots switch in Enable and Disable.
const GlobalLot uint64 = 0

func intakeKey(lotID uint64) string {
	if lotID == GlobalLot {
		return "degrade:intake"
	}
	return fmt.Sprintf("degrade:intake:%d", lotID)
}

// Shed returns the active strategy when intake for the lot is degraded,
// either by the global switch or the per-lot one, and nil otherwise. Fails
// open: a Redis outage must not take reservation intake down with it.
func (m *Manager) Shed(ctx context.Context, lotID uint64) *Strategy {
	for _, key := range []string{intakeKey(GlobalLot), intakeKey(lotID)} {
		data, err := m.redis.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			log.WithError(err).Warn("Degrade check unavailable, allowing intake")
			return nil
		}

		var strategy Strategy
		if err := json.Unmarshal(data, &strategy); err != nil {
			return defaultStrategy()
		}
		return &strategy
	}
	return nil
}

// Enable sheds intake for the lot, or for every lot when lotID is
// GlobalLot. A zero ttl keeps the switch on until Disable.
func (m *Manager) Enable(ctx context.Context, lotID uint64, strategy *Strategy, ttl time.Duration) error {
	if strategy == nil {
		strategy = defaultStrategy()
	}

	data, err := json.Marshal(strategy)
	if err != nil {
		return fmt.Errorf("failed to marshal degrade strategy: %w", err)
	}
	if err := m.redis.Set(ctx, intakeKey(lotID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to enable degrade: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"lot_id": lotID,
		"ttl":    ttl.String(),
	}).Warn("Reservation intake degraded")
	return nil
}

// Disable restores intake for the lot, or globally when lotID is GlobalLot.
func (m *Manager) Disable(ctx context.Context, lotID uint64) error {
	if err := m.redis.Del(ctx, intakeKey(lotID)).Err(); err != nil {
		return fmt.Errorf("failed to disable degrade: %w", err)
	}

	log.WithField("lot_id", lotID).Info("Reservation intake restored")
	return nil
}
