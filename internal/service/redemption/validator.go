package redemption

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"foodrescue/internal/model"
	"foodrescue/internal/monitor"
	"foodrescue/internal/repository"
	"foodrescue/internal/service/notify"
	"foodrescue/pkg/log"
	"foodrescue/pkg/utils"
)

// RedeemResult is the definitive outcome of a successful validation, also
// served to callers resolving an unknown-outcome timeout.
type RedeemResult struct {
	ReservationID uint64                  `json:"reservation_id"`
	Status        model.ReservationStatus `json:"status"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// ReservationIndex is how the state machine tells the validator about new
// reservation ids, keeping the bloom screen current.
type ReservationIndex interface {
	Note(reservationID uint64)
}

// Validator performs the redemption protocol at a pickup point. The
// conditional status update at the store is the only serialization point;
// no client-side lock can arbitrate independent terminals.
type Validator struct {
	reservations repository.ReservationRepository
	credentials  repository.CredentialRepository
	guard        Guard
	sink         notify.Sink
	rdb          *redis.Client
	resultTTL    time.Duration

	// Bloom screen over every reservation id ever created. A miss is a
	// definite NotFound, which keeps scan garbage off the database.
	mu     sync.RWMutex
	screen *bloom.BloomFilter
}

// NewValidator creates a validator. rdb may be nil, which disables the
// idempotent result cache.
func NewValidator(
	reservations repository.ReservationRepository,
	credentials repository.CredentialRepository,
	guard Guard,
	sink notify.Sink,
	rdb *redis.Client,
	resultTTL time.Duration,
) *Validator {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &Validator{
		reservations: reservations,
		credentials:  credentials,
		guard:        guard,
		sink:         sink,
		rdb:          rdb,
		resultTTL:    resultTTL,
		screen:       bloom.NewWithEstimates(1_000_000, 0.01),
	}
}

// WarmScreen loads every known reservation id into the bloom screen.
// Called once at startup before the validator serves traffic.
func (v *Validator) WarmScreen(ctx context.Context) error {
	ids, err := v.reservations.ListAllIDs(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	for _, id := range ids {
		v.screen.Add(idBytes(id))
	}
	v.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"count": len(ids),
	}).Info("Reservation screen warmed")
	return nil
}

// Note adds a newly created reservation id to the screen.
func (v *Validator) Note(reservationID uint64) {
	v.mu.Lock()
	v.screen.Add(idBytes(reservationID))
	v.mu.Unlock()
}

func (v *Validator) mightExist(reservationID uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.screen.Test(idBytes(reservationID))
}

func idBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// Redeem validates a presented (reservationId, pin) pair and atomically
// transitions the reservation to redeemed. Exactly one of any number of
// concurrent calls with the correct credential succeeds; every other one
// fails with InvalidState. Errors are surfaced to the operator, never
// silently retried.
func (v *Validator) Redeem(ctx context.Context, reservationID uint64, pin string) (*RedeemResult, error) {
	start := time.Now()
	outcome := monitor.OutcomeError
	defer func() {
		monitor.RedemptionAttempt(outcome, time.Since(start))
	}()

	if !v.mightExist(reservationID) {
		outcome = monitor.OutcomeNotFound
		return nil, utils.ErrReservationNotFound
	}

	reservation, err := v.reservations.GetByID(ctx, reservationID)
	if err != nil {
		if utils.GetErrorCode(err) == utils.CodeReservationNotFound {
			outcome = monitor.OutcomeNotFound
		}
		return nil, err
	}

	if !reservation.IsConfirmed() {
		outcome = monitor.OutcomeInvalidState
		return nil, utils.ErrInvalidState
	}

	credential, err := v.credentials.GetByReservationID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !credential.IsLive() {
		outcome = monitor.OutcomeInvalidState
		return nil, utils.ErrInvalidState
	}

	if err := v.guard.Check(ctx, reservationID); err != nil {
		outcome = monitor.OutcomeTooManyAttempts
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(credential.PinHash), []byte(pin)); err != nil {
		v.guard.RecordFailure(ctx, reservationID)
		outcome = monitor.OutcomePinMismatch
		return nil, utils.ErrPinMismatch
	}

	// The compare-and-swap. Everything before this point read state that
	// may already be stale; only the conditional update decides.
	swapped, err := v.reservations.TransitionStatus(ctx, reservationID, model.ReservationConfirmed, model.ReservationRedeemed)
	if err != nil {
		return nil, err
	}
	if !swapped {
		outcome = monitor.OutcomeInvalidState
		return nil, utils.ErrInvalidState
	}
	monitor.ReservationTransition(string(model.ReservationConfirmed), string(model.ReservationRedeemed))

	// Winner-only section. The credential row is consumed for bookkeeping;
	// a second presentation already fails on the status check.
	if err := v.credentials.Consume(ctx, reservationID); err != nil {
		log.WithError(err).WithField("reservation_id", reservationID).Warn("Failed to consume credential")
	}
	v.guard.Reset(ctx, reservationID)

	now := time.Now()
	result := &RedeemResult{
		ReservationID: reservationID,
		Status:        model.ReservationRedeemed,
		CompletedAt:   &now,
	}
	v.cacheResult(ctx, result)

	event := &model.Event{
		Type:          model.EventReservationRedeemed,
		ReservationID: reservation.ID,
		HolderID:      reservation.HolderID,
		MerchantID:    reservation.MerchantID,
		LotID:         reservation.LotID,
		Quantity:      reservation.Quantity,
		IsDonation:    reservation.IsDonation,
		OccurredAt:    now,
	}
	if err := v.sink.Publish(ctx, event); err != nil {
		// The transition already happened; losing the event must not fail
		// the redemption.
		log.WithError(err).WithField("reservation_id", reservationID).Error("Failed to publish redemption event")
	}

	log.WithFields(map[string]interface{}{
		"reservation_id": reservationID,
	}).Info("Reservation redeemed")

	outcome = monitor.OutcomeSuccess
	return result, nil
}

// QueryOutcome resolves an unknown-outcome redemption attempt by reading,
// never by re-submitting the write. Callers that timed out re-query here.
func (v *Validator) QueryOutcome(ctx context.Context, reservationID uint64) (*RedeemResult, error) {
	if v.rdb != nil {
		data, err := v.rdb.Get(ctx, resultKey(reservationID)).Bytes()
		if err == nil {
			var result RedeemResult
			if err := json.Unmarshal(data, &result); err == nil {
				return &result, nil
			}
		}
	}

	reservation, err := v.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return &RedeemResult{
		ReservationID: reservation.ID,
		Status:        reservation.Status,
		CompletedAt:   reservation.CompletedAt,
	}, nil
}

func (v *Validator) cacheResult(ctx context.Context, result *RedeemResult) {
	if v.rdb == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := v.rdb.Set(ctx, resultKey(result.ReservationID), data, v.resultTTL).Err(); err != nil {
		log.WithError(err).Debug("Failed to cache redemption result")
	}
}

func resultKey(reservationID uint64) string {
	return fmt.Sprintf("redeem:result:%d", reservationID)
}
