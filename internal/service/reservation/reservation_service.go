// Package reservation owns the reservation lifecycle. Every status change
// goes through the conditional update at the store, and every committed
// transition raises exactly one event on the injected sink.
package reservation

import (
	"context"
	"time"

	"foodrescue/internal/billing"
	"foodrescue/internal/model"
	"foodrescue/internal/monitor"
	"foodrescue/internal/repository"
	"foodrescue/internal/service/notify"
	"foodrescue/internal/service/redemption"
	"foodrescue/pkg/breaker"
	"foodrescue/pkg/degrade"
	"foodrescue/pkg/log"
	"foodrescue/pkg/snowflake"
	"foodrescue/pkg/utils"
)

const billingBreaker = "billing"

// LotSource serves lot reads. Satisfied by the lot repository directly or
// by the cache in front of it.
type LotSource interface {
	GetByID(ctx context.Context, id uint64) (*model.Lot, error)
}

// IntakeGate is the operational shed switch for new reservations. A
// non-nil Strategy means intake is degraded and Create must answer with it.
type IntakeGate interface {
	Shed(ctx context.Context, lotID uint64) *degrade.Strategy
}

// Service reservation service
type Service struct {
	reservations repository.ReservationRepository
	lots         repository.LotRepository
	lotSource    LotSource
	credentials  repository.CredentialRepository
	issuer       *redemption.Issuer
	index        redemption.ReservationIndex
	sink         notify.Sink
	authorizer   billing.Authorizer
	gate         IntakeGate
	breakers     *breaker.Manager
	idGen        *snowflake.IDGenerator
}

// NewService creates the reservation service. lotSource may be nil, in
// which case reads go straight to the lot repository. index may be nil
// when no redemption screen is running in this process, and gate may be
// nil when intake shedding is not deployed.
func NewService(
	reservations repository.ReservationRepository,
	lots repository.LotRepository,
	lotSource LotSource,
	credentials repository.CredentialRepository,
	issuer *redemption.Issuer,
	index redemption.ReservationIndex,
	sink notify.Sink,
	authorizer billing.Authorizer,
	gate IntakeGate,
	breakers *breaker.Manager,
	idGen *snowflake.IDGenerator,
) *Service {
	if lotSource == nil {
		lotSource = lots
	}
	return &Service{
		reservations: reservations,
		lots:         lots,
		lotSource:    lotSource,
		credentials:  credentials,
		issuer:       issuer,
		index:        index,
		sink:         sink,
		authorizer:   authorizer,
		gate:         gate,
		breakers:     breakers,
		idGen:        idGen,
	}
}

// CreateRequest create reservation request
type CreateRequest struct {
	HolderID uint64 `json:"holder_id"`
	LotID    uint64 `json:"lot_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// Create places a pending reservation against a lot. The conditional
// quantity decrement prevents overselling under concurrent requests.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*model.Reservation, error) {
	if req.Quantity < 1 {
		return nil, utils.ErrInvalidParam
	}

	if s.gate != nil {
		if strategy := s.gate.Shed(ctx, req.LotID); strategy != nil {
			return nil, utils.WrapError(nil, utils.CodeIntakeDegraded, strategy.Message)
		}
	}

	lot, err := s.lotSource.GetByID(ctx, req.LotID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !lot.IsOpen(now) {
		return nil, utils.ErrLotClosed
	}

	ok, err := s.lots.ReserveQuantity(ctx, lot.ID, req.Quantity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.ErrLotSoldOut
	}

	reservation := &model.Reservation{
		ID:          s.idGen.NextUint64(),
		HolderID:    req.HolderID,
		MerchantID:  lot.MerchantID,
		LotID:       lot.ID,
		Quantity:    req.Quantity,
		Status:      model.ReservationPending,
		IsDonation:  lot.IsDonation,
		PickupStart: lot.PickupStart,
		PickupEnd:   lot.PickupEnd,
		CreatedAt:   now,
	}

	if err := s.reservations.Create(ctx, reservation); err != nil {
		// Return the held quantity; the reservation never existed.
		if relErr := s.lots.ReleaseQuantity(ctx, lot.ID, req.Quantity); relErr != nil {
			log.WithError(relErr).WithField("lot_id", lot.ID).Error("Failed to release quantity after create failure")
		}
		return nil, err
	}

	if s.index != nil {
		s.index.Note(reservation.ID)
	}

	log.WithFields(map[string]interface{}{
		"reservation_id": reservation.ID,
		"lot_id":         lot.ID,
		"holder_id":      req.HolderID,
		"quantity":       req.Quantity,
	}).Info("Reservation created")

	return reservation, nil
}

// Confirm moves a pending reservation to confirmed and issues its
// redemption credential. Paid reservations require payment authorization
// first; the authorization call runs behind a circuit breaker so a dead
// payment provider cannot pile up requests.
func (s *Service) Confirm(ctx context.Context, id uint64) (*model.Reservation, *model.QRPayload, error) {
	reservation, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if reservation.IsConfirmed() {
		// A confirm that failed between the status swap and the credential
		// insert left the reservation confirmed but credential-less. A
		// retry resumes issuance; with a live credential it is a replay.
		_, credErr := s.credentials.GetByReservationID(ctx, reservation.ID)
		if credErr == nil {
			return nil, nil, &model.InvalidTransitionError{From: reservation.Status, To: model.ReservationConfirmed}
		}
		if utils.GetErrorCode(credErr) != utils.CodeCredentialNotFound {
			return nil, nil, credErr
		}
		return s.issueAndAnnounce(ctx, reservation)
	}

	if !reservation.Status.CanTransitionTo(model.ReservationConfirmed) {
		return nil, nil, &model.InvalidTransitionError{From: reservation.Status, To: model.ReservationConfirmed}
	}

	if !reservation.IsDonation {
		lot, err := s.lotSource.GetByID(ctx, reservation.LotID)
		if err != nil {
			return nil, nil, err
		}
		amount := lot.Total(reservation.Quantity)

		err = s.breakers.Execute(billingBreaker, func() error {
			return s.authorizer.Authorize(ctx, reservation.ID, amount)
		})
		if err != nil {
			return nil, nil, utils.WrapError(err, utils.CodePaymentDeclined, "payment authorization declined")
		}
	}

	swapped, err := s.transition(ctx, reservation.ID, model.ReservationPending, model.ReservationConfirmed)
	if err != nil {
		return nil, nil, err
	}
	if !swapped {
		return nil, nil, s.transitionConflict(ctx, reservation.ID, model.ReservationConfirmed)
	}
	reservation.Status = model.ReservationConfirmed

	return s.issueAndAnnounce(ctx, reservation)
}

// issueAndAnnounce produces the credential for a confirmed reservation and
// emits the confirmed event. The event waits for the credential so a
// holder is never notified about a pickup they cannot yet redeem.
func (s *Service) issueAndAnnounce(ctx context.Context, reservation *model.Reservation) (*model.Reservation, *model.QRPayload, error) {
	qr, err := s.issuer.Issue(ctx, reservation)
	if err != nil {
		// The reservation stays confirmed; a retried Confirm resumes here.
		log.WithError(err).WithField("reservation_id", reservation.ID).Error("Credential issuance failed after confirm")
		return reservation, nil, err
	}

	s.emit(ctx, model.EventReservationConfirmed, reservation, "")

	return reservation, qr, nil
}

// Cancel closes the reservation before redemption. Allowed from pending
// and confirmed; the actor records who initiated it.
func (s *Service) Cancel(ctx context.Context, id uint64, actor string) error {
	reservation, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	from := reservation.Status
	if !from.CanTransitionTo(model.ReservationCancelled) {
		return &model.InvalidTransitionError{From: from, To: model.ReservationCancelled}
	}

	swapped, err := s.transition(ctx, reservation.ID, from, model.ReservationCancelled)
	if err != nil {
		return err
	}
	if !swapped {
		return s.transitionConflict(ctx, reservation.ID, model.ReservationCancelled)
	}

	if from == model.ReservationConfirmed {
		if err := s.credentials.Revoke(ctx, reservation.ID); err != nil {
			log.WithError(err).WithField("reservation_id", reservation.ID).Warn("Failed to revoke credential on cancel")
		}
	}

	if err := s.lots.ReleaseQuantity(ctx, reservation.LotID, reservation.Quantity); err != nil {
		log.WithError(err).WithField("lot_id", reservation.LotID).Error("Failed to release quantity on cancel")
	}

	reservation.Status = model.ReservationCancelled
	s.emit(ctx, model.EventReservationCancelled, reservation, actor)

	return nil
}

// MarkNoShow records that the holder never appeared. Only valid on a
// confirmed reservation after its pickup window ended; any payment is
// retained, which is why this state is distinct from expired.
func (s *Service) MarkNoShow(ctx context.Context, id uint64) error {
	reservation, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if reservation.Status != model.ReservationConfirmed {
		return &model.InvalidTransitionError{From: reservation.Status, To: model.ReservationNoShow}
	}
	if !reservation.PickupWindowElapsed(time.Now()) {
		return utils.NewError(utils.CodeInvalidState, "pickup window has not ended")
	}

	swapped, err := s.transition(ctx, reservation.ID, model.ReservationConfirmed, model.ReservationNoShow)
	if err != nil {
		return err
	}
	if !swapped {
		return s.transitionConflict(ctx, reservation.ID, model.ReservationNoShow)
	}

	if err := s.credentials.Revoke(ctx, reservation.ID); err != nil {
		log.WithError(err).WithField("reservation_id", reservation.ID).Warn("Failed to revoke credential on no-show")
	}

	reservation.Status = model.ReservationNoShow
	s.emit(ctx, model.EventReservationNoShow, reservation, "")

	return nil
}

// ExpireOverdue sweeps confirmed reservations whose pickup window closed
// and moves them to expired. Returns how many were expired. Individual
// failures are logged and skipped so one bad row cannot stall the sweep.
func (s *Service) ExpireOverdue(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}

	overdue, err := s.reservations.ListExpiring(ctx, time.Now(), batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, reservation := range overdue {
		swapped, err := s.transition(ctx, reservation.ID, model.ReservationConfirmed, model.ReservationExpired)
		if err != nil {
			log.WithError(err).WithField("reservation_id", reservation.ID).Error("Failed to expire reservation")
			continue
		}
		if !swapped {
			// Redeemed or cancelled since the listing; nothing to do.
			continue
		}

		if err := s.credentials.Revoke(ctx, reservation.ID); err != nil {
			log.WithError(err).WithField("reservation_id", reservation.ID).Warn("Failed to revoke credential on expiry")
		}

		reservation.Status = model.ReservationExpired
		s.emit(ctx, model.EventReservationExpired, reservation, "")
		expired++
	}

	if expired > 0 {
		log.WithField("count", expired).Info("Expired overdue reservations")
	}
	return expired, nil
}

// Get returns the reservation by id
func (s *Service) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.reservations.GetByID(ctx, id)
}

// ListByHolder lists the holder's reservations, most recent first
func (s *Service) ListByHolder(ctx context.Context, holderID uint64, page, pageSize int) ([]*model.Reservation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.reservations.ListByHolder(ctx, holderID, page, pageSize)
}

func (s *Service) transition(ctx context.Context, id uint64, from, to model.ReservationStatus) (bool, error) {
	swapped, err := s.reservations.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return false, err
	}
	if swapped {
		monitor.ReservationTransition(string(from), string(to))
	}
	return swapped, nil
}

// transitionConflict builds the error for a lost compare-and-swap by
// re-reading the current status.
func (s *Service) transitionConflict(ctx context.Context, id uint64, to model.ReservationStatus) error {
	current, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return utils.ErrInvalidState
	}
	return &model.InvalidTransitionError{From: current.Status, To: to}
}

// emit publishes a lifecycle event. Delivery problems are logged and
// absorbed; a committed transition never rolls back because of the
// notification path.
func (s *Service) emit(ctx context.Context, eventType model.EventType, reservation *model.Reservation, actor string) {
	event := &model.Event{
		Type:          eventType,
		ReservationID: reservation.ID,
		HolderID:      reservation.HolderID,
		MerchantID:    reservation.MerchantID,
		LotID:         reservation.LotID,
		Quantity:      reservation.Quantity,
		IsDonation:    reservation.IsDonation,
		Actor:         actor,
		OccurredAt:    time.Now(),
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		log.WithError(err).WithFields(map[string]interface{}{
			"reservation_id": reservation.ID,
			"event_type":     eventType,
		}).Error("Failed to publish reservation event")
	}
}
