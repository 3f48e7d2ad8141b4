package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/model"
	"foodrescue/internal/repository"
	"foodrescue/internal/service/redemption"
	"foodrescue/pkg/breaker"
	"foodrescue/pkg/degrade"
	"foodrescue/pkg/snowflake"
	"foodrescue/pkg/utils"
)

type fakeReservationRepo struct {
	mu   sync.Mutex
	rows map[uint64]*model.Reservation
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{rows: make(map[uint64]*model.Reservation)}
}

func (f *fakeReservationRepo) Create(ctx context.Context, reservation *model.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *reservation
	f.rows[reservation.ID] = &cp
	return nil
}

func (f *fakeReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrReservationNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeReservationRepo) TransitionStatus(ctx context.Context, id uint64, from, to model.ReservationStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	if to.IsTerminal() {
		now := time.Now()
		row.CompletedAt = &now
	}
	return true, nil
}

func (f *fakeReservationRepo) ListByHolder(ctx context.Context, holderID uint64, page, pageSize int) ([]*model.Reservation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Reservation
	for _, row := range f.rows {
		if row.HolderID == holderID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeReservationRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Reservation
	for _, row := range f.rows {
		if row.Status == model.ReservationConfirmed && row.PickupEnd.Before(before) {
			cp := *row
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeReservationRepo) ListAllIDs(ctx context.Context) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, 0, len(f.rows))
	for id := range f.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeLotRepo struct {
	mu   sync.Mutex
	rows map[uint64]*model.Lot
}

func newFakeLotRepo() *fakeLotRepo {
	return &fakeLotRepo{rows: make(map[uint64]*model.Lot)}
}

func (f *fakeLotRepo) Create(ctx context.Context, lot *model.Lot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *lot
	f.rows[lot.ID] = &cp
	return nil
}

func (f *fakeLotRepo) GetByID(ctx context.Context, id uint64) (*model.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrLotNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeLotRepo) ListOpen(ctx context.Context, page, pageSize int) ([]*model.Lot, int64, error) {
	return nil, 0, nil
}

func (f *fakeLotRepo) ReserveQuantity(ctx context.Context, id uint64, quantity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Quantity < quantity {
		return false, nil
	}
	row.Quantity -= quantity
	return true, nil
}

func (f *fakeLotRepo) ReleaseQuantity(ctx context.Context, id uint64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Quantity += quantity
	}
	return nil
}

type fakeCredentialRepo struct {
	mu        sync.Mutex
	rows      map[uint64]*model.RedemptionCredential
	createErr error // returned once by Create, then cleared
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{rows: make(map[uint64]*model.RedemptionCredential)}
}

func (f *fakeCredentialRepo) failNextCreate(err error) {
	f.mu.Lock()
	f.createErr = err
	f.mu.Unlock()
}

func (f *fakeCredentialRepo) Create(ctx context.Context, credential *model.RedemptionCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		return err
	}
	cp := *credential
	f.rows[credential.ReservationID] = &cp
	return nil
}

func (f *fakeCredentialRepo) GetByReservationID(ctx context.Context, reservationID uint64) (*model.RedemptionCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[reservationID]
	if !ok {
		return nil, utils.ErrCredentialNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeCredentialRepo) Consume(ctx context.Context, reservationID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[reservationID]; ok && row.ConsumedAt == nil {
		now := time.Now()
		row.ConsumedAt = &now
	}
	return nil
}

func (f *fakeCredentialRepo) Revoke(ctx context.Context, reservationID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[reservationID]; ok && row.RevokedAt == nil {
		now := time.Now()
		row.RevokedAt = &now
	}
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []*model.Event
}

func (s *captureSink) Publish(ctx context.Context, event *model.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) last() *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

type fakeAuthorizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, reservationID uint64, amount decimal.Decimal) error {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.err
}

type noteRecorder struct {
	mu  sync.Mutex
	ids []uint64
}

func (n *noteRecorder) Note(reservationID uint64) {
	n.mu.Lock()
	n.ids = append(n.ids, reservationID)
	n.mu.Unlock()
}

type fakeGate struct {
	strategy *degrade.Strategy
}

func (g *fakeGate) Shed(ctx context.Context, lotID uint64) *degrade.Strategy {
	return g.strategy
}

type serviceFixture struct {
	service      *Service
	reservations *fakeReservationRepo
	lots         *fakeLotRepo
	credentials  *fakeCredentialRepo
	sink         *captureSink
	authorizer   *fakeAuthorizer
	index        *noteRecorder
	gate         *fakeGate
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	idGen, err := snowflake.NewIDGenerator(1)
	require.NoError(t, err)

	f := &serviceFixture{
		reservations: newFakeReservationRepo(),
		lots:         newFakeLotRepo(),
		credentials:  newFakeCredentialRepo(),
		sink:         &captureSink{},
		authorizer:   &fakeAuthorizer{},
		index:        &noteRecorder{},
		gate:         &fakeGate{},
	}
	f.service = NewService(
		f.reservations,
		f.lots,
		nil,
		f.credentials,
		redemption.NewIssuer(f.credentials),
		f.index,
		f.sink,
		f.authorizer,
		f.gate,
		breaker.NewManager(breaker.Config{}),
		idGen,
	)
	return f
}

func (f *serviceFixture) addLot(t *testing.T, lot *model.Lot) {
	t.Helper()
	require.NoError(t, f.lots.Create(context.Background(), lot))
}

func openLot(id uint64, quantity int, donation bool) *model.Lot {
	return &model.Lot{
		ID:          id,
		MerchantID:  2,
		Title:       "surplus pastries",
		Quantity:    quantity,
		Price:       decimal.NewFromFloat(4.50),
		IsDonation:  donation,
		PickupStart: time.Now().Add(-time.Hour),
		PickupEnd:   time.Now().Add(2 * time.Hour),
	}
}

func TestCreateReservation(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	reservation, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, model.ReservationPending, reservation.Status)
	assert.Equal(t, uint64(2), reservation.MerchantID)
	assert.True(t, reservation.IsDonation)
	assert.NotZero(t, reservation.ID)

	lot, err := f.lots.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, lot.Quantity)

	require.Len(t, f.index.ids, 1)
	assert.Equal(t, reservation.ID, f.index.ids[0])

	// Creation raises no event; the fan-out starts at confirmation.
	assert.Nil(t, f.sink.last())
}

func TestCreateSoldOut(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 1, true))

	_, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 2})
	assert.ErrorIs(t, err, utils.ErrLotSoldOut)
}

func TestCreateClosedLot(t *testing.T) {
	f := newServiceFixture(t)
	lot := openLot(7, 5, true)
	lot.PickupEnd = time.Now().Add(-time.Minute)
	f.addLot(t, lot)

	_, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	assert.ErrorIs(t, err, utils.ErrLotClosed)
}

func TestCreateShedIntake(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))
	f.gate.strategy = &degrade.Strategy{Message: "come back in five minutes"}

	_, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.ErrorIs(t, err, utils.ErrIntakeDegraded)
	assert.Contains(t, err.Error(), "come back in five minutes")

	lot, err := f.lots.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, lot.Quantity, "shed intake never touches lot quantity")

	// Restore the switch and intake resumes.
	f.gate.strategy = nil
	_, err = f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)
}

func TestCreateUnknownLot(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 404, Quantity: 1})
	assert.ErrorIs(t, err, utils.ErrLotNotFound)
}

func TestConfirmDonation(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)

	confirmed, qr, err := f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, qr)

	assert.Equal(t, model.ReservationConfirmed, confirmed.Status)
	assert.Len(t, qr.Pin, model.PinLength)
	assert.Equal(t, 0, f.authorizer.calls, "donations never hit the payment provider")

	credential, err := f.credentials.GetByReservationID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, credential.IsLive())

	event := f.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, model.EventReservationConfirmed, event.Type)
	assert.Equal(t, created.ID, event.ReservationID)
}

func TestConfirmPaidAuthorizes(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, false))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 2})
	require.NoError(t, err)

	_, qr, err := f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, qr)
	assert.Equal(t, 1, f.authorizer.calls)
}

func TestConfirmPaymentDeclined(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, false))
	f.authorizer.err = errors.New("card declined")

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)

	_, _, err = f.service.Confirm(context.Background(), created.ID)
	assert.ErrorIs(t, err, utils.ErrPaymentDeclined)

	stored, err := f.reservations.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, stored.Status)
}

func TestConfirmTwice(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)

	_, _, err = f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)

	_, _, err = f.service.Confirm(context.Background(), created.ID)

	var transitionErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, model.ReservationConfirmed, transitionErr.From)
	assert.Equal(t, model.ReservationConfirmed, transitionErr.To)
}

func TestConfirmResumesAfterIssueFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)

	f.credentials.failNextCreate(errors.New("connection reset"))

	confirmed, qr, err := f.service.Confirm(context.Background(), created.ID)
	require.Error(t, err)
	require.Nil(t, qr)
	require.NotNil(t, confirmed)
	assert.Equal(t, model.ReservationConfirmed, confirmed.Status)

	_, credErr := f.credentials.GetByReservationID(context.Background(), created.ID)
	assert.ErrorIs(t, credErr, utils.ErrCredentialNotFound)
	assert.Nil(t, f.sink.last(), "no confirmed event until the credential exists")

	// Retrying resumes issuance instead of rejecting the transition.
	confirmed, qr, err = f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, qr)
	assert.Len(t, qr.Pin, model.PinLength)
	assert.Equal(t, model.ReservationConfirmed, confirmed.Status)

	credential, err := f.credentials.GetByReservationID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, credential.IsLive())

	f.sink.mu.Lock()
	events := len(f.sink.events)
	f.sink.mu.Unlock()
	require.Equal(t, 1, events, "the confirmed event fires exactly once")
	assert.Equal(t, model.EventReservationConfirmed, f.sink.last().Type)

	// A third confirm is a replay and fails on the transition.
	_, _, err = f.service.Confirm(context.Background(), created.ID)
	var transitionErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, model.ReservationConfirmed, transitionErr.From)
}

func TestCancelPending(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), created.ID, "holder"))

	stored, err := f.reservations.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	lot, err := f.lots.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, lot.Quantity)

	event := f.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, model.EventReservationCancelled, event.Type)
	assert.Equal(t, "holder", event.Actor)
}

func TestCancelConfirmedRevokesCredential(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)
	_, _, err = f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), created.ID, "merchant"))

	credential, err := f.credentials.GetByReservationID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, credential.IsLive())
}

func TestCancelRedeemed(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)
	_, _, err = f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)

	swapped, err := f.reservations.TransitionStatus(context.Background(), created.ID, model.ReservationConfirmed, model.ReservationRedeemed)
	require.NoError(t, err)
	require.True(t, swapped)

	err = f.service.Cancel(context.Background(), created.ID, "holder")

	var transitionErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, model.ReservationRedeemed, transitionErr.From)
}

func TestMarkNoShow(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, false))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)
	_, _, err = f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)

	// Window still open.
	err = f.service.MarkNoShow(context.Background(), created.ID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)

	f.reservations.mu.Lock()
	f.reservations.rows[created.ID].PickupEnd = time.Now().Add(-time.Minute)
	f.reservations.mu.Unlock()

	require.NoError(t, f.service.MarkNoShow(context.Background(), created.ID))

	stored, err := f.reservations.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationNoShow, stored.Status)

	credential, err := f.credentials.GetByReservationID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, credential.IsLive())

	event := f.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, model.EventReservationNoShow, event.Type)
}

func TestExpireOverdue(t *testing.T) {
	f := newServiceFixture(t)
	f.addLot(t, openLot(7, 5, true))

	created, err := f.service.Create(context.Background(), &CreateRequest{HolderID: 1, LotID: 7, Quantity: 1})
	require.NoError(t, err)
	_, _, err = f.service.Confirm(context.Background(), created.ID)
	require.NoError(t, err)

	f.reservations.mu.Lock()
	f.reservations.rows[created.ID].PickupEnd = time.Now().Add(-time.Minute)
	f.reservations.mu.Unlock()

	expired, err := f.service.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.reservations.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, stored.Status)

	event := f.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, model.EventReservationExpired, event.Type)

	// The sweep is idempotent.
	expired, err = f.service.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

var _ repository.ReservationRepository = (*fakeReservationRepo)(nil)
var _ repository.LotRepository = (*fakeLotRepo)(nil)
var _ repository.CredentialRepository = (*fakeCredentialRepo)(nil)
var _ IntakeGate = (*fakeGate)(nil)
