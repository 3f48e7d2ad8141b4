package redemption

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

// fakeReservationRepo reproduces the compare-and-swap semantics of the gorm
// implementation under a mutex, which is what makes the concurrency test
// meaningful.
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
	return nil, 0, nil
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

// openGuard admits everything and counts failures.
type openGuard struct {
	mu       sync.Mutex
	failures int
	resets   int
}

func (g *openGuard) Check(ctx context.Context, reservationID uint64) error { return nil }

func (g *openGuard) RecordFailure(ctx context.Context, reservationID uint64) {
	g.mu.Lock()
	g.failures++
	g.mu.Unlock()
}

func (g *openGuard) Reset(ctx context.Context, reservationID uint64) {
	g.mu.Lock()
	g.resets++
	g.mu.Unlock()
}

// closedGuard rejects every presentation.
type closedGuard struct{}

func (closedGuard) Check(ctx context.Context, reservationID uint64) error {
	return utils.ErrTooManyAttempts
}
func (closedGuard) RecordFailure(ctx context.Context, reservationID uint64) {}
func (closedGuard) Reset(ctx context.Context, reservationID uint64)         {}

// captureSink records every published event.
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

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type redeemFixture struct {
	reservations *fakeReservationRepo
	credentials  *fakeCredentialRepo
	guard        *openGuard
	sink         *captureSink
	validator    *Validator
	pin          string
}

func newRedeemFixture(t *testing.T, status model.ReservationStatus) *redeemFixture {
	t.Helper()

	f := &redeemFixture{
		reservations: newFakeReservationRepo(),
		credentials:  newFakeCredentialRepo(),
		guard:        &openGuard{},
		sink:         &captureSink{},
		pin:          "042531",
	}
	f.validator = NewValidator(f.reservations, f.credentials, f.guard, f.sink, nil, time.Hour)

	reservation := &model.Reservation{
		ID:          100,
		HolderID:    1,
		MerchantID:  2,
		LotID:       7,
		Quantity:    2,
		Status:      status,
		PickupStart: time.Now().Add(-time.Hour),
		PickupEnd:   time.Now().Add(time.Hour),
	}
	require.NoError(t, f.reservations.Create(context.Background(), reservation))
	f.validator.Note(reservation.ID)

	hash, err := bcrypt.GenerateFromPassword([]byte(f.pin), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.credentials.Create(context.Background(), &model.RedemptionCredential{
		ReservationID: reservation.ID,
		PinHash:       string(hash),
		HolderToken:   "token-100",
		IssuedAt:      time.Now(),
	}))

	return f
}

func TestRedeemSuccess(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)

	result, err := f.validator.Redeem(context.Background(), 100, f.pin)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, model.ReservationRedeemed, result.Status)
	assert.NotNil(t, result.CompletedAt)

	stored, err := f.reservations.GetByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationRedeemed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	credential, err := f.credentials.GetByReservationID(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, credential.IsLive())
	assert.Equal(t, 1, f.guard.resets)
	assert.Equal(t, 1, f.sink.count())

	// A second presentation of the same valid credential fails on status.
	_, err = f.validator.Redeem(context.Background(), 100, f.pin)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
	assert.Equal(t, 1, f.sink.count())
}

func TestRedeemPinMismatch(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)

	_, err := f.validator.Redeem(context.Background(), 100, "999999")
	assert.ErrorIs(t, err, utils.ErrPinMismatch)
	assert.Equal(t, 1, f.guard.failures)

	// State is untouched: the same credential still redeems.
	stored, err := f.reservations.GetByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, stored.Status)
	assert.Equal(t, 0, f.sink.count())

	_, err = f.validator.Redeem(context.Background(), 100, f.pin)
	assert.NoError(t, err)
}

func TestRedeemUnknownReservation(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)

	_, err := f.validator.Redeem(context.Background(), 424242, "123456")
	assert.ErrorIs(t, err, utils.ErrReservationNotFound)
}

func TestRedeemPendingReservation(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationPending)

	_, err := f.validator.Redeem(context.Background(), 100, f.pin)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestRedeemRevokedCredential(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)
	require.NoError(t, f.credentials.Revoke(context.Background(), 100))

	_, err := f.validator.Redeem(context.Background(), 100, f.pin)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestRedeemAttemptBudgetExhausted(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)
	f.validator.guard = closedGuard{}

	_, err := f.validator.Redeem(context.Background(), 100, f.pin)
	assert.ErrorIs(t, err, utils.ErrTooManyAttempts)

	stored, err := f.reservations.GetByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, stored.Status)
}

func TestRedeemConcurrentTerminals(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)

	const terminals = 8
	errs := make(chan error, terminals)

	var wg sync.WaitGroup
	for i := 0; i < terminals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.validator.Redeem(context.Background(), 100, f.pin)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, utils.ErrInvalidState)
			losses++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, terminals-1, losses)
	assert.Equal(t, 1, f.sink.count())
}

func TestWarmScreen(t *testing.T) {
	reservations := newFakeReservationRepo()
	for id := uint64(1); id <= 20; id++ {
		require.NoError(t, reservations.Create(context.Background(), &model.Reservation{
			ID:     id,
			Status: model.ReservationPending,
		}))
	}

	v := NewValidator(reservations, newFakeCredentialRepo(), &openGuard{}, &captureSink{}, nil, time.Hour)
	require.NoError(t, v.WarmScreen(context.Background()))

	for id := uint64(1); id <= 20; id++ {
		assert.True(t, v.mightExist(id))
	}
}

func TestQueryOutcome(t *testing.T) {
	f := newRedeemFixture(t, model.ReservationConfirmed)

	_, err := f.validator.Redeem(context.Background(), 100, f.pin)
	require.NoError(t, err)

	result, err := f.validator.QueryOutcome(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationRedeemed, result.Status)
	assert.NotNil(t, result.CompletedAt)

	_, err = f.validator.QueryOutcome(context.Background(), 424242)
	assert.ErrorIs(t, err, utils.ErrReservationNotFound)
}
