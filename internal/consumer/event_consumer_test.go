package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/model"
	"foodrescue/internal/service/notify"
	"foodrescue/pkg/queue"
	"foodrescue/pkg/snowflake"
)

type memNotificationRepo struct {
	mu   sync.Mutex
	rows []*model.Notification
}

func (r *memNotificationRepo) Create(ctx context.Context, notification *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *notification
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memNotificationRepo) ListByRecipient(ctx context.Context, recipientID uint64, page, pageSize int) ([]*model.Notification, int64, error) {
	return nil, 0, nil
}

func (r *memNotificationRepo) CountUnread(ctx context.Context, recipientID uint64) (int64, error) {
	return 0, nil
}

func (r *memNotificationRepo) MarkRead(ctx context.Context, id, recipientID uint64) error {
	return nil
}

func (r *memNotificationRepo) MarkAllRead(ctx context.Context, recipientID uint64) (int64, error) {
	return 0, nil
}

func (r *memNotificationRepo) byRecipient(recipientID uint64) []*model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	for _, row := range r.rows {
		if row.RecipientID == recipientID {
			out = append(out, row)
		}
	}
	return out
}

func (r *memNotificationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memUserRepo struct {
	mu     sync.Mutex
	points map[uint64]int64
}

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error { return nil }

func (r *memUserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return &model.User{ID: id}, nil
}

func (r *memUserRepo) AddPoints(ctx context.Context, id uint64, points int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.points == nil {
		r.points = make(map[uint64]int64)
	}
	r.points[id] += points
	return r.points[id], nil
}

type fixture struct {
	repo  *memNotificationRepo
	users *memUserRepo
	sink  notify.Sink
	queue *queue.MemoryQueue
}

func newFixture(t *testing.T) (*fixture, context.CancelFunc) {
	t.Helper()

	q, err := queue.NewMemoryQueue(nil)
	require.NoError(t, err)

	idGen, err := snowflake.NewIDGenerator(1)
	require.NoError(t, err)

	f := &fixture{
		repo:  &memNotificationRepo{},
		users: &memUserRepo{},
		queue: q,
		sink:  notify.NewQueueSink(q, DefaultTopic),
	}

	notifier := notify.NewNotifier(f.repo, notify.NewHub(16), idGen)
	consumer := NewEventConsumer(q, DefaultTopic, notifier, f.users, nil, 10)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx))

	t.Cleanup(func() {
		cancel()
		_ = q.Close()
	})
	return f, cancel
}

func TestConfirmedEventNotifiesBothParties(t *testing.T) {
	f, _ := newFixture(t)

	err := f.sink.Publish(context.Background(), &model.Event{
		Type:          model.EventReservationConfirmed,
		ReservationID: 100,
		HolderID:      1,
		MerchantID:    2,
		LotID:         7,
		Quantity:      2,
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.repo.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	holder := f.repo.byRecipient(1)
	require.Len(t, holder, 1)
	assert.Equal(t, model.KindReservationConfirmed, holder[0].Kind)

	decoded, err := model.DecodePayload(holder[0].Kind, holder[0].Payload)
	require.NoError(t, err)
	payload := decoded.(*model.ReservationPayload)
	assert.Equal(t, uint64(100), payload.ReservationID)
	assert.Equal(t, model.ReservationConfirmed, payload.Status)

	merchant := f.repo.byRecipient(2)
	require.Len(t, merchant, 1)
}

func TestRedeemedEventAwardsPoints(t *testing.T) {
	f, _ := newFixture(t)

	err := f.sink.Publish(context.Background(), &model.Event{
		Type:          model.EventReservationRedeemed,
		ReservationID: 100,
		HolderID:      1,
		MerchantID:    2,
		LotID:         7,
		Quantity:      3,
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)

	// Holder redeemed + points, merchant redeemed.
	require.Eventually(t, func() bool {
		return f.repo.count() == 3
	}, 2*time.Second, 10*time.Millisecond)

	f.users.mu.Lock()
	assert.Equal(t, int64(30), f.users.points[1])
	f.users.mu.Unlock()

	var points *model.Notification
	for _, n := range f.repo.byRecipient(1) {
		if n.Kind == model.KindPointsEarned {
			points = n
		}
	}
	require.NotNil(t, points)

	decoded, err := model.DecodePayload(points.Kind, points.Payload)
	require.NoError(t, err)
	payload := decoded.(*model.PointsPayload)
	assert.Equal(t, int64(30), payload.Points)
	assert.Equal(t, int64(30), payload.Balance)
}

func TestNoShowNotifiesHolderOnly(t *testing.T) {
	f, _ := newFixture(t)

	err := f.sink.Publish(context.Background(), &model.Event{
		Type:          model.EventReservationNoShow,
		ReservationID: 100,
		HolderID:      1,
		MerchantID:    2,
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.repo.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, f.repo.byRecipient(1), 1)
	assert.Empty(t, f.repo.byRecipient(2))
}
