package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

type fakeStore struct {
	mu          sync.Mutex
	rows        map[uint64]*model.Notification
	listErr     error
	markReadErr error
	markAllErr  error
	markedRead  []uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uint64]*model.Notification)}
}

func (s *fakeStore) add(id uint64, recipientID uint64, read bool, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = &model.Notification{
		ID:          id,
		RecipientID: recipientID,
		Kind:        model.KindReservationConfirmed,
		Payload:     json.RawMessage(`{}`),
		Read:        read,
		CreatedAt:   createdAt,
	}
}

func (s *fakeStore) ListByRecipient(ctx context.Context, recipientID uint64, page, pageSize int) ([]*model.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	var out []*model.Notification
	for _, row := range s.rows {
		if row.RecipientID == recipientID {
			cp := *row
			out = append(out, &cp)
		}
	}
	// Newest first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) CountUnread(ctx context.Context, recipientID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return 0, s.listErr
	}
	var count int64
	for _, row := range s.rows {
		if row.RecipientID == recipientID && !row.Read {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, id, recipientID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markReadErr != nil {
		return s.markReadErr
	}
	if row, ok := s.rows[id]; ok && row.RecipientID == recipientID {
		row.Read = true
	}
	s.markedRead = append(s.markedRead, id)
	return nil
}

func (s *fakeStore) MarkAllRead(ctx context.Context, recipientID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markAllErr != nil {
		return 0, s.markAllErr
	}
	var changed int64
	for _, row := range s.rows {
		if row.RecipientID == recipientID && !row.Read {
			row.Read = true
			changed++
		}
	}
	return changed, nil
}

func pushNotification(id uint64) *model.Notification {
	return &model.Notification{
		ID:          id,
		RecipientID: 1,
		Kind:        model.KindReservationRedeemed,
		Payload:     json.RawMessage(`{}`),
		Read:        false,
		CreatedAt:   time.Now(),
	}
}

func TestConnectReconciles(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	store.add(10, 1, true, base.Add(-2*time.Minute))
	store.add(11, 1, false, base.Add(-time.Minute))
	store.add(99, 2, false, base) // other recipient

	f := NewFeed(store, 1, 50)
	require.NoError(t, f.Connect(context.Background()))

	items := f.Items()
	require.Len(t, items, 2)
	assert.Equal(t, uint64(11), items[0].ID)
	assert.Equal(t, int64(1), f.Unread())
	assert.False(t, f.Degraded())
}

func TestConnectFailureKeepsStaleCache(t *testing.T) {
	store := newFakeStore()
	store.add(10, 1, false, time.Now())

	f := NewFeed(store, 1, 50)
	require.NoError(t, f.Connect(context.Background()))
	require.Len(t, f.Items(), 1)

	store.mu.Lock()
	store.listErr = errors.New("store down")
	store.mu.Unlock()

	err := f.Reconnect(context.Background())
	assert.ErrorIs(t, err, utils.ErrReconciliationFailure)
	assert.True(t, f.Degraded())
	// The previous list survives.
	assert.Len(t, f.Items(), 1)
	assert.Equal(t, int64(1), f.Unread())

	store.mu.Lock()
	store.listErr = nil
	store.mu.Unlock()

	require.NoError(t, f.Reconnect(context.Background()))
	assert.False(t, f.Degraded())
}

func TestApplyDeduplicates(t *testing.T) {
	f := NewFeed(newFakeStore(), 1, 50)
	require.NoError(t, f.Connect(context.Background()))

	n := pushNotification(20)
	f.Apply(n)
	f.Apply(n)

	assert.Len(t, f.Items(), 1)
	assert.Equal(t, int64(1), f.Unread())
}

func TestApplyPrepends(t *testing.T) {
	store := newFakeStore()
	store.add(10, 1, false, time.Now().Add(-time.Minute))

	f := NewFeed(store, 1, 50)
	require.NoError(t, f.Connect(context.Background()))

	f.Apply(pushNotification(20))

	items := f.Items()
	require.Len(t, items, 2)
	assert.Equal(t, uint64(20), items[0].ID)
	assert.Equal(t, int64(2), f.Unread())
}

func TestMarkRead(t *testing.T) {
	store := newFakeStore()
	store.add(10, 1, false, time.Now())

	f := NewFeed(store, 1, 50)
	require.NoError(t, f.Connect(context.Background()))

	require.NoError(t, f.MarkRead(context.Background(), 10))
	assert.Equal(t, int64(0), f.Unread())
	assert.True(t, f.Items()[0].Read)
	assert.True(t, store.rows[10].Read)

	// Marking again is a no-op and the count never goes negative.
	require.NoError(t, f.MarkRead(context.Background(), 10))
	assert.Equal(t, int64(0), f.Unread())

	assert.ErrorIs(t, f.MarkRead(context.Background(), 999), utils.ErrNotificationNotFound)
}

func TestMarkReadRemoteFailureNoRollback(t *testing.T) {
	store := newFakeStore()
	store.add(10, 1, false, time.Now())

	f := NewFeed(store, 1, 50)
	require.NoError(t, f.Connect(context.Background()))

	store.mu.Lock()
	store.markReadErr = errors.New("store down")
	store.mu.Unlock()

	// The local flip sticks even though the remote write failed.
	require.NoError(t, f.MarkRead(context.Background(), 10))
	assert.True(t, f.Items()[0].Read)
	assert.Equal(t, int64(0), f.Unread())
	assert.False(t, store.rows[10].Read)

	store.mu.Lock()
	store.markReadErr = nil
	store.mu.Unlock()

	// Reconnect replays the queued flip before fetching.
	require.NoError(t, f.Reconnect(context.Background()))
	assert.True(t, store.rows[10].Read)
	assert.Equal(t, int64(0), f.Unread())
}

func TestMarkAllRead(t *testing.T) {
	store := newFakeStore()
	store.add(10, 1, false, time.Now().Add(-time.Minute))
	store.add(11, 1, false, time.Now())

	f := NewFeed(store, 1, 50)
	require.NoError(t, f.Connect(context.Background()))
	require.Equal(t, int64(2), f.Unread())

	require.NoError(t, f.MarkAllRead(context.Background()))
	assert.Equal(t, int64(0), f.Unread())
	for _, item := range f.Items() {
		assert.True(t, item.Read)
	}
	assert.True(t, store.rows[10].Read)
	assert.True(t, store.rows[11].Read)
}
