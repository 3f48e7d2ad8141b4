// Package feed is the client-resident notification cache. It mirrors the
// recipient's notification list, applies pushed notifications as they
// arrive, and reconciles against the durable store on every (re)connect.
// The store is always authoritative; the feed only ever converges toward it.
package feed

import (
	"context"
	"sync"

	"foodrescue/internal/model"
	"foodrescue/pkg/log"
	"foodrescue/pkg/utils"
)

// Store is the authoritative side of the feed. The server-side notification
// repository satisfies it.
type Store interface {
	ListByRecipient(ctx context.Context, recipientID uint64, page, pageSize int) ([]*model.Notification, int64, error)
	CountUnread(ctx context.Context, recipientID uint64) (int64, error)
	MarkRead(ctx context.Context, id, recipientID uint64) error
	MarkAllRead(ctx context.Context, recipientID uint64) (int64, error)
}

// Feed holds one recipient's notification cache.
type Feed struct {
	store       Store
	recipientID uint64
	pageSize    int

	mu       sync.Mutex
	items    []*model.Notification // newest first
	index    map[uint64]*model.Notification
	unread   int64
	degraded bool

	// Read flips whose remote write failed. Replayed on the next connect;
	// the local flip is never rolled back.
	pendingReads map[uint64]struct{}
	pendingAll   bool
}

// NewFeed creates a feed for the recipient
func NewFeed(store Store, recipientID uint64, pageSize int) *Feed {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Feed{
		store:        store,
		recipientID:  recipientID,
		pageSize:     pageSize,
		index:        make(map[uint64]*model.Notification),
		pendingReads: make(map[uint64]struct{}),
	}
}

// Connect reconciles the cache against the store. On failure the existing
// cache is kept as-is, the feed is flagged degraded, and the caller gets
// ErrReconciliationFailure; a stale list beats an empty one.
func (f *Feed) Connect(ctx context.Context) error {
	f.flushPending(ctx)

	items, _, err := f.store.ListByRecipient(ctx, f.recipientID, 1, f.pageSize)
	if err != nil {
		f.setDegraded(true)
		return utils.WrapError(err, utils.CodeReconciliationFailure, "authoritative notification fetch failed")
	}

	unread, err := f.store.CountUnread(ctx, f.recipientID)
	if err != nil {
		f.setDegraded(true)
		return utils.WrapError(err, utils.CodeReconciliationFailure, "authoritative notification fetch failed")
	}

	f.mu.Lock()
	f.items = f.items[:0]
	f.index = make(map[uint64]*model.Notification, len(items))
	for _, n := range items {
		cp := *n
		f.items = append(f.items, &cp)
		f.index[n.ID] = &cp
	}
	f.unread = unread
	f.degraded = false
	f.mu.Unlock()

	return nil
}

// Reconnect re-runs reconciliation after a dropped connection. Pushed
// notifications missed while offline are recovered here, not replayed.
func (f *Feed) Reconnect(ctx context.Context) error {
	return f.Connect(ctx)
}

// Apply folds one pushed notification into the cache. Duplicate ids are
// ignored, so an at-least-once push channel is safe.
func (f *Feed) Apply(notification *model.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.index[notification.ID]; ok {
		return
	}

	cp := *notification
	f.items = append([]*model.Notification{&cp}, f.items...)
	f.index[cp.ID] = &cp
	if !cp.Read {
		f.unread++
	}
}

// MarkRead flips one notification to read. The local flip happens first; a
// failed remote write is logged and queued for replay, never rolled back,
// so the user does not watch a notification flip back to unread.
func (f *Feed) MarkRead(ctx context.Context, id uint64) error {
	f.mu.Lock()
	item, ok := f.index[id]
	if !ok {
		f.mu.Unlock()
		return utils.ErrNotificationNotFound
	}
	if item.Read {
		f.mu.Unlock()
		return nil
	}
	item.Read = true
	if f.unread > 0 {
		f.unread--
	}
	f.mu.Unlock()

	if err := f.store.MarkRead(ctx, id, f.recipientID); err != nil {
		log.WithError(err).WithField("notification_id", id).Warn("Remote mark-read failed, queued for replay")
		f.mu.Lock()
		f.pendingReads[id] = struct{}{}
		f.mu.Unlock()
	}
	return nil
}

// MarkAllRead flips every cached notification to read.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	for _, item := range f.items {
		item.Read = true
	}
	f.unread = 0
	f.mu.Unlock()

	if _, err := f.store.MarkAllRead(ctx, f.recipientID); err != nil {
		log.WithError(err).Warn("Remote mark-all-read failed, queued for replay")
		f.mu.Lock()
		f.pendingAll = true
		f.mu.Unlock()
	}
	return nil
}

// Items returns a snapshot of the cached list, newest first.
func (f *Feed) Items() []*model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*model.Notification, len(f.items))
	for i, item := range f.items {
		cp := *item
		out[i] = &cp
	}
	return out
}

// Unread returns the cached unread count.
func (f *Feed) Unread() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Degraded reports whether the last reconciliation failed.
func (f *Feed) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *Feed) setDegraded(v bool) {
	f.mu.Lock()
	f.degraded = v
	f.mu.Unlock()
}

// flushPending replays queued read flips before fetching, so the fetched
// state already reflects them.
func (f *Feed) flushPending(ctx context.Context) {
	f.mu.Lock()
	pendingAll := f.pendingAll
	pending := make([]uint64, 0, len(f.pendingReads))
	for id := range f.pendingReads {
		pending = append(pending, id)
	}
	f.mu.Unlock()

	if pendingAll {
		if _, err := f.store.MarkAllRead(ctx, f.recipientID); err == nil {
			f.mu.Lock()
			f.pendingAll = false
			f.pendingReads = make(map[uint64]struct{})
			f.mu.Unlock()
			return
		}
	}

	for _, id := range pending {
		if err := f.store.MarkRead(ctx, id, f.recipientID); err == nil {
			f.mu.Lock()
			delete(f.pendingReads, id)
			f.mu.Unlock()
		}
	}
}
