package repository

import (
	"context"

	"gorm.io/gorm"

	"foodrescue/internal/model"
)

// NotificationRepository notification repository interface
type NotificationRepository interface {
	// Create notification
	Create(ctx context.Context, notification *model.Notification) error

	// List recipient notifications, most recent first
	ListByRecipient(ctx context.Context, recipientID uint64, page, pageSize int) ([]*model.Notification, int64, error)

	// Count unread notifications
	CountUnread(ctx context.Context, recipientID uint64) (int64, error)

	// MarkRead flips the read flag of one notification. The flag only moves
	// false -> true; marking an already-read row is a no-op, not an error.
	MarkRead(ctx context.Context, id, recipientID uint64) error

	// MarkAllRead flips the read flag on every unread row of the recipient
	// and returns how many rows changed.
	MarkAllRead(ctx context.Context, recipientID uint64) (int64, error)
}

// notificationRepository notification repository implementation
type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create creates a notification
func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// ListByRecipient lists recipient notifications ordered by created_at desc
func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID uint64, page, pageSize int) ([]*model.Notification, int64, error) {
	var notifications []*model.Notification
	var total int64

	offset := (page - 1) * pageSize

	db := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ?", recipientID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&notifications).Error

	return notifications, total, err
}

// CountUnread counts unread notifications
func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

// MarkRead marks one notification read. Scoped to the recipient so one user
// cannot flip another user's rows.
func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID uint64) error {
	return r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true).Error
}

// MarkAllRead marks every unread notification of the recipient read
func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uint64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)

	return result.RowsAffected, result.Error
}
