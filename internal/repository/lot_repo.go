package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

// LotRepository lot repository interface
type LotRepository interface {
	// Create lot
	Create(ctx context.Context, lot *model.Lot) error

	// Get lot by ID
	GetByID(ctx context.Context, id uint64) (*model.Lot, error)

	// List lots whose pickup window is still open
	ListOpen(ctx context.Context, page, pageSize int) ([]*model.Lot, int64, error)

	// ReserveQuantity conditionally decrements available quantity; returns
	// false when not enough remains.
	ReserveQuantity(ctx context.Context, id uint64, quantity int) (bool, error)

	// ReleaseQuantity returns quantity to the lot after a cancellation
	ReleaseQuantity(ctx context.Context, id uint64, quantity int) error
}

// lotRepository lot repository implementation
type lotRepository struct {
	db *gorm.DB
}

// NewLotRepository creates a lot repository
func NewLotRepository(db *gorm.DB) LotRepository {
	return &lotRepository{db: db}
}

// Create creates a lot
func (r *lotRepository) Create(ctx context.Context, lot *model.Lot) error {
	return r.db.WithContext(ctx).Create(lot).Error
}

// GetByID gets a lot by ID
func (r *lotRepository) GetByID(ctx context.Context, id uint64) (*model.Lot, error) {
	var lot model.Lot
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&lot).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrLotNotFound
		}
		return nil, err
	}
	return &lot, nil
}

// ListOpen lists lots still open for reservation
func (r *lotRepository) ListOpen(ctx context.Context, page, pageSize int) ([]*model.Lot, int64, error) {
	var lots []*model.Lot
	var total int64

	offset := (page - 1) * pageSize

	db := r.db.WithContext(ctx).
		Model(&model.Lot{}).
		Where("pickup_end > ? AND quantity > 0", time.Now())

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset(offset).
		Limit(pageSize).
		Order("pickup_end ASC").
		Find(&lots).Error

	return lots, total, err
}

// ReserveQuantity decrements quantity only when enough remains, in one
// conditional UPDATE so concurrent reservations cannot oversell.
func (r *lotRepository) ReserveQuantity(ctx context.Context, id uint64, quantity int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Lot{}).
		Where("id = ? AND quantity >= ?", id, quantity).
		Update("quantity", gorm.Expr("quantity - ?", quantity))

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseQuantity returns quantity to the lot
func (r *lotRepository) ReleaseQuantity(ctx context.Context, id uint64, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&model.Lot{}).
		Where("id = ?", id).
		Update("quantity", gorm.Expr("quantity + ?", quantity)).Error
}
