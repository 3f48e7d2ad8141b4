package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

// ReservationRepository reservation repository interface
type ReservationRepository interface {
	// Create reservation
	Create(ctx context.Context, reservation *model.Reservation) error

	// Get reservation by ID
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)

	// TransitionStatus performs the compare-and-swap on status at the
	// store: the row is updated only if its current status equals from.
	// Returns true when this caller won the swap. completed_at is set
	// together with the status when `to` is terminal.
	TransitionStatus(ctx context.Context, id uint64, from, to model.ReservationStatus) (bool, error)

	// List holder reservations, most recent first
	ListByHolder(ctx context.Context, holderID uint64, page, pageSize int) ([]*model.Reservation, int64, error)

	// ListExpiring lists confirmed reservations whose pickup window closed
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.Reservation, error)

	// ListAllIDs lists the ids of every reservation. Reservations are never
	// physically deleted, so the result is a superset of all ids a scan can
	// legitimately present.
	ListAllIDs(ctx context.Context) ([]uint64, error)
}

// reservationRepository reservation repository implementation
type reservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository creates a reservation repository
func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

// Create creates a reservation
func (r *reservationRepository) Create(ctx context.Context, reservation *model.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

// GetByID gets a reservation by ID
func (r *reservationRepository) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	var reservation model.Reservation
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&reservation).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrReservationNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// TransitionStatus updates status only when the current value matches.
// The conditional UPDATE is the single serialization point for concurrent
// redemption terminals; RowsAffected == 1 identifies the winner.
func (r *reservationRepository) TransitionStatus(ctx context.Context, id uint64, from, to model.ReservationStatus) (bool, error) {
	updates := map[string]interface{}{
		"status": to,
	}
	if to.IsTerminal() {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByHolder lists holder reservations
func (r *reservationRepository) ListByHolder(ctx context.Context, holderID uint64, page, pageSize int) ([]*model.Reservation, int64, error) {
	var reservations []*model.Reservation
	var total int64

	offset := (page - 1) * pageSize

	db := r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("holder_id = ?", holderID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&reservations).Error

	return reservations, total, err
}

// ListExpiring lists confirmed reservations past their pickup window
func (r *reservationRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.Reservation, error) {
	var reservations []*model.Reservation

	err := r.db.WithContext(ctx).
		Where("status = ?", model.ReservationConfirmed).
		Where("pickup_end < ?", before).
		Limit(limit).
		Find(&reservations).Error

	return reservations, err
}

// ListAllIDs lists all reservation ids
func (r *reservationRepository) ListAllIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64

	err := r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Pluck("id", &ids).Error

	return ids, err
}
