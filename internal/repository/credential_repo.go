package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

// CredentialRepository credential repository interface
type CredentialRepository interface {
	// Create credential (one per reservation)
	Create(ctx context.Context, credential *model.RedemptionCredential) error

	// Get credential by reservation ID
	GetByReservationID(ctx context.Context, reservationID uint64) (*model.RedemptionCredential, error)

	// Consume permanently invalidates the credential after redemption
	Consume(ctx context.Context, reservationID uint64) error

	// Revoke invalidates the credential when the reservation is cancelled
	// or expired before redemption
	Revoke(ctx context.Context, reservationID uint64) error
}

// credentialRepository credential repository implementation
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a credential repository
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

// Create creates a credential
func (r *credentialRepository) Create(ctx context.Context, credential *model.RedemptionCredential) error {
	return r.db.WithContext(ctx).Create(credential).Error
}

// GetByReservationID gets a credential by reservation ID
func (r *credentialRepository) GetByReservationID(ctx context.Context, reservationID uint64) (*model.RedemptionCredential, error) {
	var credential model.RedemptionCredential
	err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		First(&credential).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrCredentialNotFound
		}
		return nil, err
	}
	return &credential, nil
}

// Consume marks the credential consumed. Only the CAS winner on the owning
// reservation ever reaches this, so a plain update is sufficient.
func (r *credentialRepository) Consume(ctx context.Context, reservationID uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.RedemptionCredential{}).
		Where("reservation_id = ? AND consumed_at IS NULL", reservationID).
		Update("consumed_at", &now).Error
}

// Revoke marks the credential revoked
func (r *credentialRepository) Revoke(ctx context.Context, reservationID uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.RedemptionCredential{}).
		Where("reservation_id = ? AND revoked_at IS NULL", reservationID).
		Update("revoked_at", &now).Error
}
