package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"foodrescue/internal/model"
)

// UserRepository user repository interface
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	// AddPoints credits loyalty points and returns the new balance
	AddPoints(ctx context.Context, id uint64, points int64) (int64, error)
}

// userRepository user repository implementation
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a user
func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID gets a user by ID
func (r *userRepository) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("user not found")
		}
		return nil, err
	}
	return &user, nil
}

// AddPoints credits points atomically and reads back the balance
func (r *userRepository) AddPoints(ctx context.Context, id uint64, points int64) (int64, error) {
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("points", gorm.Expr("points + ?", points)).Error
	if err != nil {
		return 0, err
	}

	var user model.User
	if err := r.db.WithContext(ctx).Select("points").Where("id = ?", id).First(&user).Error; err != nil {
		return 0, err
	}
	return user.Points, nil
}
