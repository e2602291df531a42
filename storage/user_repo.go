package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// UserRepository provisions and looks up user rows.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetOrCreate returns the user row for an external identity, creating it on
// first contact.
func (r *UserRepository) GetOrCreate(ctx context.Context, externalID string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	u = User{ExternalID: externalID}
	if err := r.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}
