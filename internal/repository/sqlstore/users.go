package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// GetUser loads a profile by auth-service user id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := s.conn(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return models.User{}, notFound(err)
	}
	return user, nil
}

// SaveUser inserts or updates a profile.
func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "farm_name", "whatsapp_phone", "updated_at"}),
	}).Create(user).Error
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// FindUserByPhone resolves the profile registered for a WhatsApp number.
func (s *Store) FindUserByPhone(ctx context.Context, phone string) (models.User, error) {
	var user models.User
	if err := s.conn(ctx).Where("whatsapp_phone = ?", phone).Order("updated_at DESC").First(&user).Error; err != nil {
		return models.User{}, notFound(err)
	}
	return user, nil
}

// ListUsersWithPhone returns every profile that registered a WhatsApp number.
func (s *Store) ListUsersWithPhone(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.conn(ctx).Where("whatsapp_phone <> ''").Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
