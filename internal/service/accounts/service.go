package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// Store is the persistence surface for profiles.
type Store interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	FindUserByPhone(ctx context.Context, phone string) (models.User, error)
	ListUsersWithPhone(ctx context.Context) ([]models.User, error)
}

// ProfileInput holds the editable profile fields.
type ProfileInput struct {
	FullName      string `json:"full_name"`
	FarmName      string `json:"farm_name"`
	WhatsAppPhone string `json:"whatsapp_phone"`
}

// Service manages user profiles and maps WhatsApp senders to owners.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService wires the accounts service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// GetProfile returns the user's profile. A user that never saved one gets an
// empty profile carrying only the id.
func (s *Service) GetProfile(ctx context.Context, userID string) (models.User, error) {
	if userID == "" {
		return models.User{}, models.ErrUnauthorized
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.User{ID: userID}, nil
	}
	if err != nil {
		s.logger.Error("get profile failed", zap.String("user_id", userID), zap.Error(err))
		return models.User{}, models.WrapPersistence("get profile", err)
	}
	return user, nil
}

// UpdateProfile creates or replaces the user's profile.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (models.User, error) {
	if userID == "" {
		return models.User{}, models.ErrUnauthorized
	}

	phone := NormalizePhone(in.WhatsAppPhone)
	if in.WhatsAppPhone != "" && len(phone) < 8 {
		return models.User{}, models.NewValidationError("whatsapp phone %q is not a valid number", in.WhatsAppPhone)
	}
	if phone != "" {
		other, err := s.store.FindUserByPhone(ctx, phone)
		switch {
		case err == nil && other.ID != userID:
			return models.User{}, models.NewValidationError("whatsapp phone is already linked to another account")
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return models.User{}, models.WrapPersistence("update profile", err)
		}
	}

	user := models.User{
		ID:            userID,
		FullName:      strings.TrimSpace(in.FullName),
		FarmName:      strings.TrimSpace(in.FarmName),
		WhatsAppPhone: phone,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveUser(ctx, &user); err != nil {
		s.logger.Error("update profile failed", zap.String("user_id", userID), zap.Error(err))
		return models.User{}, models.WrapPersistence("update profile", err)
	}
	return s.GetProfile(ctx, userID)
}

// ResolveByPhone returns the owner registered for a WhatsApp number.
// Unknown numbers are unauthorized.
func (s *Service) ResolveByPhone(ctx context.Context, phone string) (models.User, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return models.User{}, models.ErrUnauthorized
	}
	user, err := s.store.FindUserByPhone(ctx, normalized)
	if errors.Is(err, models.ErrNotFound) {
		return models.User{}, models.ErrUnauthorized
	}
	if err != nil {
		return models.User{}, models.WrapPersistence("resolve sender", err)
	}
	return user, nil
}

// ListReachable returns every profile with a WhatsApp number.
func (s *Service) ListReachable(ctx context.Context) ([]models.User, error) {
	users, err := s.store.ListUsersWithPhone(ctx)
	if err != nil {
		return nil, models.WrapPersistence("list reachable users", err)
	}
	return users, nil
}

// NormalizePhone keeps only the digits of a phone number, the form the
// WhatsApp Cloud API uses for sender ids.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
