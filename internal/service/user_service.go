package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"music-stream/backend/internal/models"
	"music-stream/backend/pkg/jwt"
	"music-stream/backend/pkg/logger"

	"gorm.io/gorm"
)

const userCachePrefix = "user:"

// UserService manages the user directory
type UserService struct {
	db    *gorm.DB
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewUserService creates a new user service. cache may be nil.
func NewUserService(db *gorm.DB, cache Cache, ttl time.Duration, log *logger.Logger) *UserService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &UserService{db: db, cache: cache, ttl: ttl, log: log}
}

// EnsureUser returns the profile of a verified identity, creating it from
// the token claims the first time the user is seen.
func (s *UserService) EnsureUser(ctx context.Context, identity jwt.Identity) (*models.User, error) {
	if identity.UserID == "" {
		return nil, ErrUserNotFound
	}

	if user, ok := s.cached(ctx, identity.UserID); ok {
		return user, nil
	}

	user := models.User{}
	attrs := models.User{FullName: identity.FullName, ImageURL: identity.ImageURL}
	err := s.db.WithContext(ctx).
		Where(models.User{ClerkID: identity.UserID}).
		Attrs(attrs).
		FirstOrCreate(&user).Error
	if err != nil {
		// lost a creation race against another request for the same user
		if lookupErr := s.db.WithContext(ctx).Where("clerk_id = ?", identity.UserID).First(&user).Error; lookupErr != nil {
			return nil, err
		}
	}

	s.store(ctx, &user)
	return &user, nil
}

// GetUser looks a profile up by identity provider id
func (s *UserService) GetUser(ctx context.Context, clerkID string) (*models.User, error) {
	if user, ok := s.cached(ctx, clerkID); ok {
		return user, nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("clerk_id = ?", clerkID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	s.store(ctx, &user)
	return &user, nil
}

// ListUsers returns every profile except excludeID ordered by name
func (s *UserService) ListUsers(ctx context.Context, excludeID string) ([]models.User, error) {
	users := []models.User{}
	err := s.db.WithContext(ctx).
		Where("clerk_id <> ?", excludeID).
		Order("full_name ASC").
		Order("clerk_id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *UserService) cached(ctx context.Context, clerkID string) (*models.User, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, ok, err := s.cache.Get(ctx, userCachePrefix+clerkID)
	if err != nil {
		s.log.LogError(err, "user cache read failed", "user_id", clerkID)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, false
	}
	return &user, true
}

func (s *UserService) store(ctx context.Context, user *models.User) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, userCachePrefix+user.ClerkID, raw, s.ttl); err != nil {
		s.log.LogError(err, "user cache write failed", "user_id", user.ClerkID)
	}
}
